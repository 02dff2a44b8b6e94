/*
Package config loads server configuration from defaults, an optional YAML
file, and environment variables, in increasing order of precedence.

ENVIRONMENT:
  Every key is overridable with a LEAVE_ prefixed variable, dots replaced
  by underscores: server.port -> LEAVE_SERVER_PORT.

FILE:
  An optional config file is searched as leave.yaml in the working
  directory and /etc/leave/. A missing file is not an error; defaults and
  environment carry a development setup on their own.
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port            int           `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Database struct {
		// Path is the SQLite file; ":memory:" keeps everything in-process.
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Log struct {
		// Level is one of debug, info, warn, error.
		Level string `mapstructure:"level"`
		// Development switches to the human-readable console encoder.
		Development bool `mapstructure:"development"`
	} `mapstructure:"log"`

	Workflow struct {
		// EscalationSLA is how long a request may sit at one approval level
		// before the sweeper moves it up the chain.
		EscalationSLA time.Duration `mapstructure:"escalation_sla"`
		// SweepInterval is how often pending requests are checked.
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
		// SubstituteHardBlock turns substitute unavailability from a warning
		// into a submission failure.
		SubstituteHardBlock bool `mapstructure:"substitute_hard_block"`
	} `mapstructure:"workflow"`

	Ledger struct {
		// CarryForwardCapDays bounds year-end carry-over for types that
		// enable it without their own cap.
		CarryForwardCapDays float64 `mapstructure:"carry_forward_cap_days"`
	} `mapstructure:"ledger"`

	Planning struct {
		// MinCoverageGapDays is the shortest uncovered stretch worth flagging.
		MinCoverageGapDays int `mapstructure:"min_coverage_gap_days"`
	} `mapstructure:"planning"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.path", "./data/leave.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("workflow.escalation_sla", 72*time.Hour)
	v.SetDefault("workflow.sweep_interval", 15*time.Minute)
	v.SetDefault("workflow.substitute_hard_block", false)
	v.SetDefault("ledger.carry_forward_cap_days", 5)
	v.SetDefault("planning.min_coverage_gap_days", 5)

	v.SetConfigName("leave")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/leave/")

	v.SetEnvPrefix("LEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Workflow.EscalationSLA <= 0 {
		return fmt.Errorf("escalation SLA must be positive, got %s", c.Workflow.EscalationSLA)
	}
	if c.Workflow.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.Workflow.SweepInterval)
	}
	return nil
}
