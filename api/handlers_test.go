package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.PutProfile(ctx, leave.WorkingProfile{
		UserID:        "emp-1",
		Pattern:       leave.PatternFullTime,
		DaysPerWeek:   5,
		HoursPerWeek:  decimal.NewFromInt(40),
		ContractStart: leave.NewDate(2020, time.January, 1),
	}))
	require.NoError(t, store.PutLeaveType(ctx, leave.LeaveTypeDefinition{
		Code:          "annual",
		Name:          "Annual Leave",
		BaseAllowance: decimal.NewFromInt(25),
		Granularity:   leave.GranularityWholeDay,
		Active:        true,
	}))

	ledger := leave.NewBalanceLedger(store, store, leave.WithAudit(store))
	detector := leave.NewConflictDetector(store, nil)
	workflow := leave.NewApprovalWorkflow(ledger, store, detector, store,
		leave.WithWorkflowAudit(store), leave.WithCalendar(store))
	handler := api.NewHandler(ledger, workflow, detector, store, store, nil)

	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func submitBody() map[string]any {
	return map[string]any{
		"requester":  "emp-1",
		"leave_type": "annual",
		"range":      map[string]string{"start": "2026-03-02", "end": "2026-03-06"},
	}
}

// =============================================================================
// REQUEST LIFECYCLE OVER HTTP
// =============================================================================

func TestAPI_SubmitApprove_FullFlow(t *testing.T) {
	// GIVEN: A seeded employee
	// WHEN: Submitting a week of leave and approving it
	// THEN: The balance reflects 5 used days at each step

	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/requests", submitBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	request := body["request"].(map[string]any)
	id := request["id"].(string)
	assert.Equal(t, "pending_approval", request["state"])
	assert.Equal(t, "5", request["total_days"])

	resp, balance := doJSON(t, http.MethodGet, server.URL+"/api/balances/emp-1/annual/2026", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5", balance["pending"])
	assert.Equal(t, "20", balance["available"])

	resp, decided := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/requests/%s/approve", server.URL, id),
		map[string]string{"approver": "mgr-1", "comment": "ok"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", decided["state"])

	resp, balance = doJSON(t, http.MethodGet, server.URL+"/api/balances/emp-1/annual/2026", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5", balance["used"])
	assert.Equal(t, "0", balance["pending"])
}

func TestAPI_Submit_ValidationFailure(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/requests", map[string]any{
		"leave_type": "annual",
		"range":      map[string]string{"start": "2026-03-02", "end": "2026-03-06"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Submit_UnknownLeaveType(t *testing.T) {
	server := newTestServer(t)

	body := submitBody()
	body["leave_type"] = "nonexistent"
	resp, decoded := doJSON(t, http.MethodPost, server.URL+"/api/requests", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decoded["error"], "unknown leave type")
}

func TestAPI_OverlappingSubmission_Conflict(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/requests", submitBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, decoded := doJSON(t, http.MethodPost, server.URL+"/api/requests", submitBody())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, decoded["error"], "blocked")
}

func TestAPI_Reject_ThenGetRequest(t *testing.T) {
	server := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, server.URL+"/api/requests", submitBody())
	id := body["request"].(map[string]any)["id"].(string)

	resp, decided := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/requests/%s/reject", server.URL, id),
		map[string]string{"approver": "mgr-1", "comment": "no coverage"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", decided["state"])

	resp, fetched := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/requests/%s", server.URL, id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", fetched["state"])

	// Deciding a terminal request maps to 409.
	resp, _ = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/requests/%s/approve", server.URL, id),
		map[string]string{"approver": "mgr-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_GetRequest_NotFound(t *testing.T) {
	server := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/requests/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// BALANCES
// =============================================================================

func TestAPI_GetBalance_SeedsLazily(t *testing.T) {
	server := newTestServer(t)

	resp, balance := doJSON(t, http.MethodGet, server.URL+"/api/balances/emp-1/annual/2026", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "25", balance["entitled"])
	assert.Equal(t, "25", balance["available"])
	assert.NotEmpty(t, balance["seed_reason"])
}

func TestAPI_AdjustBalance(t *testing.T) {
	server := newTestServer(t)

	resp, balance := doJSON(t, http.MethodPost, server.URL+"/api/balances/emp-1/annual/2026/adjust",
		map[string]string{"actor": "hr-admin", "delta": "3", "reason": "long-service award"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "28", balance["entitled"])

	// The adjustment lands in the audit log.
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/audit?actor=hr-admin", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// AVAILABILITY AND REFERENCE DATA
// =============================================================================

func TestAPI_Availability(t *testing.T) {
	server := newTestServer(t)

	// Approve a week of leave, then check the requester's availability.
	_, body := doJSON(t, http.MethodPost, server.URL+"/api/requests", submitBody())
	id := body["request"].(map[string]any)["id"].(string)
	doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/requests/%s/approve", server.URL, id),
		map[string]string{"approver": "mgr-1"})

	var reports []map[string]any
	resp, err := http.Post(server.URL+"/api/availability", "application/json",
		bytes.NewBufferString(`{"persons":["emp-1"],"range":{"start":"2026-03-04","end":"2026-03-05"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reports))

	require.Len(t, reports, 1)
	assert.Equal(t, "unavailable", reports[0]["classification"])
}

func TestAPI_HolidaysAffectDayCount(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/holidays",
		map[string]any{"date": "2026-03-04", "name": "Founders Day"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, body := doJSON(t, http.MethodPost, server.URL+"/api/requests", submitBody())
	request := body["request"].(map[string]any)
	assert.Equal(t, "4", request["total_days"])
}

func TestAPI_PutProfile_RecalculatesEntitlement(t *testing.T) {
	// GIVEN: A seeded full-time balance for the current year
	// WHEN: HR switches the employee to part-time 2 days/week
	// THEN: The seeded entitlement is re-priced to the new FTE

	server := newTestServer(t)

	balanceURL := fmt.Sprintf("%s/api/balances/emp-1/annual/%d", server.URL, leave.Today().Year())
	resp, balance := doJSON(t, http.MethodGet, balanceURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "25", balance["entitled"])

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/profiles", map[string]any{
		"user_id":        "emp-1",
		"pattern":        "part_time",
		"days_per_week":  2,
		"hours_per_week": "16",
		"contract_start": "2020-01-01",
		"actor":          "hr-admin",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, balance = doJSON(t, http.MethodGet, balanceURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "10", balance["entitled"])
}

func TestAPI_LeaveTypes_Upsert(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/leave-types", map[string]any{
		"code":           "sick",
		"name":           "Sick Leave",
		"base_allowance": "10",
		"active":         true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var defs []map[string]any
	listResp, err := http.Get(server.URL + "/api/leave-types")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&defs))
	assert.Len(t, defs, 2)
}
