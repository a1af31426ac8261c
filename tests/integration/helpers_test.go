//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/meridianrisk/incident-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixture IDs seeded once in TestMain. Tests must not mutate these rows.
const (
	deptOperationsID = "11111111-1111-1111-1111-111111111001"
	deptFinanceID    = "11111111-1111-1111-1111-111111111002"

	teamWarehouseID = "22222222-2222-2222-2222-222222222001"
	teamPayrollID   = "22222222-2222-2222-2222-222222222002"

	userAliceID   = "33333333-3333-3333-3333-333333333001"
	userBohdanID  = "33333333-3333-3333-3333-333333333002"
	userCamillaID = "33333333-3333-3333-3333-333333333003"

	processGoodsInwardID = "44444444-4444-4444-4444-444444444001"
	processMonthCloseID  = "44444444-4444-4444-4444-444444444002"

	typeNearMissReportID = "55555555-5555-5555-5555-555555555001"
	typeConductReviewID  = "55555555-5555-5555-5555-555555555002"
)

var incidentNumberRe = regexp.MustCompile(`^INC-\d{4}-\d{4}$`)

func seedFixtures(ctx context.Context) error {
	statements := []struct {
		sql  string
		args []interface{}
	}{
		{
			`INSERT INTO departments (id, name, code) VALUES ($1, $2, $3)`,
			[]interface{}{deptOperationsID, "Operations", "OPS"},
		},
		{
			`INSERT INTO departments (id, name, code) VALUES ($1, $2, $3)`,
			[]interface{}{deptFinanceID, "Finance", "FIN"},
		},
		{
			`INSERT INTO teams (id, department_id, name) VALUES ($1, $2, $3)`,
			[]interface{}{teamWarehouseID, deptOperationsID, "Warehouse"},
		},
		{
			`INSERT INTO teams (id, department_id, name) VALUES ($1, $2, $3)`,
			[]interface{}{teamPayrollID, deptFinanceID, "Payroll"},
		},
		{
			`INSERT INTO users (id, email, display_name, department_id, team_id, role) VALUES ($1, $2, $3, $4, $5, $6)`,
			[]interface{}{userAliceID, "alice@example.com", "Alice Novak", deptOperationsID, teamWarehouseID, "employee"},
		},
		{
			`INSERT INTO users (id, email, display_name, department_id, team_id, role) VALUES ($1, $2, $3, $4, $5, $6)`,
			[]interface{}{userBohdanID, "bohdan@example.com", "Bohdan Shevchenko", deptOperationsID, nil, "hod"},
		},
		{
			`INSERT INTO users (id, email, display_name, department_id, team_id, role) VALUES ($1, $2, $3, $4, $5, $6)`,
			[]interface{}{userCamillaID, "camilla@example.com", "Camilla Reyes", deptFinanceID, teamPayrollID, "risk_office"},
		},
		{
			`INSERT INTO processes (id, name, description) VALUES ($1, $2, $3)`,
			[]interface{}{processGoodsInwardID, "Goods Inward", "Receiving and checking inbound deliveries"},
		},
		{
			`INSERT INTO processes (id, name, description) VALUES ($1, $2, $3)`,
			[]interface{}{processMonthCloseID, "Month-End Close", nil},
		},
		{
			`INSERT INTO incident_types (id, name, description) VALUES ($1, $2, $3)`,
			[]interface{}{typeNearMissReportID, "Near Miss Report", nil},
		},
		{
			`INSERT INTO incident_types (id, name, description) VALUES ($1, $2, $3)`,
			[]interface{}{typeConductReviewID, "Conduct Review", "Behavioural concerns raised by staff"},
		},
	}

	for _, stmt := range statements {
		if _, err := testDB.Exec(ctx, stmt.sql, stmt.args...); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}

// createdIncident is the response body for a successful incident creation.
type createdIncident struct {
	ID             string    `json:"id"`
	IncidentNumber string    `json:"incidentNumber"`
	CurrentStatus  string    `json:"currentStatus"`
	CreatedAt      time.Time `json:"createdAt"`
}

// incidentPayload returns a valid creation request body with overrides applied.
func incidentPayload(overrides map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{
		"departmentId": deptOperationsID,
		"occurredAt":   time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		"category":     "near_miss",
		"description":  "Forklift reversed without a spotter near loading bay 4",
	}
	for k, v := range overrides {
		payload[k] = v
	}
	return payload
}

// createIncident creates an incident via the API and fails the test on error.
func createIncident(t *testing.T, client *testutil.Client, overrides map[string]interface{}) createdIncident {
	t.Helper()

	resp, err := client.POST("/api/v1/incidents", incidentPayload(overrides))
	require.NoError(t, err)
	body := testutil.ReadBody(t, resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	var created createdIncident
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	require.NotEmpty(t, created.ID)
	assert.Regexp(t, incidentNumberRe, created.IncidentNumber)
	return created
}

// changeStatus transitions an incident and asserts the expected HTTP status.
func changeStatus(t *testing.T, client *testutil.Client, incidentID, toStatus, reason string, wantStatus int) {
	t.Helper()

	payload := map[string]interface{}{"status": toStatus}
	if reason != "" {
		payload["reason"] = reason
	}
	resp, err := client.PUT("/api/v1/incidents/"+incidentID+"/status", payload)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, testutil.ReadBody(t, resp))
}
