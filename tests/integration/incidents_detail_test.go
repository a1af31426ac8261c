//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/meridianrisk/incident-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidents_Detail_EmptyAssociationsAreArrays(t *testing.T) {
	client := newTestClient(t)
	created := createIncident(t, client, nil)

	resp, err := client.GET("/api/v1/incidents/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := testutil.ReadBody(t, resp)
	assert.Contains(t, body, `"associatedTeams":[]`)
	assert.Contains(t, body, `"associatedProcesses":[]`)
	assert.Contains(t, body, `"associatedPersons":[]`)
	assert.Contains(t, body, `"comments":[]`)
	assert.NotContains(t, body, `"statusHistory":[]`)
}

func TestIncidents_Detail_ResolvesReferenceNames(t *testing.T) {
	client := newTestClient(t)
	created := createIncident(t, client, map[string]interface{}{
		"departmentId": deptFinanceID,
		"teamId":       teamPayrollID,
	})

	resp, err := client.GET("/api/v1/incidents/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail struct {
		Department *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"department"`
		Team *struct {
			Name string `json:"name"`
		} `json:"team"`
		IncidentType *struct {
			Name string `json:"name"`
		} `json:"incidentType"`
	}
	testutil.DecodeJSON(t, resp, &detail)

	require.NotNil(t, detail.Department)
	assert.Equal(t, deptFinanceID, detail.Department.ID)
	assert.Equal(t, "Finance", detail.Department.Name)
	require.NotNil(t, detail.Team)
	assert.Equal(t, "Payroll", detail.Team.Name)
	assert.Nil(t, detail.IncidentType)
}

func TestIncidents_Detail_RepeatedReadsAreIdentical(t *testing.T) {
	client := newTestClient(t)
	created := createIncident(t, client, map[string]interface{}{
		"associatedTeams":     []string{teamWarehouseID, teamPayrollID},
		"associatedProcesses": []string{processGoodsInwardID, processMonthCloseID},
		"associatedPersons": []map[string]interface{}{
			{"personId": userBohdanID, "role": "witness"},
			{"personId": userCamillaID},
		},
	})
	addComment(t, client, created.ID, map[string]interface{}{
		"body": "Checked the CCTV footage, nothing unusual before the event",
	})

	// All link rows were written in one transaction and share a timestamp,
	// so identical reads prove the ordering does not depend on plan or
	// heap order.
	var bodies []string
	for i := 0; i < 3; i++ {
		resp, err := client.GET("/api/v1/incidents/" + created.ID)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		bodies = append(bodies, testutil.ReadBody(t, resp))
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])
}

func TestIncidents_Detail_NotFound(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.GET("/api/v1/incidents/" + uuid.New().String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestIncidents_Detail_MalformedID(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.GET("/api/v1/incidents/not-a-uuid")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
