//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/meridianrisk/incident-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commentResponse struct {
	ID         string  `json:"id"`
	IncidentID string  `json:"incidentId"`
	AuthorID   string  `json:"authorId"`
	AuthorName string  `json:"authorName"`
	ParentID   *string `json:"parentId"`
	Body       string  `json:"body"`
	Visibility string  `json:"visibility"`
}

func addComment(t *testing.T, client *testutil.Client, incidentID string, body map[string]interface{}) commentResponse {
	t.Helper()

	resp, err := client.POST("/api/v1/incidents/"+incidentID+"/comments", body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var comment commentResponse
	testutil.DecodeJSON(t, resp, &comment)
	return comment
}

func TestComments_AddAndList(t *testing.T) {
	client := newTestClient(t)
	created := createIncident(t, client, nil)

	first := addComment(t, client, created.ID, map[string]interface{}{
		"body": "Spoke to the shift lead, barrier tape is back up",
	})
	assert.Equal(t, created.ID, first.IncidentID)
	assert.Equal(t, userAliceID, first.AuthorID)
	assert.Equal(t, "Alice Novak", first.AuthorName)
	assert.Equal(t, "public", first.Visibility)
	assert.Nil(t, first.ParentID)

	second := addComment(t, client.ActAs(userBohdanID), created.ID, map[string]interface{}{
		"body":       "Raising this at the weekly review",
		"visibility": "private",
	})
	assert.Equal(t, "private", second.Visibility)

	resp, err := client.GET("/api/v1/incidents/" + created.ID + "/comments")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Data []commentResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &list)
	require.Len(t, list.Data, 2)
	assert.Equal(t, first.ID, list.Data[0].ID)
	assert.Equal(t, second.ID, list.Data[1].ID)
	assert.Equal(t, "Bohdan Shevchenko", list.Data[1].AuthorName)
}

func TestComments_Threading(t *testing.T) {
	client := newTestClient(t)
	created := createIncident(t, client, nil)

	parent := addComment(t, client, created.ID, map[string]interface{}{
		"body": "Does anyone know when the guard rail was removed?",
	})
	reply := addComment(t, client.ActAs(userCamillaID), created.ID, map[string]interface{}{
		"body":     "Maintenance took it down on Tuesday",
		"parentId": parent.ID,
	})
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, parent.ID, *reply.ParentID)
}

func TestComments_ParentMustBelongToSameIncident(t *testing.T) {
	client := newTestClient(t)
	first := createIncident(t, client, nil)
	second := createIncident(t, client, nil)

	parent := addComment(t, client, first.ID, map[string]interface{}{
		"body": "Original discussion",
	})

	resp, err := client.POST("/api/v1/incidents/"+second.ID+"/comments", map[string]interface{}{
		"body":     "Cross-incident reply",
		"parentId": parent.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestComments_ValidationFailures(t *testing.T) {
	client := newTestClientWithoutValidation()
	created := createIncident(t, client, nil)

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"empty body", map[string]interface{}{"body": ""}},
		{"overlong body", map[string]interface{}{"body": strings.Repeat("b", 5001)}},
		{"bad visibility", map[string]interface{}{"body": "fine", "visibility": "secret"}},
		{"unknown parent", map[string]interface{}{"body": "orphan reply", "parentId": uuid.New().String()}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := client.POST("/api/v1/incidents/"+created.ID+"/comments", tc.body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			resp.Body.Close()
		})
	}
}

func TestComments_UnknownIncident(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.POST("/api/v1/incidents/"+uuid.New().String()+"/comments", map[string]interface{}{
		"body": "Nobody will read this",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = client.GET("/api/v1/incidents/" + uuid.New().String() + "/comments")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestComments_RequiresActor(t *testing.T) {
	client := newTestClient(t)
	created := createIncident(t, client, nil)

	resp, err := client.Anonymous().POST("/api/v1/incidents/"+created.ID+"/comments", map[string]interface{}{
		"body": "Anonymous note",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
