package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagebot/internal/retry"
	"github.com/triagebot/pkg/models"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient(srv.URL, "bot@example.com", "token")
	return c, srv
}

func TestCreateIssue_BuildsFields(t *testing.T) {
	var got map[string]interface{}
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"10001","key":"PROJ-42"}`))
	})
	defer srv.Close()

	key, err := c.CreateIssue(context.Background(), models.TicketRequest{
		ProjectKey:  "PROJ",
		IssueType:   models.IssueTypeBug,
		Priority:    models.PriorityHigh,
		Summary:     "Deploy script crashes",
		Description: "details",
	})
	require.NoError(t, err)
	assert.Equal(t, "PROJ-42", key)

	fields := got["fields"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"key": "PROJ"}, fields["project"])
	assert.Equal(t, map[string]interface{}{"name": "Bug"}, fields["issuetype"])
	assert.Equal(t, map[string]interface{}{"name": "High"}, fields["priority"])
}

func TestCreateIssue_RejectionNotRetryable(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":{"project":"project is required"}}`))
	})
	defer srv.Close()

	_, err := c.CreateIssue(context.Background(), models.TicketRequest{ProjectKey: "NOPE"})
	require.Error(t, err)
	assert.False(t, retry.IsRetryableError(err))
}

func TestCreateIssue_RateLimitRetryableWithHint(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	_, err := c.CreateIssue(context.Background(), models.TicketRequest{ProjectKey: "PROJ"})
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.Retryable())
	assert.Equal(t, 3*time.Second, apiErr.RetryAfterHint())
}

func TestTransitionIssue_AppliesMatchingTransition(t *testing.T) {
	var posted map[string]interface{}
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/PROJ-42/transitions", r.URL.Path)
		if r.Method == http.MethodGet {
			w.Write([]byte(`{"transitions":[
				{"id":"11","to":{"name":"In Progress"}},
				{"id":"21","to":{"name":"To Do"}}
			]}`))
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
		w.WriteHeader(http.StatusNoContent)
	})
	defer srv.Close()

	require.NoError(t, c.TransitionIssue(context.Background(), "PROJ-42", "To Do"))
	assert.Equal(t, map[string]interface{}{"id": "21"}, posted["transition"])
}

func TestTransitionIssue_NoMatch(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transitions":[{"id":"11","to":{"name":"Done"}}]}`))
	})
	defer srv.Close()

	err := c.TransitionIssue(context.Background(), "PROJ-42", "To Do")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Done")
}

func TestBrowseURL(t *testing.T) {
	c := NewClient("https://example.atlassian.net/", "a", "b")
	assert.Equal(t, "https://example.atlassian.net/browse/PROJ-7", c.BrowseURL("PROJ-7"))
}
