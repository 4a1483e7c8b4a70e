package slack

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
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient("xoxb-test")
	c.SetBaseURL(srv.URL)
	return c, srv
}

func TestPostMessage_SendsThreadTS(t *testing.T) {
	var got map[string]interface{}
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	})
	defer srv.Close()

	err := c.PostMessage(context.Background(), "C123", "1726000000.000100", "hello")
	require.NoError(t, err)
	assert.Equal(t, "C123", got["channel"])
	assert.Equal(t, "1726000000.000100", got["thread_ts"])
	assert.Equal(t, false, got["unfurl_links"])
}

func TestPostMessage_APIErrorNotRetryable(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	})
	defer srv.Close()

	err := c.PostMessage(context.Background(), "C999", "", "hello")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, "channel_not_found", apiErr.Code)
	assert.False(t, retry.IsRetryableError(err))
}

func TestPostMessage_RateLimitCarriesHint(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	err := c.PostMessage(context.Background(), "C123", "", "hello")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.Retryable())
	assert.Equal(t, 7*time.Second, apiErr.RetryAfterHint())
	assert.True(t, retry.IsRetryableError(err))
}

func TestUserInfo_FallsBackToName(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "U456", r.URL.Query().Get("user"))
		w.Write([]byte(`{"ok":true,"user":{"name":"jdoe","real_name":""}}`))
	})
	defer srv.Close()

	name, err := c.UserInfo(context.Background(), "U456")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", name)
}

func TestPermalink(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.getPermalink", r.URL.Path)
		assert.Equal(t, "C123", r.URL.Query().Get("channel"))
		assert.Equal(t, "1726000000.000100", r.URL.Query().Get("message_ts"))
		w.Write([]byte(`{"ok":true,"permalink":"https://example.slack.com/archives/C123/p1726000000000100"}`))
	})
	defer srv.Close()

	link, err := c.Permalink(context.Background(), "C123", "1726000000.000100")
	require.NoError(t, err)
	assert.Equal(t, "https://example.slack.com/archives/C123/p1726000000000100", link)
}

func TestThreadRootText(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations.replies", r.URL.Path)
		assert.Equal(t, "1726000000.000001", r.URL.Query().Get("ts"))
		w.Write([]byte(`{"ok":true,"messages":[{"text":"deploy pipeline is red"},{"text":"still broken?"}]}`))
	})
	defer srv.Close()

	text, err := c.ThreadRootText(context.Background(), "C123", "1726000000.000001")
	require.NoError(t, err)
	assert.Equal(t, "deploy pipeline is red", text)
}

func TestChannelName(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations.info", r.URL.Path)
		w.Write([]byte(`{"ok":true,"channel":{"name":"bug-reports"}}`))
	})
	defer srv.Close()

	name, err := c.ChannelName(context.Background(), "C123")
	require.NoError(t, err)
	assert.Equal(t, "bug-reports", name)
}
