package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagebot/pkg/models"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

type fakeSubmitter struct {
	mu     sync.Mutex
	events []models.RawEvent
	full   bool
}

func (f *fakeSubmitter) Submit(event models.RawEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.events = append(f.events, event)
	return true
}

func signedRequest(t *testing.T, body string, ts time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	tsStr := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "v0:%s:%s", tsStr, body)
	req.Header.Set("X-Slack-Request-Timestamp", tsStr)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func newTestServer(submitter Submitter) *Server {
	s := New(":0", testSecret, submitter)
	s.now = func() time.Time { return time.Unix(1726000000, 0) }
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestEvents_URLVerification(t *testing.T) {
	s := newTestServer(&fakeSubmitter{})
	body := `{"type":"url_verification","challenge":"3eZbrw1aB"}`

	rec := serve(s, signedRequest(t, body, time.Unix(1726000000, 0)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "3eZbrw1aB", resp["challenge"])
}

func TestEvents_MessageEnqueued(t *testing.T) {
	submitter := &fakeSubmitter{}
	s := newTestServer(submitter)
	body := `{"type":"event_callback","event":{"type":"message","channel":"C123",
		"user":"U42","text":"checkout is broken","ts":"1726000000.000100","thread_ts":""}}`

	rec := serve(s, signedRequest(t, body, time.Unix(1726000000, 0)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, submitter.events, 1)
	ev := submitter.events[0]
	assert.Equal(t, "message", ev.Type)
	assert.Equal(t, "C123", ev.Channel)
	assert.Equal(t, "U42", ev.User)
	assert.Equal(t, "1726000000.000100", ev.TS)
	assert.Equal(t, "checkout is broken", ev.Text)
}

func TestEvents_EditedMessageFlattened(t *testing.T) {
	submitter := &fakeSubmitter{}
	s := newTestServer(submitter)
	body := `{"type":"event_callback","event":{"type":"message","subtype":"message_changed",
		"channel":"C123","ts":"1726000005.000000",
		"message":{"user":"U42","text":"checkout is broken (edited)","ts":"1726000000.000100"}}}`

	rec := serve(s, signedRequest(t, body, time.Unix(1726000000, 0)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, submitter.events, 1)
	ev := submitter.events[0]
	assert.Equal(t, "message_changed", ev.Subtype)
	assert.Equal(t, "U42", ev.User)
	assert.Equal(t, "checkout is broken (edited)", ev.Text)
	assert.Equal(t, "1726000000.000100", ev.TS, "edits keep the original message timestamp")
}

func TestEvents_BadSignatureRejected(t *testing.T) {
	submitter := &fakeSubmitter{}
	s := newTestServer(submitter)
	body := `{"type":"event_callback","event":{"type":"message"}}`

	req := signedRequest(t, body, time.Unix(1726000000, 0))
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")

	rec := serve(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, submitter.events)
}

func TestEvents_MissingHeadersRejected(t *testing.T) {
	s := newTestServer(&fakeSubmitter{})
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(`{}`))

	rec := serve(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEvents_StaleTimestampRejected(t *testing.T) {
	submitter := &fakeSubmitter{}
	s := newTestServer(submitter)
	body := `{"type":"event_callback","event":{"type":"message"}}`

	// Signed ten minutes before the server's clock.
	rec := serve(s, signedRequest(t, body, time.Unix(1726000000-600, 0)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, submitter.events)
}

func TestEvents_TamperedBodyRejected(t *testing.T) {
	submitter := &fakeSubmitter{}
	s := newTestServer(submitter)
	req := signedRequest(t, `{"type":"event_callback"}`, time.Unix(1726000000, 0))
	req.Body = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"url_verification","challenge":"x"}`)).Body

	rec := serve(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEvents_QueueFullReturns503(t *testing.T) {
	s := newTestServer(&fakeSubmitter{full: true})
	body := `{"type":"event_callback","event":{"type":"message","channel":"C123","user":"U42","text":"hi","ts":"1.2"}}`

	rec := serve(s, signedRequest(t, body, time.Unix(1726000000, 0)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeSubmitter{})
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
