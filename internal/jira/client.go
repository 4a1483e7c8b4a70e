// Package jira is a thin client for the Jira REST API operations the agent
// needs: creating issues and transitioning them to an initial status.
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/triagebot/pkg/models"
)

// APIError is a Jira REST failure with a machine-readable status.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("jira %s failed (status %d): %s", e.Operation, e.StatusCode, body)
}

// Retryable reports whether the call may succeed on a later attempt. 4xx
// rejections (bad project key, unknown issue type) are permanent.
func (e *APIError) Retryable() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode >= 500
}

// RetryAfterHint returns the server-provided backoff, if any.
func (e *APIError) RetryAfterHint() time.Duration { return e.RetryAfter }

// Client talks to a Jira Cloud or Server instance with basic auth.
type Client struct {
	baseURL    string
	email      string
	apiToken   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Jira client.
func NewClient(baseURL, email, apiToken string) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		email:    email,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
}

// BaseURL returns the configured instance URL (used for browse links).
func (c *Client) BaseURL() string { return c.baseURL }

// SetBaseURL overrides the API endpoint (tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimSuffix(u, "/") }

func (c *Client) setAuthHeader(req *http.Request) {
	auth := base64.StdEncoding.EncodeToString([]byte(c.email + ":" + c.apiToken))
	req.Header.Set("Authorization", "Basic "+auth)
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}, operation string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", operation, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", operation, err)
	}
	c.setAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jira %s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       string(data),
			RetryAfter: parseRetryAfter(resp),
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", operation, err)
		}
	}
	return nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// CreateIssue creates a ticket and returns its key.
func (c *Client) CreateIssue(ctx context.Context, req models.TicketRequest) (string, error) {
	fields := map[string]interface{}{
		"project":     map[string]string{"key": req.ProjectKey},
		"summary":     req.Summary,
		"description": req.Description,
		"issuetype":   map[string]string{"name": string(req.IssueType)},
		"priority":    map[string]string{"name": string(req.Priority)},
	}

	var out struct {
		Key string `json:"key"`
	}
	err := c.do(ctx, http.MethodPost, "/rest/api/2/issue", map[string]interface{}{"fields": fields}, &out, "create issue")
	if err != nil {
		return "", err
	}
	if out.Key == "" {
		return "", fmt.Errorf("jira create issue returned no key")
	}
	return out.Key, nil
}

// BrowseURL returns the human-facing link for a ticket key.
func (c *Client) BrowseURL(ticketKey string) string {
	return c.baseURL + "/browse/" + ticketKey
}

type transition struct {
	ID string `json:"id"`
	To struct {
		Name string `json:"name"`
	} `json:"to"`
}

// TransitionIssue moves an issue to the named status when a matching
// transition is available. Returns an error when no transition leads there.
func (c *Client) TransitionIssue(ctx context.Context, issueKey, desiredStatus string) error {
	var out struct {
		Transitions []transition `json:"transitions"`
	}
	path := fmt.Sprintf("/rest/api/2/issue/%s/transitions", issueKey)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, "list transitions"); err != nil {
		return err
	}

	var targetID string
	available := make([]string, 0, len(out.Transitions))
	for _, tr := range out.Transitions {
		available = append(available, tr.To.Name)
		if tr.To.Name == desiredStatus {
			targetID = tr.ID
			break
		}
	}
	if targetID == "" {
		return fmt.Errorf("no transition to %q for %s (available: %s)",
			desiredStatus, issueKey, strings.Join(available, ", "))
	}

	payload := map[string]interface{}{
		"transition": map[string]string{"id": targetID},
	}
	return c.do(ctx, http.MethodPost, path, payload, nil, "transition issue")
}
