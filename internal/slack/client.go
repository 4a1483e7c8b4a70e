// Package slack is a thin client for the Slack Web API methods the agent
// needs: posting messages and resolving user/channel display names.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://slack.com/api"

// APIError is a Slack API failure with enough structure for the retry layer.
type APIError struct {
	Method     string
	StatusCode int
	Code       string // Slack "error" field, e.g. "channel_not_found"
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s failed (status %d): %s", e.Method, e.StatusCode, e.Code)
}

// Retryable reports whether the call may succeed on a later attempt.
func (e *APIError) Retryable() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode >= 500
}

// RetryAfterHint returns the server-provided backoff, if any.
func (e *APIError) RetryAfterHint() time.Duration { return e.RetryAfter }

// Client talks to the Slack Web API with a shared rate limiter.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Slack client authenticated with a bot token.
func NewClient(token string) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// Slack Tier 3 methods allow ~50 requests/minute per channel; one
		// request per second with small bursts keeps well inside that.
		limiter: rate.NewLimiter(rate.Limit(1), 5),
	}
}

// SetBaseURL overrides the API endpoint (tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (c *Client) post(ctx context.Context, method string, payload interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			Method:     method,
			StatusCode: resp.StatusCode,
			Code:       http.StatusText(resp.StatusCode),
			RetryAfter: parseRetryAfter(resp),
		}
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Code: envelope.Error}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s body: %w", method, err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			Method:     method,
			StatusCode: resp.StatusCode,
			Code:       http.StatusText(resp.StatusCode),
			RetryAfter: parseRetryAfter(resp),
		}
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Code: envelope.Error}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s body: %w", method, err)
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

// PostMessage posts text to a channel. threadTS may be empty for a top-level
// post.
func (c *Client) PostMessage(ctx context.Context, channelID, threadTS, text string) error {
	payload := map[string]interface{}{
		"channel":      channelID,
		"text":         text,
		"unfurl_links": false,
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}
	return c.post(ctx, "chat.postMessage", payload, nil)
}

// UserInfo resolves a user ID to a display name. Best effort: callers fall
// back to the raw ID when this fails.
func (c *Client) UserInfo(ctx context.Context, userID string) (string, error) {
	var out struct {
		User struct {
			RealName string `json:"real_name"`
			Name     string `json:"name"`
		} `json:"user"`
	}
	if err := c.get(ctx, "users.info", url.Values{"user": {userID}}, &out); err != nil {
		return "", err
	}
	if out.User.RealName != "" {
		return out.User.RealName, nil
	}
	return out.User.Name, nil
}

// Permalink fetches the permanent link for a message.
func (c *Client) Permalink(ctx context.Context, channelID, messageTS string) (string, error) {
	var out struct {
		Permalink string `json:"permalink"`
	}
	params := url.Values{"channel": {channelID}, "message_ts": {messageTS}}
	if err := c.get(ctx, "chat.getPermalink", params, &out); err != nil {
		return "", err
	}
	return out.Permalink, nil
}

// ThreadRootText fetches the text of a thread's root message, for classifier
// context when the triaged message is a reply.
func (c *Client) ThreadRootText(ctx context.Context, channelID, threadTS string) (string, error) {
	var out struct {
		Messages []struct {
			Text string `json:"text"`
		} `json:"messages"`
	}
	params := url.Values{"channel": {channelID}, "ts": {threadTS}, "limit": {"1"}}
	if err := c.get(ctx, "conversations.replies", params, &out); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].Text, nil
}

// ChannelName resolves a channel ID to its name.
func (c *Client) ChannelName(ctx context.Context, channelID string) (string, error) {
	var out struct {
		Channel struct {
			Name string `json:"name"`
		} `json:"channel"`
	}
	if err := c.get(ctx, "conversations.info", url.Values{"channel": {channelID}}, &out); err != nil {
		return "", err
	}
	return out.Channel.Name, nil
}
