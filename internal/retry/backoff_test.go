package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, result.RetryReasons, 2)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return errors.New("service unavailable")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, calls)
	require.Error(t, result.LastError)
}

type fatalErr struct{}

func (fatalErr) Error() string   { return "project key rejected" }
func (fatalErr) Retryable() bool { return false }

func TestDo_NonRetryableAbortsImmediately(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return fatalErr{}
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
}

type rateLimitedErr struct{ after time.Duration }

func (e rateLimitedErr) Error() string                 { return "rate limit exceeded" }
func (e rateLimitedErr) Retryable() bool               { return true }
func (e rateLimitedErr) RetryAfterHint() time.Duration { return e.after }

func TestDo_HonorsRetryAfterHint(t *testing.T) {
	calls := 0
	start := time.Now()
	result := Do(context.Background(), fastConfig(1), func() error {
		calls++
		if calls == 1 {
			return rateLimitedErr{after: 50 * time.Millisecond}
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 2, calls)
	// The hinted delay should dominate the 1ms base delay.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := fastConfig(3)
	cfg.BaseDelay = time.Second

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	result := Do(ctx, cfg, func() error {
		calls++
		return errors.New("timeout")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("HTTP 503 Service Unavailable"), true},
		{errors.New("Too Many Requests"), true},
		{fmt.Errorf("wrapping: %w", errors.New("broken pipe")), true},
		{errors.New("invalid project key"), false},
		{fatalErr{}, false},
		{rateLimitedErr{}, true},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.retryable, IsRetryableError(tc.err), "err=%v", tc.err)
	}
}
