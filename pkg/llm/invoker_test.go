package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noSleep replaces the retry wait and records requested durations.
func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	c := NewClient(Config{
		APIURL: url,
		APIKey: "test-key",
	}, nil)
	return c
}

func successBody() string {
	return `{
		"content": [{"type": "text", "text": "Key insight: pricing concerns."}],
		"usage": {"input_tokens": 1000000, "output_tokens": 200000}
	}`
}

func TestInvokeNotConfigured(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL}, nil)

	_, _, err := c.Invoke(context.Background(), []string{"t"}, 1, "analyze")

	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Zero(t, called.Load(), "must fail before any network activity")
}

func TestInvokeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(successBody()))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)

	text, usage, err := c.Invoke(context.Background(), []string{"transcript one", "transcript two"}, 2, "analyze these")

	require.NoError(t, err)
	assert.Equal(t, "Key insight: pricing concerns.", text)
	assert.Equal(t, 1000000, usage.InputTokens)
	assert.Equal(t, 200000, usage.OutputTokens)
	assert.Equal(t, 2, usage.Calls)
	// 1M input at $3/M plus 0.2M output at $15/M.
	assert.InDelta(t, 3.0+3.0, usage.Cost, 1e-9)
}

func TestInvokeRetriesRateLimitWithServerHint(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(successBody()))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var waits []time.Duration
	c.sleep = noSleep(&waits)

	text, _, err := c.Invoke(context.Background(), []string{"t"}, 1, "analyze")

	require.NoError(t, err)
	assert.NotEmpty(t, text)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, waits, 1)
	assert.Equal(t, 7*time.Second, waits[0])
}

func TestInvokeRateLimitFallbackWait(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(successBody()))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var waits []time.Duration
	c.sleep = noSleep(&waits)

	_, _, err := c.Invoke(context.Background(), []string{"t"}, 1, "analyze")

	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, 60*time.Second, waits[0], "429 without retry-after uses the fixed fallback")
}

func TestInvokeOverloadBackoffScalesAndCaps(t *testing.T) {
	f := attemptFailure{class: failOverloaded, err: errors.New("overloaded")}
	cfg := Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, 30*time.Second, f.wait(cfg, 1))
	assert.Equal(t, 60*time.Second, f.wait(cfg, 2))
	assert.Equal(t, 120*time.Second, f.wait(cfg, 4))
	assert.Equal(t, 120*time.Second, f.wait(cfg, 9), "overload backoff is capped")
}

func TestFailureWaitClasses(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	tests := []struct {
		name    string
		failure attemptFailure
		attempt int
		want    time.Duration
	}{
		{name: "timeout scales linearly", failure: attemptFailure{class: failTimeout}, attempt: 2, want: 30 * time.Second},
		{name: "other scales linearly", failure: attemptFailure{class: failOther}, attempt: 3, want: 30 * time.Second},
		{name: "rate limit honors hint", failure: attemptFailure{class: failRateLimited, retryHint: 5 * time.Second}, attempt: 3, want: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.failure.wait(cfg, tt.attempt))
		})
	}
}

func TestInvokeExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var waits []time.Duration
	c.sleep = noSleep(&waits)

	_, _, err := c.Invoke(context.Background(), []string{"t"}, 1, "analyze")

	var invokeErr *InvokeError
	require.ErrorAs(t, err, &invokeErr)
	assert.Equal(t, 3, invokeErr.Attempts)
	assert.Contains(t, invokeErr.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
	// Waits happen between attempts only: two for three attempts, scaling
	// linearly for the generic class.
	require.Len(t, waits, 2)
	assert.Equal(t, 10*time.Second, waits[0])
	assert.Equal(t, 20*time.Second, waits[1])
}

func TestInvokeUsageFallsBackToEstimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "ok"}], "usage": {}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)

	_, usage, err := c.Invoke(context.Background(), []string{"some transcript content"}, 1, "analyze")

	require.NoError(t, err)
	assert.Positive(t, usage.InputTokens, "missing usage falls back to the serialized-length estimate")
}

func TestInvokeSleepCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Invoke(ctx, []string{"t"}, 1, "analyze")

	// Either the transport or the retry wait observes cancellation; both
	// must abort promptly instead of sleeping out the full backoff.
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConfigured)
}
