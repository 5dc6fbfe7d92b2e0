// Package llm submits analysis batches to the external language-model API.
//
// The invoker is a pure I/O boundary: it sends one batch per call, applies a
// bounded retry policy for transient failure classes, and reports usage
// statistics on success. It never touches the job store; persistence is the
// orchestrator's concern.
//
// The retry policy is an explicit attempt-counted loop. Every attempt ends
// in a classified outcome (success, rate-limited, overloaded, timeout,
// other) and each transient class carries its own wait rule. Transient
// failures never escape the loop; only exhaustion of the attempt budget
// surfaces as an *InvokeError.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fathomtel/callsight/pkg/estimate"
)

// DefaultAPIURL is the messages endpoint of the analysis API.
const DefaultAPIURL = "https://api.anthropic.com/v1/messages"

// apiVersion is the versioning header required by the messages endpoint.
const apiVersion = "2023-06-01"

// ErrNotConfigured is returned when the API key is absent. This is fatal
// and never retried: the caller must surface it before any job is created.
var ErrNotConfigured = errors.New("llm: api key not configured")

// Config holds invoker settings. Zero values fall back to defaults via
// ApplyDefaults.
type Config struct {
	APIURL          string        `mapstructure:"api_url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`

	// MaxAttempts bounds the retry loop, counting the first try.
	MaxAttempts int `mapstructure:"max_attempts"`

	// RateLimitFallback is the wait after a 429 response that carries no
	// retry-after header.
	RateLimitFallback time.Duration `mapstructure:"rate_limit_fallback"`

	// OverloadBackoffBase scales per attempt for 529 responses, capped at
	// OverloadBackoffCap.
	OverloadBackoffBase time.Duration `mapstructure:"overload_backoff_base"`
	OverloadBackoffCap  time.Duration `mapstructure:"overload_backoff_cap"`

	// TimeoutBackoff and RetryBackoff scale linearly per attempt for
	// request timeouts and all other transient failures respectively.
	TimeoutBackoff time.Duration `mapstructure:"timeout_backoff"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`

	// Per-million-token rates used to derive the monetary cost of a call.
	InputCostPerMTok  float64 `mapstructure:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `mapstructure:"output_cost_per_mtok"`
}

// ApplyDefaults fills unset fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.Model == "" {
		c.Model = "claude-sonnet-4-20250514"
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 16000
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 180 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RateLimitFallback <= 0 {
		c.RateLimitFallback = 60 * time.Second
	}
	if c.OverloadBackoffBase <= 0 {
		c.OverloadBackoffBase = 30 * time.Second
	}
	if c.OverloadBackoffCap <= 0 {
		c.OverloadBackoffCap = 120 * time.Second
	}
	if c.TimeoutBackoff <= 0 {
		c.TimeoutBackoff = 15 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 10 * time.Second
	}
	if c.InputCostPerMTok <= 0 {
		c.InputCostPerMTok = 3.0
	}
	if c.OutputCostPerMTok <= 0 {
		c.OutputCostPerMTok = 15.0
	}
}

// Usage reports the derived statistics for one successful invocation.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Calls        int     `json:"calls_count"`
}

// InvokeError is returned when the attempt budget is exhausted. It carries
// the last observed failure; the batch (and therefore the job) is not
// retried at a higher level.
type InvokeError struct {
	Attempts int
	LastErr  error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("analysis call failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *InvokeError) Unwrap() error { return e.LastErr }

// failureClass tags the outcome of one failed attempt.
type failureClass int

const (
	failRateLimited failureClass = iota
	failOverloaded
	failTimeout
	failOther
)

// attemptFailure is one classified transient failure plus the server-provided
// wait hint, when present.
type attemptFailure struct {
	class     failureClass
	err       error
	retryHint time.Duration // only for failRateLimited, 0 when absent
}

// wait returns how long to pause before the next attempt. attempt is the
// 1-based index of the attempt that just failed.
func (f attemptFailure) wait(cfg Config, attempt int) time.Duration {
	switch f.class {
	case failRateLimited:
		if f.retryHint > 0 {
			return f.retryHint
		}
		return cfg.RateLimitFallback
	case failOverloaded:
		d := time.Duration(attempt) * cfg.OverloadBackoffBase
		if d > cfg.OverloadBackoffCap {
			d = cfg.OverloadBackoffCap
		}
		return d
	case failTimeout:
		return time.Duration(attempt) * cfg.TimeoutBackoff
	default:
		return time.Duration(attempt) * cfg.RetryBackoff
	}
}

// Client invokes the analysis API.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger

	// sleep is swapped out in tests so retry waits don't burn wall clock.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client from config. A nil logger is replaced with a
// no-op logger.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.RequestTimeout},
		log:   logger.Named("llm"),
		sleep: sleepCtx,
	}
}

// Configured reports whether the client has credentials. Callers should
// check this before creating a job so a misconfigured deployment fails
// synchronously.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// messages API wire types.

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Invoke sends one batch for analysis and returns the raw analysis text
// plus derived usage statistics.
//
// payload is the batch content (serialized to JSON and appended to the
// prompt); calls is the number of records it holds. Returns
// ErrNotConfigured without any network activity when credentials are
// absent, and *InvokeError when the retry budget is exhausted.
func (c *Client) Invoke(ctx context.Context, payload any, calls int, prompt string) (string, Usage, error) {
	if !c.Configured() {
		return "", Usage{}, ErrNotConfigured
	}

	batchJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal batch payload: %w", err)
	}

	fullPrompt := fmt.Sprintf("%s\n\nTranscripts to analyze:\n%s", prompt, batchJSON)
	estimatedInput := estimate.Tokens(fullPrompt)

	body, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxOutputTokens,
		Messages:  []message{{Role: "user", Content: fullPrompt}},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		text, usage, failure := c.attempt(ctx, body, estimatedInput, calls)
		if failure == nil {
			return text, usage, nil
		}
		lastErr = failure.err

		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := failure.wait(c.cfg, attempt)
		c.log.Warn("analysis call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", delay),
			zap.Error(failure.err))
		if err := c.sleep(ctx, delay); err != nil {
			return "", Usage{}, err
		}
	}

	return "", Usage{}, &InvokeError{Attempts: c.cfg.MaxAttempts, LastErr: lastErr}
}

// attempt performs a single HTTP exchange. A nil attemptFailure means
// success.
func (c *Client) attempt(ctx context.Context, body []byte, estimatedInput, calls int) (string, Usage, *attemptFailure) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, &attemptFailure{class: failOther, err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", Usage{}, &attemptFailure{class: failTimeout, err: fmt.Errorf("request timeout: %w", err)}
		}
		return "", Usage{}, &attemptFailure{class: failOther, err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", Usage{}, &attemptFailure{
			class:     failRateLimited,
			err:       errors.New("rate limited (429)"),
			retryHint: retryAfter(resp),
		}
	case resp.StatusCode == 529:
		return "", Usage{}, &attemptFailure{class: failOverloaded, err: errors.New("api overloaded (529)")}
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", Usage{}, &attemptFailure{
			class: failOther,
			err:   fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)),
		}
	}

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", Usage{}, &attemptFailure{class: failOther, err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Content) == 0 {
		return "", Usage{}, &attemptFailure{class: failOther, err: errors.New("empty response content")}
	}

	inputTokens := parsed.Usage.InputTokens
	if inputTokens == 0 {
		inputTokens = estimatedInput
	}
	outputTokens := parsed.Usage.OutputTokens

	usage := Usage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         c.cost(inputTokens, outputTokens),
		Calls:        calls,
	}
	return parsed.Content[0].Text, usage, nil
}

// cost converts token counts to dollars using the configured per-million
// rates.
func (c *Client) cost(inputTokens, outputTokens int) float64 {
	in := float64(inputTokens) / 1_000_000 * c.cfg.InputCostPerMTok
	out := float64(outputTokens) / 1_000_000 * c.cfg.OutputCostPerMTok
	return in + out
}

// retryAfter extracts the server wait hint from a 429 response.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// isTimeout reports whether the transport error was a timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
