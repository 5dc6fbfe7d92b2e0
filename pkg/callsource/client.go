package callsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNotConfigured is returned when the data-source credentials are absent.
// Surfaced to the caller immediately; never retried.
var ErrNotConfigured = errors.New("callsource: access credentials not configured")

// ErrUpstream wraps every transport failure and non-2xx response from the
// platform, so callers can distinguish "the upstream is misbehaving" from a
// fault of their own.
var ErrUpstream = errors.New("callsource: upstream request failed")

// Client is the read contract the analysis service depends on. The HTTP
// implementation below is the production one; tests substitute fakes.
type Client interface {
	// ListCalls returns all calls in [from, to], following pagination to
	// exhaustion.
	ListCalls(ctx context.Context, from, to time.Time) ([]Call, error)

	// GetTranscripts fetches raw transcripts for the given call ids.
	// Calls with no transcript are simply absent from the result.
	GetTranscripts(ctx context.Context, callIDs []string) ([]Transcript, error)
}

// Config holds connection settings for the upstream platform.
type Config struct {
	BaseURL      string        `mapstructure:"base_url"`
	AccessKey    string        `mapstructure:"access_key"`
	AccessSecret string        `mapstructure:"access_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PageSize     int           `mapstructure:"page_size"`

	// RequestsPerSecond throttles outgoing requests. The platform enforces
	// 3 req/s per key; exceeding it earns 429s that the client does not
	// retry.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 3
	}
}

// HTTPClient talks to the upstream REST API using basic auth.
type HTTPClient struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewHTTPClient builds the production client. A nil logger is replaced
// with a no-op logger.
func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		log:     logger.Named("callsource"),
	}
}

// Configured reports whether credentials are present.
func (c *HTTPClient) Configured() bool {
	return c.cfg.AccessKey != "" && c.cfg.AccessSecret != ""
}

// callsPage is one page of the call listing endpoint.
type callsPage struct {
	Calls   []Call `json:"calls"`
	Records struct {
		Cursor string `json:"cursor,omitempty"`
	} `json:"records"`
}

// ListCalls pages through the call listing until the cursor is exhausted.
func (c *HTTPClient) ListCalls(ctx context.Context, from, to time.Time) ([]Call, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var all []Call
	cursor := ""
	for {
		q := url.Values{}
		q.Set("fromDateTime", from.UTC().Format(time.RFC3339))
		q.Set("toDateTime", to.UTC().Format(time.RFC3339))
		q.Set("pageSize", fmt.Sprintf("%d", c.cfg.PageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var page callsPage
		if err := c.get(ctx, "/v2/calls?"+q.Encode(), &page); err != nil {
			return nil, fmt.Errorf("list calls: %w", err)
		}

		all = append(all, page.Calls...)
		cursor = page.Records.Cursor
		if cursor == "" {
			break
		}
	}

	c.log.Debug("listed calls",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("count", len(all)))
	return all, nil
}

// transcriptRequest is the body of the transcript batch endpoint.
type transcriptRequest struct {
	CallIDs []string `json:"call_ids"`
}

type transcriptPage struct {
	Transcripts []Transcript `json:"transcripts"`
}

// GetTranscripts fetches transcripts for up to PageSize calls per request.
func (c *HTTPClient) GetTranscripts(ctx context.Context, callIDs []string) ([]Transcript, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var all []Transcript
	for start := 0; start < len(callIDs); start += c.cfg.PageSize {
		end := start + c.cfg.PageSize
		if end > len(callIDs) {
			end = len(callIDs)
		}

		var page transcriptPage
		if err := c.post(ctx, "/v2/calls/transcript", transcriptRequest{CallIDs: callIDs[start:end]}, &page); err != nil {
			return nil, fmt.Errorf("get transcripts: %w", err)
		}
		all = append(all, page.Transcripts...)
	}
	return all, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(b), out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.AccessKey, c.cfg.AccessSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
