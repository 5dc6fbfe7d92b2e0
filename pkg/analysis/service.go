// Package analysis is the service facade: it ties the call source, routing
// policy, job store, supervisor, and pipeline together behind the small set
// of operations the HTTP and CLI surfaces expose.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fathomtel/callsight/pkg/callsource"
	"github.com/fathomtel/callsight/pkg/jobstore"
	"github.com/fathomtel/callsight/pkg/llm"
	"github.com/fathomtel/callsight/pkg/routing"
	"github.com/fathomtel/callsight/pkg/supervisor"
	"github.com/fathomtel/callsight/pkg/transcript"
)

// DefaultWindowDays is the lookback applied when a request carries no date
// range.
const DefaultWindowDays = 7

// DefaultPrompt is used when a request carries no analysis instructions.
const DefaultPrompt = `Analyze these call transcripts. For each call provide:
1. A concise summary of what was discussed.
2. Key topics and decisions.
3. Action items with owners where identifiable.
4. Overall sentiment and any risks worth flagging.`

var (
	// ErrJobNotFound means no job record exists for the id.
	ErrJobNotFound = errors.New("analysis: job not found")

	// ErrJobNotComplete means the job exists but has not finished
	// successfully; failed jobs report this too.
	ErrJobNotComplete = errors.New("analysis: job not complete")

	// ErrCallNotFound means no call with the id exists in the searched
	// window.
	ErrCallNotFound = errors.New("analysis: call not found")
)

// Runner executes a deferred job to its terminal state. Satisfied by
// *pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context, jobID string, docs []transcript.Document, prompt string) error
}

// Backend reports whether the analysis API can be invoked. Satisfied by
// *llm.Client. Checked before a job is created so a missing key fails the
// request synchronously instead of producing a doomed job.
type Backend interface {
	Configured() bool
}

// Options collects the service dependencies.
type Options struct {
	Source   callsource.Client
	Store    *jobstore.Store
	Runner   Runner
	Backend  Backend
	Registry *supervisor.Registry
	Policy   routing.Policy
	Logger   *zap.Logger
}

// Service implements the analysis operations.
type Service struct {
	source   callsource.Client
	store    *jobstore.Store
	runner   Runner
	backend  Backend
	registry *supervisor.Registry
	policy   routing.Policy
	log      *zap.Logger
}

// New builds a service. A nil logger is replaced with a no-op logger.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source:   opts.Source,
		store:    opts.Store,
		runner:   opts.Runner,
		backend:  opts.Backend,
		registry: opts.Registry,
		policy:   opts.Policy,
		log:      logger.Named("analysis"),
	}
}

// Request describes one analysis dispatch.
type Request struct {
	// From and To bound the call listing. Zero values default to the last
	// DefaultWindowDays days ending now.
	From time.Time `json:"from_date,omitempty"`
	To   time.Time `json:"to_date,omitempty"`

	Filter callsource.Filter `json:"filter,omitempty"`

	// Prompt is the analysis instruction; empty means DefaultPrompt.
	Prompt string `json:"prompt,omitempty"`
}

// window resolves the effective date range.
func (r Request) window(now time.Time) (time.Time, time.Time) {
	to := r.To
	if to.IsZero() {
		to = now
	}
	from := r.From
	if from.IsZero() {
		from = to.AddDate(0, 0, -DefaultWindowDays)
	}
	return from, to
}

func (r Request) prompt() string {
	if r.Prompt == "" {
		return DefaultPrompt
	}
	return r.Prompt
}

// Response is the outcome of RouteAndDispatch.
type Response struct {
	Decision routing.Decision `json:"decision"`

	// Documents carries the workload inline for direct decisions.
	Documents []transcript.Document `json:"documents,omitempty"`

	// JobID identifies the background job for deferred decisions.
	JobID string `json:"job_id,omitempty"`
}

// RouteAndDispatch fetches and filters the requested calls, sizes the
// workload, and either returns it inline or creates a background job.
//
// No matching calls is not an error: the response carries an error-mode
// decision so the caller can distinguish "nothing to analyze" from a
// dispatch failure. A missing analysis-API key surfaces as
// llm.ErrNotConfigured before any job record is created.
func (s *Service) RouteAndDispatch(ctx context.Context, req Request) (*Response, error) {
	from, to := req.window(time.Now())

	calls, err := s.source.ListCalls(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	calls = req.Filter.Apply(calls)

	if len(calls) == 0 {
		return &Response{Decision: routing.Decision{
			Mode:   routing.ModeError,
			Reason: "no calls matched the requested range and filters",
		}}, nil
	}

	docs, err := s.documents(ctx, calls)
	if err != nil {
		return nil, err
	}

	decision := s.policy.Decide(docs, len(docs))
	s.log.Info("routed analysis request",
		zap.String("mode", string(decision.Mode)),
		zap.Int("calls", decision.CallCount),
		zap.Int("estimated_tokens", decision.EstimatedTokens))

	if decision.Mode == routing.ModeDirect {
		return &Response{Decision: decision, Documents: docs}, nil
	}

	if s.backend != nil && !s.backend.Configured() {
		return nil, fmt.Errorf("cannot start background analysis: %w", llm.ErrNotConfigured)
	}

	prompt := req.prompt()
	jobID := s.store.NewJobID()
	job := &jobstore.Job{
		ID:               jobID,
		CallCount:        decision.CallCount,
		TotalTokens:      decision.EstimatedTokens,
		EstimatedBatches: decision.EstimatedBatches,
		EstimatedMinutes: decision.EstimatedMinutes,
		Prompt:           prompt,
	}
	if err := s.store.Create(job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.registry.Launch(jobID, func(ctx context.Context) error {
		return s.runner.Run(ctx, jobID, docs, prompt)
	}); err != nil {
		_ = s.store.Fail(jobID, err.Error())
		return nil, fmt.Errorf("launch job: %w", err)
	}

	return &Response{Decision: decision, JobID: jobID}, nil
}

// documents fetches transcripts and merges them with call metadata.
func (s *Service) documents(ctx context.Context, calls []callsource.Call) ([]transcript.Document, error) {
	ids := make([]string, len(calls))
	for i, call := range calls {
		ids[i] = call.ID
	}

	transcripts, err := s.source.GetTranscripts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get transcripts: %w", err)
	}
	return transcript.BuildAll(calls, transcripts), nil
}

// GetJobStatus returns the current job snapshot.
func (s *Service) GetJobStatus(jobID string) (*jobstore.Job, error) {
	job, err := s.store.Load(jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, err
}

// GetJobResults returns the stored result of a completed job.
func (s *Service) GetJobResults(jobID string) (*jobstore.Result, error) {
	job, err := s.store.Load(jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}
	if job.Status != jobstore.StatusComplete {
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobNotComplete, jobID, job.Status)
	}

	result, err := s.store.GetResult(jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: results for %s", ErrJobNotFound, jobID)
	}
	return result, err
}

// ListJobs returns up to limit jobs, most recently updated first.
func (s *Service) ListJobs(limit int) ([]jobstore.Job, error) {
	return s.store.List(limit)
}

// ListCalls returns the calls in the window, defaulting to the last
// DefaultWindowDays days.
func (s *Service) ListCalls(ctx context.Context, from, to time.Time) ([]callsource.Call, error) {
	from, to = Request{From: from, To: to}.window(time.Now())
	return s.source.ListCalls(ctx, from, to)
}

// SearchCalls lists the window and applies the filter.
func (s *Service) SearchCalls(ctx context.Context, from, to time.Time, filter callsource.Filter) ([]callsource.Call, error) {
	calls, err := s.ListCalls(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return filter.Apply(calls), nil
}

// GetTranscript returns the analysis-ready document for one call in the
// window.
func (s *Service) GetTranscript(ctx context.Context, callID string, from, to time.Time) (*transcript.Document, error) {
	call, err := s.findCall(ctx, callID, from, to)
	if err != nil {
		return nil, err
	}

	transcripts, err := s.source.GetTranscripts(ctx, []string{callID})
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}

	var raw *callsource.Transcript
	for i := range transcripts {
		if transcripts[i].CallID == callID {
			raw = &transcripts[i]
			break
		}
	}

	doc := transcript.Build(*call, raw)
	return &doc, nil
}

// GetParticipants returns the cleaned participant roster for one call,
// split by affiliation.
func (s *Service) GetParticipants(ctx context.Context, callID string, from, to time.Time) (internal, external []transcript.Participant, err error) {
	call, err := s.findCall(ctx, callID, from, to)
	if err != nil {
		return nil, nil, err
	}

	doc := transcript.Build(*call, nil)
	return doc.Internal, doc.External, nil
}

func (s *Service) findCall(ctx context.Context, callID string, from, to time.Time) (*callsource.Call, error) {
	calls, err := s.ListCalls(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for i := range calls {
		if calls[i].ID == callID {
			return &calls[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
}
