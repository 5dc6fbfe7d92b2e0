package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomtel/callsight/pkg/callsource"
	"github.com/fathomtel/callsight/pkg/jobstore"
	"github.com/fathomtel/callsight/pkg/llm"
	"github.com/fathomtel/callsight/pkg/routing"
	"github.com/fathomtel/callsight/pkg/supervisor"
	"github.com/fathomtel/callsight/pkg/transcript"
)

type fakeSource struct {
	calls       []callsource.Call
	transcripts []callsource.Transcript
	listErr     error
}

func (f *fakeSource) ListCalls(context.Context, time.Time, time.Time) ([]callsource.Call, error) {
	return f.calls, f.listErr
}

func (f *fakeSource) GetTranscripts(context.Context, []string) ([]callsource.Transcript, error) {
	return f.transcripts, nil
}

type fakeRunner struct {
	mu     sync.Mutex
	jobID  string
	docs   []transcript.Document
	prompt string
	done   chan struct{}
	run    func(jobID string, docs []transcript.Document, prompt string) error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{done: make(chan struct{})}
}

func (f *fakeRunner) Run(_ context.Context, jobID string, docs []transcript.Document, prompt string) error {
	f.mu.Lock()
	f.jobID, f.docs, f.prompt = jobID, docs, prompt
	f.mu.Unlock()
	defer close(f.done)
	if f.run != nil {
		return f.run(jobID, docs, prompt)
	}
	return nil
}

type fakeBackend bool

func (f fakeBackend) Configured() bool { return bool(f) }

func smallCalls(n int) []callsource.Call {
	calls := make([]callsource.Call, n)
	for i := range calls {
		calls[i] = callsource.Call{ID: string(rune('a' + i)), Title: "weekly sync"}
	}
	return calls
}

// bigTranscripts produces transcripts large enough to push the workload
// over a 1K-token threshold.
func bigTranscripts(calls []callsource.Call) []callsource.Transcript {
	out := make([]callsource.Transcript, len(calls))
	for i, c := range calls {
		out[i] = callsource.Transcript{
			CallID: c.ID,
			Segments: []callsource.Segment{{
				SpeakerID: "sp-1",
				Sentences: []callsource.Sentence{{Text: strings.Repeat("words and more words ", 500)}},
			}},
		}
	}
	return out
}

func newService(t *testing.T, src callsource.Client, runner Runner, backend Backend, policy routing.Policy) (*Service, *jobstore.Store, *supervisor.Registry) {
	t.Helper()
	store := jobstore.NewStore(t.TempDir())
	registry := supervisor.NewRegistry(store, nil)
	svc := New(Options{
		Source:   src,
		Store:    store,
		Runner:   runner,
		Backend:  backend,
		Registry: registry,
		Policy:   policy,
	})
	return svc, store, registry
}

func TestDispatchSmallWorkloadRunsDirect(t *testing.T) {
	src := &fakeSource{calls: smallCalls(2)}
	svc, _, _ := newService(t, src, newFakeRunner(), fakeBackend(true), routing.Policy{DirectTokenLimitK: 1000})

	resp, err := svc.RouteAndDispatch(context.Background(), Request{})

	require.NoError(t, err)
	assert.Equal(t, routing.ModeDirect, resp.Decision.Mode)
	assert.Len(t, resp.Documents, 2)
	assert.Empty(t, resp.JobID)
}

func TestDispatchLargeWorkloadDefers(t *testing.T) {
	calls := smallCalls(5)
	src := &fakeSource{calls: calls, transcripts: bigTranscripts(calls)}
	runner := newFakeRunner()
	svc, store, registry := newService(t, src, runner, fakeBackend(true), routing.Policy{
		DirectTokenLimitK: 1,
		BatchTokenCap:     18100,
		SecondsPerBatch:   90,
	})

	resp, err := svc.RouteAndDispatch(context.Background(), Request{Prompt: "find churn risk"})

	require.NoError(t, err)
	assert.Equal(t, routing.ModeDeferred, resp.Decision.Mode)
	assert.Empty(t, resp.Documents)
	require.NotEmpty(t, resp.JobID)
	assert.Positive(t, resp.Decision.EstimatedBatches)
	assert.Positive(t, resp.Decision.EstimatedMinutes)

	registry.Wait()
	<-runner.done
	assert.Equal(t, resp.JobID, runner.jobID)
	assert.Len(t, runner.docs, 5)
	assert.Equal(t, "find churn risk", runner.prompt)

	job, err := store.Load(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, 5, job.CallCount)
	assert.Equal(t, resp.Decision.EstimatedTokens, job.TotalTokens)
	assert.Equal(t, "find churn risk", job.Prompt)
}

func TestDispatchDefaultsPrompt(t *testing.T) {
	calls := smallCalls(1)
	src := &fakeSource{calls: calls, transcripts: bigTranscripts(calls)}
	runner := newFakeRunner()
	svc, _, registry := newService(t, src, runner, fakeBackend(true), routing.Policy{DirectTokenLimitK: 1})

	_, err := svc.RouteAndDispatch(context.Background(), Request{})
	require.NoError(t, err)

	registry.Wait()
	assert.Equal(t, DefaultPrompt, runner.prompt)
}

func TestDispatchNoMatchingCalls(t *testing.T) {
	src := &fakeSource{calls: smallCalls(3)}
	svc, _, _ := newService(t, src, newFakeRunner(), fakeBackend(true), routing.Policy{})

	resp, err := svc.RouteAndDispatch(context.Background(), Request{
		Filter: callsource.Filter{CallIDs: []string{"nope"}},
	})

	require.NoError(t, err)
	assert.Equal(t, routing.ModeError, resp.Decision.Mode)
	assert.Contains(t, resp.Decision.Reason, "no calls")
}

func TestDispatchMissingAPIKeyFailsBeforeJobCreation(t *testing.T) {
	calls := smallCalls(2)
	src := &fakeSource{calls: calls, transcripts: bigTranscripts(calls)}
	svc, store, _ := newService(t, src, newFakeRunner(), fakeBackend(false), routing.Policy{DirectTokenLimitK: 1})

	_, err := svc.RouteAndDispatch(context.Background(), Request{})

	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrNotConfigured)

	jobs, listErr := store.List(0)
	require.NoError(t, listErr)
	assert.Empty(t, jobs)
}

func TestDispatchUnlimitedThresholdNeverDefers(t *testing.T) {
	calls := smallCalls(10)
	src := &fakeSource{calls: calls, transcripts: bigTranscripts(calls)}
	svc, _, _ := newService(t, src, newFakeRunner(), fakeBackend(true), routing.Policy{DirectTokenLimitK: 0})

	resp, err := svc.RouteAndDispatch(context.Background(), Request{})

	require.NoError(t, err)
	assert.Equal(t, routing.ModeDirect, resp.Decision.Mode)
	assert.Equal(t, routing.UnlimitedDisplay, resp.Decision.Threshold)
	assert.Len(t, resp.Documents, 10)
}

func TestDispatchSourceErrorSurfaces(t *testing.T) {
	src := &fakeSource{listErr: errors.New("upstream status 503")}
	svc, _, _ := newService(t, src, newFakeRunner(), fakeBackend(true), routing.Policy{})

	_, err := svc.RouteAndDispatch(context.Background(), Request{})
	assert.ErrorContains(t, err, "upstream status 503")
}

func TestGetJobStatus(t *testing.T) {
	svc, store, _ := newService(t, &fakeSource{}, newFakeRunner(), fakeBackend(true), routing.Policy{})

	_, err := svc.GetJobStatus("job_missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	require.NoError(t, store.Create(&jobstore.Job{ID: "job_1"}))
	job, err := svc.GetJobStatus("job_1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusPending, job.Status)
}

func TestGetJobResults(t *testing.T) {
	svc, store, _ := newService(t, &fakeSource{}, newFakeRunner(), fakeBackend(true), routing.Policy{})

	t.Run("unknown job", func(t *testing.T) {
		_, err := svc.GetJobResults("job_missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("still running", func(t *testing.T) {
		require.NoError(t, store.Create(&jobstore.Job{ID: "job_run"}))
		require.NoError(t, store.UpdateProgress("job_run", 1, 4, "", 0))

		_, err := svc.GetJobResults("job_run")
		assert.ErrorIs(t, err, ErrJobNotComplete)
	})

	t.Run("failed", func(t *testing.T) {
		require.NoError(t, store.Create(&jobstore.Job{ID: "job_bad"}))
		require.NoError(t, store.Fail("job_bad", "rate limited"))

		_, err := svc.GetJobResults("job_bad")
		assert.ErrorIs(t, err, ErrJobNotComplete)
	})

	t.Run("complete", func(t *testing.T) {
		require.NoError(t, store.Create(&jobstore.Job{ID: "job_ok", CallCount: 20}))
		require.NoError(t, store.Complete("job_ok", &jobstore.Result{
			JobID:        "job_ok",
			TotalCalls:   20,
			BatchResults: []jobstore.BatchResult{{BatchNum: 1, CallsCount: 20, Analysis: "fine"}},
		}, 1.5))

		result, err := svc.GetJobResults("job_ok")
		require.NoError(t, err)
		assert.Equal(t, 20, result.TotalCalls)
	})
}

func TestSearchCalls(t *testing.T) {
	src := &fakeSource{calls: []callsource.Call{
		{ID: "c1", Title: "Renewal call", Parties: []callsource.Party{{Email: "a@acme.com"}}},
		{ID: "c2", Title: "Intro", Parties: []callsource.Party{{Email: "b@other.net"}}},
	}}
	svc, _, _ := newService(t, src, newFakeRunner(), fakeBackend(true), routing.Policy{})

	got, err := svc.SearchCalls(context.Background(), time.Time{}, time.Time{}, callsource.Filter{Domains: []string{"acme.com"}})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
}

func TestGetTranscriptAndParticipants(t *testing.T) {
	src := &fakeSource{
		calls: []callsource.Call{{
			ID:    "c1",
			Title: "Kickoff",
			Parties: []callsource.Party{
				{Name: "Ana", Email: "ana@acme.com", Affiliation: "Internal", SpeakerID: "sp-1"},
				{Name: "Rob", Email: "rob@vendor.io", Affiliation: "External"},
			},
		}},
		transcripts: []callsource.Transcript{{
			CallID: "c1",
			Segments: []callsource.Segment{{
				SpeakerID: "sp-1",
				Sentences: []callsource.Sentence{{Text: "Hello."}},
			}},
		}},
	}
	svc, _, _ := newService(t, src, newFakeRunner(), fakeBackend(true), routing.Policy{})

	doc, err := svc.GetTranscript(context.Background(), "c1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, doc.Conversation, 1)
	assert.Equal(t, "Ana", doc.Conversation[0].Speaker)

	internal, external, err := svc.GetParticipants(context.Background(), "c1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, internal, 1)
	require.Len(t, external, 1)

	_, err = svc.GetTranscript(context.Background(), "c9", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrCallNotFound)
}

func TestRequestWindowDefaults(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	from, to := Request{}.window(now)
	assert.Equal(t, now, to)
	assert.Equal(t, now.AddDate(0, 0, -7), from)

	explicit := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	from, to = Request{From: explicit}.window(now)
	assert.Equal(t, explicit, from)
	assert.Equal(t, now, to)
}
