package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFailer struct {
	mu     sync.Mutex
	failed map[string]string
}

func newRecordingFailer() *recordingFailer {
	return &recordingFailer{failed: make(map[string]string)}
}

func (f *recordingFailer) Fail(jobID, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = cause
	return nil
}

func (f *recordingFailer) causeFor(jobID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed[jobID]
}

func TestLaunchRunsAndDeregisters(t *testing.T) {
	failer := newRecordingFailer()
	r := NewRegistry(failer, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, r.Launch("job_1", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))

	<-started
	assert.True(t, r.Running("job_1"))
	assert.Equal(t, 1, r.Count())

	close(release)
	r.Wait()

	assert.False(t, r.Running("job_1"))
	assert.Zero(t, r.Count())
	assert.Empty(t, failer.causeFor("job_1"))
}

func TestLaunchRejectsDuplicateID(t *testing.T) {
	r := NewRegistry(newRecordingFailer(), nil)

	release := make(chan struct{})
	require.NoError(t, r.Launch("job_1", func(ctx context.Context) error {
		<-release
		return nil
	}))

	err := r.Launch("job_1", func(ctx context.Context) error { return nil })
	assert.ErrorContains(t, err, "already running")

	close(release)
	r.Wait()

	// After the first run exits the id is free again.
	require.NoError(t, r.Launch("job_1", func(ctx context.Context) error { return nil }))
	r.Wait()
}

func TestPanicFailsJobAndDeregisters(t *testing.T) {
	failer := newRecordingFailer()
	r := NewRegistry(failer, nil)

	require.NoError(t, r.Launch("job_1", func(ctx context.Context) error {
		panic("boom")
	}))
	r.Wait()

	assert.False(t, r.Running("job_1"))
	assert.Contains(t, failer.causeFor("job_1"), "boom")
}

func TestRunErrorForceFailsJob(t *testing.T) {
	failer := newRecordingFailer()
	r := NewRegistry(failer, nil)

	require.NoError(t, r.Launch("job_1", func(ctx context.Context) error {
		return errors.New("batch 2/3: rate limited")
	}))
	r.Wait()

	// The run normally persists its own failure; the registry backstops it
	// anyway, and the store treats Fail on a terminal record as a no-op.
	assert.False(t, r.Running("job_1"))
	assert.Contains(t, failer.causeFor("job_1"), "rate limited")
}
