// Package supervisor tracks background analysis jobs for the lifetime of
// the process.
//
// Each deferred job runs in its own goroutine. The registry records which
// jobs are in flight, guarantees deregistration on every exit path, and
// converts an escaped panic into a failed job record so no job is ever left
// running forever.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Failer writes the terminal failure record for a job. Satisfied by
// *jobstore.Store.
type Failer interface {
	Fail(jobID string, cause string) error
}

// Registry launches and tracks background jobs.
type Registry struct {
	failer Failer
	log    *zap.Logger

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// NewRegistry builds a registry. A nil logger is replaced with a no-op
// logger.
func NewRegistry(failer Failer, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		failer:  failer,
		log:     logger.Named("supervisor"),
		running: make(map[string]struct{}),
	}
}

// Launch starts run in a new goroutine registered under jobID. It returns
// an error if the id is already in flight.
//
// The run function owns the job's terminal state on ordinary returns, but
// the registry backstops both exits: a non-nil error or an escaped panic
// force-fails the job record, so pollers always see a terminal status.
// Fail on an already-terminal record is a no-op, so the common case where
// the run persisted its own failure is unaffected.
func (r *Registry) Launch(jobID string, run func(ctx context.Context) error) error {
	r.mu.Lock()
	if _, ok := r.running[jobID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("job %s already running", jobID)
	}
	r.running[jobID] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.deregister(jobID)
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("job goroutine panicked",
					zap.String("job_id", jobID),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()))
				if err := r.failer.Fail(jobID, fmt.Sprintf("internal error: %v", p)); err != nil {
					r.log.Error("failed to record panic", zap.String("job_id", jobID), zap.Error(err))
				}
			}
		}()

		if err := run(context.Background()); err != nil {
			r.log.Warn("job finished with error", zap.String("job_id", jobID), zap.Error(err))
			if failErr := r.failer.Fail(jobID, err.Error()); failErr != nil {
				r.log.Error("failed to record run error", zap.String("job_id", jobID), zap.Error(failErr))
			}
		}
	}()
	return nil
}

func (r *Registry) deregister(jobID string) {
	r.mu.Lock()
	delete(r.running, jobID)
	r.mu.Unlock()
}

// Running reports whether the job is currently in flight in this process.
func (r *Registry) Running(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[jobID]
	return ok
}

// Count returns the number of jobs in flight.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Wait blocks until every launched job has exited. Used on shutdown and in
// tests.
func (r *Registry) Wait() {
	r.wg.Wait()
}
