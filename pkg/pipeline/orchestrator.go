// Package pipeline runs deferred analysis jobs batch by batch.
//
// The orchestrator owns the job lifecycle between creation and its terminal
// state: it plans batches, invokes the analysis API once per batch, records
// progress after every batch, paces consecutive invocations, and writes the
// terminal record. A failed batch fails the whole job; partial results are
// discarded rather than persisted.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/fathomtel/callsight/pkg/batch"
	"github.com/fathomtel/callsight/pkg/jobstore"
	"github.com/fathomtel/callsight/pkg/llm"
	"github.com/fathomtel/callsight/pkg/transcript"
)

// Invoker is the analysis boundary the orchestrator drives. Satisfied by
// *llm.Client; tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, payload any, calls int, prompt string) (string, llm.Usage, error)
}

// Config holds orchestration settings.
type Config struct {
	Batch batch.Config `mapstructure:"batch"`

	// BatchDelay is the full wait inserted before every batch after the
	// first, regardless of how long the previous invocation took. The
	// analysis API meters on request spacing, not wall-clock rate, so a
	// slow batch does not buy the next one a shorter wait.
	BatchDelay time.Duration `mapstructure:"batch_delay"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	def := batch.DefaultConfig()
	if c.Batch.MaxCalls <= 0 {
		c.Batch.MaxCalls = def.MaxCalls
	}
	if c.Batch.MaxTokens <= 0 {
		c.Batch.MaxTokens = def.MaxTokens
	}
	if c.Batch.PromptOverheadTokens <= 0 {
		c.Batch.PromptOverheadTokens = def.PromptOverheadTokens
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = 65 * time.Second
	}
}

// Orchestrator executes deferred jobs against a store and an invoker.
type Orchestrator struct {
	store   *jobstore.Store
	invoker Invoker
	cfg     Config
	log     *zap.Logger
}

// New builds an orchestrator. A nil logger is replaced with a no-op logger.
func New(store *jobstore.Store, invoker Invoker, cfg Config, logger *zap.Logger) *Orchestrator {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:   store,
		invoker: invoker,
		cfg:     cfg,
		log:     logger.Named("pipeline"),
	}
}

// Run processes one job to a terminal state. The returned error mirrors the
// failure already recorded in the store; callers use it for logging only.
//
// A panic anywhere in the run is converted into a failed job rather than a
// crashed process.
func (o *Orchestrator) Run(ctx context.Context, jobID string, docs []transcript.Document, prompt string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("job panicked",
				zap.String("job_id", jobID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
			_ = o.store.Fail(jobID, err.Error())
		}
	}()

	batches := batch.Plan(docs, o.cfg.Batch)
	total := len(batches)

	log := o.log.With(zap.String("job_id", jobID))
	log.Info("job started", zap.Int("calls", len(docs)), zap.Int("batches", total))

	if err := o.store.UpdateProgress(jobID, 0, total, fmt.Sprintf("Starting analysis of %d batches", total), 0); err != nil {
		_ = o.store.Fail(jobID, err.Error())
		return err
	}

	var (
		results   []jobstore.BatchResult
		totalCost float64
	)
	for i, b := range batches {
		num := i + 1
		if num > 1 {
			_ = o.store.Update(jobID, func(job *jobstore.Job) {
				job.Message = fmt.Sprintf("Waiting before batch %d/%d", num, total)
			})
			delay := time.NewTimer(o.cfg.BatchDelay)
			select {
			case <-ctx.Done():
				delay.Stop()
				_ = o.store.Fail(jobID, ctx.Err().Error())
				return ctx.Err()
			case <-delay.C:
			}
		}

		analysis, usage, err := o.invoker.Invoke(ctx, b, len(b), prompt)
		if err != nil {
			log.Error("batch failed", zap.Int("batch", num), zap.Error(err))
			cause := fmt.Sprintf("batch %d/%d: %v", num, total, err)
			_ = o.store.Fail(jobID, cause)
			return fmt.Errorf("batch %d/%d: %w", num, total, err)
		}

		totalCost += usage.Cost
		results = append(results, jobstore.BatchResult{
			BatchNum:   num,
			CallsCount: len(b),
			Analysis:   analysis,
		})

		log.Info("batch complete",
			zap.Int("batch", num),
			zap.Int("of", total),
			zap.Int("calls", len(b)),
			zap.Float64("cost", usage.Cost))

		if err := o.store.UpdateProgress(jobID, num, total, "", totalCost); err != nil {
			_ = o.store.Fail(jobID, err.Error())
			return err
		}
	}

	result := &jobstore.Result{
		JobID:        jobID,
		TotalCalls:   len(docs),
		TotalBatches: total,
		TotalCost:    totalCost,
		PromptUsed:   prompt,
		BatchResults: results,
	}
	if err := o.store.Complete(jobID, result, totalCost); err != nil {
		_ = o.store.Fail(jobID, err.Error())
		return err
	}

	log.Info("job complete", zap.Int("batches", total), zap.Float64("total_cost", totalCost))
	return nil
}
