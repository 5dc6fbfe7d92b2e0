package jobstore

import "time"

// Status is the lifecycle state of an analysis job.
//
// NOTE: These values are persisted in the job record and are part of the
// stable on-disk contract. Transitions are forward-only; complete and error
// are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Terminal reports whether no further transitions may leave this status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Job is the durable record tracking one deferred analysis run. It is owned
// by the Store: the orchestrator mutates it only through Store operations.
//
// The schema is designed for backward-compatible extension (additive
// fields).
type Job struct {
	ID          string     `json:"job_id"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	// Sizing captured at creation from the routing decision.
	CallCount        int    `json:"call_count"`
	TotalTokens      int    `json:"total_tokens"`
	EstimatedBatches int    `json:"estimated_batches"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	Prompt           string `json:"prompt"`

	// Progress, rewritten on every update.
	CurrentBatch    int     `json:"current_batch"`
	TotalBatches    int     `json:"total_batches"`
	ProgressPercent int     `json:"progress_percent"`
	CostSoFar       float64 `json:"cost_so_far"`
	Message         string  `json:"message"`

	// Terminal fields.
	TotalCost float64 `json:"total_cost,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// BatchResult is the output of one completed batch.
type BatchResult struct {
	BatchNum   int    `json:"batch_num"`
	CallsCount int    `json:"calls_count"`
	Analysis   string `json:"analysis"`
}

// Result is the immutable output of a completed job, stored separately from
// the job record and retrieved through its own path. Never produced for
// failed jobs.
type Result struct {
	JobID        string        `json:"job_id"`
	TotalCalls   int           `json:"total_calls"`
	TotalBatches int           `json:"total_batches"`
	TotalCost    float64       `json:"total_cost"`
	PromptUsed   string        `json:"prompt_used"`
	BatchResults []BatchResult `json:"batch_results"`
}

// Percent derives the integer progress percentage, flooring, with 0 for an
// unplanned job.
func Percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	return current * 100 / total
}
