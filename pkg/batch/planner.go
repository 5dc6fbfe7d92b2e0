// Package batch partitions ordered record collections into bounded batches
// for sequential submission to the analysis API.
//
// Batches are contiguous, order-preserving subsequences of the input:
// concatenating the output reproduces the input exactly. Two caps bound each
// batch: a record-count cap and an estimated-token cap. The token cap is
// applied after reserving headroom for the invocation envelope (the
// instructions sent alongside every batch), so a full batch still fits in
// one API call.
package batch

import "github.com/fathomtel/callsight/pkg/estimate"

// Config bounds batch size.
type Config struct {
	// MaxCalls is the record-count cap per batch. Default: 20.
	MaxCalls int

	// MaxTokens is the nominal per-batch token budget. Default: 24000.
	MaxTokens int

	// PromptOverheadTokens is the envelope reservation subtracted from the
	// token budget before the cap is applied. Default: 3500.
	PromptOverheadTokens int
}

// DefaultConfig returns the default planner configuration.
func DefaultConfig() Config {
	return Config{
		MaxCalls:             20,
		MaxTokens:            24000,
		PromptOverheadTokens: 3500,
	}
}

// tokenCap returns the effective per-batch token limit: 90% of the nominal
// budget minus the envelope reservation.
func (c Config) tokenCap() int {
	return int(float64(c.MaxTokens)*0.9) - c.PromptOverheadTokens
}

// Plan splits records into batches.
//
// A new batch starts when adding the next record would exceed the count cap
// or the token cap, checked in that order. A record whose own estimate
// exceeds the token cap still gets a batch to itself: one pathological
// record must never block the pipeline.
//
// Empty input yields an empty plan, not a single empty batch.
func Plan[T any](records []T, cfg Config) [][]T {
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = DefaultConfig().MaxCalls
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}

	limit := cfg.tokenCap()

	var batches [][]T
	var current []T
	currentTokens := 0

	for _, rec := range records {
		tokens := estimate.TokensFor(rec)

		overCount := len(current) >= cfg.MaxCalls
		overTokens := currentTokens+tokens > limit

		if len(current) > 0 && (overCount || overTokens) {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}

		current = append(current, rec)
		currentTokens += tokens
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}
