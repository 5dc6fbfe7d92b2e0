// Package routing decides whether an analysis workload runs inline or as a
// deferred background job.
//
// The decision is purely size-based: the estimated token count of the
// serialized workload is compared against a configured threshold. Content is
// never inspected. The policy always produces a decision; there are no error
// conditions.
package routing

import (
	"fmt"
	"math"

	"github.com/fathomtel/callsight/pkg/estimate"
)

// Mode is the execution mode chosen for a workload.
type Mode string

const (
	// ModeDirect returns the workload to the caller for inline handling.
	ModeDirect Mode = "direct"

	// ModeDeferred creates a background job the caller polls separately.
	ModeDeferred Mode = "deferred"

	// ModeError reports a synchronous dispatch failure (e.g. no matching
	// input). Produced by the dispatch layer, never by Decide itself.
	ModeError Mode = "error"
)

// UnlimitedDisplay is the threshold rendering when the direct-mode limit is
// disabled.
const UnlimitedDisplay = "unlimited"

// Policy holds the routing configuration.
type Policy struct {
	// DirectTokenLimitK is the direct-mode threshold in thousands of
	// tokens. A value <= 0 disables deferred mode entirely: everything
	// routes direct regardless of size.
	DirectTokenLimitK int

	// BatchTokenCap is the per-batch token budget used for batch-count
	// estimates. Must match the planner's cap for the estimate to be
	// honest.
	BatchTokenCap int

	// SecondsPerBatch is the expected wall-clock cost of one batch,
	// including the inter-batch rate-limit delay.
	SecondsPerBatch int
}

// Decision is the outcome of routing one workload.
type Decision struct {
	Mode            Mode   `json:"mode"`
	CallCount       int    `json:"call_count"`
	EstimatedTokens int    `json:"estimated_tokens"`
	Threshold       string `json:"threshold"`
	// EstimatedBatches and EstimatedMinutes are populated for deferred
	// decisions only.
	EstimatedBatches int    `json:"estimated_batches,omitempty"`
	EstimatedMinutes int    `json:"estimated_minutes,omitempty"`
	Reason           string `json:"reason"`
}

// threshold returns the token threshold and whether it is unlimited.
func (p Policy) threshold() (int, bool) {
	if p.DirectTokenLimitK <= 0 {
		return math.MaxInt, true
	}
	return p.DirectTokenLimitK * 1000, false
}

// Decide routes a workload.
//
// payload is the full serializable workload (used only for sizing);
// callCount is the number of records it contains. The boundary case is
// deliberate: a workload estimated at exactly the threshold routes
// deferred. Only strictly smaller workloads stay direct.
func (p Policy) Decide(payload any, callCount int) Decision {
	tokens := 0
	if callCount > 0 {
		tokens = estimate.TokensFor(payload)
	}
	threshold, unlimited := p.threshold()

	if tokens < threshold {
		d := Decision{
			Mode:            ModeDirect,
			CallCount:       callCount,
			EstimatedTokens: tokens,
		}
		if unlimited {
			d.Threshold = UnlimitedDisplay
			d.Reason = "direct mode forced (token limit disabled)"
		} else {
			d.Threshold = fmt.Sprintf("%d", threshold)
			d.Reason = fmt.Sprintf("estimated %d tokens under threshold %d", tokens, threshold)
		}
		return d
	}

	batches := EstimateBatches(tokens, p.BatchTokenCap)
	return Decision{
		Mode:             ModeDeferred,
		CallCount:        callCount,
		EstimatedTokens:  tokens,
		Threshold:        fmt.Sprintf("%d", threshold),
		EstimatedBatches: batches,
		EstimatedMinutes: EstimateMinutes(batches, p.SecondsPerBatch),
		Reason:           fmt.Sprintf("estimated %d tokens at or above threshold %d", tokens, threshold),
	}
}

// EstimateBatches returns the expected batch count for a token total.
//
// Zero tokens need zero batches; anything positive needs at least one.
func EstimateBatches(totalTokens, tokensPerBatch int) int {
	if totalTokens <= 0 {
		return 0
	}
	if tokensPerBatch <= 0 {
		return 1
	}
	return (totalTokens + tokensPerBatch - 1) / tokensPerBatch
}

// EstimateMinutes returns the expected processing time for a batch count,
// with a floor of one minute so callers never see a zero-minute promise.
func EstimateMinutes(batches, secondsPerBatch int) int {
	if batches <= 0 {
		return 0
	}
	total := batches * secondsPerBatch
	if total < 60 {
		return 1
	}
	return total / 60
}
