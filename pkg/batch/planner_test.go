package batch

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomtel/callsight/pkg/estimate"
)

// recordOfTokens builds a string that estimates to roughly n tokens once
// JSON-quoted.
func recordOfTokens(n int) string {
	return strings.Repeat("r", n*4-2)
}

func TestPlanEmptyInput(t *testing.T) {
	batches := Plan([]string{}, DefaultConfig())
	assert.Empty(t, batches, "empty input must yield no batches, not one empty batch")
}

func TestPlanSingleBatch(t *testing.T) {
	records := []string{"alpha", "beta", "gamma"}

	batches := Plan(records, DefaultConfig())

	require.Len(t, batches, 1)
	assert.Equal(t, records, batches[0])
}

func TestPlanCountCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCalls = 4

	records := make([]string, 10)
	for i := range records {
		records[i] = fmt.Sprintf("call-%02d", i)
	}

	batches := Plan(records, cfg)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 4)
	assert.Len(t, batches[1], 4)
	assert.Len(t, batches[2], 2)
}

func TestPlanTokenCap(t *testing.T) {
	cfg := Config{MaxCalls: 100, MaxTokens: 24000, PromptOverheadTokens: 3500}
	limit := cfg.tokenCap()

	// Each record is just over a third of the cap, so only two fit per batch.
	per := limit/3 + 100
	records := []string{
		recordOfTokens(per), recordOfTokens(per), recordOfTokens(per),
		recordOfTokens(per), recordOfTokens(per),
	}

	batches := Plan(records, cfg)

	require.Len(t, batches, 3)
	for i, b := range batches[:2] {
		assert.Len(t, b, 2, "batch %d", i)
	}
	assert.Len(t, batches[2], 1)
}

func TestPlanOversizedRecordGetsOwnBatch(t *testing.T) {
	cfg := Config{MaxCalls: 20, MaxTokens: 24000, PromptOverheadTokens: 3500}

	huge := recordOfTokens(cfg.tokenCap() * 3)
	records := []string{"small-1", huge, "small-2"}

	batches := Plan(records, cfg)

	require.Len(t, batches, 3)
	assert.Equal(t, []string{"small-1"}, batches[0])
	assert.Equal(t, []string{huge}, batches[1])
	assert.Equal(t, []string{"small-2"}, batches[2])
}

func TestPlanPartitionIdentity(t *testing.T) {
	cfg := Config{MaxCalls: 3, MaxTokens: 2000, PromptOverheadTokens: 100}

	records := make([]string, 37)
	for i := range records {
		records[i] = fmt.Sprintf("record-%03d-%s", i, strings.Repeat("z", (i%11)*50))
	}

	batches := Plan(records, cfg)

	var flattened []string
	limit := cfg.tokenCap()
	for i, b := range batches {
		require.NotEmpty(t, b, "batch %d", i)
		assert.LessOrEqual(t, len(b), cfg.MaxCalls, "batch %d over count cap", i)

		total := 0
		for _, r := range b {
			total += estimate.TokensFor(r)
		}
		if len(b) > 1 {
			assert.LessOrEqual(t, total, limit, "multi-record batch %d over token cap", i)
		}

		flattened = append(flattened, b...)
	}

	assert.Equal(t, records, flattened, "concatenated batches must reproduce the input in order")
}
