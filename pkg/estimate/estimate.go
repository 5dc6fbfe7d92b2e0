// Package estimate provides cheap token-count approximation for routing
// and batching decisions.
//
// The estimator never calls a real tokenizer. It uses a fixed
// characters-per-token ratio over the JSON serialization of the payload,
// which is conservative for English transcripts and deterministic across
// processes. Callers that need exact counts get them after the fact from
// the analysis API's usage report.
package estimate

import "encoding/json"

// BytesPerToken is the serialized-length to token ratio.
//
// ~4 characters per token matches what the upstream analysis API reports
// for typical English call transcripts, erring on the high side.
const BytesPerToken = 4

// Tokens estimates the token count of raw text.
//
// Returns 0 for empty input. Monotonic in input length.
func Tokens(text string) int {
	return len(text) / BytesPerToken
}

// TokensFor estimates the token count of an arbitrary value by serializing
// it to JSON and applying the ratio.
//
// Estimation never fails: a value that cannot be marshaled counts as 0.
func TokensFor(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b) / BytesPerToken
}
