package estimate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokens(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{name: "empty", input: "", want: 0},
		{name: "under one token", input: "abc", want: 0},
		{name: "exactly one token", input: "abcd", want: 1},
		{name: "forty chars", input: strings.Repeat("x", 40), want: 10},
		{name: "integer division floors", input: strings.Repeat("x", 43), want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokens(tt.input))
		})
	}
}

func TestTokensMonotonic(t *testing.T) {
	prev := 0
	for n := 0; n <= 4096; n += 64 {
		got := Tokens(strings.Repeat("a", n))
		assert.GreaterOrEqual(t, got, prev, "estimate must not decrease as input grows (n=%d)", n)
		prev = got
	}
}

func TestTokensFor(t *testing.T) {
	t.Run("empty slice serializes to two bytes", func(t *testing.T) {
		assert.Equal(t, 0, TokensFor([]string{}))
	})

	t.Run("struct payload", func(t *testing.T) {
		payload := map[string]string{"title": "Q3 pipeline review"}
		// {"title":"Q3 pipeline review"} is 30 bytes.
		assert.Equal(t, 30/BytesPerToken, TokensFor(payload))
	})

	t.Run("larger payload estimates larger", func(t *testing.T) {
		small := []string{"one call"}
		large := []string{"one call", "another call", strings.Repeat("words ", 100)}
		assert.Greater(t, TokensFor(large), TokensFor(small))
	})

	t.Run("unmarshalable counts as zero", func(t *testing.T) {
		assert.Equal(t, 0, TokensFor(make(chan int)))
	})
}
