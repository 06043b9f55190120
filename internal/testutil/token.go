package testutil

import (
	"slices"
	"sync"
)

// BatchTokens hands out predetermined batch tokens in order and repeats the
// last one once they run out, so reports and golden files stay stable.
type BatchTokens struct {
	mu     sync.Mutex
	tokens []string
	next   int
}

// NewBatchTokens creates a generator over tokens. With none, every batch
// gets "test-batch-default".
func NewBatchTokens(tokens ...string) *BatchTokens {
	tokens = slices.DeleteFunc(slices.Clone(tokens), func(s string) bool { return s == "" })
	if len(tokens) == 0 {
		tokens = []string{"test-batch-default"}
	}
	return &BatchTokens{tokens: tokens}
}

// Generate returns the next token.
func (g *BatchTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	tok := g.tokens[g.next]
	if g.next < len(g.tokens)-1 {
		g.next++
	}
	return tok
}
