// Package testutil holds deterministic helpers shared by engine-level tests.
package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/pagegraph/internal/runner"
)

// CountingExecutor wraps an executor and records every call it forwards.
//
// Thread-safety: all methods are safe for concurrent use.
type CountingExecutor struct {
	next runner.Executor

	mu    sync.Mutex
	calls map[string]int
	total int
	ids   []string
}

// NewCountingExecutor wraps next.
func NewCountingExecutor(next runner.Executor) *CountingExecutor {
	return &CountingExecutor{next: next, calls: make(map[string]int)}
}

// Execute records the request and forwards it.
func (c *CountingExecutor) Execute(ctx context.Context, req runner.Request) (runner.Response, error) {
	c.mu.Lock()
	c.calls[req.Query]++
	c.total++
	c.ids = append(c.ids, req.QueryID)
	c.mu.Unlock()
	return c.next.Execute(ctx, req)
}

// Calls returns how many times query text was executed.
func (c *CountingExecutor) Calls(query string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[query]
}

// Total returns the number of executions since the last Reset.
func (c *CountingExecutor) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// QueryIDs returns the distinct query ids executions were made for, sorted.
// Shared chunk executions carry the id of whichever query started them.
func (c *CountingExecutor) QueryIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := slices.Clone(c.ids)
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Reset forgets every recorded call.
func (c *CountingExecutor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = make(map[string]int)
	c.total = 0
	c.ids = nil
}
