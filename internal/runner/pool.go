package runner

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/pagegraph/internal/metrics"
)

// DefaultConcurrency is the pool size used when none is configured.
const DefaultConcurrency = 20

// Pool is the global concurrency ceiling shared by every execution.
type Pool struct {
	sem     *semaphore.Weighted
	size    int
	metrics *metrics.Metrics
}

// NewPool creates a pool with size slots. Non-positive sizes use DefaultConcurrency.
func NewPool(size int, m *metrics.Metrics) *Pool {
	if size <= 0 {
		size = DefaultConcurrency
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size, metrics: m}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Do runs fn while holding one slot.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	if p.metrics != nil {
		p.metrics.PoolInFlight.Inc()
		defer p.metrics.PoolInFlight.Dec()
	}
	return fn()
}
