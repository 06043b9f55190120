package chunk

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/pagegraph/internal/ir"
)

// Key identifies one chunk execution.
type Key struct {
	Hash   string
	Digest string
}

func (k Key) String() string {
	return k.Hash + "/" + k.Digest
}

// Outcome is what executing a chunk produced. Dependencies are replayed for
// every query that consumes the outcome, not only the one that ran it.
type Outcome struct {
	Data         ir.Object
	Errors       []ir.QueryError
	Dependencies []ir.Dependency
}

// Failed reports whether the outcome carries errors.
func (o Outcome) Failed() bool {
	return len(o.Errors) > 0
}

// Registry deduplicates chunk executions. Concurrent callers with the same
// key share one in-flight call; completed outcomes are served from memory
// until Reset. Returned errors are not cached, outcomes with query errors are.
type Registry struct {
	group singleflight.Group

	mu   sync.Mutex
	done map[Key]Outcome
	runs map[Key]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		done: make(map[Key]Outcome),
		runs: make(map[Key]int),
	}
}

// Do returns the outcome for key, calling exec only if no completed or
// in-flight execution exists. reused is true when exec was not called by
// this caller.
func (r *Registry) Do(ctx context.Context, key Key, exec func(context.Context) (Outcome, error)) (out Outcome, reused bool, err error) {
	if o, ok := r.lookup(key); ok {
		return o, true, nil
	}

	ran := false
	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		// A call that finished between lookup and Do has already stored its outcome.
		if o, ok := r.lookup(key); ok {
			return o, nil
		}
		ran = true
		o, err := exec(ctx)
		if err != nil {
			return Outcome{}, err
		}
		r.mu.Lock()
		r.done[key] = o
		r.runs[key]++
		r.mu.Unlock()
		return o, nil
	})
	if err != nil {
		return Outcome{}, !ran, err
	}
	return v.(Outcome), !ran, nil
}

// Runs returns how many times key was executed since the registry was created.
func (r *Registry) Runs(key Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[key]
}

// Reset drops every completed outcome. Call it when the underlying data changes.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = make(map[Key]Outcome)
}

// Len returns the number of cached outcomes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done)
}

func (r *Registry) lookup(key Key) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.done[key]
	return o, ok
}
