package engine

import "sync"

// inbox is the unbounded event list between producers and the engine loop.
// Data sources and the live channel push from any goroutine and never block;
// only the loop pops. A one-slot wake channel lets the loop select on new
// events alongside its context and batching timer.
type inbox struct {
	mu     sync.Mutex
	events []Event
	head   int
	closed bool
	wake   chan struct{}
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

// push appends ev. It reports false once the inbox is closed.
func (b *inbox) push(ev Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.events = append(b.events, ev)
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// pop removes the oldest event.
func (b *inbox) pop() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.head == len(b.events) {
		return Event{}, false
	}
	ev := b.events[b.head]
	b.events[b.head] = Event{}
	b.head++
	if b.head == len(b.events) {
		b.events, b.head = b.events[:0], 0
	}
	return ev, true
}

// ready fires after a push. It is closed, not fired, by close.
func (b *inbox) ready() <-chan struct{} { return b.wake }

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events) - b.head
}

// close rejects further pushes. Events already pushed can still be popped.
func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.wake)
	}
}
