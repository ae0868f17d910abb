package messagebus

import "sync"

// Payload carries a move-only value inside a message that gets fanned out to
// every mailbox on the bus. The message copies all share one slot; the value
// inside can be taken by at most one of them.
type Payload[T any] struct {
	mu    sync.Mutex
	value T
	taken bool
}

// NewPayload wraps a value for posting on the bus.
func NewPayload[T any](value T) *Payload[T] {
	return &Payload[T]{value: value}
}

// Take attempts to remove the value from the payload. It fails if another
// taker holds the lock right now or if the value was already taken; the two
// cases are indistinguishable on purpose, callers treat any failed Take as
// "someone else got it".
func (p *Payload[T]) Take() (T, bool) {
	var zero T
	if !p.mu.TryLock() {
		return zero, false
	}
	defer p.mu.Unlock()

	if p.taken {
		return zero, false
	}

	p.taken = true
	value := p.value
	p.value = zero
	return value, true
}
