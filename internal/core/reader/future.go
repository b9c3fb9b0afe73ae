package reader

import (
	"context"
	"sync"

	"github.com/davstream/internal/core/failure"
	"github.com/google/uuid"
)

// Future is the pending outcome of one ReadRequest. It resolves exactly
// once, with either the bytes read or a *failure.Error.
type Future struct {
	id   uuid.UUID
	done chan struct{}

	mu       sync.Mutex
	resolved bool
	data     []byte
	err      error
}

func newFuture(id uuid.UUID) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

func (f *Future) ID() uuid.UUID { return f.id }

// Done is closed once the outcome is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result blocks until the future resolves.
func (f *Future) Result() ([]byte, error) {
	<-f.done
	return f.data, f.err
}

// Wait is Result bounded by ctx. Giving up on the wait does not cancel
// the read itself.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, failure.FromTransport("wait", "", ctx.Err())
	}
}

func (f *Future) isResolved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved
}

// deliver reports false when the future was already resolved.
func (f *Future) deliver(data []byte, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return false
	}
	f.resolved = true
	f.data, f.err = data, err
	close(f.done)
	return true
}
