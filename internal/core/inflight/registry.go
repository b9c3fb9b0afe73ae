// Package inflight tracks dispatched read operations so they can be
// cancelled by id. Removal is the single point of ownership: whichever
// caller removes an entry owns its terminal delivery.
package inflight

import (
	"fmt"
	"sync"
	"time"

	"github.com/davstream/internal/core/failure"
	"github.com/davstream/internal/core/metrics"
	"github.com/google/uuid"
)

type Operation struct {
	ID      uuid.UUID
	Started time.Time
	abort   func()
}

func NewOperation(id uuid.UUID, abort func()) *Operation {
	return &Operation{ID: id, Started: time.Now(), abort: abort}
}

type Registry struct {
	mu      sync.Mutex
	table   map[uuid.UUID]*Operation
	metrics *metrics.Collectors
}

func NewRegistry(m *metrics.Collectors) *Registry {
	return &Registry{table: make(map[uuid.UUID]*Operation), metrics: m}
}

// Register adds op. A second registration under a live id is rejected.
func (r *Registry) Register(op *Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.table[op.ID]; ok {
		return failure.Invalidf("register", "operation %s already in flight", op.ID)
	}
	r.table[op.ID] = op
	r.metrics.InFlightInc()
	return nil
}

func (r *Registry) remove(id uuid.UUID) (*Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.table[id]
	if !ok {
		return nil, false
	}
	delete(r.table, id)
	r.metrics.InFlightDec()
	return op, true
}

// Cancel removes id and aborts its transport. It returns false when the
// operation already finished or was never registered.
func (r *Registry) Cancel(id uuid.UUID) bool {
	op, ok := r.remove(id)
	if !ok {
		return false
	}
	if op.abort != nil {
		op.abort()
	}
	return true
}

// Complete removes id on the normal completion path. A false return means
// a canceller got there first and has already delivered.
func (r *Registry) Complete(id uuid.UUID) bool {
	_, ok := r.remove(id)
	return ok
}

// CancelAll cancels every registered operation and reports how many it hit.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	ids := make([]uuid.UUID, 0, len(r.table))
	for id := range r.table {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		if r.Cancel(id) {
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table)
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry{inflight=%d}", r.Len())
}
