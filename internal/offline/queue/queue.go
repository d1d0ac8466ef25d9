// Package queue implements the durable FIFO of pending local mutations.
//
// Every accepted local write becomes one entry. An entry leaves the queue only
// after the remote call it represents has succeeded; failed entries stay in
// place forever and are retried by the next sync cycle. The whole queue is
// persisted as one JSON blob under kv.KeyQueue after every change.
package queue

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/motogarage/garage/internal/offline/kv"
	"github.com/motogarage/garage/internal/offline/schema"
)

// Queue is the persisted FIFO of pending mutations. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	store   kv.Store
	pending []schema.Mutation
	logger  *log.Logger
}

// New loads the persisted queue from store. An unreadable or corrupt blob is
// logged and the queue starts empty; New never fails because of stored data.
func New(store kv.Store, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	q := &Queue{
		store:  store,
		logger: logger,
	}
	q.pending = q.load()
	return q
}

func (q *Queue) load() []schema.Mutation {
	data, ok, err := q.store.Get(kv.KeyQueue)
	if err != nil {
		q.logger.Printf("Warning: failed to read mutation queue, starting empty: %v", err)
		return nil
	}
	if !ok || len(data) == 0 {
		return nil
	}

	var pending []schema.Mutation
	if err := json.Unmarshal(data, &pending); err != nil {
		q.logger.Printf("Warning: mutation queue is corrupt, starting empty: %v", err)
		return nil
	}

	// Drop entries that cannot be applied rather than wedging every cycle.
	valid := pending[:0]
	for _, m := range pending {
		if err := m.Validate(); err != nil {
			q.logger.Printf("Warning: dropping invalid queued mutation %s: %v", m.ID, err)
			continue
		}
		valid = append(valid, m)
	}
	return valid
}

// Enqueue appends m and persists the queue before returning. The in-memory
// append always happens; a non-nil error only reports that the write to the
// local store failed, in which case the entry survives until the next
// successful persist.
func (q *Queue) Enqueue(m schema.Mutation) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid mutation: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, m)
	return q.persistLocked()
}

// Drain returns a snapshot of the pending mutations in enqueue order. The
// queue itself is not modified.
func (q *Queue) Drain() []schema.Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]schema.Mutation, len(q.pending))
	copy(out, q.pending)
	return out
}

// Remove deletes the mutation with the given ID and persists the queue.
// Removing an unknown ID is a no-op and returns nil.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, m := range q.pending {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	q.pending = append(q.pending[:idx:idx], q.pending[idx+1:]...)
	return q.persistLocked()
}

// Len returns the number of pending mutations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// PendingFor reports whether any mutation targets the given record.
func (q *Queue) PendingFor(kind schema.Kind, targetID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.pending {
		if m.Kind == kind && m.TargetID == targetID {
			return true
		}
	}
	return false
}

// HasPendingCreate reports whether a create minting id is still queued.
func (q *Queue) HasPendingCreate(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.pending {
		if m.Op == schema.OpCreate && m.TargetID == id {
			return true
		}
	}
	return false
}

// HasKind reports whether any mutation of the given kind is pending.
func (q *Queue) HasKind(kind schema.Kind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.pending {
		if m.Kind == kind {
			return true
		}
	}
	return false
}

// CountByKind returns the number of pending mutations per kind. Kinds with
// nothing pending are absent.
func (q *Queue) CountByKind() map[schema.Kind]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := make(map[schema.Kind]int)
	for _, m := range q.pending {
		counts[m.Kind]++
	}
	return counts
}

// Flush re-persists the in-memory queue. Used after a failed Enqueue once the
// store is healthy again.
func (q *Queue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.persistLocked()
}

func (q *Queue) persistLocked() error {
	pending := q.pending
	if pending == nil {
		pending = []schema.Mutation{}
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode mutation queue: %w", err)
	}
	if err := q.store.Set(kv.KeyQueue, data); err != nil {
		return fmt.Errorf("failed to persist mutation queue: %w", err)
	}
	return nil
}
