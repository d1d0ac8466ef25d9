// Package store is the optimistic local store the UI reads and writes.
//
// Writes are applied to the local snapshot immediately, persisted, and
// recorded as mutations in the queue; the user never waits for the network.
// A record created offline carries a temporary identity until the sync
// engine confirms it and calls Reconcile with the server's version.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/motogarage/garage/internal/offline/kv"
	"github.com/motogarage/garage/internal/offline/queue"
	"github.com/motogarage/garage/internal/offline/schema"
)

var (
	// ErrNotFound is returned when no local record has the requested ID.
	ErrNotFound = errors.New("record not found")

	// ErrPendingMutations is returned by ReplaceSnapshot while the queue
	// still holds unsynced writes for the kind.
	ErrPendingMutations = errors.New("kind has pending mutations")
)

// Dispatcher receives every mutation right after it is enqueued so it can be
// attempted immediately when online. Dispatch must not block.
type Dispatcher interface {
	Dispatch(m schema.Mutation)
}

// Config holds store configuration.
type Config struct {
	// Logger for persistence warnings. Defaults to discarding.
	Logger *log.Logger
}

// Store holds one ordered snapshot per kind plus the temp→server alias table.
// Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	kv        kv.Store
	queue     *queue.Queue
	snapshots map[schema.Kind][]schema.Record
	aliases   map[string]string

	dmu        sync.RWMutex
	dispatcher Dispatcher

	logger *log.Logger
}

// New loads the snapshots and aliases from kv. Corrupt blobs are logged and
// treated as empty.
func New(store kv.Store, q *queue.Queue, cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Store{
		kv:        store,
		queue:     q,
		snapshots: make(map[schema.Kind][]schema.Record),
		aliases:   make(map[string]string),
		logger:    logger,
	}

	for _, kind := range schema.Kinds() {
		var records []schema.Record
		s.loadJSON(kv.SnapshotKey(kind.String()), &records)
		s.snapshots[kind] = records
	}
	s.loadJSON(kv.KeyAliases, &s.aliases)
	if s.aliases == nil {
		s.aliases = make(map[string]string)
	}

	return s
}

func (s *Store) loadJSON(key string, dest any) {
	data, ok, err := s.kv.Get(key)
	if err != nil {
		s.logger.Printf("Warning: failed to read %s, starting empty: %v", key, err)
		return
	}
	if !ok || len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Printf("Warning: %s is corrupt, starting empty: %v", key, err)
	}
}

// SetDispatcher installs the immediate-attempt hook. A nil dispatcher turns
// immediate attempts off; mutations then wait for the next sync cycle.
func (s *Store) SetDispatcher(d Dispatcher) {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	s.dispatcher = d
}

func (s *Store) dispatch(m schema.Mutation) {
	s.dmu.RLock()
	d := s.dispatcher
	s.dmu.RUnlock()
	if d != nil {
		d.Dispatch(m)
	}
}

// Create inserts a record under a fresh temporary identity and queues its
// creation. The returned record is usable immediately.
func (s *Store) Create(kind schema.Kind, fields map[string]any) (schema.Record, error) {
	if err := kind.Validate(); err != nil {
		return schema.Record{}, err
	}

	payload := s.ResolveFields(withoutID(fields))
	rec := schema.NewRecord(schema.NewTempID(kind), payload)
	m := schema.NewMutation(schema.OpCreate, kind, rec.ID, payload)

	s.mu.Lock()
	s.snapshots[kind] = append(s.snapshots[kind], rec.Clone())
	s.persistSnapshotLocked(kind)
	s.enqueueLocked(m)
	s.mu.Unlock()

	s.dispatch(m)
	return rec, nil
}

// Update overlays fields onto the record (top-level last write wins) and
// queues the change.
func (s *Store) Update(kind schema.Kind, id string, fields map[string]any) (schema.Record, error) {
	if err := kind.Validate(); err != nil {
		return schema.Record{}, err
	}

	payload := s.ResolveFields(withoutID(fields))

	s.mu.Lock()
	id = s.resolveLocked(id)
	i := indexOf(s.snapshots[kind], id)
	if i < 0 {
		s.mu.Unlock()
		return schema.Record{}, fmt.Errorf("%w: %s#%s", ErrNotFound, kind, id)
	}
	rec := s.snapshots[kind][i].Merge(payload)
	s.snapshots[kind][i] = rec
	m := schema.NewMutation(schema.OpUpdate, kind, id, payload)
	s.persistSnapshotLocked(kind)
	s.enqueueLocked(m)
	s.mu.Unlock()

	s.dispatch(m)
	return rec.Clone(), nil
}

// Delete removes the record locally and queues its remote deletion.
func (s *Store) Delete(kind schema.Kind, id string) error {
	if err := kind.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	id = s.resolveLocked(id)
	records := s.snapshots[kind]
	i := indexOf(records, id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s#%s", ErrNotFound, kind, id)
	}
	s.snapshots[kind] = append(records[:i:i], records[i+1:]...)
	m := schema.NewMutation(schema.OpDelete, kind, id, nil)
	s.persistSnapshotLocked(kind)
	s.enqueueLocked(m)
	s.mu.Unlock()

	s.dispatch(m)
	return nil
}

// Get returns one record. A temporary identity that has since been
// confirmed still finds the record through the alias table.
func (s *Store) Get(kind schema.Kind, id string) (schema.Record, error) {
	if err := kind.Validate(); err != nil {
		return schema.Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id = s.resolveLocked(id)
	i := indexOf(s.snapshots[kind], id)
	if i < 0 {
		return schema.Record{}, fmt.Errorf("%w: %s#%s", ErrNotFound, kind, id)
	}
	return s.snapshots[kind][i].Clone(), nil
}

// List returns the local snapshot of a kind in order.
func (s *Store) List(kind schema.Kind) ([]schema.Record, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.snapshots[kind]), nil
}

// Reconcile swaps the temporary identity tempID for the server's record.
//
// The record keeps its slot in the snapshot. If later local edits to it are
// still queued, those fields are kept on top of the server version. Every
// string field in any kind that equals tempID is repointed to the server ID,
// and the alias is recorded so queued mutations resolve to the new identity.
func (s *Store) Reconcile(kind schema.Kind, tempID string, server schema.Record) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	if err := server.Validate(); err != nil {
		return fmt.Errorf("invalid server record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.aliases[tempID] = server.ID
	s.persistAliasesLocked()

	if i := indexOf(s.snapshots[kind], tempID); i >= 0 {
		rec := server.Clone()
		if s.hasQueuedEdits(kind, tempID) {
			rec = rec.Merge(s.snapshots[kind][i].Fields)
		}
		s.snapshots[kind][i] = rec
		s.persistSnapshotLocked(kind)
	}

	for _, k := range schema.Kinds() {
		changed := false
		for i := range s.snapshots[k] {
			if s.snapshots[k][i].Repoint(tempID, server.ID) {
				changed = true
			}
		}
		if changed {
			s.persistSnapshotLocked(k)
		}
	}

	return nil
}

// hasQueuedEdits reports whether updates to id are still queued. The create
// being reconciled may itself still be queued and does not count.
func (s *Store) hasQueuedEdits(kind schema.Kind, id string) bool {
	for _, m := range s.queue.Drain() {
		if m.Kind == kind && m.TargetID == id && m.Op != schema.OpCreate {
			return true
		}
	}
	return false
}

// Resolve maps a confirmed temporary identity to its server ID. Any other ID
// is returned unchanged.
func (s *Store) Resolve(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(id)
}

func (s *Store) resolveLocked(id string) string {
	if server, ok := s.aliases[id]; ok {
		return server
	}
	return id
}

// ResolveFields returns a copy of fields with every confirmed temporary
// identity replaced by its server ID.
func (s *Store) ResolveFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if str, ok := v.(string); ok {
			v = s.resolveLocked(str)
		}
		out[k] = v
	}
	return out
}

// Aliases returns a copy of the alias table.
func (s *Store) Aliases() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.aliases))
	for k, v := range s.aliases {
		out[k] = v
	}
	return out
}

// PruneAliases drops aliases minted more than maxAge ago that no pending
// mutation refers to, either as target or inside its payload. It returns how
// many were dropped.
func (s *Store) PruneAliases(maxAge time.Duration) int {
	referenced := make(map[string]bool)
	for _, m := range s.queue.Drain() {
		referenced[m.TargetID] = true
		for _, ref := range schema.TempReferences(m.Payload) {
			referenced[ref] = true
		}
	}
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for tempID := range s.aliases {
		if referenced[tempID] {
			continue
		}
		if minted, ok := schema.TempIDTime(tempID); ok && minted.After(cutoff) {
			continue
		}
		delete(s.aliases, tempID)
		dropped++
	}
	if dropped > 0 {
		s.persistAliasesLocked()
	}
	return dropped
}

// ReplaceSnapshot overwrites the local snapshot of kind with the
// authoritative records. It refuses with ErrPendingMutations while the queue
// holds unsynced writes for kind, so a local write is never clobbered.
func (s *Store) ReplaceSnapshot(kind schema.Kind, records []schema.Record) error {
	if err := kind.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.HasKind(kind) {
		return fmt.Errorf("%w: %s", ErrPendingMutations, kind)
	}
	s.snapshots[kind] = cloneAll(records)
	s.persistSnapshotLocked(kind)
	return nil
}

// enqueueLocked records m. A persistence failure is logged; the mutation is
// still held in memory and rewritten by the next successful queue write.
func (s *Store) enqueueLocked(m schema.Mutation) {
	if err := s.queue.Enqueue(m); err != nil {
		s.logger.Printf("Warning: %s: %v", m, err)
	}
}

func (s *Store) persistSnapshotLocked(kind schema.Kind) {
	records := s.snapshots[kind]
	if records == nil {
		records = []schema.Record{}
	}
	s.persistLocked(kv.SnapshotKey(kind.String()), records)
}

func (s *Store) persistAliasesLocked() {
	s.persistLocked(kv.KeyAliases, s.aliases)
}

func (s *Store) persistLocked(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Printf("Warning: failed to encode %s: %v", key, err)
		return
	}
	if err := s.kv.Set(key, data); err != nil {
		s.logger.Printf("Warning: failed to persist %s: %v", key, err)
	}
}

func indexOf(records []schema.Record, id string) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(records []schema.Record) []schema.Record {
	out := make([]schema.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

func withoutID(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}
