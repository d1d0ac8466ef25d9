package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/motogarage/garage/internal/offline/connectivity"
	"github.com/motogarage/garage/internal/offline/kv"
	"github.com/motogarage/garage/internal/offline/queue"
	"github.com/motogarage/garage/internal/offline/remote"
	"github.com/motogarage/garage/internal/offline/schema"
	"github.com/motogarage/garage/internal/offline/store"
)

var (
	// ErrCycleInProgress is returned when a trigger arrives while another
	// cycle is draining. The trigger is ignored.
	ErrCycleInProgress = errors.New("sync cycle already in progress")

	// ErrOffline is returned when a cycle is skipped because the monitor
	// reports no connectivity.
	ErrOffline = errors.New("offline")

	// ErrPendingMutations is returned by SyncDown when the kind still has
	// queued mutations and its snapshot must not be replaced.
	ErrPendingMutations = store.ErrPendingMutations
)

// aliasRetention keeps temp→server aliases resolvable for UI references
// that still hold a temporary identity.
const aliasRetention = 24 * time.Hour

// Config holds engine configuration.
type Config struct {
	// Logger for cycle statistics and warnings.
	Logger *log.Logger

	// State persists last-sync timestamps across restarts. Optional.
	State kv.Store
}

// DefaultConfig returns a Config with stderr logging and no state store.
func DefaultConfig() Config {
	return Config{
		Logger: log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine coordinates the queue, the optimistic store and the gateway.
type Engine struct {
	queue   *queue.Queue
	store   *store.Store
	gateway remote.Gateway
	monitor connectivity.Monitor
	state   kv.Store
	logger  *log.Logger

	// cycle serialises every remote application.
	cycle sync.Mutex

	mu           sync.Mutex
	syncing      bool
	lastSyncedAt time.Time
	lastPerKind  map[schema.Kind]time.Time
	subs         map[int]func(schema.Status)
	nextSub      int

	dispatches  sync.WaitGroup
	unsubscribe func()
}

// Ensure Engine implements store.Dispatcher at compile time.
var _ store.Dispatcher = (*Engine)(nil)

// New builds an engine and installs it as st's dispatcher, so writes made
// while online are attempted immediately.
func New(q *queue.Queue, st *store.Store, gw remote.Gateway, mon connectivity.Monitor, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = DefaultConfig().Logger
	}
	e := &Engine{
		queue:       q,
		store:       st,
		gateway:     gw,
		monitor:     mon,
		state:       cfg.State,
		logger:      cfg.Logger,
		lastPerKind: make(map[schema.Kind]time.Time),
		subs:        make(map[int]func(schema.Status)),
	}
	e.loadState()

	e.unsubscribe = mon.Subscribe(func(connectivity.Transition) {
		e.notify()
	})
	st.SetDispatcher(e)
	return e
}

// Close detaches the engine from the store and monitor and waits for
// in-flight dispatches.
func (e *Engine) Close() error {
	e.store.SetDispatcher(nil)
	e.unsubscribe()
	e.Wait()
	return nil
}

// Wait blocks until every immediate dispatch started so far has finished.
func (e *Engine) Wait() {
	e.dispatches.Wait()
}

// SyncUp drains the queue once. It returns ErrCycleInProgress if another
// cycle holds the engine and ErrOffline while offline.
func (e *Engine) SyncUp(ctx context.Context) (schema.Report, error) {
	if !e.cycle.TryLock() {
		return schema.Report{}, ErrCycleInProgress
	}
	defer e.cycle.Unlock()

	if !e.monitor.Online() {
		return schema.Report{}, ErrOffline
	}

	e.setSyncing(true)
	defer e.setSyncing(false)

	start := time.Now()
	report := e.syncUpLocked(ctx)
	report.Duration = time.Since(start)
	return report, nil
}

// SyncDown replaces the local snapshot of kind with the remote collection.
// It is skipped with ErrOffline while offline and deferred with
// ErrPendingMutations while kind has queued writes.
func (e *Engine) SyncDown(ctx context.Context, kind schema.Kind) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	if !e.cycle.TryLock() {
		return ErrCycleInProgress
	}
	defer e.cycle.Unlock()

	e.setSyncing(true)
	defer e.setSyncing(false)

	return e.syncDownLocked(ctx, kind)
}

// FullSync pulls every kind in parallel, then drains the queue. Kinds whose
// pull was deferred by pending writes are pulled again once the drain has
// emptied their queue.
func (e *Engine) FullSync(ctx context.Context) (schema.Report, error) {
	if !e.cycle.TryLock() {
		return schema.Report{}, ErrCycleInProgress
	}
	defer e.cycle.Unlock()

	if !e.monitor.Online() {
		return schema.Report{}, ErrOffline
	}

	e.setSyncing(true)
	defer e.setSyncing(false)

	start := time.Now()
	e.logger.Printf("Starting full sync: pending=%d", e.queue.Len())

	pulled, deferred := e.pullAll(ctx, schema.Kinds())

	report := e.syncUpLocked(ctx)

	var retry []schema.Kind
	for _, kind := range deferred {
		if !e.queue.HasKind(kind) {
			retry = append(retry, kind)
		}
	}
	if len(retry) > 0 {
		again, _ := e.pullAll(ctx, retry)
		pulled = append(pulled, again...)
		deferred = subtract(deferred, again)
	}

	report.Pulled = sortKinds(pulled)
	report.Deferred = sortKinds(deferred)
	report.Duration = time.Since(start)

	e.mu.Lock()
	e.lastSyncedAt = time.Now().UTC()
	e.mu.Unlock()
	e.saveState()

	e.logger.Printf("Full sync complete: applied=%d failed=%d skipped=%d pulled=%d deferred=%d (%s)",
		report.Applied, report.Failed, report.Skipped, len(report.Pulled), len(report.Deferred),
		report.Duration.Round(time.Millisecond))

	return report, nil
}

// pullAll runs syncDownLocked for kinds concurrently. A failure or panic in
// one kind never affects the others.
func (e *Engine) pullAll(ctx context.Context, kinds []schema.Kind) (pulled, deferred []schema.Kind) {
	var (
		mu sync.Mutex
		wg conc.WaitGroup
	)
	for _, kind := range kinds {
		wg.Go(func() {
			err := e.syncDownLocked(ctx, kind)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				pulled = append(pulled, kind)
			case errors.Is(err, ErrPendingMutations):
				deferred = append(deferred, kind)
			default:
				e.logger.Printf("Warning: failed to pull %s: %v", kind, err)
			}
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		e.logger.Printf("Warning: pull panicked: %v", r.Value)
	}
	return pulled, deferred
}

func (e *Engine) syncDownLocked(ctx context.Context, kind schema.Kind) error {
	if !e.monitor.Online() {
		return ErrOffline
	}
	// Skip the fetch entirely when the result would be discarded.
	if e.queue.HasKind(kind) {
		return fmt.Errorf("%w: %s", ErrPendingMutations, kind)
	}

	records, err := e.gateway.Collection(kind).GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch %s collection: %w", kind, err)
	}

	// ReplaceSnapshot re-checks the queue under the store lock; a write made
	// during the fetch wins.
	if err := e.store.ReplaceSnapshot(kind, records); err != nil {
		return err
	}

	e.mu.Lock()
	e.lastPerKind[kind] = time.Now().UTC()
	e.mu.Unlock()
	e.saveState()
	e.notify()
	return nil
}

// syncUpLocked applies every queued mutation in enqueue order. Failures are
// counted and left queued; the loop always continues.
func (e *Engine) syncUpLocked(ctx context.Context) schema.Report {
	var report schema.Report

	for _, m := range e.queue.Drain() {
		if ref, blocked := e.unconfirmedReference(m); blocked {
			e.logger.Printf("Skipping %s: waits for %s", m, ref)
			report.Skipped++
			continue
		}

		if err := e.apply(ctx, m); err != nil {
			report.Failed++
			if remote.Rejected(err) {
				e.logger.Printf("Warning: %s rejected by remote, keeping queued: %v", m, err)
			} else {
				e.logger.Printf("Warning: %s failed, keeping queued: %v", m, err)
			}
			continue
		}
		report.Applied++
	}

	if n := e.store.PruneAliases(aliasRetention); n > 0 {
		e.logger.Printf("Pruned %d confirmed temporary ids", n)
	}
	return report
}

// unconfirmedReference returns the first identity m depends on whose create
// is still queued. Strings that merely look like temporary identities but
// were never minted here are plain data. A create's own target does not count.
func (e *Engine) unconfirmedReference(m schema.Mutation) (string, bool) {
	if m.Op != schema.OpCreate && e.awaitsCreate(m.TargetID) {
		return m.TargetID, true
	}
	for _, ref := range schema.TempReferences(m.Payload) {
		if e.awaitsCreate(ref) {
			return ref, true
		}
	}
	return "", false
}

// awaitsCreate reports whether id is a local identity with no server ID yet
// and a create still waiting in the queue.
func (e *Engine) awaitsCreate(id string) bool {
	return schema.IsTempID(id) && e.store.Resolve(id) == id && e.queue.HasPendingCreate(id)
}

// apply performs one remote call and, on success, consumes the mutation.
// For creates the store is reconciled before the mutation is removed; a
// create replayed after a crash in between finds its alias and is consumed
// without a second remote call.
func (e *Engine) apply(ctx context.Context, m schema.Mutation) error {
	coll := e.gateway.Collection(m.Kind)
	target := e.store.Resolve(m.TargetID)
	payload := e.store.ResolveFields(m.Payload)

	switch m.Op {
	case schema.OpCreate:
		if target != m.TargetID {
			// The alias is only written after the remote create succeeded.
			e.logger.Printf("%s already confirmed as %s, dropping replay", m, target)
			break
		}
		rec, err := coll.Create(ctx, payload)
		if err != nil {
			return err
		}
		if err := e.store.Reconcile(m.Kind, m.TargetID, rec); err != nil {
			return fmt.Errorf("failed to reconcile %s: %w", m.TargetID, err)
		}
		e.logger.Printf("Confirmed %s#%s as %s", m.Kind, m.TargetID, rec.ID)

	case schema.OpUpdate:
		if _, err := coll.Update(ctx, target, payload); err != nil {
			return err
		}

	case schema.OpDelete:
		if err := coll.Delete(ctx, target); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown op %q", m.Op)
	}

	if err := e.queue.Remove(m.ID); err != nil {
		e.logger.Printf("Warning: %s applied but queue not persisted: %v", m, err)
	}
	e.notify()
	return nil
}

// Dispatch implements store.Dispatcher. While online it attempts m in the
// background; otherwise m simply waits in the queue for the next cycle.
func (e *Engine) Dispatch(m schema.Mutation) {
	e.notify()
	if !e.monitor.Online() {
		return
	}

	e.dispatches.Add(1)
	go func() {
		defer e.dispatches.Done()
		e.dispatch(m)
	}()
}

func (e *Engine) dispatch(m schema.Mutation) {
	e.cycle.Lock()
	defer e.cycle.Unlock()

	if !e.monitor.Online() {
		return
	}
	// A cycle may have applied m already, or an older mutation for the
	// same record may still be waiting; either way m is not ours to send.
	if oldest, ok := e.oldestFor(m); !ok || oldest.ID != m.ID {
		return
	}
	if _, blocked := e.unconfirmedReference(m); blocked {
		return
	}

	if err := e.apply(context.Background(), m); err != nil {
		e.logger.Printf("Immediate %s failed, queued for next sync: %v", m, err)
	}
}

// oldestFor returns the earliest queued mutation whose target resolves to
// the same record as m.
func (e *Engine) oldestFor(m schema.Mutation) (schema.Mutation, bool) {
	target := e.store.Resolve(m.TargetID)
	for _, p := range e.queue.Drain() {
		if p.Kind == m.Kind && e.store.Resolve(p.TargetID) == target {
			return p, true
		}
	}
	return schema.Mutation{}, false
}

// Status returns the current derived sync state.
func (e *Engine) Status() schema.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	perKind := make(map[schema.Kind]time.Time, len(e.lastPerKind))
	for k, v := range e.lastPerKind {
		perKind[k] = v
	}
	return schema.Status{
		Online:          e.monitor.Online(),
		PendingCount:    e.queue.Len(),
		PendingByKind:   e.queue.CountByKind(),
		Syncing:         e.syncing,
		LastSyncedAt:    e.lastSyncedAt,
		LastSyncPerKind: perKind,
	}
}

// OnStatus registers fn to receive the status after every change. fn runs
// synchronously, possibly from several goroutines at once, and must not
// block. The returned function unsubscribes.
func (e *Engine) OnStatus(fn func(schema.Status)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *Engine) notify() {
	st := e.Status()

	e.mu.Lock()
	fns := make([]func(schema.Status), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (e *Engine) setSyncing(v bool) {
	e.mu.Lock()
	e.syncing = v
	e.mu.Unlock()
	e.notify()
}

type syncState struct {
	LastSyncedAt time.Time                 `json:"last_synced_at"`
	PerKind      map[schema.Kind]time.Time `json:"per_kind"`
}

func (e *Engine) loadState() {
	if e.state == nil {
		return
	}
	data, ok, err := e.state.Get(kv.KeyLastSync)
	if err != nil || !ok {
		return
	}
	var st syncState
	if err := json.Unmarshal(data, &st); err != nil {
		e.logger.Printf("Warning: sync state is corrupt, ignoring: %v", err)
		return
	}
	e.lastSyncedAt = st.LastSyncedAt
	for k, v := range st.PerKind {
		e.lastPerKind[k] = v
	}
}

func (e *Engine) saveState() {
	if e.state == nil {
		return
	}
	e.mu.Lock()
	st := syncState{LastSyncedAt: e.lastSyncedAt, PerKind: make(map[schema.Kind]time.Time, len(e.lastPerKind))}
	for k, v := range e.lastPerKind {
		st.PerKind[k] = v
	}
	e.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := e.state.Set(kv.KeyLastSync, data); err != nil {
		e.logger.Printf("Warning: failed to persist sync state: %v", err)
	}
}

func subtract(from, remove []schema.Kind) []schema.Kind {
	drop := make(map[schema.Kind]bool, len(remove))
	for _, k := range remove {
		drop[k] = true
	}
	var out []schema.Kind
	for _, k := range from {
		if !drop[k] {
			out = append(out, k)
		}
	}
	return out
}

// sortKinds orders kinds as schema.Kinds does.
func sortKinds(kinds []schema.Kind) []schema.Kind {
	if len(kinds) == 0 {
		return nil
	}
	present := make(map[schema.Kind]bool, len(kinds))
	for _, k := range kinds {
		present[k] = true
	}
	out := make([]schema.Kind, 0, len(kinds))
	for _, k := range schema.Kinds() {
		if present[k] {
			out = append(out, k)
		}
	}
	return out
}
