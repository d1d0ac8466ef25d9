// Package remotetest provides an in-memory remote.Gateway for tests.
//
// The fake keeps one ordered collection per kind, assigns server IDs on
// create, records every call, and can be told to fail specific operations
// or to behave as if the network were down.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/motogarage/garage/internal/offline/remote"
	"github.com/motogarage/garage/internal/offline/schema"
)

// ErrUnreachable is returned by every call while the fake is down.
var ErrUnreachable = errors.New("remotetest: backend unreachable")

// ErrNotFound is returned by Update for unknown IDs.
var ErrNotFound = errors.New("remotetest: record not found")

// Op names used in Call and FailOn. Create, update and delete reuse the
// mutation op names.
const (
	OpGetAll = "get_all"
	OpCreate = string(schema.OpCreate)
	OpUpdate = string(schema.OpUpdate)
	OpDelete = string(schema.OpDelete)
)

// Call is one recorded gateway invocation.
type Call struct {
	Op     string
	Kind   schema.Kind
	ID     string
	Fields map[string]any
}

func (c Call) String() string {
	if c.ID == "" {
		return fmt.Sprintf("%s %s", c.Op, c.Kind)
	}
	return fmt.Sprintf("%s %s#%s", c.Op, c.Kind, c.ID)
}

type failKey struct {
	op   string
	kind schema.Kind
	id   string
}

// Gateway is the in-memory fake. The zero value is not usable; call New.
type Gateway struct {
	mu       sync.Mutex
	data     map[schema.Kind][]schema.Record
	calls    []Call
	failures map[failKey]error
	down     bool
	seq      int
	nextID   func(kind schema.Kind, seq int) string
	hook     func(Call)
}

// Ensure Gateway implements remote.Gateway at compile time.
var _ remote.Gateway = (*Gateway)(nil)

// New returns an empty fake that names created records "<kind>-<n>".
func New() *Gateway {
	return &Gateway{
		data:     make(map[schema.Kind][]schema.Record),
		failures: make(map[failKey]error),
		nextID: func(kind schema.Kind, seq int) string {
			return fmt.Sprintf("%s-%d", kind, seq)
		},
	}
}

// Collection implements remote.Gateway.
func (g *Gateway) Collection(kind schema.Kind) remote.Collection {
	return &collection{g: g, kind: kind}
}

// Seed replaces the contents of a collection.
func (g *Gateway) Seed(kind schema.Kind, records ...schema.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]schema.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	g.data[kind] = out
}

// Records returns a copy of a collection.
func (g *Gateway) Records(kind schema.Kind) []schema.Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneAll(g.data[kind])
}

// Find returns the record with the given server ID.
func (g *Gateway) Find(kind schema.Kind, id string) (schema.Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i := indexOf(g.data[kind], id); i >= 0 {
		return g.data[kind][i].Clone(), true
	}
	return schema.Record{}, false
}

// Calls returns every recorded call in order, including failed ones.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallsFor returns the recorded calls with the given op.
func (g *Gateway) CallsFor(op string) []Call {
	var out []Call
	for _, c := range g.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (g *Gateway) ResetCalls() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
}

// SetDown makes every call fail with ErrUnreachable while down is true.
func (g *Gateway) SetDown(down bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.down = down
}

// FailOn makes op on kind fail with err until cleared. An empty id matches
// every record of the kind. A nil err clears the rule.
func (g *Gateway) FailOn(op string, kind schema.Kind, id string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := failKey{op: op, kind: kind, id: id}
	if err == nil {
		delete(g.failures, key)
		return
	}
	g.failures[key] = err
}

// ClearFailures removes every FailOn rule.
func (g *Gateway) ClearFailures() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = make(map[failKey]error)
}

// SetIDFunc overrides how server IDs are minted. seq starts at 1.
func (g *Gateway) SetIDFunc(fn func(kind schema.Kind, seq int) string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID = fn
}

// SetHook installs fn to run at the start of every call, outside the lock.
// Tests use it to block a call in flight.
func (g *Gateway) SetHook(fn func(Call)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hook = fn
}

// begin records the call, runs the hook and returns the injected failure.
func (g *Gateway) begin(ctx context.Context, c Call) error {
	g.mu.Lock()
	g.calls = append(g.calls, c)
	hook := g.hook
	g.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down {
		return ErrUnreachable
	}
	if err, ok := g.failures[failKey{op: c.Op, kind: c.Kind, id: c.ID}]; ok {
		return err
	}
	if err, ok := g.failures[failKey{op: c.Op, kind: c.Kind}]; ok {
		return err
	}
	return nil
}

type collection struct {
	g    *Gateway
	kind schema.Kind
}

func (c *collection) GetAll(ctx context.Context) ([]schema.Record, error) {
	if err := c.g.begin(ctx, Call{Op: OpGetAll, Kind: c.kind}); err != nil {
		return nil, err
	}
	return c.g.Records(c.kind), nil
}

func (c *collection) Create(ctx context.Context, fields map[string]any) (schema.Record, error) {
	if err := c.g.begin(ctx, Call{Op: OpCreate, Kind: c.kind, Fields: copyMap(fields)}); err != nil {
		return schema.Record{}, err
	}

	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	c.g.seq++
	rec := schema.NewRecord(c.g.nextID(c.kind, c.g.seq), fields)
	c.g.data[c.kind] = append(c.g.data[c.kind], rec)
	return rec.Clone(), nil
}

func (c *collection) Update(ctx context.Context, id string, fields map[string]any) (schema.Record, error) {
	if err := c.g.begin(ctx, Call{Op: OpUpdate, Kind: c.kind, ID: id, Fields: copyMap(fields)}); err != nil {
		return schema.Record{}, err
	}

	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	records := c.g.data[c.kind]
	i := indexOf(records, id)
	if i < 0 {
		return schema.Record{}, fmt.Errorf("%w: %s#%s", ErrNotFound, c.kind, id)
	}
	records[i] = records[i].Merge(fields)
	return records[i].Clone(), nil
}

func (c *collection) Delete(ctx context.Context, id string) error {
	if err := c.g.begin(ctx, Call{Op: OpDelete, Kind: c.kind, ID: id}); err != nil {
		return err
	}

	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	records := c.g.data[c.kind]
	if i := indexOf(records, id); i >= 0 {
		c.g.data[c.kind] = append(records[:i:i], records[i+1:]...)
	}
	return nil
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

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
