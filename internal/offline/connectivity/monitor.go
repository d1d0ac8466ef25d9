// Package connectivity reports network reachability to the sync components.
//
// A Monitor does no probing of its own. It reflects a platform signal (an
// in-process switch, or a flag file maintained by the host's network hooks)
// and notifies subscribers only when the state actually changes, so each
// offline→online transition triggers exactly one full sync.
package connectivity

import "sync"

// Transition is a change of reachability.
type Transition int

const (
	// WentOffline is emitted when the network becomes unreachable.
	WentOffline Transition = iota
	// WentOnline is emitted when the network becomes reachable.
	WentOnline
)

// String returns a human-readable representation of the transition.
func (t Transition) String() string {
	switch t {
	case WentOnline:
		return "online"
	case WentOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Monitor exposes the current reachability and its transitions.
type Monitor interface {
	// Online reports the last observed state.
	Online() bool

	// Subscribe registers fn for future transitions. fn runs synchronously
	// on the goroutine that observed the change and must not block. The
	// returned function unsubscribes; calling it more than once is safe.
	Subscribe(fn func(Transition)) (unsubscribe func())

	// Close stops observing. Subscribers receive no further calls.
	Close() error
}

// broadcaster holds the state and subscriber set shared by every Monitor
// implementation in this package.
type broadcaster struct {
	mu     sync.Mutex
	online bool
	closed bool
	subs   map[int]func(Transition)
	nextID int
}

func newBroadcaster(online bool) *broadcaster {
	return &broadcaster{
		online: online,
		subs:   make(map[int]func(Transition)),
	}
}

func (b *broadcaster) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

func (b *broadcaster) Subscribe(fn func(Transition)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// set records the new state and notifies subscribers if it changed. It
// reports whether a transition was emitted.
func (b *broadcaster) set(online bool) bool {
	b.mu.Lock()
	if b.closed || b.online == online {
		b.mu.Unlock()
		return false
	}
	b.online = online
	fns := make([]func(Transition), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	t := WentOffline
	if online {
		t = WentOnline
	}
	for _, fn := range fns {
		fn(t)
	}
	return true
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]func(Transition))
}
