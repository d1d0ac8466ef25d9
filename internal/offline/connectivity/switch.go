package connectivity

// Switch is an in-process Monitor whose state is pushed by the caller.
// Platform bridges (and the dashboard's /connectivity endpoint) call Set
// whenever the host reports a reachability change.
type Switch struct {
	*broadcaster
}

// Ensure Switch implements Monitor at compile time.
var _ Monitor = (*Switch)(nil)

// NewSwitch returns a Switch in the given initial state.
func NewSwitch(online bool) *Switch {
	return &Switch{broadcaster: newBroadcaster(online)}
}

// Set updates the state. Subscribers are notified only if the state changed;
// the return value reports whether they were.
func (s *Switch) Set(online bool) bool {
	return s.set(online)
}

// Close implements Monitor.
func (s *Switch) Close() error {
	s.close()
	return nil
}
