package connectivity

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// recorder collects transitions from a subscription.
type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) record(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, t)
}

func (r *recorder) snapshot() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transition, len(r.got))
	copy(out, r.got)
	return out
}

func equalTransitions(a, b []Transition) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSwitchDeduplicates(t *testing.T) {
	s := NewSwitch(false)
	defer s.Close()

	var rec recorder
	s.Subscribe(rec.record)

	steps := []struct {
		set  bool
		emit bool
	}{
		{false, false},
		{true, true},
		{true, false},
		{true, false},
		{false, true},
		{true, true},
	}
	for i, st := range steps {
		if got := s.Set(st.set); got != st.emit {
			t.Errorf("step %d: Set(%v) = %v, want %v", i, st.set, got, st.emit)
		}
		if s.Online() != st.set {
			t.Errorf("step %d: Online() = %v, want %v", i, s.Online(), st.set)
		}
	}

	want := []Transition{WentOnline, WentOffline, WentOnline}
	if got := rec.snapshot(); !equalTransitions(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestSwitchUnsubscribe(t *testing.T) {
	s := NewSwitch(false)
	defer s.Close()

	var a, b recorder
	unsubA := s.Subscribe(a.record)
	s.Subscribe(b.record)

	s.Set(true)
	unsubA()
	unsubA() // idempotent
	s.Set(false)

	if got := a.snapshot(); !equalTransitions(got, []Transition{WentOnline}) {
		t.Errorf("unsubscribed recorder got %v", got)
	}
	if got := b.snapshot(); !equalTransitions(got, []Transition{WentOnline, WentOffline}) {
		t.Errorf("subscribed recorder got %v", got)
	}
}

func TestSwitchClosed(t *testing.T) {
	s := NewSwitch(true)
	var rec recorder
	s.Subscribe(rec.record)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if s.Set(false) {
		t.Error("Set() after Close emitted a transition")
	}
	if len(rec.snapshot()) != 0 {
		t.Errorf("subscriber called after Close: %v", rec.snapshot())
	}
}

func TestTransitionString(t *testing.T) {
	tests := []struct {
		t    Transition
		want string
	}{
		{WentOnline, "online"},
		{WentOffline, "offline"},
		{Transition(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("Transition(%d).String() = %q, want %q", tt.t, got, tt.want)
		}
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestFileMonitor(t *testing.T) {
	dir := t.TempDir()
	flag := filepath.Join(dir, "online")

	fm, err := NewFileMonitor(flag, nil)
	if err != nil {
		t.Fatalf("NewFileMonitor() failed: %v", err)
	}
	defer fm.Close()

	if fm.Online() {
		t.Fatal("Online() = true with no flag file")
	}

	var rec recorder
	fm.Subscribe(rec.record)

	if err := os.WriteFile(flag, []byte("1"), 0644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 2*time.Second, fm.Online) {
		t.Fatal("monitor did not observe flag file creation")
	}

	// Rewriting the file is not a transition.
	if err := os.WriteFile(flag, []byte("2"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(flag); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return !fm.Online() }) {
		t.Fatal("monitor did not observe flag file removal")
	}

	want := []Transition{WentOnline, WentOffline}
	if got := rec.snapshot(); !equalTransitions(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestFileMonitorInitialState(t *testing.T) {
	flag := filepath.Join(t.TempDir(), "online")
	if err := os.WriteFile(flag, nil, 0644); err != nil {
		t.Fatal(err)
	}

	fm, err := NewFileMonitor(flag, nil)
	if err != nil {
		t.Fatalf("NewFileMonitor() failed: %v", err)
	}
	if !fm.Online() {
		t.Error("Online() = false with flag file present")
	}
	if err := fm.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := fm.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestFileMonitorRequiresPath(t *testing.T) {
	if _, err := NewFileMonitor("", nil); err == nil {
		t.Error("NewFileMonitor(\"\") returned nil error")
	}
}
