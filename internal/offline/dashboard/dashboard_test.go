package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/motogarage/garage/internal/offline/connectivity"
	"github.com/motogarage/garage/internal/offline/engine"
	"github.com/motogarage/garage/internal/offline/schema"
)

type fakeSource struct {
	mu   sync.Mutex
	st   schema.Status
	subs map[int]func(schema.Status)
	next int
}

func newFakeSource(st schema.Status) *fakeSource {
	return &fakeSource{st: st, subs: make(map[int]func(schema.Status))}
}

func (f *fakeSource) Status() schema.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeSource) OnStatus(fn func(schema.Status)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeSource) publish(st schema.Status) {
	f.mu.Lock()
	f.st = st
	var fns []func(schema.Status)
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

type fakeController struct {
	mu          sync.Mutex
	report      schema.Report
	err         error
	foregrounds int
}

func (c *fakeController) SyncNow(ctx context.Context) (schema.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report, c.err
}

func (c *fakeController) Foreground() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.foregrounds++
}

func testConfig() *Config {
	return &Config{
		Port:   0, // Use random available port
		Logger: log.New(io.Discard, "", 0),
	}
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestNewServerRequiresStatus(t *testing.T) {
	if _, err := NewServer(Sources{}, testConfig()); err == nil {
		t.Error("NewServer() without status source returned nil error")
	}
}

func TestServerStartStop(t *testing.T) {
	server, err := NewServer(Sources{Status: newFakeSource(schema.Status{})}, testConfig())
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || addr == "127.0.0.1:0" {
		t.Fatalf("GetAddr() = %q, want bound address", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketStatusStream(t *testing.T) {
	source := newFakeSource(schema.Status{Online: false, PendingCount: 2})
	server, err := NewServer(Sources{Status: source}, testConfig())
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readMessage(t, ctx, conn)
	if hello.Type != MessageTypeStatus {
		t.Fatalf("hello type = %q, want %q", hello.Type, MessageTypeStatus)
	}
	var st schema.Status
	if err := json.Unmarshal(hello.Data, &st); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if st.PendingCount != 2 || st.Online {
		t.Errorf("hello status = %+v", st)
	}
	if server.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", server.ClientCount())
	}

	source.publish(schema.Status{Online: true, PendingCount: 0})

	update := readMessage(t, ctx, conn)
	if err := json.Unmarshal(update.Data, &st); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if !st.Online || st.PendingCount != 0 {
		t.Errorf("pushed status = %+v", st)
	}
}

// lockedBuffer is a log sink that is safe to read while the server writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestUnencodableGreetingIsSkipped(t *testing.T) {
	// Years past 9999 cannot be encoded as RFC 3339.
	source := newFakeSource(schema.Status{LastSyncedAt: time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)})
	logs := &lockedBuffer{}
	cfg := testConfig()
	cfg.Logger = log.New(logs, "", 0)

	server, err := NewServer(Sources{Status: source}, cfg)
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(logs.String(), "cannot encode status greeting") {
		if time.Now().After(deadline) {
			t.Fatalf("greeting failure not logged:\n%s", logs.String())
		}
		time.Sleep(5 * time.Millisecond)
	}

	server.Broadcast(newMessage(MessageTypeSyncComplete, schema.Report{Applied: 3}))

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("first frame type = %q, want %q (no greeting)", msg.Type, MessageTypeSyncComplete)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	source := newFakeSource(schema.Status{Online: true, PendingCount: 3})
	control := &fakeController{report: schema.Report{Applied: 3}}
	sw := connectivity.NewSwitch(true)

	server, err := NewServer(Sources{Status: source, Control: control, Connectivity: sw}, testConfig())
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"status", http.MethodGet, "/status", http.StatusOK},
		{"root", http.MethodGet, "/", http.StatusOK},
		{"sync", http.MethodPost, "/sync", http.StatusOK},
		{"sync wrong method", http.MethodGet, "/sync", http.StatusMethodNotAllowed},
		{"foreground", http.MethodPost, "/foreground", http.StatusAccepted},
		{"go offline", http.MethodPost, "/connectivity?online=false", http.StatusOK},
		{"bad connectivity", http.MethodPost, "/connectivity?online=maybe", http.StatusBadRequest},
		{"unknown", http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
			}
		})
	}

	if sw.Online() {
		t.Error("POST /connectivity?online=false did not reach the switch")
	}
	control.mu.Lock()
	defer control.mu.Unlock()
	if control.foregrounds != 1 {
		t.Errorf("foreground calls = %d, want 1", control.foregrounds)
	}
}

func TestSyncEndpointErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"in progress", engine.ErrCycleInProgress, http.StatusConflict},
		{"offline", engine.ErrOffline, http.StatusServiceUnavailable},
		{"other", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewServer(Sources{
				Status:  newFakeSource(schema.Status{}),
				Control: &fakeController{err: tt.err},
			}, testConfig())
			if err != nil {
				t.Fatalf("NewServer() failed: %v", err)
			}
			ts := httptest.NewServer(server.Handler())
			defer ts.Close()

			resp, err := http.Post(ts.URL+"/sync", "application/json", nil)
			if err != nil {
				t.Fatalf("POST /sync failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("POST /sync = %d, want %d", resp.StatusCode, tt.want)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["error"] == "" {
				t.Errorf("error body = %v, %v", body, err)
			}
		})
	}
}

func TestOptionalSourcesAnswer404(t *testing.T) {
	server, err := NewServer(Sources{Status: newFakeSource(schema.Status{})}, testConfig())
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	for _, path := range []string{"/sync", "/foreground", "/connectivity?online=true"} {
		resp, err := http.Post(ts.URL+path, "", nil)
		if err != nil {
			t.Fatalf("POST %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("POST %s = %d, want 404", path, resp.StatusCode)
		}
	}
}
