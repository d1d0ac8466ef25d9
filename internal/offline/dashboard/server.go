// Package dashboard exposes the sync status to the UI over HTTP and WebSocket.
//
// Connected WebSocket clients receive the current status on connect and a
// new status message after every change (pending count, connectivity, cycle
// start and end). Plain HTTP endpoints serve the status on demand and accept
// the foreground, sync-now and connectivity signals from the host app.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/motogarage/garage/internal/offline/schema"
)

// MessageType names the payload carried by a Message.
type MessageType string

const (
	// MessageTypeStatus carries a schema.Status
	MessageTypeStatus MessageType = "status"

	// MessageTypeSyncComplete carries the schema.Report of a finished sync
	MessageTypeSyncComplete MessageType = "sync_complete"
)

// Message is one WebSocket frame sent to status clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusSource provides the sync status. *engine.Engine implements it.
type StatusSource interface {
	Status() schema.Status
	OnStatus(fn func(schema.Status)) (unsubscribe func())
}

// Controller accepts sync triggers. *daemon.Daemon implements it.
type Controller interface {
	SyncNow(ctx context.Context) (schema.Report, error)
	Foreground()
}

// ConnectivitySetter receives reachability pushed by the host platform.
// *connectivity.Switch implements it.
type ConnectivitySetter interface {
	Set(online bool) bool
}

// Sources are what the server reports on and controls. Only Status is
// required; endpoints whose source is nil answer 404.
type Sources struct {
	Status       StatusSource
	Control      Controller
	Connectivity ConnectivitySetter
}

// Server serves the status endpoints and pushes status changes to every
// connected WebSocket client.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	sources  Sources

	subMu       sync.RWMutex
	subscribers map[*websocket.Conn]struct{}

	// outbox feeds pushLoop; Broadcast never blocks on slow clients.
	outbox      chan Message
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string

	// Port to listen on (default: 7420, 0 picks a free port)
	Port int

	// Logger for connection and push activity (default: log.Default())
	Logger *log.Logger
}

// DefaultConfig returns a loopback server on port 7420.
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   7420,
		Logger: log.Default(),
	}
}

// outboxSize bounds the messages waiting for pushLoop.
const outboxSize = 64

// writeTimeout bounds one WebSocket write.
const writeTimeout = 5 * time.Second

// NewServer creates a new dashboard server for the given sources.
func NewServer(sources Sources, config *Config) (*Server, error) {
	if sources.Status == nil {
		return nil, fmt.Errorf("status source cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        net.JoinHostPort(host, strconv.Itoa(config.Port)),
		sources:     sources,
		subscribers: make(map[*websocket.Conn]struct{}),
		outbox:      make(chan Message, outboxSize),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}, nil
}

// Handler returns the HTTP routes. Start serves them; tests may mount them
// on an httptest.Server instead.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /sync", s.handleSync)
	mux.HandleFunc("POST /foreground", s.handleForeground)
	mux.HandleFunc("POST /connectivity", s.handleConnectivity)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return mux
}

// Start listens on the configured address and begins pushing status
// changes. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	s.startBroadcast()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Serving sync status on http://%s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Warning: status server: %v", err)
		}
	}()
	return nil
}

// startBroadcast subscribes to status changes and starts pushLoop.
func (s *Server) startBroadcast() {
	s.unsubscribe = s.sources.Status.OnStatus(func(st schema.Status) {
		s.Broadcast(newMessage(MessageTypeStatus, st))
	})

	s.wg.Add(1)
	go s.pushLoop()
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()

	s.subMu.Lock()
	for conn := range s.subscribers {
		_ = conn.Close(websocket.StatusGoingAway, "garage daemon stopping")
	}
	clear(s.subscribers)
	s.subMu.Unlock()

	var shutdownErr error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		shutdownErr = s.server.Shutdown(ctx)
		cancel()
	}
	s.wg.Wait()

	if shutdownErr != nil {
		return fmt.Errorf("failed to shut down status server: %w", shutdownErr)
	}
	s.logger.Println("Status server stopped")
	return nil
}

// Broadcast queues msg for every connected client. When the outbox is full
// the message is dropped; the next status change supersedes it anyway.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.outbox <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("Warning: outbox full, dropping %s message", msg.Type)
	}
}

func (s *Server) pushLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.outbox:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Warning: cannot encode %s message: %v", msg.Type, err)
				continue
			}
			for _, conn := range s.snapshot() {
				s.send(s.ctx, conn, data)
			}
		}
	}
}

// snapshot copies the subscriber set so writes happen without the lock.
func (s *Server) snapshot() []*websocket.Conn {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(s.subscribers))
	for conn := range s.subscribers {
		conns = append(conns, conn)
	}
	return conns
}

// send writes one frame and drops the client if the write fails.
func (s *Server) send(ctx context.Context, conn *websocket.Conn, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Printf("Dropping client after failed write: %v", err)
		s.removeClient(conn)
	}
}

// handleWebSocket registers a client and greets it with the current status.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("Warning: rejected WebSocket handshake: %v", err)
		return
	}

	s.subMu.Lock()
	s.subscribers[conn] = struct{}{}
	n := len(s.subscribers)
	s.subMu.Unlock()
	s.logger.Printf("Status client joined (%d connected)", n)

	hello, err := encodeMessage(MessageTypeStatus, s.sources.Status.Status())
	if err != nil {
		s.logger.Printf("Warning: cannot encode status greeting: %v", err)
	} else {
		s.send(r.Context(), conn, hello)
	}

	go s.readLoop(conn)
}

// readLoop discards client frames until the connection ends.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient forgets conn and closes it. Calling it twice is harmless.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.subMu.Lock()
	_, ok := s.subscribers[conn]
	delete(s.subscribers, conn)
	n := len(s.subscribers)
	s.subMu.Unlock()

	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Status client left (%d connected)", n)
}

// GetAddr returns the bound address, or the configured one before Start.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscribers)
}

func newMessage(typ MessageType, data any) Message {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	return Message{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}
}

// encodeMessage is newMessage plus serialisation, failing when data itself
// cannot be encoded.
func encodeMessage(typ MessageType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: typ, Timestamp: time.Now().UTC(), Data: raw})
}
