package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/motogarage/garage/internal/offline/engine"
)

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleStatus returns the current sync status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sources.Status.Status())
}

// handleSync runs a full sync and returns its report. A cycle already in
// progress answers 409, offline answers 503.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.sources.Control == nil {
		http.NotFound(w, r)
		return
	}

	report, err := s.sources.Control.SyncNow(r.Context())
	switch {
	case errors.Is(err, engine.ErrCycleInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, engine.ErrOffline):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		s.Broadcast(newMessage(MessageTypeSyncComplete, report))
		writeJSON(w, http.StatusOK, report)
	}
}

// handleForeground records that the app became visible
func (s *Server) handleForeground(w http.ResponseWriter, r *http.Request) {
	if s.sources.Control == nil {
		http.NotFound(w, r)
		return
	}
	s.sources.Control.Foreground()
	w.WriteHeader(http.StatusAccepted)
}

// handleConnectivity accepts ?online=true|false from platform bridges
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if s.sources.Connectivity == nil {
		http.NotFound(w, r)
		return
	}

	online, err := strconv.ParseBool(r.URL.Query().Get("online"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("online must be true or false"))
		return
	}
	changed := s.sources.Connectivity.Set(online)
	writeJSON(w, http.StatusOK, map[string]bool{
		"online":  online,
		"changed": changed,
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Garage Sync</title>
</head>
<body>
    <h1>Garage Sync Status</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Status: <a href="/status">/status</a></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
