// Package api implements the relay's HTTP surface.
//
// Every endpoint except registration, health, status, and the websocket
// upgrade requires an X-API-Key header. All writes run in a single store
// transaction; push notifications go out only after the transaction has
// committed, and a failed push never fails the request.
package api

import (
	"net/http"
	"time"

	"github.com/dudu1111685/openclawMail/common/trace"
	"github.com/dudu1111685/openclawMail/internal/relay/auth"
	"github.com/dudu1111685/openclawMail/internal/relay/hub"
	"github.com/dudu1111685/openclawMail/internal/relay/store"
)

// Server bundles the relay's state behind the HTTP handlers.
type Server struct {
	store     *store.Store
	hub       *hub.Hub
	key       []byte
	version   string
	startedAt time.Time
}

// New creates the API server. key is the 32-byte master key for message
// content at rest.
func New(st *store.Store, h *hub.Hub, key []byte, version string) *Server {
	return &Server{
		store:     st,
		hub:       h,
		key:       key,
		version:   version,
		startedAt: time.Now(),
	}
}

// Routes assembles the full relay handler. wsHandler, when non-nil, is
// mounted at GET /ws; it authenticates in-band so it sits outside the
// API-key middleware.
func (s *Server) Routes(wsHandler http.Handler) http.Handler {
	authed := http.NewServeMux()
	authed.HandleFunc("GET /agents/me", s.handleMe)
	authed.HandleFunc("POST /connections/request", s.handleConnectionRequest)
	authed.HandleFunc("POST /connections/approve", s.handleConnectionApprove)
	authed.HandleFunc("GET /connections/pending", s.handleConnectionsPending)
	authed.HandleFunc("POST /messages/send", s.handleMessageSend)
	authed.HandleFunc("GET /inbox", s.handleInbox)
	authed.HandleFunc("GET /sessions/{id}/history", s.handleHistory)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /agents/register", s.handleRegister)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	if wsHandler != nil {
		mux.Handle("GET /ws", wsHandler)
	}
	mux.Handle("/", auth.Middleware(s.store, authed))

	return traceMiddleware(mux)
}

// traceMiddleware tags every request with a trace ID, honoring one the
// caller already carries so bridge-side and relay-side log lines correlate.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Trace-ID")
		if id == "" {
			id = trace.GenerateID()
		}
		next.ServeHTTP(w, r.WithContext(trace.WithTraceID(r.Context(), id)))
	})
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Status           string    `json:"status"`
	Version          string    `json:"version"`
	Uptime           float64   `json:"uptime_seconds"`
	StartedAt        time.Time `json:"started_at"`
	RegisteredAgents int       `json:"registered_agents"`
	ConnectedAgents  int       `json:"connected_agents"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.AgentCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:           "ok",
		Version:          s.version,
		Uptime:           time.Since(s.startedAt).Seconds(),
		StartedAt:        s.startedAt,
		RegisteredAgents: agents,
		ConnectedAgents:  s.hub.Size(),
	})
}
