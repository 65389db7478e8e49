// Package api implements the REST and WebSocket surface described in
// spec §6: a single HTTP server sharing one port between /api/v1 and
// /ws, grounded on the teacher's internal/rpc server bootstrap and
// WSHub/WSClient pattern.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/baseswap/orchestrator/internal/auditlog"
	"github.com/baseswap/orchestrator/internal/chainclient"
	"github.com/baseswap/orchestrator/internal/eventbus"
	"github.com/baseswap/orchestrator/internal/quote"
	"github.com/baseswap/orchestrator/internal/secretmgr"
	"github.com/baseswap/orchestrator/internal/session"
	"github.com/baseswap/orchestrator/internal/sessionmgr"
	"github.com/baseswap/orchestrator/pkg/logging"
)

// Deps are the collaborators the API layer reads from and writes
// through; it never holds its own copy of session state.
type Deps struct {
	Store    *session.Store
	Sessions *sessionmgr.Manager
	Secrets  *secretmgr.Manager
	Quotes   *quote.Engine
	Bus      *eventbus.Bus
	Audit    *auditlog.Log
	Src      chainclient.ChainClient
	Dst      chainclient.ChainClient

	APIKeys                  map[string]bool
	MaxSubscribersPerSession int
}

// Server hosts both the REST API and the WebSocket hub.
type Server struct {
	deps     Deps
	wsHub    *wsHub
	server   *http.Server
	listener net.Listener
	log      *logging.Logger
}

// New builds a Server bound to addr (not yet listening).
func New(addr string, deps Deps) *Server {
	hub := newWSHub(deps)
	go hub.run()

	mux := http.NewServeMux()
	s := &Server{deps: deps, wsHub: hub, log: logging.GetDefault().Component("api")}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /api/v1/sessions", s.authenticated(s.handleCreateSession))
	mux.Handle("GET /api/v1/sessions/{id}", s.authenticated(s.handleGetSession))
	mux.Handle("POST /api/v1/sessions/{id}/execute", s.authenticated(s.handleExecute))
	mux.Handle("GET /api/v1/sessions/{id}/secret", s.authenticated(s.handleGetSecret))
	mux.Handle("POST /api/v1/sessions/{id}/check-timeout", s.authenticated(s.handleCheckTimeout))
	mux.Handle("POST /api/v1/quote", s.authenticated(s.handleQuote))
	mux.Handle("GET /api/v1/sessions/{id}/execution-steps", s.authenticated(s.handleExecutionSteps))
	mux.HandleFunc("GET /ws", hub.serveWS)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      withCORS(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// ListenAndServe starts accepting connections; blocks until Shutdown is
// called or an unrecoverable listener error occurs.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return s.server.Serve(ln)
}

// Shutdown closes every WebSocket connection at once, then stops
// accepting new connections and waits until ctx is done for in-flight
// HTTP requests to finish. It does not wait for session workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.closeAll()
	return s.server.Shutdown(ctx)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticated wraps a handler requiring a valid X-API-Key header
// (spec §6.1: every endpoint but /health).
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" || !s.deps.APIKeys[key] {
			writeErrorStatus(w, http.StatusUnauthorized, "missing or invalid X-API-Key")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	src := s.deps.Src != nil && s.deps.Src.Available()
	dst := s.deps.Dst != nil && s.deps.Dst.Available()

	status := "healthy"
	if !src || !dst {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"connections": map[string]bool{
			"src": src,
			"dst": dst,
		},
	})
}
