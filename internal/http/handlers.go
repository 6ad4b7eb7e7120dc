package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/shuttle-presence/internal/auth"
	"github.com/example/shuttle-presence/internal/broadcast"
	"github.com/example/shuttle-presence/internal/observability"
	"github.com/example/shuttle-presence/internal/protocol"
)

type Server struct {
	verifier auth.Verifier
	handler  *protocol.Handler
	engine   *broadcast.Engine
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(verifier auth.Verifier, handler *protocol.Handler, engine *broadcast.Engine, logger *slog.Logger) *Server {
	s := &Server{
		verifier: verifier,
		handler:  handler,
		engine:   engine,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS).Methods("GET")
	s.mux.HandleFunc("/api/v1/snapshot", s.handleSnapshot).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS authenticates the token before upgrading; an unverifiable token
// is fatal to the connection attempt.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ident, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.handler.HandleConn(r.Context(), conn, ident)
}

// handleSnapshot serves the current aggregated view over plain HTTP for the
// dashboard subsystem, which has no live connection.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.BuildSnapshot(r.Context())
	if err != nil {
		observability.EventErrors.WithLabelValues("store").Inc()
		http.Error(w, "snapshot unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// bearerToken pulls the token from the Authorization header or, for browser
// WebSocket clients that cannot set headers, from a query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return r.URL.Query().Get("token")
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
