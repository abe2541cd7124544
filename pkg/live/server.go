package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/reactive"
	"github.com/loomui/loom/pkg/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RootFunc produces the declarative tree mounted for a new session. It
// receives the session's reactive store so handlers can close over it.
type RootFunc func(store reactive.Store) *decl.Node

// StoreFunc produces the reactive store backing a new session.
type StoreFunc func() reactive.Store

// Server accepts live sessions over WebSocket and serves the supporting
// HTTP surface: health, metrics, and persisted snapshots.
type Server struct {
	root      RootFunc
	newStore  StoreFunc
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *serverMetrics
	snapshots snapshot.Store
	upgrader  websocket.Upgrader
	router    chi.Router

	mu       sync.Mutex
	sessions map[string]*Session
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithSnapshots enables snapshot persistence: each session's final output is
// saved on close and served under /snapshot/{key}.
func WithSnapshots(store snapshot.Store) ServerOption {
	return func(s *Server) { s.snapshots = store }
}

// WithStoreFunc replaces the per-session reactive store factory.
// Default: a fresh in-memory store per session.
func WithStoreFunc(fn StoreFunc) ServerOption {
	return func(s *Server) { s.newStore = fn }
}

// WithRegistry sets the Prometheus registry backing /metrics.
func WithRegistry(reg *prometheus.Registry) ServerOption {
	return func(s *Server) { s.registry = reg }
}

// WithCheckOrigin replaces the WebSocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) ServerOption {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// NewServer creates a live server for the given root tree.
func NewServer(root RootFunc, opts ...ServerOption) *Server {
	s := &Server{
		root:     root,
		newStore: func() reactive.Store { return reactive.NewMemStore() },
		logger:   slog.Default(),
		registry: prometheus.NewRegistry(),
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "loom.live")
	s.metrics = newServerMetrics(s.registry)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/live", s.handleLive)
	r.Get("/snapshot/{key}", s.handleSnapshot)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SessionCount returns how many sessions are connected.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.Close()
	}
	return ctx.Err()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.SessionCount(),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	store := s.newStore()
	sess := newSession(conn, store, s.logger, s.metrics)
	sess.onClose = func(closed *Session) { s.finishSession(closed) }

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.metrics.sessionsTotal.Inc()
	s.metrics.sessionsActive.Inc()
	s.logger.Info("session connected", "session", sess.ID, "remote", r.RemoteAddr)

	// The write loop must be draining before the initial commit queues its
	// frame.
	go sess.writeLoop()

	if err := sess.engine.Mount(nil, s.root(store)); err != nil {
		s.logger.Error("mount failed", "session", sess.ID, "err", err)
		sess.Close()
		return
	}

	go sess.readLoop()
}

// finishSession runs once per session, after its engine stopped.
func (s *Server) finishSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()
	s.metrics.sessionsActive.Dec()

	if s.snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap := &snapshot.Snapshot{
			Key:       sess.ID,
			Seq:       sess.Stats().Commits,
			HTML:      sess.HTML(),
			CreatedAt: time.Now(),
		}
		if err := s.snapshots.Save(ctx, snap); err != nil {
			s.logger.Error("snapshot save failed", "session", sess.ID, "err", err)
		}
	}
	s.logger.Info("session closed", "session", sess.ID)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		http.Error(w, "snapshots not configured", http.StatusNotFound)
		return
	}
	key := chi.URLParam(r, "key")

	snap, err := s.snapshots.Load(r.Context(), key)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			http.Error(w, "snapshot not found", http.StatusNotFound)
			return
		}
		s.logger.Error("snapshot load failed", "key", key, "err", err)
		http.Error(w, "snapshot load failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}
