// Package serve exposes the diagnostic conversation over HTTP.
package serve

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	chi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/voltworks/aftercare/pkg/collector"
	"github.com/voltworks/aftercare/pkg/flow"
	"github.com/voltworks/aftercare/pkg/session"
)

// Server wires the collector gate and the flow engine behind the chat
// endpoint. Turns for the same session are serialized with a per-session
// lock; the state machine itself makes no atomicity guarantees.
type Server struct {
	router chi.Router
	engine *flow.Engine
	schema *collector.Schema
	store  session.Store
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds the server. A nil schema uses the built-in requirement schema.
func New(engine *flow.Engine, schema *collector.Schema, store session.Store, logger *zap.Logger) *Server {
	if schema == nil {
		schema = collector.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router: chi.NewRouter(),
		engine: engine,
		schema: schema,
		store:  store,
		logger: logger.Named("serve"),
		locks:  make(map[string]*sync.Mutex),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(s.logRequests, s.recoverPanics)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Post("/chat", s.handleChat)
	s.router.Get("/sessions/{id}", s.handleSession)
	s.router.Post("/report", s.handleReport)
}

// logRequests logs method, path and duration per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("dur", time.Since(start)),
			zap.String("remote", r.RemoteAddr))
	})
}

// recoverPanics turns an unhandled panic into a generic 500. The session's
// last saved checkpoint is untouched because Save only runs after a turn
// completes normally.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in handler", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// sessionLock returns the mutex guarding one session's turns.
func (s *Server) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
