package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/sessionagent/runtime/internal/dispatch"
)

// Config holds server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // no write timeout: the session channel is long-lived
	}
}

// Server is the HTTP transport in front of one process's Session
// Lifecycle. It holds the in-process cache of live *dispatch.Session
// graphs — per spec §5 a session is a single logical actor colocated
// with its in-memory state, so once a session is constructed (by
// createSession, or by the channel endpoint rehydrating after a restart)
// the same *dispatch.Session is reused for every later request against
// it for the lifetime of this process.
type Server struct {
	config    *Config
	router    *chi.Mux
	httpSrv   *http.Server
	lifecycle *dispatch.Lifecycle
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*dispatch.Session
}

// New creates a new Server instance bound to a Session Lifecycle.
func New(cfg *Config, lifecycle *dispatch.Lifecycle, logger zerolog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		config:    cfg,
		router:    chi.NewRouter(),
		lifecycle: lifecycle,
		logger:    logger.With().Str("component", "server").Logger(),
		sessions:  make(map[string]*dispatch.Session),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for the server, matching the
// teacher's stack (RequestID, Logger, Recoverer, RealIP, CORS).
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// getOrRehydrate returns the live session graph for sessionID, rehydrating
// it from durable storage via the Session Lifecycle if this process has
// not seen it yet (first channel connect after a restart).
func (s *Server) getOrRehydrate(ctx context.Context, sessionID string) (*dispatch.Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	sess, err := s.lifecycle.RehydrateAuto(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("server: rehydrate session %s: %w", sessionID, err)
	}

	s.mu.Lock()
	if existing, ok := s.sessions[sessionID]; ok {
		// Lost a race with a concurrent rehydrate; keep the one already
		// registered so every caller observes the same collaborator graph.
		s.mu.Unlock()
		return existing, nil
	}
	s.sessions[sessionID] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Server) registerSession(sess *dispatch.Session) {
	s.mu.Lock()
	s.sessions[sess.SessionID] = sess
	s.mu.Unlock()
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server, closing every live session's
// event bus so attached channels observe a clean disconnect.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.Bus.Close()
	}
	s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
