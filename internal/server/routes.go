package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures the runtime's HTTP surface (spec §6): session
// creation, the bidirectional channel, and a liveness probe.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/healthz", s.healthz)

	r.Route("/session", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Get("/{sessionID}/channel", s.sessionChannel)
	})
}
