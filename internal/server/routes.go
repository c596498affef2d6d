package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/metrics"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/conversation", func(r chi.Router) {
		r.Get("/", s.listConversations)
		r.Post("/", s.createConversation)

		r.Route("/{conversationID}", func(r chi.Router) {
			r.Get("/", s.getConversation)
			r.Delete("/", s.deleteConversation)
			r.Get("/status", s.getStatus)

			r.Post("/message", s.sendMessage)
			r.Post("/regenerate", s.regenerate)
			r.Post("/stop", s.stopStream)
			r.Post("/abort", s.abort)
		})
	})

	r.Get("/event", s.events)

	r.Route("/client-tools", func(r chi.Router) {
		r.Post("/register", s.registerClientTools)
		r.Delete("/{clientID}", s.unregisterClientTools)
		r.Get("/pending/{clientID}", s.clientToolsPending)
		r.Post("/result/{requestID}", s.submitClientToolResult)
		r.Get("/tools", s.getAllClientTools)
		r.Get("/tools/{clientID}", s.getClientTools)
	})

	r.Get("/tools", s.listTools)
	r.Get("/mcp", s.mcpStatus)
	r.Get("/config", s.getConfig)
	r.Get("/health", s.health)
	r.Method("GET", "/metrics", metrics.Handler())
}
