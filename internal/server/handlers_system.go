package server

import (
	"net/http"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/mcp"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// listTools returns the catalog the model is offered.
// GET /tools
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	catalog := s.tools.Catalog()
	if catalog == nil {
		catalog = []types.ToolSpec{}
	}
	writeJSON(w, http.StatusOK, catalog)
}

// GET /mcp
func (s *Server) mcpStatus(w http.ResponseWriter, r *http.Request) {
	if s.mcp == nil {
		writeJSON(w, http.StatusOK, []mcp.ServerStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.mcp.Status())
}

// getConfig returns the active configuration without the API key.
// GET /config
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.service.Config()
	cfg.APIKey = ""
	writeJSON(w, http.StatusOK, cfg)
}

// GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
