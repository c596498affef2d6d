package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/clienttool"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/event"
)

// RegisterResponse lists the tools a registration added.
type RegisterResponse struct {
	ClientID string   `json:"clientID"`
	Tools    []string `json:"tools"`
}

// registerClientTools registers a client's tools.
// POST /client-tools/register
func (s *Server) registerClientTools(w http.ResponseWriter, r *http.Request) {
	var reg clienttool.Registration
	if err := decodeJSON(r, &reg); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if reg.ClientID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "clientID required")
		return
	}
	names := s.clients.Register(reg)
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, RegisterResponse{ClientID: reg.ClientID, Tools: names})
}

// unregisterClientTools drops the named tools of a client, or the whole
// client when no ?tool= is given.
// DELETE /client-tools/{clientID}
func (s *Server) unregisterClientTools(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if names := r.URL.Query()["tool"]; len(names) > 0 {
		removed := s.clients.Unregister(clientID, names)
		if removed == nil {
			removed = []string{}
		}
		writeJSON(w, http.StatusOK, RegisterResponse{ClientID: clientID, Tools: removed})
		return
	}
	s.clients.Cleanup(clientID)
	writeSuccess(w)
}

// clientToolsPending streams requests addressed to a client via SSE.
// Requests already pending are replayed first. When the stream closes the
// client is cleaned up and its pending requests fail.
// GET /client-tools/pending/{clientID}
func (s *Server) clientToolsPending(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	requests := make(chan clienttool.Request, 100)
	unsub := s.service.Bus().Subscribe(event.ClientToolRequest, func(e event.Event) {
		data, ok := e.Data.(event.ClientToolRequestData)
		if !ok || data.ClientID != clientID {
			return
		}
		req, ok := data.Request.(clienttool.Request)
		if !ok {
			return
		}
		select {
		case requests <- req:
		default:
			s.log.Warn().Str("clientID", clientID).Str("requestID", req.RequestID).Msg("client tool request dropped: channel full")
		}
	})
	defer unsub()

	sse, err := startSSE(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	defer s.clients.Cleanup(clientID)

	sent := make(map[string]bool)
	send := func(req clienttool.Request) error {
		if sent[req.RequestID] {
			return nil
		}
		sent[req.RequestID] = true
		return sse.writeEvent("tool-request", req)
	}
	for _, req := range s.clients.Pending(clientID) {
		if err := send(req); err != nil {
			return
		}
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case req := <-requests:
			if err := send(req); err != nil {
				return
			}
		case <-ticker.C:
			if err := sse.writeRaw("ping", []byte("{}")); err != nil {
				return
			}
		}
	}
}

// submitClientToolResult resolves a pending request.
// POST /client-tools/result/{requestID}
func (s *Server) submitClientToolResult(w http.ResponseWriter, r *http.Request) {
	var resp clienttool.Response
	if err := decodeJSON(r, &resp); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	requestID := chi.URLParam(r, "requestID")
	if !s.clients.SubmitResult(requestID, resp) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no pending request: "+requestID)
		return
	}
	writeSuccess(w)
}

// GET /client-tools/tools/{clientID}
func (s *Server) getClientTools(w http.ResponseWriter, r *http.Request) {
	tools := s.clients.ClientTools(chi.URLParam(r, "clientID"))
	if tools == nil {
		tools = []clienttool.ToolDefinition{}
	}
	writeJSON(w, http.StatusOK, tools)
}

// GET /client-tools/tools
func (s *Server) getAllClientTools(w http.ResponseWriter, r *http.Request) {
	tools := s.clients.Tools()
	if tools == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, tools)
}
