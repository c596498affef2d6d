package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/session"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// ConversationInfo is the full state of one conversation.
type ConversationInfo struct {
	ID         string           `json:"id"`
	Status     types.Status     `json:"status"`
	Processing bool             `json:"processing"`
	Messages   []*types.Message `json:"messages"`
	Queue      []*types.Message `json:"queue"`
}

// StatusInfo is the lightweight state of one conversation.
type StatusInfo struct {
	Status     types.Status `json:"status"`
	Processing bool         `json:"processing"`
	Queued     int          `json:"queued"`
}

// SendMessageRequest is the body of POST /conversation/{id}/message.
type SendMessageRequest struct {
	Text     string               `json:"text"`
	Files    []*types.FilePart    `json:"files,omitempty"`
	Contexts []*types.ContextPart `json:"contexts,omitempty"`
}

// SendMessageResponse reports the accepted message and whether it waits in
// the queue behind a running cycle.
type SendMessageResponse struct {
	Message *types.Message `json:"message"`
	Queued  bool           `json:"queued"`
}

// StopRequest is the body of POST /conversation/{id}/stop.
type StopRequest struct {
	Preserve bool `json:"preserve"`
}

func conversationInfo(o *session.Orchestrator) ConversationInfo {
	return ConversationInfo{
		ID:         o.ID(),
		Status:     o.Status(),
		Processing: o.IsProcessing(),
		Messages:   o.Messages(),
		Queue:      o.Queue(),
	}
}

// conversation resolves {conversationID}, writing the error response when
// it cannot.
func (s *Server) conversation(w http.ResponseWriter, r *http.Request) (*session.Orchestrator, bool) {
	o, err := s.service.Get(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		writeSessionError(w, err)
		return nil, false
	}
	return o, true
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.List(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	o, err := s.service.Create(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversationInfo(o))
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	o, ok := s.conversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conversationInfo(o))
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		writeSessionError(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	o, ok := s.conversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, StatusInfo{
		Status:     o.Status(),
		Processing: o.IsProcessing(),
		Queued:     len(o.Queue()),
	})
}

// sendMessage accepts a message and returns at once; progress is reported
// on /event.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	o, ok := s.conversation(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	queued := o.IsProcessing()
	msg, err := o.SendMessage(req.Text, req.Files, req.Contexts)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SendMessageResponse{Message: msg, Queued: queued})
}

func (s *Server) regenerate(w http.ResponseWriter, r *http.Request) {
	o, ok := s.conversation(w, r)
	if !ok {
		return
	}
	if err := o.Regenerate(); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

func (s *Server) stopStream(w http.ResponseWriter, r *http.Request) {
	o, ok := s.conversation(w, r)
	if !ok {
		return
	}
	var req StopRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	o.StopStream(req.Preserve)
	writeSuccess(w)
}

func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	o, ok := s.conversation(w, r)
	if !ok {
		return
	}
	o.Abort()
	writeSuccess(w)
}
