package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/event"
)

// SSEHeartbeatInterval is the interval for SSE heartbeats.
const SSEHeartbeatInterval = 30 * time.Second

type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// startSSE writes the event stream headers and flushes them.
func startSSE(w http.ResponseWriter) (*sseWriter, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &sseWriter{w: w, rc: http.NewResponseController(w)}
	s.flush()
	return s, nil
}

func (s *sseWriter) flush() {
	if err := s.rc.Flush(); err != nil {
		if f, ok := s.w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

// writeEvent writes one named event with a JSON payload.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.writeRaw(eventType, payload)
}

func (s *sseWriter) writeRaw(eventType string, payload []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) writeHeartbeat() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

// events streams every bus event as JSON. With ?conversation=<id> only that
// conversation's events are sent.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("conversation")

	msgs, err := s.service.Bus().Stream(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	sse, err := startSSE(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if err := sse.writeEvent("message", event.Event{Type: "server.connected", Data: map[string]any{}}); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if filter != "" && msg.Metadata.Get(event.MetaConversation) != filter {
				continue
			}
			if err := sse.writeRaw("message", msg.Payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := sse.writeHeartbeat(); err != nil {
				return
			}
		}
	}
}
