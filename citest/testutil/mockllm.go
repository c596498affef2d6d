package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/wire"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// MockLLMServer is an OpenAI compatible chat-completions endpoint driven by
// a MockLLMConfig.
type MockLLMServer struct {
	server *httptest.Server
	config *MockLLMConfig

	mu       sync.Mutex
	requests []wire.ChatRequest
}

// NewMockLLMServer starts a mock endpoint. A nil config uses the defaults.
func NewMockLLMServer(cfg *MockLLMConfig) *MockLLMServer {
	if cfg == nil {
		cfg = DefaultMockLLMConfig()
	}
	m := &MockLLMServer{config: cfg}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)
	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the server's base URL.
func (m *MockLLMServer) URL() string { return m.server.URL }

// Endpoint returns the full chat-completions URL.
func (m *MockLLMServer) Endpoint() string { return m.server.URL + "/v1/chat/completions" }

// Close shuts the server down.
func (m *MockLLMServer) Close() { m.server.Close() }

// Requests returns a copy of every request received so far.
func (m *MockLLMServer) Requests() []wire.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]wire.ChatRequest(nil), m.requests...)
}

// RequestCount returns how many requests were received.
func (m *MockLLMServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset forgets recorded requests.
func (m *MockLLMServer) Reset() {
	m.mu.Lock()
	m.requests = nil
	m.mu.Unlock()
}

type mockToolCall struct {
	id        string
	name      string
	arguments string
}

type mockResponse struct {
	content    string
	chunkDelay time.Duration
	toolCall   *mockToolCall
}

func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req wire.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.config.Settings.LagMS > 0 {
		select {
		case <-time.After(time.Duration(m.config.Settings.LagMS) * time.Millisecond):
		case <-r.Context().Done():
			return
		}
	}

	if len(req.Messages) == 0 {
		writeAPIError(w, http.StatusBadRequest, "messages required")
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role == string(types.RoleUser) {
		if rule := m.config.FindMatchingError(contentText(last.Content)); rule != nil {
			writeAPIError(w, rule.Status, rule.Message)
			return
		}
	}

	m.writeStreamingResponse(w, r, m.generateResponse(req))
}

// generateResponse picks the answer for a request. A trailing tool result
// always gets a plain text answer so tool rules cannot loop.
func (m *MockLLMServer) generateResponse(req wire.ChatRequest) *mockResponse {
	delay := time.Duration(m.config.Settings.ChunkDelayMS) * time.Millisecond

	if result, ok := trailingToolResult(req.Messages); ok {
		text := m.config.Defaults.AfterTool
		if text == "" {
			text = "{result}"
		}
		return &mockResponse{content: strings.ReplaceAll(text, "{result}", result), chunkDelay: delay}
	}

	prompt := lastUserPrompt(req.Messages)
	if rule := m.config.FindMatchingToolRule(prompt, toolNames(req.Tools)); rule != nil {
		args := rule.ToolCall.RawArguments
		if args == "" {
			raw, _ := json.Marshal(rule.ToolCall.Arguments)
			if rule.ToolCall.Arguments == nil {
				raw = []byte("{}")
			}
			args = string(raw)
		}
		id := rule.ToolCall.ID
		if id == "" {
			id = "call_" + types.NewID()
		}
		return &mockResponse{
			content:    rule.Response,
			chunkDelay: delay,
			toolCall:   &mockToolCall{id: id, name: rule.Tool, arguments: args},
		}
	}

	rule, _ := m.config.FindMatchingResponse(prompt)
	if rule.ChunkDelayMS > 0 {
		delay = time.Duration(rule.ChunkDelayMS) * time.Millisecond
	}
	return &mockResponse{content: rule.Response, chunkDelay: delay}
}

func (m *MockLLMServer) writeStreamingResponse(w http.ResponseWriter, r *http.Request, resp *mockResponse) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	id := "chatcmpl-mock-" + types.NewID()
	write := func(delta map[string]any, finish string) bool {
		choice := map[string]any{"index": 0, "delta": delta}
		if finish != "" {
			choice["finish_reason"] = finish
		}
		data, _ := json.Marshal(map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   "mock-model",
			"choices": []any{choice},
		})
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	pause := func(d time.Duration) bool {
		if d <= 0 {
			return true
		}
		select {
		case <-time.After(d):
			return true
		case <-r.Context().Done():
			return false
		}
	}

	if !write(map[string]any{"role": "assistant"}, "") {
		return
	}

	if m.config.Settings.EnableStreaming {
		words := strings.Fields(resp.content)
		for i, word := range words {
			if i < len(words)-1 {
				word += " "
			}
			if !write(map[string]any{"content": word}, "") || !pause(resp.chunkDelay) {
				return
			}
		}
	} else if resp.content != "" {
		if !write(map[string]any{"content": resp.content}, "") {
			return
		}
	}

	finish := "stop"
	if tc := resp.toolCall; tc != nil {
		finish = "tool_calls"
		// Arguments arrive split across two deltas like a real stream.
		half := len(tc.arguments) / 2
		first := map[string]any{"tool_calls": []any{map[string]any{
			"index": 0, "id": tc.id, "type": "function",
			"function": map[string]any{"name": tc.name, "arguments": tc.arguments[:half]},
		}}}
		rest := map[string]any{"tool_calls": []any{map[string]any{
			"index": 0, "function": map[string]any{"arguments": tc.arguments[half:]},
		}}}
		if !write(first, "") || !write(rest, "") {
			return
		}
	}

	if !write(map[string]any{}, finish) {
		return
	}
	usage, _ := json.Marshal(map[string]any{
		"id": id, "object": "chat.completion.chunk", "model": "mock-model",
		"choices": []any{},
		"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": len(strings.Fields(resp.content)), "total_tokens": 10 + len(strings.Fields(resp.content))},
	})
	fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", usage)
	flusher.Flush()
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "type": "mock_error"},
	})
}

// trailingToolResult returns the newest tool result when no user prompt
// follows it. Screenshot messages after tool results are skipped.
func trailingToolResult(msgs []wire.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		switch msgs[i].Role {
		case string(types.RoleTool):
			return contentText(msgs[i].Content), true
		case string(types.RoleUser):
			if !hasImage(msgs[i].Content) {
				return "", false
			}
		}
	}
	return "", false
}

func hasImage(content any) bool {
	parts, ok := content.([]any)
	if !ok {
		return false
	}
	for _, p := range parts {
		if m, ok := p.(map[string]any); ok && m["type"] == "image_url" {
			return true
		}
	}
	return false
}

// lastUserPrompt returns the text of the newest user message.
func lastUserPrompt(msgs []wire.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == string(types.RoleUser) {
			return contentText(msgs[i].Content)
		}
	}
	return ""
}

// contentText flattens string or multi-part content to its text.
func contentText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, p := range c {
			if m, ok := p.(map[string]any); ok && m["type"] == "text" {
				if s, ok := m["text"].(string); ok {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func toolNames(tools []wire.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Function.Name)
	}
	return names
}
