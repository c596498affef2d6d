package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/clienttool"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/provider"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/session"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/toolcall"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/wire"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// textTransport answers every model call with one text delta.
type textTransport struct{ text string }

func (t textTransport) Stream(context.Context, provider.Endpoint, *wire.ChatRequest) (io.ReadCloser, error) {
	content, _ := json.Marshal(t.text)
	body := fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%s}}]}\n\n"+
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n"+
		"data: [DONE]\n\n", content)
	return io.NopCloser(strings.NewReader(body)), nil
}

type testEnv struct {
	srv     *Server
	service *session.Service
	router  *toolcall.Router
	clients *clienttool.Registry
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	cfg := types.Config{
		Model: "test-model",
		Emit:  types.EmitConfig{IntervalMs: types.IntPtr(0)},
		Retry: types.RetryConfig{MaxRetries: types.IntPtr(0)},
	}
	router := toolcall.NewRouter()
	service := session.NewService(session.ServiceOptions{
		Config:    cfg,
		Transport: textTransport{text: "hello"},
		Tools:     router,
	})
	clients := clienttool.NewRegistry(service.Bus(), 5*time.Second)
	router.Register(clients)
	t.Cleanup(func() { service.Close() })

	srv := New(Options{
		Config:  DefaultConfig(),
		Service: service,
		Router:  router,
		Clients: clients,
	})
	return &testEnv{srv: srv, service: service, router: router, clients: clients}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func (e *testEnv) create(t *testing.T) string {
	t.Helper()
	w := e.do(t, "POST", "/conversation", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	info := decode[ConversationInfo](t, w)
	require.NotEmpty(t, info.ID)
	assert.Equal(t, types.StatusIdle, info.Status)
	return info.ID
}

func (e *testEnv) wait(t *testing.T, id string) {
	t.Helper()
	o, err := e.service.Get(context.Background(), id)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx))
}

func TestConversationLifecycle(t *testing.T) {
	env := setupTestServer(t)
	id := env.create(t)

	w := env.do(t, "POST", "/conversation/"+id+"/message", SendMessageRequest{Text: "hi"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	sent := decode[SendMessageResponse](t, w)
	assert.Equal(t, types.RoleUser, sent.Message.Role)
	assert.False(t, sent.Queued)

	env.wait(t, id)

	w = env.do(t, "GET", "/conversation/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[ConversationInfo](t, w)
	require.Len(t, info.Messages, 2)
	assert.Equal(t, "hi", info.Messages[0].Text())
	assert.Equal(t, "hello", info.Messages[1].Text())
	assert.Equal(t, types.StatusIdle, info.Status)
	assert.False(t, info.Processing)

	w = env.do(t, "GET", "/conversation/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusInfo{Status: types.StatusIdle}, decode[StatusInfo](t, w))

	w = env.do(t, "GET", "/conversation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = env.do(t, "POST", "/conversation/"+id+"/regenerate", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	env.wait(t, id)

	w = env.do(t, "DELETE", "/conversation/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/conversation/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConversationErrors(t *testing.T) {
	env := setupTestServer(t)
	id := env.create(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown conversation", "GET", "/conversation/nope", nil, http.StatusNotFound, ErrCodeNotFound},
		{"delete unknown", "DELETE", "/conversation/nope", nil, http.StatusNotFound, ErrCodeNotFound},
		{"empty message", "POST", "/conversation/" + id + "/message", SendMessageRequest{Text: "  "}, http.StatusBadRequest, ErrCodeInvalidRequest},
		{"nothing to regenerate", "POST", "/conversation/" + id + "/regenerate", nil, http.StatusBadRequest, ErrCodeInvalidRequest},
		{"bad body", "POST", "/conversation/" + id + "/message", "not an object", http.StatusBadRequest, ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestStopAndAbortWithoutBody(t *testing.T) {
	env := setupTestServer(t)
	id := env.create(t)

	assert.Equal(t, http.StatusOK, env.do(t, "POST", "/conversation/"+id+"/stop", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, "POST", "/conversation/"+id+"/stop", StopRequest{Preserve: true}).Code)
	assert.Equal(t, http.StatusOK, env.do(t, "POST", "/conversation/"+id+"/abort", nil).Code)
}

func TestSystemEndpoints(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = env.do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/mcp", nil)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = env.do(t, "GET", "/tools", nil)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = env.do(t, "GET", "/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cfg := decode[types.Config](t, w)
	assert.Equal(t, "test-model", cfg.Model)
	assert.Empty(t, cfg.APIKey)
}

func TestClientToolRegistration(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "POST", "/client-tools/register", clienttool.Registration{
		ClientID: "tab-1",
		Tools: []clienttool.ToolDefinition{
			{Name: "click", Description: "Click an element", Action: true},
			{Name: "get_current_tab", Description: "Describe the tab"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []string{"click", "get_current_tab"}, decode[RegisterResponse](t, w).Tools)

	w = env.do(t, "GET", "/tools", nil)
	assert.Contains(t, w.Body.String(), "get_current_tab")

	w = env.do(t, "GET", "/client-tools/tools/tab-1", nil)
	assert.Len(t, decode[[]clienttool.ToolDefinition](t, w), 2)

	w = env.do(t, "DELETE", "/client-tools/tab-1?tool=click", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"click"}, decode[RegisterResponse](t, w).Tools)

	w = env.do(t, "DELETE", "/client-tools/tab-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, "GET", "/client-tools/tools", nil)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = env.do(t, "POST", "/client-tools/register", clienttool.Registration{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/client-tools/result/unknown", clienttool.Response{Success: true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// sseLines opens an SSE stream and delivers its data lines.
func sseLines(t *testing.T, ctx context.Context, url string) <-chan string {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer resp.Body.Close()
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				lines <- data
			}
		}
	}()
	return lines
}

func nextLine(t *testing.T, lines <-chan string, contains string) string {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before %q", contains)
			if strings.Contains(line, contains) {
				return line
			}
		case <-timeout:
			t.Fatalf("no event containing %q", contains)
		}
	}
}

func TestEventStream(t *testing.T) {
	env := setupTestServer(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	first := env.create(t)
	second := env.create(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lines := sseLines(t, ctx, ts.URL+"/event?conversation="+second)
	nextLine(t, lines, "server.connected")

	env.do(t, "POST", "/conversation/"+first+"/message", SendMessageRequest{Text: "first"})
	env.wait(t, first)
	env.do(t, "POST", "/conversation/"+second+"/message", SendMessageRequest{Text: "second"})

	line := nextLine(t, lines, "messages_updated")
	var evt struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversationID"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &evt))
	assert.Equal(t, second, evt.ConversationID)

	nextLine(t, lines, `"status":"idle"`)
}

func TestClientToolsPendingStream(t *testing.T) {
	env := setupTestServer(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	env.do(t, "POST", "/client-tools/register", clienttool.Registration{
		ClientID: "tab-1",
		Tools:    []clienttool.ToolDefinition{{Name: "get_current_tab"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lines := sseLines(t, ctx, ts.URL+"/client-tools/pending/tab-1")

	type callResult struct {
		result toolcall.Result
		err    error
	}
	done := make(chan callResult, 1)
	go func() {
		res, err := env.router.CallTool(context.Background(), "get_current_tab", json.RawMessage(`{}`), "msg-1")
		done <- callResult{res, err}
	}()

	var req clienttool.Request
	require.NoError(t, json.Unmarshal([]byte(nextLine(t, lines, "get_current_tab")), &req))
	assert.Equal(t, clienttool.KindTool, req.Kind)
	assert.Equal(t, "msg-1", req.MessageID)

	w := env.do(t, "POST", "/client-tools/result/"+req.RequestID, clienttool.Response{
		Success: true,
		Data:    json.RawMessage(`{"url":"https://example.com"}`),
	})
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case got := <-done:
		require.NoError(t, got.err)
		assert.True(t, got.result.Success)
		assert.JSONEq(t, `{"url":"https://example.com"}`, string(got.result.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("tool call did not complete")
	}

	cancel()
	assert.Eventually(t, func() bool {
		return len(env.clients.ClientTools("tab-1")) == 0
	}, 5*time.Second, 10*time.Millisecond)
}
