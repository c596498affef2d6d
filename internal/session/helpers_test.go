package session

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/provider"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/toolcall"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/wire"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// reply produces the response to one model call.
type reply func(ctx context.Context) (io.ReadCloser, error)

// scriptedTransport answers model calls from a script, in order. Calls past
// the end of the script get an empty stream.
type scriptedTransport struct {
	mu       sync.Mutex
	replies  []reply
	requests []wire.ChatRequest
	active   int
	maxSeen  int
}

func newTransport(replies ...reply) *scriptedTransport {
	return &scriptedTransport{replies: replies}
}

func (s *scriptedTransport) Stream(ctx context.Context, _ provider.Endpoint, req *wire.ChatRequest) (io.ReadCloser, error) {
	s.mu.Lock()
	idx := len(s.requests)
	s.requests = append(s.requests, *req)
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	var r reply
	if idx < len(s.replies) {
		r = s.replies[idx]
	}
	s.mu.Unlock()

	if r == nil {
		r = sseReply()
	}
	body, err := r(ctx)
	if err != nil {
		s.release()
		return nil, err
	}
	return &trackedBody{ReadCloser: body, onClose: s.release}, nil
}

func (s *scriptedTransport) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
}

// trackedBody marks the model call finished when the consumer closes it.
type trackedBody struct {
	io.ReadCloser
	once    sync.Once
	onClose func()
}

func (b *trackedBody) Close() error {
	b.once.Do(b.onClose)
	return b.ReadCloser.Close()
}

func (s *scriptedTransport) maxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSeen
}

func (s *scriptedTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedTransport) request(i int) wire.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

// sseReply streams the given payloads followed by the terminator.
func sseReply(payloads ...string) reply {
	return func(context.Context) (io.ReadCloser, error) {
		var b strings.Builder
		for _, p := range payloads {
			b.WriteString("data: ")
			b.WriteString(p)
			b.WriteString("\n\n")
		}
		b.WriteString("data: [DONE]\n\n")
		return io.NopCloser(strings.NewReader(b.String())), nil
	}
}

func errReply(err error) reply {
	return func(context.Context) (io.ReadCloser, error) { return nil, err }
}

func textChunk(text string) string {
	return chunk(map[string]any{"content": text})
}

func toolChunk(index int, id, name, args string) string {
	call := map[string]any{
		"index":    index,
		"function": map[string]any{"arguments": args},
	}
	if id != "" {
		call["id"] = id
		call["type"] = "function"
	}
	if name != "" {
		call["function"].(map[string]any)["name"] = name
	}
	return chunk(map[string]any{"tool_calls": []any{call}})
}

func chunk(delta map[string]any) string {
	data, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"index": 0, "delta": delta}},
	})
	return string(data)
}

// fakeTools is a scriptable tool capability.
type fakeTools struct {
	mu      sync.Mutex
	calls   []string
	actions map[string]bool
	shot    string
	call    func(ctx context.Context, name string, input json.RawMessage) (toolcall.Result, error)
}

func (f *fakeTools) IsActionTool(name string) bool { return f.actions[name] }

func (f *fakeTools) CaptureScreenshot(context.Context) (string, error) {
	if f.shot == "" {
		return "", toolcall.ErrScreenshotUnsupported
	}
	return f.shot, nil
}

func (f *fakeTools) CallTool(ctx context.Context, name string, input json.RawMessage, _ string) (toolcall.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.call != nil {
		return f.call(ctx, name, input)
	}
	return toolcall.Result{Success: true, Data: json.RawMessage(`{"ok":true}`)}, nil
}

func (f *fakeTools) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testConfig() types.Config {
	return types.Config{
		Model:  "test-model",
		Emit:   types.EmitConfig{IntervalMs: types.IntPtr(0)},
		Retry:  types.RetryConfig{MaxRetries: types.IntPtr(0)},
		Tools:  []types.ToolSpec{{Name: "get_current_tab", Description: "Get the active tab"}},
		APIKey: "test-key",
	}
}

func newTestOrchestrator(t *testing.T, transport provider.Transport, tools toolcall.Capability, mutate ...func(*types.Config)) *Orchestrator {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	o := New(Options{Config: cfg, Transport: transport, Tools: tools})
	t.Cleanup(o.Destroy)
	return o
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx))
}

func lastMessage(t *testing.T, o *Orchestrator) *types.Message {
	t.Helper()
	msgs := o.Messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}
