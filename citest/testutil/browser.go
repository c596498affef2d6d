package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/clienttool"
)

// ToolHandler answers one tool request from the engine.
type ToolHandler func(input json.RawMessage) clienttool.Response

// BrowserClient plays the part of a browser extension: it registers tools,
// listens on its pending stream and posts results back.
type BrowserClient struct {
	ID  string
	api *Client
	sse *SSEClient

	mu       sync.Mutex
	handlers map[string]ToolHandler
	requests []clienttool.Request
	wg       sync.WaitGroup
	stop     chan struct{}
	once     sync.Once
}

// NewBrowserClient creates a simulated client named id.
func NewBrowserClient(baseURL, id string) *BrowserClient {
	return &BrowserClient{
		ID:       id,
		api:      NewClient(baseURL),
		sse:      NewSSEClient(baseURL),
		handlers: make(map[string]ToolHandler),
		stop:     make(chan struct{}),
	}
}

// Handle sets the handler for a tool. Requests for tools without a handler
// are left pending.
func (b *BrowserClient) Handle(tool string, h ToolHandler) {
	b.mu.Lock()
	b.handlers[tool] = h
	b.mu.Unlock()
}

// Start registers tools and begins serving requests.
func (b *BrowserClient) Start(ctx context.Context, tools []clienttool.ToolDefinition) error {
	if _, err := b.api.RegisterClientTools(ctx, clienttool.Registration{ClientID: b.ID, Tools: tools}); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if err := b.sse.Connect(context.Background(), "/client-tools/pending/"+b.ID); err != nil {
		return err
	}
	b.wg.Add(1)
	go b.serve()
	return nil
}

func (b *BrowserClient) serve() {
	defer b.wg.Done()
	seen := 0
	for {
		events := b.sse.Events()
		for _, ev := range events[seen:] {
			var req clienttool.Request
			if err := json.Unmarshal(ev.Raw, &req); err != nil || req.RequestID == "" {
				continue
			}
			b.dispatch(req)
		}
		seen = len(events)

		select {
		case <-b.stop:
			return
		case <-b.sse.done:
			return
		case <-b.sse.notify:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (b *BrowserClient) dispatch(req clienttool.Request) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	h := b.handlers[req.Tool]
	b.mu.Unlock()
	if h == nil {
		return
	}
	resp := h(req.Input)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = b.api.SubmitToolResult(ctx, req.RequestID, resp)
}

// Requests returns every request the client received.
func (b *BrowserClient) Requests() []clienttool.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]clienttool.Request(nil), b.requests...)
}

// Close disconnects the pending stream, which unregisters the client.
// Calling it again is a no-op.
func (b *BrowserClient) Close() {
	b.once.Do(func() {
		close(b.stop)
		b.sse.Close()
		b.wg.Wait()
	})
}

// JSONResult builds a successful response carrying v as data.
func JSONResult(v any) clienttool.Response {
	data, err := json.Marshal(v)
	if err != nil {
		return clienttool.Response{Error: err.Error()}
	}
	return clienttool.Response{Success: true, Data: data}
}
