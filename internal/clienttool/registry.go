// Package clienttool lets connected clients, such as the browser extension,
// provide tools. A call is published as a request event; the client runs it
// and posts the result back, which resolves the waiting caller.
package clienttool

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/event"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/toolcall"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// BackendName is the name the registry registers under in a toolcall.Router.
const BackendName = "client"

// DefaultTimeout bounds how long a request waits for its client.
const DefaultTimeout = 2 * time.Minute

// Request kinds.
const (
	KindTool       = "tool"
	KindScreenshot = "screenshot"
)

var (
	// ErrTimeout is returned when a client does not answer in time.
	ErrTimeout = errors.New("client tool execution timed out")
	// ErrNoClient is returned when no connected client can serve a request,
	// including when the serving client disconnects mid-request.
	ErrNoClient = errors.New("no client available for tool")
)

// ToolDefinition is a tool a client provides.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	// Action marks tools that change the page; a screenshot is captured
	// before they run.
	Action bool `json:"action,omitempty"`
}

// Registration is what a client sends when it connects.
type Registration struct {
	ClientID string           `json:"clientID"`
	Tools    []ToolDefinition `json:"tools"`
	// Screenshots reports whether the client can capture the page.
	Screenshots bool `json:"screenshots,omitempty"`
}

// Request asks a client to run a tool or capture a screenshot.
type Request struct {
	Kind      string          `json:"kind"`
	RequestID string          `json:"requestID"`
	ClientID  string          `json:"clientID"`
	MessageID string          `json:"messageID,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// Response is what a client posts back. For screenshots Data holds the
// image data URL as a JSON string.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type client struct {
	tools       map[string]ToolDefinition
	screenshots bool
	seq         uint64
}

type pendingRequest struct {
	request Request
	result  chan Response
	failed  chan error
}

// Registry tracks client tools and in-flight requests.
type Registry struct {
	bus     *event.Bus
	timeout time.Duration

	mu      sync.RWMutex
	clients map[string]*client
	// owners maps a tool name to the client that registered it last.
	owners  map[string]string
	pending map[string]*pendingRequest
	seq     uint64
}

var _ toolcall.Backend = (*Registry)(nil)

// NewRegistry creates a registry that publishes requests on bus. A zero
// timeout uses DefaultTimeout.
func NewRegistry(bus *event.Bus, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		bus:     bus,
		timeout: timeout,
		clients: make(map[string]*client),
		owners:  make(map[string]string),
		pending: make(map[string]*pendingRequest),
	}
}

// Name implements toolcall.Backend.
func (r *Registry) Name() string { return BackendName }

// Register adds or replaces a client's tools and returns their names.
func (r *Registry) Register(reg Registration) []string {
	r.mu.Lock()
	c := r.clients[reg.ClientID]
	if c == nil {
		c = &client{tools: make(map[string]ToolDefinition)}
		r.clients[reg.ClientID] = c
	}
	r.seq++
	c.seq = r.seq
	c.screenshots = c.screenshots || reg.Screenshots

	names := make([]string, 0, len(reg.Tools))
	for _, def := range reg.Tools {
		if def.Name == "" {
			continue
		}
		c.tools[def.Name] = def
		r.owners[def.Name] = reg.ClientID
		names = append(names, def.Name)
	}
	r.mu.Unlock()

	r.publish(event.ClientToolRegistered, event.ClientToolRegisteredData{
		ClientID: reg.ClientID,
		ToolIDs:  names,
	})
	return names
}

// Unregister removes the named tools of a client, or all of them when names
// is empty, and returns what was removed.
func (r *Registry) Unregister(clientID string, names []string) []string {
	r.mu.Lock()
	c := r.clients[clientID]
	if c == nil {
		r.mu.Unlock()
		return nil
	}
	if len(names) == 0 {
		for name := range c.tools {
			names = append(names, name)
		}
	}
	var removed []string
	for _, name := range names {
		if _, ok := c.tools[name]; !ok {
			continue
		}
		delete(c.tools, name)
		removed = append(removed, name)
		r.reassignLocked(name, clientID)
	}
	r.mu.Unlock()

	sort.Strings(removed)
	if len(removed) > 0 {
		r.publish(event.ClientToolUnregistered, event.ClientToolUnregisteredData{
			ClientID: clientID,
			ToolIDs:  removed,
		})
	}
	return removed
}

// reassignLocked hands a tool to the most recently registered other client
// that still provides it.
func (r *Registry) reassignLocked(name, from string) {
	if r.owners[name] != from {
		return
	}
	delete(r.owners, name)
	var best *client
	for id, c := range r.clients {
		if id == from {
			continue
		}
		if _, ok := c.tools[name]; ok && (best == nil || c.seq > best.seq) {
			best = c
			r.owners[name] = id
		}
	}
}

// Cleanup forgets a disconnected client. Its pending requests fail with
// ErrNoClient.
func (r *Registry) Cleanup(clientID string) {
	r.Unregister(clientID, nil)

	r.mu.Lock()
	delete(r.clients, clientID)
	var orphaned []*pendingRequest
	for id, p := range r.pending {
		if p.request.ClientID == clientID {
			orphaned = append(orphaned, p)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, p := range orphaned {
		p.failed <- ErrNoClient
	}
}

// Tools implements toolcall.Backend.
func (r *Registry) Tools() []types.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]types.ToolSpec, 0, len(r.owners))
	for name, clientID := range r.owners {
		def := r.clients[clientID].tools[name]
		specs = append(specs, types.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// ClientTools returns the tools one client registered.
func (r *Registry) ClientTools(clientID string) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clients[clientID]
	if c == nil {
		return nil
	}
	defs := make([]ToolDefinition, 0, len(c.tools))
	for _, def := range c.tools {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// IsActionTool implements toolcall.Capability.
func (r *Registry) IsActionTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clientID, ok := r.owners[name]
	if !ok {
		return false
	}
	return r.clients[clientID].tools[name].Action
}

// CallTool implements toolcall.Capability. The owning client's answer is
// returned as the tool result.
func (r *Registry) CallTool(ctx context.Context, name string, input json.RawMessage, messageID string) (toolcall.Result, error) {
	r.mu.RLock()
	clientID, ok := r.owners[name]
	r.mu.RUnlock()
	if !ok {
		return toolcall.Result{}, ErrNoClient
	}

	resp, err := r.execute(ctx, Request{
		Kind:      KindTool,
		ClientID:  clientID,
		MessageID: messageID,
		Tool:      name,
		Input:     input,
	})
	if err != nil {
		return toolcall.Result{}, err
	}
	return toolcall.Result{Success: resp.Success, Data: resp.Data, Error: resp.Error}, nil
}

// CaptureScreenshot implements toolcall.Capability by asking the most
// recently registered client that can take screenshots.
func (r *Registry) CaptureScreenshot(ctx context.Context) (string, error) {
	r.mu.RLock()
	var clientID string
	var best *client
	for id, c := range r.clients {
		if c.screenshots && (best == nil || c.seq > best.seq) {
			best, clientID = c, id
		}
	}
	r.mu.RUnlock()
	if best == nil {
		return "", toolcall.ErrScreenshotUnsupported
	}

	resp, err := r.execute(ctx, Request{Kind: KindScreenshot, ClientID: clientID})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", errors.New(resp.Error)
	}
	var dataURL string
	if err := json.Unmarshal(resp.Data, &dataURL); err != nil {
		return "", err
	}
	return dataURL, nil
}

// Pending returns the requests a client has not answered yet, oldest first.
// A client that reconnects replays them.
func (r *Registry) Pending(clientID string) []Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var reqs []Request
	for _, p := range r.pending {
		if p.request.ClientID == clientID {
			reqs = append(reqs, p.request)
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].RequestID < reqs[j].RequestID })
	return reqs
}

// SubmitResult resolves a pending request. It reports whether the request
// was still waiting.
func (r *Registry) SubmitResult(requestID string, resp Response) bool {
	r.mu.Lock()
	p := r.pending[requestID]
	delete(r.pending, requestID)
	r.mu.Unlock()
	if p == nil {
		return false
	}
	p.result <- resp
	return true
}

func (r *Registry) execute(ctx context.Context, req Request) (Response, error) {
	req.RequestID = types.NewID()
	p := &pendingRequest{
		request: req,
		result:  make(chan Response, 1),
		failed:  make(chan error, 1),
	}

	r.mu.Lock()
	r.pending[req.RequestID] = p
	r.mu.Unlock()

	r.publish(event.ClientToolRequest, event.ClientToolRequestData{
		ClientID: req.ClientID,
		Request:  req,
	})

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	var (
		resp Response
		err  error
	)
	select {
	case resp = <-p.result:
	case err = <-p.failed:
	case <-timer.C:
		err = ErrTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		r.mu.Lock()
		delete(r.pending, req.RequestID)
		r.mu.Unlock()
	}

	status := event.ClientToolStatusData{
		ClientID:  req.ClientID,
		RequestID: req.RequestID,
		MessageID: req.MessageID,
		Tool:      req.Tool,
	}
	switch {
	case err != nil:
		status.Error = err.Error()
		r.publish(event.ClientToolFailed, status)
		return Response{}, err
	case !resp.Success:
		status.Error = resp.Error
		r.publish(event.ClientToolFailed, status)
	default:
		r.publish(event.ClientToolCompleted, status)
	}
	return resp, nil
}

func (r *Registry) publish(t event.EventType, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(event.Event{Type: t, Data: data})
}
