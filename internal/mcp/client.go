package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/toolcall"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// BackendName is the name the client registers under in a toolcall.Router.
const BackendName = "mcp"

const defaultTimeout = 5 * time.Second

// Client manages MCP server connections.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*mcpServer
	sdkClient *sdkmcp.Client
}

type mcpServer struct {
	name       string
	session    *sdkmcp.ClientSession
	tools      []Tool
	status     Status
	err        string
	serverInfo *ServerInfo
}

var _ toolcall.Backend = (*Client)(nil)

// NewClient creates a client with no servers.
func NewClient() *Client {
	return &Client{
		servers: make(map[string]*mcpServer),
		sdkClient: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "aipex",
			Version: "1.0.0",
		}, nil),
	}
}

// Connect adds every configured server. Servers are connected in name
// order; a failure is recorded on the server and joined into the returned
// error without stopping the others.
func (c *Client) Connect(ctx context.Context, configs map[string]types.MCPConfig) error {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := c.AddServer(ctx, name, ConfigFrom(configs[name])); err != nil {
			errs = append(errs, fmt.Errorf("mcp server %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// AddServer adds and connects to an MCP server.
func (c *Client) AddServer(ctx context.Context, name string, config *Config) error {
	if err := c.reserve(name); err != nil {
		return err
	}

	if !config.Enabled {
		c.store(&mcpServer{name: name, status: StatusDisabled})
		return nil
	}

	server, err := c.connectServer(ctx, name, config)
	if err != nil {
		c.store(&mcpServer{name: name, status: StatusFailed, err: err.Error()})
		return err
	}
	c.store(server)
	return nil
}

// Attach connects a server over an already constructed transport.
func (c *Client) Attach(ctx context.Context, name string, transport sdkmcp.Transport) error {
	if err := c.reserve(name); err != nil {
		return err
	}
	server := &mcpServer{name: name}
	if err := c.connectWithTransport(ctx, transport, defaultTimeout, server); err != nil {
		c.store(&mcpServer{name: name, status: StatusFailed, err: err.Error()})
		return err
	}
	c.store(server)
	return nil
}

func (c *Client) reserve(name string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.servers[name]; ok {
		return fmt.Errorf("server already exists: %s", name)
	}
	return nil
}

func (c *Client) store(server *mcpServer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers[server.name] = server
}

func (c *Client) connectServer(ctx context.Context, name string, config *Config) (*mcpServer, error) {
	timeout := time.Duration(config.Timeout) * time.Millisecond
	if timeout == 0 {
		timeout = defaultTimeout
	}
	server := &mcpServer{name: name}

	switch config.Type {
	case TransportTypeRemote:
		if config.URL == "" {
			return nil, fmt.Errorf("remote server requires a url")
		}
		httpClient := httpClientWithHeaders(config.Headers)
		candidates := []struct {
			name      string
			transport sdkmcp.Transport
		}{
			{"streamable", &sdkmcp.StreamableClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
			{"sse", &sdkmcp.SSEClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
		}

		// Remote sessions keep using the connect context for their streams.
		var lastErr error
		for _, candidate := range candidates {
			if err := c.connectWithTransport(context.WithoutCancel(ctx), candidate.transport, timeout, server); err != nil {
				lastErr = fmt.Errorf("%s transport: %w", candidate.name, err)
				continue
			}
			return server, nil
		}
		return nil, lastErr

	case TransportTypeLocal, TransportTypeStdio:
		if len(config.Command) == 0 {
			return nil, fmt.Errorf("empty command")
		}
		cmd := exec.Command(config.Command[0], config.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range config.Environment {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := c.connectWithTransport(connectCtx, &sdkmcp.CommandTransport{Command: cmd}, timeout, server); err != nil {
			return nil, err
		}
		return server, nil

	default:
		return nil, fmt.Errorf("unknown transport type: %s", config.Type)
	}
}

// connectWithTransport initializes a session on ctx and lists its tools
// within timeout.
func (c *Client) connectWithTransport(ctx context.Context, transport sdkmcp.Transport, timeout time.Duration, server *mcpServer) error {
	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if res := session.InitializeResult(); res != nil && res.ServerInfo != nil {
		server.serverInfo = &ServerInfo{Name: res.ServerInfo.Name, Version: res.ServerInfo.Version}
	}

	listCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	result, err := session.ListTools(listCtx, nil)
	if err != nil {
		session.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}
	server.tools = make([]Tool, len(result.Tools))
	for i, t := range result.Tools {
		server.tools[i] = fromSDKTool(t)
	}

	server.session = session
	server.status = StatusConnected
	return nil
}

func httpClientWithHeaders(headers map[string]string) *http.Client {
	client := &http.Client{}
	if len(headers) > 0 {
		client.Transport = &headerRoundTripper{headers: headers, next: http.DefaultTransport}
	}
	return client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}

// Name implements toolcall.Backend.
func (c *Client) Name() string { return BackendName }

// Tools returns the tools of every connected server, prefixed with the
// server name and sorted.
func (c *Client) Tools() []types.ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var specs []types.ToolSpec
	for name, server := range c.servers {
		if server.status != StatusConnected {
			continue
		}
		for _, tool := range server.tools {
			specs = append(specs, types.ToolSpec{
				Name:        qualifiedName(name, tool.Name),
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			})
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// IsActionTool implements toolcall.Capability.
func (c *Client) IsActionTool(string) bool { return false }

// CaptureScreenshot implements toolcall.Capability.
func (c *Client) CaptureScreenshot(context.Context) (string, error) {
	return "", toolcall.ErrScreenshotUnsupported
}

// CallTool runs a prefixed tool on its server. Text content is joined and
// returned as JSON when it parses, or as a JSON string otherwise. Results
// flagged as errors by the server become failed Results.
func (c *Client) CallTool(ctx context.Context, name string, input json.RawMessage, _ string) (toolcall.Result, error) {
	session, original, ok := c.resolve(name)
	if !ok {
		return toolcall.Result{}, fmt.Errorf("no server found for tool: %s", name)
	}

	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return toolcall.Failure(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
	}

	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: original, Arguments: args})
	if err != nil {
		return toolcall.Result{}, err
	}

	var text strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*sdkmcp.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}

	if result.IsError {
		msg := text.String()
		if msg == "" {
			msg = "tool execution failed"
		}
		return toolcall.Failure(msg), nil
	}
	return toolcall.Result{Success: true, Data: textData(text.String())}, nil
}

func textData(s string) json.RawMessage {
	if trimmed := strings.TrimSpace(s); trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	data, _ := json.Marshal(s)
	return data
}

func (c *Client) resolve(name string) (*sdkmcp.ClientSession, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for serverName, server := range c.servers {
		if server.status != StatusConnected || server.session == nil {
			continue
		}
		for _, tool := range server.tools {
			if qualifiedName(serverName, tool.Name) == name {
				return server.session, tool.Name, true
			}
		}
	}
	return nil, "", false
}

// Status returns the status of every configured server, sorted by name.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := make([]ServerStatus, 0, len(c.servers))
	for name, server := range c.servers {
		status = append(status, ServerStatus{
			Name:       name,
			Status:     server.status,
			ToolCount:  len(server.tools),
			Error:      server.err,
			ServerInfo: server.serverInfo,
		})
	}
	sort.Slice(status, func(i, j int) bool { return status[i].Name < status[j].Name })
	return status
}

// ConnectedCount returns the number of connected servers.
func (c *Client) ConnectedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, server := range c.servers {
		if server.status == StatusConnected {
			count++
		}
	}
	return count
}

// RemoveServer removes and disconnects a server.
func (c *Client) RemoveServer(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, ok := c.servers[name]
	if !ok {
		return fmt.Errorf("server not found: %s", name)
	}
	if server.session != nil {
		server.session.Close()
	}
	delete(c.servers, name)
	return nil
}

// Close disconnects all servers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, server := range c.servers {
		if server.session != nil {
			server.session.Close()
		}
	}
	c.servers = make(map[string]*mcpServer)
	return nil
}

func qualifiedName(server, tool string) string {
	return sanitizeToolName(server) + "_" + sanitizeToolName(tool)
}

// sanitizeToolName replaces non-alphanumeric chars with underscore.
func sanitizeToolName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}
