package mcp

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/toolcall"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/mcpserver/pagetools"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// attachPagetools serves pagetools in-process over pipes and attaches it
// to a new client under the name "page-tools".
func attachPagetools(t *testing.T) *Client {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	stdio := server.NewStdioServer(pagetools.NewServer())
	go func() {
		_ = stdio.Listen(ctx, serverReader, serverWriter)
	}()

	client := NewClient()
	t.Cleanup(func() {
		client.Close()
		cancel()
		clientWriter.Close()
		serverWriter.Close()
	})

	attachCtx, attachCancel := context.WithTimeout(ctx, 10*time.Second)
	defer attachCancel()
	err := client.Attach(attachCtx, "page-tools", &sdkmcp.IOTransport{
		Reader: clientReader,
		Writer: clientWriter,
	})
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	client := NewClient()
	assert.Equal(t, BackendName, client.Name())
	assert.Empty(t, client.Tools())
	assert.Empty(t, client.Status())
	assert.Equal(t, 0, client.ConnectedCount())
	assert.NoError(t, client.Close())
}

func TestClient_RemoveServer_NotFound(t *testing.T) {
	err := NewClient().RemoveServer("nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server not found")
}

func TestClient_CapabilityDefaults(t *testing.T) {
	client := NewClient()
	assert.False(t, client.IsActionTool("anything"))
	_, err := client.CaptureScreenshot(context.Background())
	assert.ErrorIs(t, err, toolcall.ErrScreenshotUnsupported)
}

func TestConfigFrom(t *testing.T) {
	disabled := false
	tests := []struct {
		name string
		in   types.MCPConfig
		want Config
	}{
		{
			name: "local inferred",
			in:   types.MCPConfig{Command: []string{"srv", "--stdio"}},
			want: Config{Enabled: true, Type: TransportTypeLocal, Command: []string{"srv", "--stdio"}},
		},
		{
			name: "remote inferred",
			in:   types.MCPConfig{URL: "http://localhost:9000/mcp", Timeout: 100},
			want: Config{Enabled: true, Type: TransportTypeRemote, URL: "http://localhost:9000/mcp", Timeout: 100},
		},
		{
			name: "disabled",
			in:   types.MCPConfig{Type: "stdio", Enabled: &disabled},
			want: Config{Enabled: false, Type: TransportTypeStdio},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, *ConfigFrom(tt.in))
		})
	}
}

func TestClient_Connect_RecordsFailures(t *testing.T) {
	disabled := false
	client := NewClient()
	err := client.Connect(context.Background(), map[string]types.MCPConfig{
		"off":    {Command: []string{"whatever"}, Enabled: &disabled},
		"broken": {Type: "carrier-pigeon"},
		"empty":  {Type: "local"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport type")
	assert.Contains(t, err.Error(), "empty command")

	status := client.Status()
	require.Len(t, status, 3)
	assert.Equal(t, "broken", status[0].Name)
	assert.Equal(t, StatusFailed, status[0].Status)
	assert.NotEmpty(t, status[0].Error)
	assert.Equal(t, "off", status[2].Name)
	assert.Equal(t, StatusDisabled, status[2].Status)
	assert.Equal(t, 0, client.ConnectedCount())

	err = client.AddServer(context.Background(), "off", &Config{})
	assert.Contains(t, err.Error(), "server already exists")
}

func TestClient_AttachedServer(t *testing.T) {
	client := attachPagetools(t)

	assert.Equal(t, 1, client.ConnectedCount())
	status := client.Status()
	require.Len(t, status, 1)
	assert.Equal(t, StatusConnected, status[0].Status)
	assert.Equal(t, 2, status[0].ToolCount)
	require.NotNil(t, status[0].ServerInfo)
	assert.Equal(t, pagetools.Name, status[0].ServerInfo.Name)

	tools := client.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "page_tools_extract_links", tools[0].Name)
	assert.Equal(t, "page_tools_word_count", tools[1].Name)
	assert.Contains(t, string(tools[1].Parameters), `"text"`)
}

func TestClient_CallTool(t *testing.T) {
	client := attachPagetools(t)
	ctx := context.Background()

	result, err := client.CallTool(ctx, "page_tools_word_count", json.RawMessage(`{"text":"one two three"}`), "msg-1")
	require.NoError(t, err)
	require.True(t, result.Success)

	var wc pagetools.WordCount
	require.NoError(t, json.Unmarshal(result.Data, &wc))
	assert.Equal(t, 3, wc.Words)

	result, err = client.CallTool(ctx, "page_tools_word_count", json.RawMessage(`{}`), "msg-1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "text argument is required")

	result, err = client.CallTool(ctx, "page_tools_word_count", json.RawMessage(`[1,2]`), "msg-1")
	require.NoError(t, err)
	assert.False(t, result.Success)

	_, err = client.CallTool(ctx, "page_tools_missing", nil, "msg-1")
	assert.Error(t, err)
}

func TestClient_ThroughRouter(t *testing.T) {
	client := attachPagetools(t)
	router := toolcall.NewRouter()
	router.Register(client)

	names := []string{}
	for _, spec := range router.Catalog() {
		names = append(names, spec.Name)
	}
	assert.Contains(t, names, "page_tools_extract_links")

	result, err := router.CallTool(context.Background(), "page_tools_extract_links",
		json.RawMessage(`{"html":"<a href=\"/x\">X</a>","baseUrl":"https://example.com"}`), "msg-2")
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.JSONEq(t, `[{"href":"https://example.com/x","text":"X"}]`, string(result.Data))
}

func TestTextData(t *testing.T) {
	assert.JSONEq(t, `{"a":1}`, string(textData(` {"a":1} `)))
	assert.Equal(t, `"plain text"`, string(textData("plain text")))
	assert.Equal(t, `""`, string(textData("")))
}

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", "simple"},
		{"with-dash", "with_dash"},
		{"with.dot", "with_dot"},
		{"with space", "with_space"},
		{"CamelCase123", "CamelCase123"},
		{"special!@#chars", "special___chars"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeToolName(tt.input))
		})
	}
}
