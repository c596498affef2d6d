package mcp

import (
	"encoding/json"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// Config defines how to reach one MCP server.
type Config struct {
	Enabled     bool
	Type        TransportType
	URL         string
	Headers     map[string]string
	Command     []string
	Environment map[string]string
	Timeout     int // milliseconds
}

// ConfigFrom converts the configuration file form. Servers are enabled
// unless explicitly disabled, and the transport is inferred when omitted.
func ConfigFrom(c types.MCPConfig) *Config {
	cfg := &Config{
		Enabled:     c.Enabled == nil || *c.Enabled,
		Type:        TransportType(c.Type),
		URL:         c.URL,
		Headers:     c.Headers,
		Command:     c.Command,
		Environment: c.Environment,
		Timeout:     c.Timeout,
	}
	if cfg.Type == "" {
		if c.URL != "" {
			cfg.Type = TransportTypeRemote
		} else {
			cfg.Type = TransportTypeLocal
		}
	}
	return cfg
}

// TransportType represents the type of MCP transport.
type TransportType string

const (
	TransportTypeRemote TransportType = "remote"
	TransportTypeLocal  TransportType = "local"
	TransportTypeStdio  TransportType = "stdio"
)

// Tool is a tool advertised by a server, under its original name.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

func fromSDKTool(t *sdkmcp.Tool) Tool {
	tool := Tool{Name: t.Name, Description: t.Description}
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			tool.InputSchema = raw
		}
	}
	return tool
}

// Status represents the connection status.
type Status string

const (
	StatusConnected Status = "connected"
	StatusDisabled  Status = "disabled"
	StatusFailed    Status = "failed"
)

// ServerStatus reports one configured server.
type ServerStatus struct {
	Name       string      `json:"name"`
	Status     Status      `json:"status"`
	ToolCount  int         `json:"toolCount"`
	Error      string      `json:"error,omitempty"`
	ServerInfo *ServerInfo `json:"serverInfo,omitempty"`
}

// ServerInfo is what the server reported during initialization.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
