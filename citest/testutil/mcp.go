package testutil

import (
	"context"
	"net/http/httptest"

	"github.com/mark3labs/mcp-go/server"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/mcp"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/mcpserver/pagetools"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// StartPagetoolsMCP serves the pagetools MCP server over streamable HTTP.
func StartPagetoolsMCP() *httptest.Server {
	return server.NewTestStreamableHTTPServer(pagetools.NewServer())
}

// ConnectMCP connects a client to a remote MCP server under name.
func ConnectMCP(ctx context.Context, name, url string) (*mcp.Client, error) {
	client := mcp.NewClient()
	err := client.Connect(ctx, map[string]types.MCPConfig{
		name: {Type: "remote", URL: url, Timeout: 10000},
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
