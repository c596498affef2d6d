// Package mcp connects to Model Context Protocol servers with the official
// Go SDK and exposes their tools to the conversation engine.
//
// A Client is a toolcall.Backend. Tools are advertised as
// "<server>_<tool>" with both halves reduced to [A-Za-z0-9_], and calls are
// routed back to the owning server under the original tool name. MCP tools
// never change the page, so IsActionTool is always false and
// CaptureScreenshot is unsupported.
//
// Two transports are built from configuration:
//
//	local  - spawn a command and speak MCP over its stdin/stdout
//	remote - streamable HTTP, falling back to SSE
//
// Attach accepts any SDK transport, which is how in-process servers are
// connected.
//
//	client := mcp.NewClient()
//	if err := client.Connect(ctx, cfg.MCP); err != nil {
//		log.Warn().Err(err).Msg("some MCP servers failed to connect")
//	}
//	router.Register(client)
package mcp
