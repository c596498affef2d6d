// Command pagetools-mcp runs the page tools MCP server over stdio.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/Sinio-Manoka/AIPex-sub000/pkg/mcpserver/pagetools"
)

func main() {
	s := pagetools.NewServer()
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
