// Package server exposes conversations over HTTP.
//
// Routes are mounted on a chi router:
//
//	GET    /conversation                    list stored and live conversations
//	POST   /conversation                    create a conversation
//	GET    /conversation/{id}               history, queue and status
//	DELETE /conversation/{id}               destroy and forget
//	POST   /conversation/{id}/message       send {text, files, contexts}
//	POST   /conversation/{id}/regenerate    re-run the last turn
//	POST   /conversation/{id}/stop          stop streaming, {preserve}
//	POST   /conversation/{id}/abort         stop everything and clear the queue
//	GET    /conversation/{id}/status        status, processing flag and queue
//
//	GET    /event                           SSE of every event, ?conversation= filters
//
//	POST   /client-tools/register           a browser client offers its tools
//	DELETE /client-tools/{clientID}         drop a client, or ?tool= names only
//	GET    /client-tools/pending/{clientID} SSE of requests for the client
//	POST   /client-tools/result/{requestID} answer a request
//	GET    /client-tools/tools[/{clientID}] registered client tools
//
//	GET    /tools                           effective tool catalog
//	GET    /mcp                             MCP server status
//	GET    /config                          active configuration, key redacted
//	GET    /metrics                         Prometheus metrics
//	GET    /health                          liveness
//
// Errors use the envelope {"error":{"code":"...","message":"..."}}.
package server
