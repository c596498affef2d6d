package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/clienttool"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/mcp"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/server"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/storage"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// APIError is a non-2xx answer from the engine.
type APIError struct {
	Status int
	Code   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d (%s): %s", e.Status, e.Code, e.Body)
}

// Client calls the engine's HTTP API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Body: string(data)}
		var er server.ErrorResponse
		if json.Unmarshal(data, &er) == nil {
			apiErr.Code = er.Error.Code
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// CreateConversation starts a new conversation.
func (c *Client) CreateConversation(ctx context.Context) (*server.ConversationInfo, error) {
	var info server.ConversationInfo
	if err := c.do(ctx, http.MethodPost, "/conversation", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListConversations returns stored and live conversations.
func (c *Client) ListConversations(ctx context.Context) ([]storage.ConversationSummary, error) {
	var list []storage.ConversationSummary
	err := c.do(ctx, http.MethodGet, "/conversation", nil, &list)
	return list, err
}

// GetConversation returns the full state of one conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (*server.ConversationInfo, error) {
	var info server.ConversationInfo
	if err := c.do(ctx, http.MethodGet, "/conversation/"+id, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/conversation/"+id, nil, nil)
}

// GetStatus returns the lightweight status of a conversation.
func (c *Client) GetStatus(ctx context.Context, id string) (*server.StatusInfo, error) {
	var st server.StatusInfo
	if err := c.do(ctx, http.MethodGet, "/conversation/"+id+"/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SendMessage submits a user message.
func (c *Client) SendMessage(ctx context.Context, id string, req server.SendMessageRequest) (*server.SendMessageResponse, error) {
	var resp server.SendMessageResponse
	if err := c.do(ctx, http.MethodPost, "/conversation/"+id+"/message", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendText submits a text-only user message.
func (c *Client) SendText(ctx context.Context, id, text string) (*server.SendMessageResponse, error) {
	return c.SendMessage(ctx, id, server.SendMessageRequest{Text: text})
}

// Regenerate reruns the last assistant turn.
func (c *Client) Regenerate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/conversation/"+id+"/regenerate", nil, nil)
}

// Stop interrupts the running cycle, optionally keeping the queue.
func (c *Client) Stop(ctx context.Context, id string, preserve bool) error {
	return c.do(ctx, http.MethodPost, "/conversation/"+id+"/stop", server.StopRequest{Preserve: preserve}, nil)
}

// Abort cancels the running cycle and clears the queue.
func (c *Client) Abort(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/conversation/"+id+"/abort", nil, nil)
}

// WaitIdle polls until the conversation is no longer processing.
func (c *Client) WaitIdle(ctx context.Context, id string, timeout time.Duration) (*server.StatusInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := c.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if !st.Processing {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, fmt.Errorf("conversation %s still processing: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Tools returns the tool catalog offered to the model.
func (c *Client) Tools(ctx context.Context) ([]types.ToolSpec, error) {
	var tools []types.ToolSpec
	err := c.do(ctx, http.MethodGet, "/tools", nil, &tools)
	return tools, err
}

// MCPStatus returns the MCP server states.
func (c *Client) MCPStatus(ctx context.Context) ([]mcp.ServerStatus, error) {
	var status []mcp.ServerStatus
	err := c.do(ctx, http.MethodGet, "/mcp", nil, &status)
	return status, err
}

// Health checks the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// RegisterClientTools registers a client's tools.
func (c *Client) RegisterClientTools(ctx context.Context, reg clienttool.Registration) (*server.RegisterResponse, error) {
	var resp server.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/client-tools/register", reg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UnregisterClient drops a client and all its tools.
func (c *Client) UnregisterClient(ctx context.Context, clientID string) error {
	return c.do(ctx, http.MethodDelete, "/client-tools/"+clientID, nil, nil)
}

// SubmitToolResult answers a pending client tool request.
func (c *Client) SubmitToolResult(ctx context.Context, requestID string, resp clienttool.Response) error {
	return c.do(ctx, http.MethodPost, "/client-tools/result/"+requestID, resp, nil)
}
