package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/sse"
)

// SSEEvent is one decoded payload from an event stream.
type SSEEvent struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationID,omitempty"`
	Data           json.RawMessage `json:"data"`
	// Raw is the undecoded data line.
	Raw json.RawMessage `json:"-"`
}

// SSEClient reads a server-sent event stream in the background.
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu     sync.Mutex
	events []SSEEvent
	notify chan struct{}
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// NewSSEClient creates a client for baseURL.
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Connect opens path and starts reading. It returns once the response
// headers arrive.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected content type: %s", ct)
	}

	c.cancel = cancel
	go func() {
		defer close(c.done)
		defer resp.Body.Close()
		err := sse.ReadAll(ctx, resp.Body, func(ev sse.Event) error {
			var decoded SSEEvent
			if err := json.Unmarshal([]byte(ev.Data), &decoded); err != nil {
				return nil
			}
			decoded.Raw = json.RawMessage(ev.Data)
			c.mu.Lock()
			c.events = append(c.events, decoded)
			c.mu.Unlock()
			select {
			case c.notify <- struct{}{}:
			default:
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
		}
	}()
	return nil
}

// Events returns every event received so far.
func (c *SSEClient) Events() []SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SSEEvent(nil), c.events...)
}

// Err returns the read error, if the stream failed.
func (c *SSEClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// WaitFor blocks until an event satisfying match arrives. Events already
// received are considered.
func (c *SSEClient) WaitFor(timeout time.Duration, match func(SSEEvent) bool) (SSEEvent, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	seen := 0
	for {
		events := c.Events()
		for _, ev := range events[seen:] {
			if match(ev) {
				return ev, nil
			}
		}
		seen = len(events)

		select {
		case <-c.notify:
		case <-c.done:
			for _, ev := range c.Events()[seen:] {
				if match(ev) {
					return ev, nil
				}
			}
			return SSEEvent{}, fmt.Errorf("stream closed: %v", c.Err())
		case <-deadline.C:
			return SSEEvent{}, fmt.Errorf("no matching event after %s (%d received)", timeout, seen)
		}
	}
}

// WaitForType waits for an event of the given type.
func (c *SSEClient) WaitForType(eventType string, timeout time.Duration) (SSEEvent, error) {
	return c.WaitFor(timeout, func(ev SSEEvent) bool { return ev.Type == eventType })
}

// Close stops reading and waits for the reader to exit.
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}
