// Package toolcall defines the external tool-calling capability the
// conversation engine consumes, and a router that fans calls out to the
// registered backends.
package toolcall

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrScreenshotUnsupported is returned by backends that cannot capture the
// page.
var ErrScreenshotUnsupported = errors.New("screenshot not supported")

// Result is the business outcome of a tool call. A failed Result is not a Go
// error: it is reported back to the model.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Failure builds an unsuccessful result.
func Failure(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Capability executes tools on behalf of the engine. The engine is agnostic
// to what a tool does.
type Capability interface {
	// IsActionTool reports whether the tool changes the page, in which case a
	// screenshot is captured before it runs.
	IsActionTool(name string) bool
	// CaptureScreenshot returns an image data URL of the current page.
	CaptureScreenshot(ctx context.Context) (string, error)
	// CallTool runs a tool. A returned error means the call could not be
	// made at all; tool failures are reported through Result.
	CallTool(ctx context.Context, name string, input json.RawMessage, messageID string) (Result, error)
}
