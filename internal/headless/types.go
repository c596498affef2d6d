package headless

import (
	"encoding/json"
	"io"
	"time"

	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// OutputFormat defines the output format for headless mode.
type OutputFormat string

const (
	// OutputText is human-readable streaming text output.
	OutputText OutputFormat = "text"
	// OutputJSON is a final JSON result summary.
	OutputJSON OutputFormat = "json"
	// OutputJSONL is streaming JSONL events.
	OutputJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a format name.
func ParseOutputFormat(s string) (OutputFormat, bool) {
	switch f := OutputFormat(s); f {
	case OutputText, OutputJSON, OutputJSONL:
		return f, true
	}
	return "", false
}

// ExitCode defines exit codes for headless mode.
type ExitCode int

const (
	ExitSuccess              ExitCode = 0
	ExitError                ExitCode = 1
	ExitTimeout              ExitCode = 2
	ExitInvalidInput         ExitCode = 5
	ExitConversationNotFound ExitCode = 6
)

// Result status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Config holds configuration for one headless run.
type Config struct {
	// Prompt is the instruction to send.
	Prompt string
	// Stdin, when set, is read to the end and appended to the prompt.
	Stdin io.Reader
	// Files are attached as file contexts, one per path.
	Files []string
	// ConversationID continues a stored conversation instead of starting
	// a new one.
	ConversationID string
	OutputFormat   OutputFormat
	// Timeout bounds the whole run; zero means no limit.
	Timeout time.Duration
	// Quiet prints only the assistant text.
	Quiet bool
	// Verbose prints every event with jsonl and tool completions with text.
	Verbose bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputFormat: OutputText,
		Timeout:      30 * time.Minute,
	}
}

// ToolCall summarizes one resolved tool call.
type ToolCall struct {
	Tool   string          `json:"tool"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Result holds the final result of a headless run.
type Result struct {
	ConversationID string            `json:"conversation_id"`
	Status         string            `json:"status"`
	Model          string            `json:"model"`
	DurationMS     int64             `json:"duration_ms"`
	Tokens         *types.TokenUsage `json:"tokens,omitempty"`
	Steps          int               `json:"steps"`
	ToolCalls      []ToolCall        `json:"tool_calls,omitempty"`
	FinalMessage   string            `json:"final_message,omitempty"`
	Error          string            `json:"error,omitempty"`
	ExitCode       ExitCode          `json:"exit_code"`
}

// Event is one JSONL line.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data"`
}
