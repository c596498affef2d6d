package types

import "encoding/json"

// Defaults applied by (*Config).WithDefaults.
const (
	DefaultEndpoint        = "https://api.openai.com/v1/chat/completions"
	DefaultMaxIterations   = 1000
	DefaultEmitIntervalMs  = 16
	DefaultCharsPerTick    = 1
	DefaultMaxRetries      = 2
	DefaultRetryIntervalMs = 500
	DefaultToolTimeoutMs   = 120000
	DefaultServerAddr      = "127.0.0.1:7420"
)

// Config is the engine configuration. It is consumed, not owned, by a
// conversation and may be swapped between cycles.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"-"`

	// Model endpoint
	Model    string `json:"model,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`

	SystemPrompt string `json:"systemPrompt,omitempty"`

	// Tool catalog: inline definitions plus an optional catalog file
	Tools         []ToolSpec `json:"tools,omitempty"`
	ToolCatalog   string     `json:"toolCatalog,omitempty"`
	DisabledTools []string   `json:"disabledTools,omitempty"` // glob patterns

	MaxIterations int         `json:"maxIterations,omitempty"`
	Emit          EmitConfig  `json:"emit,omitempty"`
	Retry         RetryConfig `json:"retry,omitempty"`
	ToolTimeoutMs int         `json:"toolTimeoutMs,omitempty"`

	// Attach screenshots taken before action tools to the next model call
	AttachScreenshots *bool `json:"attachScreenshots,omitempty"`

	// MCP server configs
	MCP map[string]MCPConfig `json:"mcp,omitempty"`

	Server     ServerConfig `json:"server,omitempty"`
	StorageDir string       `json:"storageDir,omitempty"`
	LogLevel   string       `json:"logLevel,omitempty"`
}

// EmitConfig paces the smooth emission of streamed text.
type EmitConfig struct {
	// IntervalMs is the tick period. Zero after defaults means immediate.
	IntervalMs   *int `json:"intervalMs,omitempty"`
	CharsPerTick int  `json:"charsPerTick,omitempty"`
}

// RetryConfig bounds transport retries.
type RetryConfig struct {
	MaxRetries        *int `json:"maxRetries,omitempty"`
	InitialIntervalMs int  `json:"initialIntervalMs,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr        string   `json:"addr,omitempty"`
	CORSOrigins []string `json:"corsOrigins,omitempty"`
}

// MCPConfig holds MCP server configuration.
type MCPConfig struct {
	Type        string            `json:"type,omitempty"` // "local"|"remote"
	Command     []string          `json:"command,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty"`
}

// ToolSpec describes one tool the model may call.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON schema
}

// WithDefaults returns a copy of c with unset fields filled in.
func (c Config) WithDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Emit.IntervalMs == nil {
		c.Emit.IntervalMs = IntPtr(DefaultEmitIntervalMs)
	}
	if c.Emit.CharsPerTick <= 0 {
		c.Emit.CharsPerTick = DefaultCharsPerTick
	}
	if c.Retry.MaxRetries == nil {
		c.Retry.MaxRetries = IntPtr(DefaultMaxRetries)
	}
	if c.Retry.InitialIntervalMs <= 0 {
		c.Retry.InitialIntervalMs = DefaultRetryIntervalMs
	}
	if c.ToolTimeoutMs <= 0 {
		c.ToolTimeoutMs = DefaultToolTimeoutMs
	}
	if c.AttachScreenshots == nil {
		c.AttachScreenshots = BoolPtr(true)
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	return c
}

// ScreenshotsEnabled reports whether screenshots are attached for the model.
func (c Config) ScreenshotsEnabled() bool {
	return c.AttachScreenshots == nil || *c.AttachScreenshots
}

func IntPtr(v int) *int    { return &v }
func BoolPtr(v bool) *bool { return &v }
