package testutil

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MockLLMConfig is the YAML schema for mock model scenarios.
type MockLLMConfig struct {
	Settings  MockSettings   `yaml:"settings"`
	Defaults  MockDefaults   `yaml:"defaults"`
	Responses []ResponseRule `yaml:"responses"`
	ToolRules []ToolRule     `yaml:"tool_rules"`
	Errors    []ErrorRule    `yaml:"errors"`
}

// MockSettings configures server behavior.
type MockSettings struct {
	LagMS           int  `yaml:"lag_ms"`           // delay before the first byte
	EnableStreaming bool `yaml:"enable_streaming"` // false sends the text in one delta
	ChunkDelayMS    int  `yaml:"chunk_delay_ms"`   // delay between streamed words
}

// MockDefaults defines fallback behavior.
type MockDefaults struct {
	Fallback string `yaml:"fallback"`
	// AfterTool answers a turn whose last message is a tool result.
	// "{result}" is replaced with the tool output.
	AfterTool string `yaml:"after_tool"`
}

// ResponseRule maps a prompt to a text answer.
type ResponseRule struct {
	Name     string      `yaml:"name"`
	Match    MatchConfig `yaml:"match"`
	Response string      `yaml:"response"`
	Priority int         `yaml:"priority"`
	// ChunkDelayMS overrides the global chunk delay for this answer.
	ChunkDelayMS int `yaml:"chunk_delay_ms"`
}

// MatchConfig defines how to match a prompt. All set fields must match.
type MatchConfig struct {
	Contains    string   `yaml:"contains"`     // case-insensitive substring
	ContainsAll []string `yaml:"contains_all"` // every substring present
	ContainsAny []string `yaml:"contains_any"` // at least one present
	Exact       string   `yaml:"exact"`        // case-insensitive, trimmed
	Regex       string   `yaml:"regex"`
}

// ToolRule makes the model call a tool when the prompt matches and the tool
// was offered in the request.
type ToolRule struct {
	Name     string         `yaml:"name"`
	Match    MatchConfig    `yaml:"match"`
	Tool     string         `yaml:"tool"`
	ToolCall ToolCallConfig `yaml:"tool_call"`
	Response string         `yaml:"response"` // text streamed before the call
	Priority int            `yaml:"priority"`
}

// ToolCallConfig defines the generated call.
type ToolCallConfig struct {
	ID        string         `yaml:"id"`
	Arguments map[string]any `yaml:"arguments"`
	// RawArguments is sent verbatim instead of Arguments.
	RawArguments string `yaml:"raw_arguments"`
}

// ErrorRule makes the endpoint fail with an HTTP status.
type ErrorRule struct {
	Name    string      `yaml:"name"`
	Match   MatchConfig `yaml:"match"`
	Status  int         `yaml:"status"`
	Message string      `yaml:"message"`
}

// DefaultMockLLMConfig returns a configuration covering the common flows.
func DefaultMockLLMConfig() *MockLLMConfig {
	return &MockLLMConfig{
		Settings: MockSettings{
			EnableStreaming: true,
			ChunkDelayMS:    5,
		},
		Defaults: MockDefaults{
			Fallback:  "I'm a mock assistant. How can I help?",
			AfterTool: "Done. Tool returned: {result}",
		},
		Responses: []ResponseRule{
			{Name: "hello", Match: MatchConfig{Contains: "hello"}, Response: "Hello! How can I help you today?", Priority: 1},
			{Name: "hello-world", Match: MatchConfig{Exact: "hello, world"}, Response: "Hello, World!", Priority: 10},
			{Name: "math", Match: MatchConfig{Regex: `^\s*2\s*\+\s*2\s*$`}, Response: "4", Priority: 10},
			{Name: "slow", Match: MatchConfig{Contains: "take your time"}, Priority: 5, ChunkDelayMS: 200,
				Response: "This answer arrives one word at a time so there is room to interrupt it before it finishes."},
		},
		ToolRules: []ToolRule{
			{Name: "tab", Match: MatchConfig{ContainsAny: []string{"current tab", "which page"}}, Tool: "get_current_tab", Priority: 10},
			{Name: "click", Match: MatchConfig{ContainsAll: []string{"click", "button"}}, Tool: "click",
				ToolCall: ToolCallConfig{Arguments: map[string]any{"selector": "#submit"}}, Response: "Clicking it now.", Priority: 10},
		},
		Errors: []ErrorRule{
			{Name: "auth", Match: MatchConfig{Contains: "trigger auth error"}, Status: 401, Message: "invalid api key"},
		},
	}
}

// LoadMockLLMConfig reads a scenario file.
func LoadMockLLMConfig(path string) (*MockLLMConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mock config: %w", err)
	}
	var cfg MockLLMConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse mock config %s: %w", path, err)
	}
	for _, r := range cfg.Responses {
		if err := r.Match.validate(); err != nil {
			return nil, fmt.Errorf("response rule %q: %w", r.Name, err)
		}
	}
	for _, r := range cfg.ToolRules {
		if err := r.Match.validate(); err != nil {
			return nil, fmt.Errorf("tool rule %q: %w", r.Name, err)
		}
	}
	return &cfg, nil
}

func (m MatchConfig) validate() error {
	if m.Regex == "" {
		return nil
	}
	_, err := regexp.Compile(m.Regex)
	return err
}

// Matches reports whether prompt satisfies every configured condition.
// An empty config never matches.
func (m MatchConfig) Matches(prompt string) bool {
	lower := strings.ToLower(prompt)
	matched := false

	if m.Exact != "" {
		if strings.TrimSpace(lower) != strings.ToLower(strings.TrimSpace(m.Exact)) {
			return false
		}
		matched = true
	}
	if m.Contains != "" {
		if !strings.Contains(lower, strings.ToLower(m.Contains)) {
			return false
		}
		matched = true
	}
	if len(m.ContainsAll) > 0 {
		for _, s := range m.ContainsAll {
			if !strings.Contains(lower, strings.ToLower(s)) {
				return false
			}
		}
		matched = true
	}
	if len(m.ContainsAny) > 0 {
		found := false
		for _, s := range m.ContainsAny {
			if strings.Contains(lower, strings.ToLower(s)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
		matched = true
	}
	if m.Regex != "" {
		re, err := regexp.Compile(m.Regex)
		if err != nil || !re.MatchString(prompt) {
			return false
		}
		matched = true
	}
	return matched
}

// FindMatchingResponse returns the highest priority response rule for prompt.
func (c *MockLLMConfig) FindMatchingResponse(prompt string) (ResponseRule, bool) {
	rules := append([]ResponseRule(nil), c.Responses...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	for _, r := range rules {
		if r.Match.Matches(prompt) {
			return r, true
		}
	}
	return ResponseRule{Response: c.Defaults.Fallback}, false
}

// FindMatchingToolRule returns the highest priority tool rule whose tool is
// among the offered tools.
func (c *MockLLMConfig) FindMatchingToolRule(prompt string, tools []string) *ToolRule {
	offered := make(map[string]bool, len(tools))
	for _, t := range tools {
		offered[strings.ToLower(t)] = true
	}
	rules := append([]ToolRule(nil), c.ToolRules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	for i := range rules {
		if offered[strings.ToLower(rules[i].Tool)] && rules[i].Match.Matches(prompt) {
			return &rules[i]
		}
	}
	return nil
}

// FindMatchingError returns the first error rule matching prompt.
func (c *MockLLMConfig) FindMatchingError(prompt string) *ErrorRule {
	for i := range c.Errors {
		if c.Errors[i].Match.Matches(prompt) {
			return &c.Errors[i]
		}
	}
	return nil
}
