package types

import (
	"encoding/json"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Status is the externally visible state of a conversation.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// Synthetic markers for messages authored by the engine rather than the model.
const (
	SyntheticError   = "error"
	SyntheticWarning = "warning"
)

// Message is one turn of a conversation. Parts are mutated in place while the
// turn streams and are left untouched once the turn completes.
type Message struct {
	ID    string      `json:"id"`
	Role  Role        `json:"role"`
	Parts []Part      `json:"-"`
	Time  MessageTime `json:"time"`

	// Assistant-specific fields
	Finish    *string     `json:"finish,omitempty"`
	Tokens    *TokenUsage `json:"tokens,omitempty"`
	Synthetic string      `json:"synthetic,omitempty"` // "error" | "warning"
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// TokenUsage contains token usage reported by the endpoint.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// MarshalJSON encodes the message with its parts as a typed array.
func (m Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	parts := m.Parts
	if parts == nil {
		parts = []Part{}
	}
	return json.Marshal(struct {
		Alias
		Parts []Part `json:"parts"`
	}{
		Alias: Alias(m),
		Parts: parts,
	})
}

// UnmarshalJSON decodes the message, dispatching each part on its type.
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := struct {
		*Alias
		Parts []json.RawMessage `json:"parts"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.Parts = make([]Part, 0, len(aux.Parts))
	for _, raw := range aux.Parts {
		part, err := UnmarshalPart(raw)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

// Clone returns a deep copy of the message. Event subscribers only ever see
// clones, so they can hold on to them while the original keeps streaming.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Finish != nil {
		finish := *m.Finish
		c.Finish = &finish
	}
	if m.Tokens != nil {
		tokens := *m.Tokens
		c.Tokens = &tokens
	}
	if m.Time.Updated != nil {
		updated := *m.Time.Updated
		c.Time.Updated = &updated
	}
	c.Parts = make([]Part, len(m.Parts))
	for i, p := range m.Parts {
		c.Parts[i] = p.clonePart()
	}
	return &c
}

// CloneMessages deep-copies a slice of messages.
func CloneMessages(msgs []*Message) []*Message {
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Text concatenates every text part of the message.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// HasUsableText reports whether any text part has non-whitespace content.
func (m *Message) HasUsableText() bool {
	return strings.TrimSpace(m.Text()) != ""
}

// ToolParts returns the tool parts of the message in order.
func (m *Message) ToolParts() []*ToolPart {
	var tools []*ToolPart
	for _, p := range m.Parts {
		if tp, ok := p.(*ToolPart); ok {
			tools = append(tools, tp)
		}
	}
	return tools
}

// ToolsInState returns the tool parts currently in the given state.
func (m *Message) ToolsInState(state ToolState) []*ToolPart {
	var tools []*ToolPart
	for _, tp := range m.ToolParts() {
		if tp.State == state {
			tools = append(tools, tp)
		}
	}
	return tools
}

// ToolsResolved reports whether every tool part is terminal. A message with
// no tool parts is trivially resolved.
func (m *Message) ToolsResolved() bool {
	for _, tp := range m.ToolParts() {
		if !tp.State.Terminal() {
			return false
		}
	}
	return true
}

// FindTool returns the tool part with the given call id.
func (m *Message) FindTool(toolCallID string) *ToolPart {
	for _, tp := range m.ToolParts() {
		if tp.ToolCallID == toolCallID {
			return tp
		}
	}
	return nil
}

// AppendText appends to the trailing text part, starting a new one when the
// last part is not text.
func (m *Message) AppendText(s string) {
	if n := len(m.Parts); n > 0 {
		if tp, ok := m.Parts[n-1].(*TextPart); ok {
			tp.Text += s
			return
		}
	}
	m.Parts = append(m.Parts, NewTextPart(s))
}

// ContextParts returns the context parts of the message.
func (m *Message) ContextParts() []*ContextPart {
	var out []*ContextPart
	for _, p := range m.Parts {
		if cp, ok := p.(*ContextPart); ok {
			out = append(out, cp)
		}
	}
	return out
}

// FileParts returns the file parts of the message.
func (m *Message) FileParts() []*FilePart {
	var out []*FilePart
	for _, p := range m.Parts {
		if fp, ok := p.(*FilePart); ok {
			out = append(out, fp)
		}
	}
	return out
}
