package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Part type discriminators.
const (
	PartText      = "text"
	PartFile      = "file"
	PartContext   = "context"
	PartReasoning = "reasoning"
	PartSourceURL = "source-url"
	PartTool      = "tool"
)

// Part represents a component of a message. The set of implementations is
// closed; every part type lives in this file.
type Part interface {
	PartType() string
	PartID() string
	clonePart() Part
}

// NewID returns a new sortable identifier for messages and parts.
func NewID() string {
	return ulid.Make().String()
}

// Now returns the current time in unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// TextPart represents a text content part.
type TextPart struct {
	ID   string `json:"id"`
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

func NewTextPart(text string) *TextPart {
	return &TextPart{ID: NewID(), Type: PartText, Text: text}
}

func (p *TextPart) PartType() string { return PartText }
func (p *TextPart) PartID() string   { return p.ID }
func (p *TextPart) clonePart() Part  { c := *p; return &c }

// FilePart represents a file attachment. URL is usually a data URL.
type FilePart struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // always "file"
	MediaType string `json:"mediaType"`
	Filename  string `json:"filename,omitempty"`
	URL       string `json:"url"`
}

func NewFilePart(mediaType, filename, url string) *FilePart {
	return &FilePart{ID: NewID(), Type: PartFile, MediaType: mediaType, Filename: filename, URL: url}
}

func (p *FilePart) PartType() string { return PartFile }
func (p *FilePart) PartID() string   { return p.ID }
func (p *FilePart) clonePart() Part  { c := *p; return &c }

// ContextPart is user-attached context, such as the content of a tab.
type ContextPart struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"` // always "context"
	ContextType string            `json:"contextType"`
	Label       string            `json:"label"`
	Value       string            `json:"value"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func NewContextPart(contextType, label, value string, metadata map[string]string) *ContextPart {
	return &ContextPart{
		ID:          NewID(),
		Type:        PartContext,
		ContextType: contextType,
		Label:       label,
		Value:       value,
		Metadata:    metadata,
	}
}

func (p *ContextPart) PartType() string { return PartContext }
func (p *ContextPart) PartID() string   { return p.ID }
func (p *ContextPart) clonePart() Part {
	c := *p
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ReasoningPart represents model reasoning content.
type ReasoningPart struct {
	ID   string `json:"id"`
	Type string `json:"type"` // always "reasoning"
	Text string `json:"text"`
}

func NewReasoningPart(text string) *ReasoningPart {
	return &ReasoningPart{ID: NewID(), Type: PartReasoning, Text: text}
}

func (p *ReasoningPart) PartType() string { return PartReasoning }
func (p *ReasoningPart) PartID() string   { return p.ID }
func (p *ReasoningPart) clonePart() Part  { c := *p; return &c }

// SourceURLPart is a citation emitted by the model.
type SourceURLPart struct {
	ID    string `json:"id"`
	Type  string `json:"type"` // always "source-url"
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

func NewSourceURLPart(url, title string) *SourceURLPart {
	return &SourceURLPart{ID: NewID(), Type: PartSourceURL, URL: url, Title: title}
}

func (p *SourceURLPart) PartType() string { return PartSourceURL }
func (p *SourceURLPart) PartID() string   { return p.ID }
func (p *SourceURLPart) clonePart() Part  { c := *p; return &c }

// ToolState is the lifecycle state of a tool part.
type ToolState string

const (
	ToolInputStreaming  ToolState = "input-streaming"
	ToolInputAvailable  ToolState = "input-available"
	ToolExecuting       ToolState = "executing"
	ToolOutputAvailable ToolState = "output-available"
	ToolOutputError     ToolState = "output-error"
)

var toolTransitions = map[ToolState][]ToolState{
	ToolInputStreaming: {ToolInputAvailable, ToolOutputError},
	ToolInputAvailable: {ToolExecuting, ToolOutputError},
	ToolExecuting:      {ToolOutputAvailable, ToolOutputError},
}

// Terminal reports whether the state is a resolved one.
func (s ToolState) Terminal() bool {
	return s == ToolOutputAvailable || s == ToolOutputError
}

// CanTransition reports whether moving from s to next is allowed.
func (s ToolState) CanTransition(next ToolState) bool {
	for _, allowed := range toolTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ToolPart represents a tool call and its result.
type ToolPart struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"` // always "tool"
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input,omitempty"`
	State      ToolState       `json:"state"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
	Screenshot string          `json:"screenshot,omitempty"`

	// RawInput holds argument text while the call is still streaming.
	RawInput string `json:"rawInput,omitempty"`
}

func NewToolPart(toolCallID, toolName string) *ToolPart {
	return &ToolPart{
		ID:         NewID(),
		Type:       PartTool,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		State:      ToolInputStreaming,
	}
}

func (p *ToolPart) PartType() string { return PartTool }
func (p *ToolPart) PartID() string   { return p.ID }
func (p *ToolPart) clonePart() Part {
	c := *p
	c.Input = cloneRaw(p.Input)
	c.Output = cloneRaw(p.Output)
	return &c
}

// Transition moves the part to next, rejecting moves the state machine
// does not allow.
func (p *ToolPart) Transition(next ToolState) error {
	if !p.State.CanTransition(next) {
		return fmt.Errorf("tool %s: invalid transition %s -> %s", p.ToolCallID, p.State, next)
	}
	p.State = next
	return nil
}

// Resolve marks an executing part as succeeded.
func (p *ToolPart) Resolve(output json.RawMessage, screenshot string) error {
	if err := p.Transition(ToolOutputAvailable); err != nil {
		return err
	}
	p.Output = output
	p.Screenshot = screenshot
	return nil
}

// Fail marks the part as failed with the given error text.
func (p *ToolPart) Fail(errText string) error {
	if err := p.Transition(ToolOutputError); err != nil {
		return err
	}
	p.ErrorText = errText
	return nil
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}

type rawPart struct {
	Type string `json:"type"`
}

// UnmarshalPart unmarshals a JSON part into the appropriate type.
func UnmarshalPart(data []byte) (Part, error) {
	var raw rawPart
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var p Part
	switch raw.Type {
	case PartText:
		p = &TextPart{}
	case PartFile:
		p = &FilePart{}
	case PartContext:
		p = &ContextPart{}
	case PartReasoning:
		p = &ReasoningPart{}
	case PartSourceURL:
		p = &SourceURLPart{}
	case PartTool:
		p = &ToolPart{}
	default:
		return nil, fmt.Errorf("unknown part type %q", raw.Type)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}
