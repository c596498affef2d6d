package types

import (
	"encoding/json"
	"testing"
)

func TestMessage_JSONKeepsPartTypes(t *testing.T) {
	tool := NewToolPart("call_1", "get_current_tab")
	tool.State = ToolOutputAvailable
	tool.Input = json.RawMessage(`{}`)
	tool.Output = json.RawMessage(`{"title":"Example"}`)

	msg := &Message{
		ID:   "msg-1",
		Role: RoleAssistant,
		Parts: []Part{
			NewReasoningPart("thinking"),
			NewTextPart("hi there"),
			tool,
			NewSourceURLPart("https://example.com", "Example"),
		},
		Time: MessageTime{Created: 1700000000000},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if len(decoded.Parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(decoded.Parts))
	}
	wantTypes := []string{PartReasoning, PartText, PartTool, PartSourceURL}
	for i, p := range decoded.Parts {
		if p.PartType() != wantTypes[i] {
			t.Errorf("part %d: got type %s, want %s", i, p.PartType(), wantTypes[i])
		}
	}
	got := decoded.Parts[2].(*ToolPart)
	if got.State != ToolOutputAvailable || got.ToolCallID != "call_1" {
		t.Errorf("tool part mismatch: %+v", got)
	}
	if string(got.Output) != `{"title":"Example"}` {
		t.Errorf("output mismatch: %s", got.Output)
	}
}

func TestMessage_EmptyPartsMarshalAsArray(t *testing.T) {
	data, err := json.Marshal(Message{ID: "m", Role: RoleUser})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if parts, ok := raw["parts"].([]any); !ok || len(parts) != 0 {
		t.Errorf("expected empty parts array, got %v", raw["parts"])
	}
}

func TestUnmarshalPart_UnknownType(t *testing.T) {
	if _, err := UnmarshalPart([]byte(`{"type":"hologram"}`)); err == nil {
		t.Error("expected error for unknown part type")
	}
}

func TestMessage_CloneIsDeep(t *testing.T) {
	tool := NewToolPart("call_1", "click")
	tool.Input = json.RawMessage(`{"selector":"#a"}`)
	msg := &Message{ID: "m", Role: RoleAssistant, Parts: []Part{NewTextPart("a"), tool}}

	clone := msg.Clone()
	msg.AppendText("b")
	tool.State = ToolExecuting
	tool.Input[2] = 'X'

	if clone.Text() != "a" {
		t.Errorf("clone text changed: %q", clone.Text())
	}
	ct := clone.ToolParts()[0]
	if ct.State != ToolInputStreaming {
		t.Errorf("clone tool state changed: %s", ct.State)
	}
	if string(ct.Input) != `{"selector":"#a"}` {
		t.Errorf("clone input changed: %s", ct.Input)
	}
}

func TestMessage_AppendText(t *testing.T) {
	msg := &Message{Role: RoleAssistant}
	msg.AppendText("hi ")
	msg.AppendText("there")
	if len(msg.Parts) != 1 || msg.Text() != "hi there" {
		t.Fatalf("unexpected parts: %d %q", len(msg.Parts), msg.Text())
	}

	msg.Parts = append(msg.Parts, NewToolPart("c", "t"))
	msg.AppendText("after")
	if len(msg.Parts) != 3 {
		t.Errorf("expected a new text part after a tool part, got %d parts", len(msg.Parts))
	}
}

func TestToolState_Transitions(t *testing.T) {
	tests := []struct {
		from, to ToolState
		ok       bool
	}{
		{ToolInputStreaming, ToolInputAvailable, true},
		{ToolInputStreaming, ToolExecuting, false},
		{ToolInputAvailable, ToolExecuting, true},
		{ToolInputAvailable, ToolOutputError, true},
		{ToolExecuting, ToolOutputAvailable, true},
		{ToolExecuting, ToolOutputError, true},
		{ToolOutputAvailable, ToolExecuting, false},
		{ToolOutputError, ToolOutputAvailable, false},
		{ToolExecuting, ToolInputAvailable, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestToolPart_ResolveRequiresExecuting(t *testing.T) {
	p := NewToolPart("c", "t")
	if err := p.Resolve(json.RawMessage(`1`), ""); err == nil {
		t.Error("expected error resolving a streaming part")
	}
	p.State = ToolExecuting
	if err := p.Resolve(json.RawMessage(`1`), "data:image/png;base64,AA"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !p.State.Terminal() || p.Screenshot == "" {
		t.Errorf("unexpected part after resolve: %+v", p)
	}
	if err := p.Fail("late"); err == nil {
		t.Error("terminal part must reject further transitions")
	}
}

func TestMessage_ToolsResolved(t *testing.T) {
	a := NewToolPart("a", "t")
	b := NewToolPart("b", "t")
	msg := &Message{Role: RoleAssistant, Parts: []Part{a, b}}
	if msg.ToolsResolved() {
		t.Error("streaming tools are not resolved")
	}
	a.State = ToolOutputAvailable
	b.State = ToolOutputError
	if !msg.ToolsResolved() {
		t.Error("expected resolved")
	}
	if msg.FindTool("b") != b {
		t.Error("FindTool returned wrong part")
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{Emit: EmitConfig{IntervalMs: IntPtr(0)}}.WithDefaults()
	if c.MaxIterations != DefaultMaxIterations {
		t.Errorf("MaxIterations = %d", c.MaxIterations)
	}
	if *c.Emit.IntervalMs != 0 {
		t.Errorf("explicit zero interval must be kept, got %d", *c.Emit.IntervalMs)
	}
	if *c.Retry.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d", *c.Retry.MaxRetries)
	}
	if !c.ScreenshotsEnabled() {
		t.Error("screenshots default on")
	}
}
