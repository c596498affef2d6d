package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// Options tune how history is rendered for the model.
type Options struct {
	// SystemPrompt, when set, is sent as the leading system message.
	SystemPrompt string
	// AttachScreenshots appends screenshots captured before action tools as
	// a user image message after the tool results of that turn.
	AttachScreenshots bool
}

// BuildMessages converts history into the outbound messages array.
//
// History is scanned in order. The first assistant message whose tool parts
// are not all terminal is still in flight: it and everything after it are
// left out of the payload.
func BuildMessages(history []*types.Message, opts Options) []Message {
	var out []Message
	if opts.SystemPrompt != "" {
		out = append(out, Message{Role: string(types.RoleSystem), Content: opts.SystemPrompt})
	}

	for _, msg := range history {
		if msg.Role == types.RoleAssistant && !msg.ToolsResolved() {
			break
		}
		switch msg.Role {
		case types.RoleUser:
			out = append(out, buildUser(msg)...)
		case types.RoleAssistant:
			out = append(out, buildAssistant(msg, opts)...)
		case types.RoleTool:
			out = append(out, toolResults(msg.ID, msg.ToolParts())...)
		case types.RoleSystem:
			if text := msg.Text(); text != "" {
				out = append(out, Message{Role: string(types.RoleSystem), Content: text})
			}
		}
	}
	return out
}

func buildUser(msg *types.Message) []Message {
	var out []Message
	if contexts := msg.ContextParts(); len(contexts) > 0 {
		out = append(out, Message{Role: string(types.RoleSystem), Content: RenderContexts(contexts)})
	}

	text := msg.Text()
	files := msg.FileParts()
	if len(files) == 0 {
		if text == "" && len(out) > 0 {
			return out
		}
		return append(out, Message{Role: string(types.RoleUser), Content: text})
	}

	content := make([]ContentPart, 0, len(files)+1)
	if text != "" {
		content = append(content, ContentPart{Type: "text", Text: text})
	}
	for _, f := range files {
		content = append(content, filePart(f))
	}
	return append(out, Message{Role: string(types.RoleUser), Content: content})
}

func filePart(f *types.FilePart) ContentPart {
	if strings.HasPrefix(f.MediaType, "image/") {
		return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: f.URL}}
	}
	name := f.Filename
	if name == "" {
		name = "unnamed"
	}
	return ContentPart{Type: "text", Text: fmt.Sprintf("[Attached file: %s (%s)]", name, f.MediaType)}
}

func buildAssistant(msg *types.Message, opts Options) []Message {
	if msg.Synthetic != "" {
		return nil
	}
	tools := msg.ToolParts()
	text := msg.Text()
	if text == "" && len(tools) == 0 {
		return nil
	}

	am := Message{Role: string(types.RoleAssistant)}
	if text != "" {
		am.Content = text
	}
	for i, tp := range tools {
		am.ToolCalls = append(am.ToolCalls, ToolCall{
			ID:   ToolCallID(msg.ID, tp, i),
			Type: "function",
			Function: FunctionCall{
				Name:      tp.ToolName,
				Arguments: arguments(tp),
			},
		})
	}

	out := []Message{am}
	if len(tools) == 0 {
		return out
	}
	out = append(out, toolResults(msg.ID, tools)...)
	if opts.AttachScreenshots {
		if shots := screenshotMessage(tools); shots != nil {
			out = append(out, *shots)
		}
	}
	return out
}

func toolResults(messageID string, tools []*types.ToolPart) []Message {
	out := make([]Message, 0, len(tools))
	for i, tp := range tools {
		if !tp.State.Terminal() {
			continue
		}
		out = append(out, Message{
			Role:       string(types.RoleTool),
			Content:    ResultPayload(tp),
			ToolCallID: ToolCallID(messageID, tp, i),
		})
	}
	return out
}

func screenshotMessage(tools []*types.ToolPart) *Message {
	var content []ContentPart
	for _, tp := range tools {
		if tp.Screenshot == "" {
			continue
		}
		content = append(content,
			ContentPart{Type: "text", Text: fmt.Sprintf("Screenshot taken before %s:", tp.ToolName)},
			ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: tp.Screenshot}},
		)
	}
	if len(content) == 0 {
		return nil
	}
	return &Message{Role: string(types.RoleUser), Content: content}
}

// ToolCallID returns the explicit call id of tp, or one derived from the
// owning message id, tool name and position.
func ToolCallID(messageID string, tp *types.ToolPart, index int) string {
	if tp.ToolCallID != "" {
		return tp.ToolCallID
	}
	return fmt.Sprintf("%s_%s_%d", messageID, tp.ToolName, index)
}

func arguments(tp *types.ToolPart) string {
	if len(tp.Input) == 0 {
		return "{}"
	}
	return string(tp.Input)
}

// ResultPayload encodes the resolved outcome of a tool part.
func ResultPayload(tp *types.ToolPart) string {
	var res ToolResult
	if tp.State == types.ToolOutputAvailable {
		res = ToolResult{Success: true, Data: tp.Output}
	} else {
		errText := tp.ErrorText
		if errText == "" {
			errText = "tool failed"
		}
		res = ToolResult{Success: false, Error: errText}
	}
	data, err := json.Marshal(res)
	if err != nil {
		// Output was not valid JSON; send it as a string.
		data, _ = json.Marshal(struct {
			Success bool   `json:"success"`
			Data    string `json:"data"`
		}{true, string(tp.Output)})
	}
	return string(data)
}

// NewRequest assembles a streaming request body.
func NewRequest(model string, messages []Message, tools []types.ToolSpec) ChatRequest {
	req := ChatRequest{
		Model:    model,
		Stream:   true,
		Messages: messages,
	}
	for _, spec := range tools {
		params := spec.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		req.Tools = append(req.Tools, Tool{
			Type: "function",
			Function: Function{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}
	return req
}
