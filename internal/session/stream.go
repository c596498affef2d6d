package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/cancel"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/emitter"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/logging"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/metrics"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/provider"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/sse"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/wire"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

const (
	emptyResponseText   = "The model returned an empty response."
	invalidArgumentText = "invalid tool arguments"
	missingToolNameText = "tool call without a name"

	malformedPayloadLimit = 200
)

// catalog returns the tools advertised to the model.
func (o *Orchestrator) catalog(cfg types.Config) []types.ToolSpec {
	if c, ok := o.tools.(Cataloger); ok {
		return c.Catalog()
	}
	return cfg.Tools
}

// callModel streams one model response into history.
func (o *Orchestrator) callModel(c *cycle) error {
	o.mu.Lock()
	if !o.current(c) {
		o.mu.Unlock()
		return nil
	}
	cfg := o.cfg
	msgs := wire.BuildMessages(o.messages, wire.Options{
		SystemPrompt:      cfg.SystemPrompt,
		AttachScreenshots: cfg.ScreenshotsEnabled(),
	})
	o.setStatusLocked(types.StatusSubmitted)
	o.mu.Unlock()

	req := wire.NewRequest(cfg.Model, msgs, o.catalog(cfg))
	ep := provider.Endpoint{
		URL:             cfg.Endpoint,
		APIKey:          cfg.APIKey,
		MaxRetries:      *cfg.Retry.MaxRetries,
		InitialInterval: time.Duration(cfg.Retry.InitialIntervalMs) * time.Millisecond,
	}

	o.log.Debug().
		Str("model", cfg.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("calling model")

	ctx := c.token.Context()
	body, err := o.transport.Stream(ctx, ep, &req)
	if err != nil {
		if c.token.IsCancelled() || cancel.IsCancellation(err) {
			metrics.RecordModelCall(metrics.ResultCancelled)
			o.log.Debug().Msg("model call cancelled")
			return nil
		}
		metrics.RecordModelCall(metrics.ResultError)
		var se *provider.StatusError
		if errors.As(err, &se) {
			o.log.Error().Int("statusCode", se.StatusCode).Str("detail", se.Detail).Msg("model request failed")
			o.appendSynthetic(c, types.SyntheticError, se.Error())
			o.markFailed(c)
			return nil
		}
		return fmt.Errorf("model request: %w", err)
	}
	defer body.Close()

	s := o.newStreamState(c, cfg)
	remove := c.token.OnCancel(s.em.Halt)
	defer remove()

	err = sse.ReadAll(ctx, body, s.handle)
	if err != nil {
		s.em.Halt()
		if c.token.IsCancelled() || cancel.IsCancellation(err) {
			metrics.RecordModelCall(metrics.ResultCancelled)
			o.log.Debug().Msg("stream cancelled")
			return nil
		}
		metrics.RecordModelCall(metrics.ResultError)
		return fmt.Errorf("read model stream: %w", err)
	}

	if err := s.em.Drain(ctx); err != nil {
		metrics.RecordModelCall(metrics.ResultCancelled)
		return nil
	}
	return s.finalize()
}

// streamState accumulates one streamed response.
type streamState struct {
	o *Orchestrator
	c *cycle

	// msg is the live assistant message in history, created lazily.
	msg       *types.Message
	text      *types.TextPart
	reasoning *types.ReasoningPart
	tools     map[int]*types.ToolPart
	sources   map[string]bool
	em        *emitter.Emitter
}

func (o *Orchestrator) newStreamState(c *cycle, cfg types.Config) *streamState {
	s := &streamState{
		o:       o,
		c:       c,
		tools:   make(map[int]*types.ToolPart),
		sources: make(map[string]bool),
	}
	s.em = emitter.New(emitter.Config{
		Interval:     time.Duration(*cfg.Emit.IntervalMs) * time.Millisecond,
		CharsPerTick: cfg.Emit.CharsPerTick,
	}, s.applyText)

	o.mu.Lock()
	c.emitter = s.em
	o.mu.Unlock()
	return s
}

// applyText renders characters released by the emitter.
func (s *streamState) applyText(chunk string) {
	s.o.mutate(s.c, func() {
		s.text.Text += chunk
		now := types.Now()
		s.msg.Time.Updated = &now
	})
}

// ensureMessageLocked creates the assistant message on first content.
func (s *streamState) ensureMessageLocked() {
	if s.msg != nil {
		return
	}
	s.msg = &types.Message{
		ID:   types.NewID(),
		Role: types.RoleAssistant,
		Time: types.MessageTime{Created: types.Now()},
	}
	s.o.messages = append(s.o.messages, s.msg)
	s.o.setStatusLocked(types.StatusStreaming)
}

func (s *streamState) handle(ev sse.Event) error {
	var chunk wire.StreamChunk
	if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
		metrics.RecordMalformedEvent()
		s.o.log.Warn().
			Err(err).
			Str("payload", logging.Truncate(ev.Data, malformedPayloadLimit)).
			Msg("skipping malformed stream payload")
		return nil
	}
	if chunk.Error != nil {
		return fmt.Errorf("model stream error: %s", chunk.Error.Message)
	}

	var text string
	s.o.mu.Lock()
	if !s.o.current(s.c) {
		s.o.mu.Unlock()
		return cancel.ErrCancelled
	}
	changed := false
	for _, choice := range chunk.Choices {
		delta := choice.Delta
		if choice.Message != nil && delta.Content == "" && len(delta.ToolCalls) == 0 {
			delta = *choice.Message
		}
		if delta.Content != "" {
			s.ensureMessageLocked()
			if s.text == nil {
				s.text = types.NewTextPart("")
				s.msg.Parts = append(s.msg.Parts, s.text)
				changed = true
			}
			text += delta.Content
		}
		if delta.ReasoningContent != "" {
			s.ensureMessageLocked()
			if s.reasoning == nil {
				s.reasoning = types.NewReasoningPart("")
				s.msg.Parts = append(s.msg.Parts, s.reasoning)
			}
			s.reasoning.Text += delta.ReasoningContent
			changed = true
		}
		for _, tc := range delta.ToolCalls {
			s.ensureMessageLocked()
			s.applyToolDeltaLocked(tc)
			changed = true
		}
		for _, a := range delta.Annotations {
			if a.URLCitation == nil || a.URLCitation.URL == "" || s.sources[a.URLCitation.URL] {
				continue
			}
			s.ensureMessageLocked()
			s.sources[a.URLCitation.URL] = true
			s.msg.Parts = append(s.msg.Parts, types.NewSourceURLPart(a.URLCitation.URL, a.URLCitation.Title))
			changed = true
		}
		if choice.FinishReason != "" && s.msg != nil {
			reason := choice.FinishReason
			s.msg.Finish = &reason
		}
	}
	if chunk.Usage != nil && s.msg != nil {
		s.msg.Tokens = &types.TokenUsage{
			Input:  chunk.Usage.PromptTokens,
			Output: chunk.Usage.CompletionTokens,
		}
	}
	if changed {
		s.o.publishMessagesLocked()
	}
	s.o.mu.Unlock()

	// Pushed outside the lock; the emitter calls back into mutate.
	s.em.Push(text)
	return nil
}

// applyToolDeltaLocked merges one tool call fragment.
func (s *streamState) applyToolDeltaLocked(tc wire.ToolCallDelta) {
	tp, ok := s.tools[tc.Index]
	if !ok {
		tp = types.NewToolPart(tc.ID, tc.Function.Name)
		s.tools[tc.Index] = tp
		s.msg.Parts = append(s.msg.Parts, tp)
		s.o.log.Debug().
			Str("toolName", tc.Function.Name).
			Str("toolCallID", tc.ID).
			Msg("tool call started")
	}
	if tp.ToolCallID == "" && tc.ID != "" {
		tp.ToolCallID = tc.ID
	}
	if tp.ToolName == "" && tc.Function.Name != "" {
		tp.ToolName = tc.Function.Name
	}
	if tc.Function.Arguments == "" {
		return
	}
	tp.RawInput += tc.Function.Arguments
	if tp.State == types.ToolInputStreaming && json.Valid([]byte(tp.RawInput)) {
		tp.Input = json.RawMessage(tp.RawInput)
		_ = tp.Transition(types.ToolInputAvailable)
	}
}

// finalize settles tool parts and replaces an empty turn with a warning.
func (s *streamState) finalize() error {
	o := s.o
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.current(s.c) {
		return nil
	}
	s.c.emitter = nil

	if s.msg == nil {
		metrics.RecordModelCall(metrics.ResultEmpty)
		o.log.Warn().Msg("model returned an empty response")
		o.messages = append(o.messages, &types.Message{
			ID:        types.NewID(),
			Role:      types.RoleAssistant,
			Parts:     []types.Part{types.NewTextPart(emptyResponseText)},
			Time:      types.MessageTime{Created: types.Now()},
			Synthetic: types.SyntheticWarning,
		})
		o.publishMessagesLocked()
		return nil
	}

	for _, tp := range s.msg.ToolParts() {
		settleToolInput(tp)
	}
	if !s.msg.HasUsableText() && len(s.msg.ToolParts()) == 0 {
		metrics.RecordModelCall(metrics.ResultEmpty)
		o.log.Warn().Str("messageID", s.msg.ID).Msg("model returned no text or tool calls")
		s.msg.Parts = append(s.msg.Parts, types.NewTextPart(emptyResponseText))
		s.msg.Synthetic = types.SyntheticWarning
	} else {
		metrics.RecordModelCall(metrics.ResultOK)
	}
	now := types.Now()
	s.msg.Time.Updated = &now
	o.publishMessagesLocked()
	return nil
}

// settleToolInput moves a tool part out of input-streaming once the stream
// has ended.
func settleToolInput(tp *types.ToolPart) {
	if tp.State.Terminal() {
		return
	}
	raw := tp.RawInput
	tp.RawInput = ""
	switch {
	case tp.ToolName == "":
		_ = tp.Fail(missingToolNameText)
	case raw == "":
		if len(tp.Input) == 0 {
			tp.Input = json.RawMessage(`{}`)
		}
	case json.Valid([]byte(raw)):
		tp.Input = json.RawMessage(raw)
	default:
		_ = tp.Fail(invalidArgumentText)
	}
	if tp.State == types.ToolInputStreaming {
		_ = tp.Transition(types.ToolInputAvailable)
	}
}
