// Package headless runs a single prompt against a conversation without the
// HTTP server and prints its progress.
package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/event"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/session"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// abortGrace bounds how long a timed out run waits for the abort to settle.
const abortGrace = 5 * time.Second

// Runner executes prompts in headless mode.
type Runner struct {
	config  *Config
	service *session.Service
}

// NewRunner creates a runner over an already wired service.
func NewRunner(cfg *Config, service *session.Service) *Runner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Runner{config: cfg, service: service}
}

// Run sends the prompt, waits for the cycle to settle and returns the
// result. The returned error is non-nil whenever the result is not a
// success; the result is always non-nil.
func (r *Runner) Run(ctx context.Context, writer io.Writer) (*Result, error) {
	start := time.Now()
	result := &Result{Model: r.service.Config().Model}
	fail := func(code ExitCode, status string, err error) (*Result, error) {
		result.Status = status
		result.ExitCode = code
		result.Error = err.Error()
		result.DurationMS = time.Since(start).Milliseconds()
		return result, err
	}

	prompt, contexts, err := r.input()
	if err != nil {
		return fail(ExitInvalidInput, StatusError, err)
	}
	if prompt == "" && len(contexts) == 0 {
		return fail(ExitInvalidInput, StatusError, errors.New("prompt is required"))
	}

	conv, err := r.conversation(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fail(ExitConversationNotFound, StatusError, err)
		}
		return fail(ExitError, StatusError, err)
	}
	result.ConversationID = conv.ID()

	printer := NewPrinter(writer, r.config.OutputFormat, r.config.Quiet, r.config.Verbose)
	history := conv.Messages()
	printer.Skip(history)
	unsub := r.service.Bus().SubscribeAll(func(e event.Event) {
		if e.ConversationID == conv.ID() {
			printer.Handle(e)
		}
	})
	defer unsub()

	if _, err := conv.SendMessage(prompt, nil, contexts); err != nil {
		return fail(ExitInvalidInput, StatusError, err)
	}

	runCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}
	waitErr := conv.Wait(runCtx)
	if waitErr != nil {
		conv.Abort()
		graceCtx, cancel := context.WithTimeout(context.Background(), abortGrace)
		conv.Wait(graceCtx)
		cancel()
	}
	r.flush()

	summarize(result, conv.Messages()[len(history):])
	result.DurationMS = time.Since(start).Milliseconds()

	switch {
	case waitErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return fail(ExitTimeout, StatusTimeout, fmt.Errorf("timed out after %s", r.config.Timeout))
	case waitErr != nil:
		return fail(ExitError, StatusError, waitErr)
	case conv.Status() == types.StatusError:
		msg := result.Error
		if msg == "" {
			msg = "conversation ended in error"
		}
		return fail(ExitError, StatusError, errors.New(msg))
	}

	result.Status = StatusSuccess
	result.ExitCode = ExitSuccess
	printer.PrintResult(result)
	return result, nil
}

func (r *Runner) conversation(ctx context.Context) (*session.Orchestrator, error) {
	if r.config.ConversationID != "" {
		return r.service.Get(ctx, r.config.ConversationID)
	}
	return r.service.Create(ctx)
}

// input assembles the prompt from the flag and stdin, and reads attached
// files into file contexts.
func (r *Runner) input() (string, []*types.ContextPart, error) {
	prompt := r.config.Prompt
	if r.config.Stdin != nil {
		data, err := io.ReadAll(r.config.Stdin)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		if stdin := strings.TrimSpace(string(data)); stdin != "" {
			if prompt != "" {
				prompt += "\n\n" + stdin
			} else {
				prompt = stdin
			}
		}
	}

	var contexts []*types.ContextPart
	for _, file := range r.config.Files {
		content, err := os.ReadFile(file)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read file %s: %w", file, err)
		}
		contexts = append(contexts, types.NewContextPart("file", file, string(content), nil))
	}
	return strings.TrimSpace(prompt), contexts, nil
}

// flush waits until the printer has seen every event published so far.
func (r *Runner) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), abortGrace)
	defer cancel()
	r.service.Bus().Flush(ctx)
}

// summarize fills the result from the messages the run added.
func summarize(result *Result, added []*types.Message) {
	for _, msg := range added {
		if msg.Role != types.RoleAssistant && msg.Role != types.RoleTool {
			continue
		}
		if msg.Synthetic == types.SyntheticError {
			result.Error = msg.Text()
			continue
		}
		if msg.Synthetic != "" {
			continue
		}
		if msg.Role == types.RoleAssistant {
			result.Steps++
			if msg.HasUsableText() {
				result.FinalMessage = msg.Text()
			}
			if msg.Tokens != nil {
				if result.Tokens == nil {
					result.Tokens = &types.TokenUsage{}
				}
				result.Tokens.Input += msg.Tokens.Input
				result.Tokens.Output += msg.Tokens.Output
			}
		}
		for _, tool := range msg.ToolParts() {
			if !tool.State.Terminal() {
				continue
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				Tool:   tool.ToolName,
				Input:  tool.Input,
				Output: truncateOutput(string(tool.Output), 500),
				Error:  tool.ErrorText,
			})
		}
	}
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
