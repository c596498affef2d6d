package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/cancel"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/metrics"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/toolcall"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

const (
	cancelledToolText   = "Tool execution was cancelled"
	noCapabilityText    = "no tool capability is configured"
	toolTimeoutTextFmt  = "tool %s timed out after %s"
	emptyToolFailureMsg = "tool failed"
)

// toolJob is one tool call to run, copied out of history.
type toolJob struct {
	callID    string
	partID    string
	name      string
	input     json.RawMessage
	messageID string
}

// toolOutcome is the terminal state a job resolves to.
type toolOutcome struct {
	partID     string
	ok         bool
	output     json.RawMessage
	errText    string
	screenshot string
}

// executeTools runs every input-available tool part of the last assistant
// message concurrently and writes the outcomes back in one update.
func (o *Orchestrator) executeTools(c *cycle) error {
	var (
		jobs       []toolJob
		timeout    time.Duration
		screenshot bool
	)
	ok := o.mutate(c, func() {
		last := o.messages[len(o.messages)-1]
		for _, tp := range last.ToolsInState(types.ToolInputAvailable) {
			if err := tp.Transition(types.ToolExecuting); err != nil {
				continue
			}
			jobs = append(jobs, toolJob{
				callID:    tp.ToolCallID,
				partID:    tp.ID,
				name:      tp.ToolName,
				input:     append(json.RawMessage(nil), tp.Input...),
				messageID: last.ID,
			})
		}
		timeout = time.Duration(o.cfg.ToolTimeoutMs) * time.Millisecond
		screenshot = o.cfg.ScreenshotsEnabled()
	})
	if !ok || len(jobs) == 0 {
		return nil
	}

	outcomes := make([]toolOutcome, len(jobs))
	g, gctx := errgroup.WithContext(c.token.Context())
	for i, job := range jobs {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					o.log.Error().
						Interface("panic", r).
						Str("toolName", job.name).
						Str("stack", string(debug.Stack())).
						Msg("tool coordinator panicked")
					err = fmt.Errorf("tool %s: %v", job.name, r)
				}
			}()
			outcomes[i] = o.runTool(gctx, c, job, timeout, screenshot)
			return nil
		})
	}
	runErr := g.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.current(c) {
		// Abort or StopStream already resolved the pending parts.
		return nil
	}
	msg := o.findMessageLocked(jobs[0].messageID)
	if msg == nil {
		return nil
	}
	for _, out := range outcomes {
		tp := findPart(msg, out.partID)
		if tp == nil || tp.State != types.ToolExecuting || out.partID == "" {
			continue
		}
		if out.ok {
			_ = tp.Resolve(out.output, out.screenshot)
		} else {
			_ = tp.Fail(out.errText)
		}
	}
	if runErr != nil {
		for _, tp := range msg.ToolsInState(types.ToolExecuting) {
			_ = tp.Fail(runErr.Error())
		}
	}
	o.publishMessagesLocked()

	if runErr != nil && cancel.IsCancellation(runErr) {
		return runErr
	}
	return nil
}

// runTool invokes a single tool and maps its result to a terminal outcome.
func (o *Orchestrator) runTool(ctx context.Context, c *cycle, job toolJob, timeout time.Duration, screenshot bool) toolOutcome {
	out := toolOutcome{partID: job.partID}
	log := o.log.With().Str("toolName", job.name).Str("toolCallID", job.callID).Logger()

	if c.token.IsCancelled() {
		metrics.RecordToolCall(metrics.OutcomeCancelled)
		out.errText = cancelledToolText
		return out
	}
	if o.tools == nil {
		metrics.RecordToolCall(metrics.OutcomeFailure)
		out.errText = noCapabilityText
		return out
	}

	if screenshot && o.tools.IsActionTool(job.name) {
		shot, err := o.tools.CaptureScreenshot(ctx)
		switch {
		case err == nil:
			out.screenshot = shot
		case errors.Is(err, toolcall.ErrScreenshotUnsupported):
			log.Trace().Msg("screenshot unsupported")
		default:
			log.Warn().Err(err).Msg("screenshot capture failed")
		}
	}

	callCtx, cancelCall := context.WithTimeout(ctx, timeout)
	defer cancelCall()

	type callResult struct {
		res toolcall.Result
		err error
	}
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("tool %s panicked: %v", job.name, r)}
			}
		}()
		res, err := o.tools.CallTool(callCtx, job.name, job.input, job.messageID)
		done <- callResult{res: res, err: err}
	}()

	start := time.Now()
	var r callResult
	select {
	case r = <-done:
	case <-callCtx.Done():
		r.err = callCtx.Err()
	}

	switch {
	case c.token.IsCancelled() || errors.Is(r.err, cancel.ErrCancelled):
		metrics.RecordToolCall(metrics.OutcomeCancelled)
		log.Debug().Msg("tool cancelled")
		out.errText = cancelledToolText
	case errors.Is(r.err, context.DeadlineExceeded) && callCtx.Err() != nil && ctx.Err() == nil:
		metrics.RecordToolCall(metrics.OutcomeFailure)
		log.Warn().Dur("timeout", timeout).Msg("tool timed out")
		out.errText = fmt.Sprintf(toolTimeoutTextFmt, job.name, timeout)
	case r.err != nil:
		metrics.RecordToolCall(metrics.OutcomeFailure)
		log.Warn().Err(r.err).Msg("tool call failed")
		out.errText = r.err.Error()
	case !r.res.Success:
		metrics.RecordToolCall(metrics.OutcomeFailure)
		out.errText = r.res.Error
		if out.errText == "" {
			out.errText = emptyToolFailureMsg
		}
		log.Debug().Str("error", out.errText).Msg("tool reported failure")
	default:
		metrics.RecordToolCall(metrics.OutcomeSuccess)
		out.ok = true
		out.output = r.res.Data
		if len(out.output) == 0 {
			out.output = json.RawMessage(`null`)
		}
		log.Debug().Dur("elapsed", time.Since(start)).Msg("tool succeeded")
	}
	return out
}

// failPendingToolsLocked resolves every unresolved tool part in history as
// failed, whether it was still streaming, waiting to run or executing. It
// reports whether anything changed.
func (o *Orchestrator) failPendingToolsLocked(errText string) bool {
	changed := false
	for _, msg := range o.messages {
		if msg.Role != types.RoleAssistant {
			continue
		}
		for _, tp := range msg.ToolParts() {
			if tp.State.Terminal() {
				continue
			}
			tp.RawInput = ""
			if tp.Fail(errText) == nil {
				changed = true
			}
		}
	}
	return changed
}

func (o *Orchestrator) findMessageLocked(id string) *types.Message {
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].ID == id {
			return o.messages[i]
		}
	}
	return nil
}

func findPart(msg *types.Message, partID string) *types.ToolPart {
	for _, tp := range msg.ToolParts() {
		if tp.ID == partID {
			return tp
		}
	}
	return nil
}
