package session

import (
	"fmt"
	"runtime/debug"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/cancel"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/metrics"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

const iterationLimitText = "Reached the maximum number of steps for this turn. Send another message to continue."

// step is what the loop does next, decided from the last message.
type step int

const (
	stepDone step = iota
	stepModel
	stepTools
	stepEmpty
)

// run executes one cycle. It owns c until finish.
func (o *Orchestrator) run(c *cycle) {
	defer o.finish(c)
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("cycle panicked")
			o.fail(c, fmt.Errorf("internal error: %v", r))
		}
	}()

	metrics.RecordCycle()
	o.setStatus(c, types.StatusSubmitted)

	if err := o.runLoop(c); err != nil && !cancel.IsCancellation(err) {
		o.fail(c, err)
	}
}

func (o *Orchestrator) runLoop(c *cycle) error {
	for iteration := 0; ; iteration++ {
		if c.token.IsCancelled() {
			return nil
		}

		o.mu.Lock()
		if !o.current(c) {
			o.mu.Unlock()
			return nil
		}
		limit := o.cfg.MaxIterations
		if iteration >= limit {
			o.mu.Unlock()
			o.log.Warn().Int("iterations", iteration).Msg("iteration limit reached")
			metrics.RecordIterationLimit()
			o.appendSynthetic(c, types.SyntheticError, iterationLimitText)
			o.markFailed(c)
			return nil
		}
		o.drainQueueLocked()
		next := o.nextStepLocked()
		o.mu.Unlock()

		o.log.Trace().Int("iteration", iteration).Int("step", int(next)).Msg("loop step")

		switch next {
		case stepModel:
			if err := o.callModel(c); err != nil {
				return err
			}
			if o.cycleFailed(c) {
				return nil
			}
		case stepTools:
			if err := o.executeTools(c); err != nil {
				return err
			}
		case stepEmpty:
			o.log.Debug().Msg("assistant turn was empty, stopping")
			return nil
		default:
			return nil
		}
	}
}

// nextStepLocked inspects the last message.
func (o *Orchestrator) nextStepLocked() step {
	if len(o.messages) == 0 {
		return stepDone
	}
	last := o.messages[len(o.messages)-1]
	switch last.Role {
	case types.RoleUser, types.RoleTool:
		return stepModel
	case types.RoleAssistant:
		if last.Synthetic != "" {
			return stepDone
		}
		tools := last.ToolParts()
		if len(tools) == 0 {
			if !last.HasUsableText() {
				return stepEmpty
			}
			return stepDone
		}
		if len(last.ToolsInState(types.ToolInputAvailable)) > 0 {
			return stepTools
		}
		if last.ToolsResolved() {
			return stepModel
		}
	}
	return stepDone
}

// drainQueueLocked moves queued messages into history, in order.
func (o *Orchestrator) drainQueueLocked() {
	if len(o.queue) == 0 {
		return
	}
	o.messages = append(o.messages, o.queue...)
	o.queue = nil
	o.publishQueueLocked()
	o.publishMessagesLocked()
}

// fail records err as a visible error message and leaves the status at
// "error".
func (o *Orchestrator) fail(c *cycle, err error) {
	o.log.Error().Err(err).Msg("cycle failed")
	o.appendSynthetic(c, types.SyntheticError, err.Error())
	o.markFailed(c)
}

func (o *Orchestrator) markFailed(c *cycle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.current(c) {
		return
	}
	c.failed = true
	o.setStatusLocked(types.StatusError)
}

func (o *Orchestrator) cycleFailed(c *cycle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return c.failed
}

// finish settles the cycle. Messages queued while it ran start a new cycle,
// even when it failed; a failed cycle with nothing queued leaves the status
// at "error".
func (o *Orchestrator) finish(c *cycle) {
	defer c.token.Release()

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.current(c) {
		return
	}
	o.cycle = nil

	if len(o.queue) > 0 && !o.destroyed {
		o.drainQueueLocked()
		o.scheduleLocked()
		return
	}
	o.endCycleLocked()
	if !c.failed {
		o.setStatusLocked(types.StatusIdle)
	}
}
