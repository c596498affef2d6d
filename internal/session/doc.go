// Package session implements the conversation orchestrator: the state
// machine that turns a user utterance into a finished assistant turn by
// streaming a model response, running the tools it asks for, reporting the
// results back, and repeating until the turn settles.
//
// # Orchestrator
//
// An Orchestrator owns one conversation's history, its pending-message queue
// and an event bus. At most one processing cycle runs at a time; messages
// sent while a cycle is active are queued and drained in order before the
// next model call.
//
//	o := session.New(session.Options{
//	    Config:    cfg,
//	    Transport: provider.NewHTTPTransport(nil),
//	    Tools:     router,
//	})
//	defer o.Destroy()
//
//	o.Subscribe(event.MessagesUpdated, func(e event.Event) { ... })
//	_, err := o.SendMessage("summarize this tab", nil, contexts)
//
// Each cycle repeatedly inspects the last message:
//   - user or tool: call the model
//   - assistant with tool calls ready to run: execute them in parallel
//   - assistant whose tool calls are all resolved: call the model again
//   - anything else: the turn is complete
//
// The loop stops on cancellation, on a transport error, on an empty
// assistant turn, or when the iteration ceiling trips.
//
// # Cancellation
//
// Every cycle has a cancel.Token. StopStream and Abort fire it, which aborts
// the HTTP request, halts text emission and resolves executing tools as
// cancelled. Text already rendered stays in history.
//
// # Service
//
// Service hosts many orchestrators keyed by conversation id, republishes
// their events on a shared bus, and persists history whenever a cycle
// settles.
package session
