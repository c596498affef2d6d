/*
Package event provides the pub/sub bus a conversation publishes its state on.

# Event Types

Conversation events, emitted by every orchestrator:
  - messages_updated: history changed; data carries a snapshot of all messages
  - status_changed: status moved between idle, submitted, streaming and error
  - queue_changed: the pending user-message queue changed

Service events:
  - conversation.created, conversation.deleted

Client tool events:
  - clienttool.request: a browser client must run a tool or take a screenshot
  - clienttool.registered, clienttool.unregistered
  - clienttool.completed, clienttool.failed

# Delivery

Publish never blocks the caller. A single dispatcher goroutine delivers
events in publish order, calling each subscriber synchronously, so a
subscriber observes messages_updated snapshots in the order they were taken.
Flush waits for everything published so far to be delivered.

Each delivered event is also marshaled to JSON and forwarded to the
watermill gochannel topic "aipex.events". Stream exposes that topic to
consumers that only need the wire form, such as the HTTP SSE endpoint.

# Usage

	bus := event.NewBus()
	defer bus.Close()

	unsub := bus.Subscribe(event.StatusChanged, func(e event.Event) {
	    data := e.Data.(event.StatusChangedData)
	    fmt.Println("status:", data.Status)
	})
	defer unsub()
*/
package event
