// Package event provides the ordered pub/sub bus conversations publish on.
package event

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/logging"
)

// Topic is the watermill topic every event is forwarded to as JSON.
const Topic = "aipex.events"

// Metadata keys set on forwarded watermill messages.
const (
	MetaType         = "type"
	MetaConversation = "conversation"
)

// EventType represents the type of event.
type EventType string

const (
	MessagesUpdated EventType = "messages_updated"
	StatusChanged   EventType = "status_changed"
	QueueChanged    EventType = "queue_changed"

	ConversationCreated EventType = "conversation.created"
	ConversationDeleted EventType = "conversation.deleted"

	ClientToolRequest      EventType = "clienttool.request"
	ClientToolRegistered   EventType = "clienttool.registered"
	ClientToolUnregistered EventType = "clienttool.unregistered"
	ClientToolCompleted    EventType = "clienttool.completed"
	ClientToolFailed       EventType = "clienttool.failed"
)

// Event represents an event to be published.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationID,omitempty"`
	Data           any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

type queued struct {
	event Event
	// flushed is closed when a Flush marker reaches the dispatcher.
	flushed chan struct{}
}

// Bus delivers events to subscribers in publish order on a single
// dispatcher goroutine, so publishers never block on slow subscribers and
// subscribers never see events reordered. Every event is also forwarded as
// JSON to a watermill gochannel topic for external consumers such as SSE
// streams.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry
	nextID      uint64
	closed      bool

	qmu   sync.Mutex
	queue []queued
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}

	pubsub *gochannel.GoChannel
}

// NewBus creates a bus and starts its dispatcher.
func NewBus() *Bus {
	b := &Bus{
		subscribers: make(map[EventType][]subscriberEntry),
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            256,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i:i], b.global[i+1:]...)
			break
		}
	}
}

// Clear removes every subscriber but keeps the bus open.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
}

// Publish enqueues an event for ordered asynchronous delivery.
func (b *Bus) Publish(event Event) {
	b.enqueue(queued{event: event})
}

func (b *Bus) enqueue(q queued) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}

	b.qmu.Lock()
	b.queue = append(b.queue, q)
	b.qmu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until every event published before the call has been
// delivered, or ctx is done.
func (b *Bus) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	if !b.enqueue(queued{flushed: marker}) {
		return nil
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		b.qmu.Lock()
		batch := b.queue
		b.queue = nil
		b.qmu.Unlock()

		for _, q := range batch {
			if q.flushed != nil {
				close(q.flushed)
				continue
			}
			b.deliver(q.event)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-b.wake:
		case <-b.stop:
			return
		}
	}
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers[event.Type])+len(b.global))
	for _, entry := range b.subscribers[event.Type] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		b.call(sub, event)
	}
	b.forward(event)
}

func (b *Bus) call(sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("event", string(event.Type)).Msg("event subscriber panicked")
		}
	}()
	sub(event)
}

func (b *Bus) forward(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Warn().Err(err).Str("event", string(event.Type)).Msg("event not forwarded")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetaType, string(event.Type))
	msg.Metadata.Set(MetaConversation, event.ConversationID)
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		logging.Debug().Err(err).Msg("event forward skipped")
	}
}

// Stream subscribes to the forwarded JSON events until ctx is done. The
// returned messages are already acknowledged.
func (b *Bus) Stream(ctx context.Context) (<-chan *message.Message, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}
	out := make(chan *message.Message, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			msg.Ack()
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops delivery and drops every subscriber. Events still queued are
// discarded.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	close(b.stop)
	<-b.done

	b.qmu.Lock()
	for _, q := range b.queue {
		if q.flushed != nil {
			close(q.flushed)
		}
	}
	b.queue = nil
	b.qmu.Unlock()

	return b.pubsub.Close()
}
