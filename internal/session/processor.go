package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/cancel"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/emitter"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/event"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/logging"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/provider"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/toolcall"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

var (
	// ErrEmptyMessage is returned when a message has no text, files or context.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrBusy is returned by operations that require an idle conversation.
	ErrBusy = errors.New("conversation is processing")
	// ErrNothingToRegenerate is returned when history is empty.
	ErrNothingToRegenerate = errors.New("nothing to regenerate")
	// ErrDestroyed is returned after Destroy.
	ErrDestroyed = errors.New("conversation destroyed")
)

// Cataloger is implemented by tool capabilities that know which tools they
// serve. When the capability passed to New implements it, its catalog is
// advertised to the model instead of Config.Tools.
type Cataloger interface {
	Catalog() []types.ToolSpec
}

// Options configures an Orchestrator.
type Options struct {
	// ID identifies the conversation in events and logs.
	ID        string
	Config    types.Config
	Transport provider.Transport
	// Tools executes tool calls. Nil means every call fails.
	Tools toolcall.Capability
	// History seeds the conversation, e.g. when restoring from storage.
	History []*types.Message
	Logger  *zerolog.Logger
}

// Orchestrator drives one conversation.
type Orchestrator struct {
	id        string
	transport provider.Transport
	tools     toolcall.Capability
	bus       *event.Bus
	log       zerolog.Logger

	mu         sync.Mutex
	cfg        types.Config
	messages   []*types.Message
	queue      []*types.Message
	status     types.Status
	processing bool
	cycle      *cycle
	idle       chan struct{}
	destroyed  bool
}

// cycle is the state of one processing cycle.
type cycle struct {
	token *cancel.Token
	// failed is set when the cycle ended in error; status stays "error".
	failed bool
	// emitter renders the model response currently streaming, if any.
	emitter *emitter.Emitter
}

// New creates an orchestrator. It starts idle.
func New(opts Options) *Orchestrator {
	id := opts.ID
	if id == "" {
		id = types.NewID()
	}
	log := logging.Component("session").With().Str("conversationID", id).Logger()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("conversationID", id).Logger()
	}
	transport := opts.Transport
	if transport == nil {
		transport = provider.NewHTTPTransport(nil)
	}

	idle := make(chan struct{})
	close(idle)

	return &Orchestrator{
		id:        id,
		transport: transport,
		tools:     opts.Tools,
		bus:       event.NewBus(),
		log:       log,
		cfg:       opts.Config.WithDefaults(),
		messages:  types.CloneMessages(opts.History),
		status:    types.StatusIdle,
		idle:      idle,
	}
}

// ID returns the conversation id.
func (o *Orchestrator) ID() string { return o.id }

// Subscribe registers fn for one event type and returns the unsubscribe
// func. Events are delivered in order on the orchestrator's dispatcher.
func (o *Orchestrator) Subscribe(eventType event.EventType, fn event.Subscriber) func() {
	return o.bus.Subscribe(eventType, fn)
}

// SubscribeAll registers fn for every event.
func (o *Orchestrator) SubscribeAll(fn event.Subscriber) func() {
	return o.bus.SubscribeAll(fn)
}

// Messages returns a snapshot of the history.
func (o *Orchestrator) Messages() []*types.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return types.CloneMessages(o.messages)
}

// Queue returns a snapshot of the messages waiting for the active cycle.
func (o *Orchestrator) Queue() []*types.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return types.CloneMessages(o.queue)
}

// Status returns the current status.
func (o *Orchestrator) Status() types.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// IsProcessing reports whether a cycle is active or scheduled.
func (o *Orchestrator) IsProcessing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.processing
}

// Config returns the active configuration.
func (o *Orchestrator) Config() types.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// UpdateConfig swaps the configuration. The next model call uses it.
func (o *Orchestrator) UpdateConfig(cfg types.Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg.WithDefaults()
}

// SendMessage builds a user message from the non-empty inputs, context
// first, then text, then files. While a cycle is active the message is
// queued; otherwise it is appended to history and a cycle is scheduled.
func (o *Orchestrator) SendMessage(text string, files []*types.FilePart, contexts []*types.ContextPart) (*types.Message, error) {
	var parts []types.Part
	for _, c := range contexts {
		if c != nil {
			if c.ID == "" {
				c.ID = types.NewID()
			}
			c.Type = types.PartContext
			parts = append(parts, c)
		}
	}
	if strings.TrimSpace(text) != "" {
		parts = append(parts, types.NewTextPart(text))
	}
	for _, f := range files {
		if f != nil {
			if f.ID == "" {
				f.ID = types.NewID()
			}
			f.Type = types.PartFile
			parts = append(parts, f)
		}
	}
	if len(parts) == 0 {
		return nil, ErrEmptyMessage
	}

	msg := &types.Message{
		ID:    types.NewID(),
		Role:  types.RoleUser,
		Parts: parts,
		Time:  types.MessageTime{Created: types.Now()},
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed {
		return nil, ErrDestroyed
	}

	if o.processing {
		o.queue = append(o.queue, msg)
		o.publishQueueLocked()
		o.log.Debug().Str("messageID", msg.ID).Int("queued", len(o.queue)).Msg("message queued")
		return msg.Clone(), nil
	}

	// Messages left queued by StopStream go first.
	if len(o.queue) > 0 {
		o.messages = append(o.messages, o.queue...)
		o.queue = nil
		o.publishQueueLocked()
	}
	o.messages = append(o.messages, msg)
	o.publishMessagesLocked()
	o.scheduleLocked()
	return msg.Clone(), nil
}

// Regenerate drops the last assistant or tool message and runs the loop
// again from the preceding state.
func (o *Orchestrator) Regenerate() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed {
		return ErrDestroyed
	}
	if o.processing {
		return ErrBusy
	}
	if len(o.messages) == 0 {
		return ErrNothingToRegenerate
	}

	last := o.messages[len(o.messages)-1]
	if last.Role == types.RoleAssistant || last.Role == types.RoleTool {
		o.messages = o.messages[:len(o.messages)-1]
		o.publishMessagesLocked()
	}
	if len(o.messages) == 0 {
		return ErrNothingToRegenerate
	}
	o.scheduleLocked()
	return nil
}

// StopStream halts the emission of streamed text. Unless preserveProcessing
// is set it also cancels the cycle, clears the processing flag and returns
// the status to idle. Tool calls the cycle left unresolved fail as
// cancelled. Queued messages are kept.
func (o *Orchestrator) StopStream(preserveProcessing bool) {
	o.mu.Lock()
	c := o.cycle
	if c == nil {
		o.mu.Unlock()
		return
	}
	em := c.emitter
	if !preserveProcessing {
		o.endCycleLocked()
		if o.failPendingToolsLocked(cancelledToolText) {
			o.publishMessagesLocked()
		}
		o.setStatusLocked(types.StatusIdle)
	}
	o.mu.Unlock()

	if em != nil {
		em.Halt()
	}
	if !preserveProcessing {
		c.token.Cancel()
		o.log.Debug().Msg("stream stopped")
	}
}

// Abort cancels the active cycle, discards queued messages and forces the
// status to idle. Unresolved tool calls fail as cancelled.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	c := o.cycle
	if len(o.queue) > 0 {
		o.queue = nil
		o.publishQueueLocked()
	}
	if c != nil {
		o.endCycleLocked()
		if o.failPendingToolsLocked(cancelledToolText) {
			o.publishMessagesLocked()
		}
	}
	o.setStatusLocked(types.StatusIdle)
	o.mu.Unlock()

	if c != nil {
		c.token.Cancel()
		o.log.Debug().Msg("cycle aborted")
	}
}

// Destroy aborts and drops every subscription. It is safe to call more than
// once.
func (o *Orchestrator) Destroy() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	o.destroyed = true
	o.mu.Unlock()

	o.Abort()
	_ = o.bus.Close()
}

// ResetHistory replaces the history. It fails while a cycle is active.
func (o *Orchestrator) ResetHistory(msgs []*types.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed {
		return ErrDestroyed
	}
	if o.processing {
		return ErrBusy
	}
	o.messages = types.CloneMessages(msgs)
	o.publishMessagesLocked()
	return nil
}

// Wait blocks until no cycle is active and every event published so far
// has been delivered, or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	for {
		o.mu.Lock()
		if !o.processing {
			o.mu.Unlock()
			break
		}
		idle := o.idle
		o.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return o.bus.Flush(ctx)
}

// scheduleLocked starts a new cycle on its own goroutine. The caller has
// already published the state observers should see first.
func (o *Orchestrator) scheduleLocked() {
	c := &cycle{token: cancel.New()}
	o.cycle = c
	if !o.processing {
		o.processing = true
		o.idle = make(chan struct{})
	}
	go o.run(c)
}

// endCycleLocked detaches the active cycle and clears the processing flag.
func (o *Orchestrator) endCycleLocked() {
	o.cycle = nil
	if o.processing {
		o.processing = false
		close(o.idle)
	}
}

func (o *Orchestrator) current(c *cycle) bool {
	return o.cycle == c
}

func (o *Orchestrator) setStatusLocked(s types.Status) {
	if o.status == s {
		return
	}
	o.status = s
	o.bus.Publish(event.Event{
		Type:           event.StatusChanged,
		ConversationID: o.id,
		Data:           event.StatusChangedData{Status: s},
	})
}

// setStatus changes the status on behalf of c, unless c has been stopped.
func (o *Orchestrator) setStatus(c *cycle, s types.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c != nil && !o.current(c) {
		return
	}
	o.setStatusLocked(s)
}

func (o *Orchestrator) publishMessagesLocked() {
	o.bus.Publish(event.Event{
		Type:           event.MessagesUpdated,
		ConversationID: o.id,
		Data:           event.MessagesUpdatedData{Messages: types.CloneMessages(o.messages)},
	})
}

func (o *Orchestrator) publishQueueLocked() {
	o.bus.Publish(event.Event{
		Type:           event.QueueChanged,
		ConversationID: o.id,
		Data:           event.QueueChangedData{Queue: types.CloneMessages(o.queue)},
	})
}

// mutate applies fn to history under the lock and publishes a snapshot.
// Mutations on behalf of a stopped cycle are dropped.
func (o *Orchestrator) mutate(c *cycle, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c != nil && !o.current(c) {
		return false
	}
	fn()
	o.publishMessagesLocked()
	return true
}

// appendSynthetic adds an engine-authored assistant message.
func (o *Orchestrator) appendSynthetic(c *cycle, kind, text string) {
	o.mutate(c, func() {
		o.messages = append(o.messages, &types.Message{
			ID:        types.NewID(),
			Role:      types.RoleAssistant,
			Parts:     []types.Part{types.NewTextPart(text)},
			Time:      types.MessageTime{Created: types.Now()},
			Synthetic: kind,
		})
	})
}
