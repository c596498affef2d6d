package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/event"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/logging"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/provider"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/storage"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/toolcall"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// ErrNotFound is returned for unknown conversation ids.
var ErrNotFound = errors.New("conversation not found")

// toolConfigurer is implemented by capabilities that filter their catalog
// from configuration, such as toolcall.Router.
type toolConfigurer interface {
	Configure(static []types.ToolSpec, disabled []string)
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Config    types.Config
	Transport provider.Transport
	Tools     toolcall.Capability
	// Store persists history. Nil keeps conversations in memory only.
	Store  *storage.ConversationStore
	Logger *zerolog.Logger
}

// Service hosts many conversations and republishes their events on one
// shared bus.
type Service struct {
	transport provider.Transport
	tools     toolcall.Capability
	store     *storage.ConversationStore
	bus       *event.Bus
	log       zerolog.Logger

	mu     sync.RWMutex
	cfg    types.Config
	convs  map[string]*hosted
	closed bool
}

type hosted struct {
	orch    *Orchestrator
	created int64
	unsub   func()
}

// NewService creates a Service.
func NewService(opts ServiceOptions) *Service {
	log := logging.Component("session-service")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	s := &Service{
		transport: opts.Transport,
		tools:     opts.Tools,
		store:     opts.Store,
		bus:       event.NewBus(),
		log:       log,
		cfg:       opts.Config.WithDefaults(),
		convs:     make(map[string]*hosted),
	}
	if tc, ok := s.tools.(toolConfigurer); ok {
		tc.Configure(s.cfg.Tools, s.cfg.DisabledTools)
	}
	return s
}

// Bus returns the shared event bus.
func (s *Service) Bus() *event.Bus { return s.bus }

// Config returns the active configuration.
func (s *Service) Config() types.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Create starts a new, empty conversation.
func (s *Service) Create(ctx context.Context) (*Orchestrator, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrDestroyed
	}
	h := s.hostLocked(types.NewID(), nil, types.Now())
	s.mu.Unlock()

	if err := s.persist(ctx, h); err != nil {
		return nil, err
	}
	s.bus.Publish(event.Event{
		Type:           event.ConversationCreated,
		ConversationID: h.orch.ID(),
		Data:           event.ConversationData{ID: h.orch.ID()},
	})
	s.log.Info().Str("conversationID", h.orch.ID()).Msg("conversation created")
	return h.orch, nil
}

// Get returns a live conversation, restoring it from storage on first
// access.
func (s *Service) Get(ctx context.Context, id string) (*Orchestrator, error) {
	s.mu.RLock()
	h, ok := s.convs[id]
	s.mu.RUnlock()
	if ok {
		return h.orch, nil
	}
	if s.store == nil {
		return nil, ErrNotFound
	}

	conv, err := s.store.Load(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDestroyed
	}
	// Another caller may have restored it meanwhile.
	if h, ok := s.convs[id]; ok {
		return h.orch, nil
	}
	h = s.hostLocked(id, conv.Messages, conv.Time.Created)
	s.log.Debug().Str("conversationID", id).Int("messages", len(conv.Messages)).Msg("conversation restored")
	return h.orch, nil
}

// Delete destroys a conversation and removes its stored history.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	h, ok := s.convs[id]
	delete(s.convs, id)
	s.mu.Unlock()

	if ok {
		h.unsub()
		h.orch.Destroy()
	}

	stored := false
	if s.store != nil && s.store.Exists(ctx, id) {
		if err := s.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete conversation %s: %w", id, err)
		}
		stored = true
	}
	if !ok && !stored {
		return ErrNotFound
	}

	s.bus.Publish(event.Event{
		Type:           event.ConversationDeleted,
		ConversationID: id,
		Data:           event.ConversationData{ID: id},
	})
	s.log.Info().Str("conversationID", id).Msg("conversation deleted")
	return nil
}

// List summarizes every known conversation, most recently updated first.
func (s *Service) List(ctx context.Context) ([]storage.ConversationSummary, error) {
	summaries := []storage.ConversationSummary{}
	seen := make(map[string]bool)
	if s.store != nil {
		stored, err := s.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		for _, sum := range stored {
			seen[sum.ID] = true
		}
		summaries = append(summaries, stored...)
	}

	s.mu.RLock()
	for id, h := range s.convs {
		if seen[id] {
			continue
		}
		msgs := h.orch.Messages()
		summaries = append(summaries, storage.ConversationSummary{
			ID:           id,
			MessageCount: len(msgs),
			Time:         storage.ConversationTime{Created: h.created, Updated: h.created},
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Time.Updated > summaries[j].Time.Updated
	})
	return summaries, nil
}

// UpdateConfig applies cfg to every live conversation and to the tool
// capability. Running cycles pick it up on their next model call.
func (s *Service) UpdateConfig(cfg types.Config) {
	cfg = cfg.WithDefaults()
	s.mu.Lock()
	s.cfg = cfg
	orchs := make([]*Orchestrator, 0, len(s.convs))
	for _, h := range s.convs {
		orchs = append(orchs, h.orch)
	}
	s.mu.Unlock()

	if tc, ok := s.tools.(toolConfigurer); ok {
		tc.Configure(cfg.Tools, cfg.DisabledTools)
	}
	for _, o := range orchs {
		o.UpdateConfig(cfg)
	}
	s.log.Info().Str("model", cfg.Model).Int("conversations", len(orchs)).Msg("configuration updated")
}

// Close destroys every conversation and the shared bus.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	convs := s.convs
	s.convs = make(map[string]*hosted)
	s.mu.Unlock()

	for _, h := range convs {
		h.unsub()
		h.orch.Destroy()
		if err := s.persist(context.Background(), h); err != nil {
			s.log.Warn().Err(err).Str("conversationID", h.orch.ID()).Msg("persist on close failed")
		}
	}
	return s.bus.Close()
}

func (s *Service) hostLocked(id string, history []*types.Message, created int64) *hosted {
	o := New(Options{
		ID:        id,
		Config:    s.cfg,
		Transport: s.transport,
		Tools:     s.tools,
		History:   history,
	})
	h := &hosted{orch: o, created: created}
	h.unsub = o.SubscribeAll(func(e event.Event) {
		s.bus.Publish(e)
		if e.Type != event.StatusChanged {
			return
		}
		data, ok := e.Data.(event.StatusChangedData)
		if !ok || (data.Status != types.StatusIdle && data.Status != types.StatusError) {
			return
		}
		if err := s.persist(context.Background(), h); err != nil {
			s.log.Error().Err(err).Str("conversationID", id).Msg("persist conversation failed")
		}
	})
	s.convs[id] = h
	return h
}

// persist writes the conversation's current history.
func (s *Service) persist(ctx context.Context, h *hosted) error {
	if s.store == nil {
		return nil
	}
	conv := &storage.Conversation{
		ID:       h.orch.ID(),
		Messages: h.orch.Messages(),
		Time:     storage.ConversationTime{Created: h.created},
	}
	if err := s.store.Save(ctx, conv); err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	return nil
}
