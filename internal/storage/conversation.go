package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

const conversationPrefix = "conversation"

const maxTitleRunes = 60

// Conversation is the persisted form of one conversation's history.
type Conversation struct {
	ID       string           `json:"id"`
	Title    string           `json:"title,omitempty"`
	Messages []*types.Message `json:"messages"`
	Time     ConversationTime `json:"time"`
}

// ConversationTime holds creation and last-update timestamps in unix ms.
type ConversationTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// ConversationSummary is what listing returns.
type ConversationSummary struct {
	ID           string           `json:"id"`
	Title        string           `json:"title,omitempty"`
	MessageCount int              `json:"messageCount"`
	Time         ConversationTime `json:"time"`
}

// ConversationStore reads and writes conversations.
type ConversationStore struct {
	store *Storage
}

// NewConversationStore wraps a Storage.
func NewConversationStore(store *Storage) *ConversationStore {
	return &ConversationStore{store: store}
}

// Save writes the conversation, stamping its update time and deriving a
// title from the first user message when none is set.
func (c *ConversationStore) Save(ctx context.Context, conv *Conversation) error {
	now := types.Now()
	if conv.Time.Created == 0 {
		conv.Time.Created = now
	}
	conv.Time.Updated = now
	if conv.Title == "" {
		conv.Title = deriveTitle(conv.Messages)
	}
	if conv.Messages == nil {
		conv.Messages = []*types.Message{}
	}
	return c.store.Put(ctx, []string{conversationPrefix, conv.ID}, conv)
}

// Load reads a conversation. It returns ErrNotFound for unknown ids.
func (c *ConversationStore) Load(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := c.store.Get(ctx, []string{conversationPrefix, id}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Exists reports whether a conversation has been persisted.
func (c *ConversationStore) Exists(ctx context.Context, id string) bool {
	return c.store.Exists(ctx, []string{conversationPrefix, id})
}

// Delete removes a conversation.
func (c *ConversationStore) Delete(ctx context.Context, id string) error {
	return c.store.Delete(ctx, []string{conversationPrefix, id})
}

// List returns summaries of every stored conversation, most recently
// updated first. Files that fail to decode are skipped.
func (c *ConversationStore) List(ctx context.Context) ([]ConversationSummary, error) {
	summaries := []ConversationSummary{}
	err := c.store.Scan(ctx, []string{conversationPrefix}, func(key string, data json.RawMessage) error {
		var conv struct {
			ID       string            `json:"id"`
			Title    string            `json:"title"`
			Messages []json.RawMessage `json:"messages"`
			Time     ConversationTime  `json:"time"`
		}
		if err := json.Unmarshal(data, &conv); err != nil {
			return nil
		}
		summaries = append(summaries, ConversationSummary{
			ID:           conv.ID,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
			Time:         conv.Time,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Time.Updated > summaries[j].Time.Updated
	})
	return summaries, nil
}

func deriveTitle(msgs []*types.Message) string {
	for _, m := range msgs {
		if m.Role != types.RoleUser {
			continue
		}
		text := strings.Join(strings.Fields(m.Text()), " ")
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > maxTitleRunes {
			return string(runes[:maxTitleRunes]) + "..."
		}
		return text
	}
	return ""
}
