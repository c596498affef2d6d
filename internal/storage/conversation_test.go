package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

func TestConversationStore_SaveLoad(t *testing.T) {
	store := NewConversationStore(New(t.TempDir()))
	ctx := context.Background()

	tool := types.NewToolPart("call_1", "get_current_tab")
	tool.State = types.ToolOutputError
	tool.ErrorText = "Tool execution was cancelled"

	conv := &Conversation{
		ID: "c1",
		Messages: []*types.Message{
			{ID: "u1", Role: types.RoleUser, Parts: []types.Part{types.NewTextPart("  what   tab  ")}},
			{ID: "a1", Role: types.RoleAssistant, Parts: []types.Part{tool}},
		},
	}
	require.NoError(t, store.Save(ctx, conv))
	assert.Equal(t, "what tab", conv.Title)
	assert.NotZero(t, conv.Time.Created)

	loaded, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 2)
	got := loaded.Messages[1].ToolParts()
	require.Len(t, got, 1)
	assert.Equal(t, types.ToolOutputError, got[0].State)
	assert.Equal(t, "Tool execution was cancelled", got[0].ErrorText)
	assert.True(t, store.Exists(ctx, "c1"))
}

func TestConversationStore_LoadMissing(t *testing.T) {
	store := NewConversationStore(New(t.TempDir()))
	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversationStore_ListNewestFirst(t *testing.T) {
	store := NewConversationStore(New(t.TempDir()))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Conversation{ID: "old"}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, store.Save(ctx, &Conversation{ID: "new", Messages: []*types.Message{
		{ID: "u", Role: types.RoleUser, Parts: []types.Part{types.NewTextPart(strings.Repeat("x", 80))}},
	}}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, 1, list[0].MessageCount)
	assert.True(t, strings.HasSuffix(list[0].Title, "..."))
	assert.Equal(t, "old", list[1].ID)

	require.NoError(t, store.Delete(ctx, "old"))
	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
