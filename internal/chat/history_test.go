package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cchalm/colloquy/internal/chat"
	"github.com/cchalm/colloquy/internal/store/memory"
)

// seedConversation creates a conversation with n alternating entries spaced
// one minute apart, oldest first
func seedConversation(t *testing.T, store *memory.Store, ownerID string, n int) (chat.Conversation, []chat.TurnEntry) {
	t.Helper()
	ctx := context.Background()

	conv := chat.Conversation{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     chat.DefaultTitle,
		CreatedAt: time.Now().Add(-24 * time.Hour),
	}
	require.NoError(t, store.CreateConversation(ctx, conv))

	base := conv.CreatedAt.Add(time.Minute)
	entries := make([]chat.TurnEntry, n)
	for i := range entries {
		role := chat.RolePrompt
		content := "question " + string(rune('A'+i))
		if i%2 == 1 {
			role = chat.RoleReply
			content = "answer " + string(rune('A'+i))
		}
		entries[i] = chat.TurnEntry{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			Role:           role,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.AppendEntry(ctx, entries[i]))
	}
	return conv, entries
}

func newHistoryService(t *testing.T) (*chat.Service, *memory.Store) {
	t.Helper()
	return newTestService(t, &scriptedGenerator{})
}

func TestListEntries_UnknownConversation(t *testing.T) {
	svc, _ := newHistoryService(t)

	_, err := svc.ListEntries(context.Background(), uuid.New(), "user-1", chat.HistoryQuery{})
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestListEntries_WrongOwner(t *testing.T) {
	svc, store := newHistoryService(t)
	conv, _ := seedConversation(t, store, "user-1", 3)

	_, err := svc.ListEntries(context.Background(), conv.ID, "user-2", chat.HistoryQuery{})
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestListEntries_DefaultsAndAscendingOrder(t *testing.T) {
	svc, store := newHistoryService(t)
	conv, entries := seedConversation(t, store, "user-1", 5)

	page, err := svc.ListEntries(context.Background(), conv.ID, "user-1", chat.HistoryQuery{Page: 0, Limit: -3})
	require.NoError(t, err)

	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Items, 5)
	for i, item := range page.Items {
		assert.Equal(t, entries[i].ID, item.ID)
		if i > 0 {
			assert.True(t, item.CreatedAt.After(page.Items[i-1].CreatedAt))
		}
	}
}

func TestListEntries_PageOneHoldsNewestEntries(t *testing.T) {
	svc, store := newHistoryService(t)
	conv, entries := seedConversation(t, store, "user-1", 5)

	page, err := svc.ListEntries(context.Background(), conv.ID, "user-1", chat.HistoryQuery{Page: 1, Limit: 2})
	require.NoError(t, err)

	// Page 1 contains the two newest entries, in reading order
	require.Len(t, page.Items, 2)
	assert.Equal(t, entries[3].ID, page.Items[0].ID)
	assert.Equal(t, entries[4].ID, page.Items[1].ID)
	assert.Equal(t, 5, page.Total)
}

func TestListEntries_SecondPageOfThree(t *testing.T) {
	svc, store := newHistoryService(t)
	conv, entries := seedConversation(t, store, "user-1", 3)

	page, err := svc.ListEntries(context.Background(), conv.ID, "user-1", chat.HistoryQuery{Page: 2, Limit: 1})
	require.NoError(t, err)

	// limit=1, page=2 on three entries returns exactly the second-oldest
	require.Len(t, page.Items, 1)
	assert.Equal(t, entries[1].ID, page.Items[0].ID)
	assert.Equal(t, 3, page.Total)
}

func TestListEntries_AllPagesConcatenateWithoutGaps(t *testing.T) {
	svc, store := newHistoryService(t)
	conv, entries := seedConversation(t, store, "user-1", 7)
	ctx := context.Background()

	for _, limit := range []int{1, 2, 3, 7, 10} {
		var collected []chat.TurnEntry
		for pageNum := 1; ; pageNum++ {
			page, err := svc.ListEntries(ctx, conv.ID, "user-1", chat.HistoryQuery{Page: pageNum, Limit: limit})
			require.NoError(t, err)
			if len(page.Items) == 0 {
				break
			}
			// Later pages hold older entries; prepend to rebuild chronology
			collected = append(append([]chat.TurnEntry{}, page.Items...), collected...)
		}

		require.Len(t, collected, len(entries), "limit=%d", limit)
		for i, item := range collected {
			assert.Equal(t, entries[i].ID, item.ID, "limit=%d", limit)
		}
	}
}

func TestListEntries_RoleFilter(t *testing.T) {
	svc, store := newHistoryService(t)
	conv, _ := seedConversation(t, store, "user-1", 6)

	role := chat.RoleReply
	page, err := svc.ListEntries(context.Background(), conv.ID, "user-1", chat.HistoryQuery{Role: &role})
	require.NoError(t, err)

	assert.Equal(t, 3, page.Total)
	for _, item := range page.Items {
		assert.Equal(t, chat.RoleReply, item.Role)
	}
}

func TestListEntries_TimeRangeFilter(t *testing.T) {
	svc, store := newHistoryService(t)
	conv, entries := seedConversation(t, store, "user-1", 5)

	// Exclusive bounds around the middle three entries
	after := entries[0].CreatedAt
	before := entries[4].CreatedAt
	page, err := svc.ListEntries(context.Background(), conv.ID, "user-1", chat.HistoryQuery{
		After:  &after,
		Before: &before,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 3)
	assert.Equal(t, entries[1].ID, page.Items[0].ID)
	assert.Equal(t, entries[3].ID, page.Items[2].ID)
}

func TestListEntries_SearchIsCaseInsensitive(t *testing.T) {
	svc, store := newHistoryService(t)
	conv, entries := seedConversation(t, store, "user-1", 4)

	page, err := svc.ListEntries(context.Background(), conv.ID, "user-1", chat.HistoryQuery{Search: "ANSWER"})
	require.NoError(t, err)

	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, entries[1].ID, page.Items[0].ID)
	assert.Equal(t, entries[3].ID, page.Items[1].ID)
}

func TestListEntries_TotalIndependentOfLimit(t *testing.T) {
	svc, store := newHistoryService(t)
	conv, _ := seedConversation(t, store, "user-1", 9)

	page, err := svc.ListEntries(context.Background(), conv.ID, "user-1", chat.HistoryQuery{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 9, page.Total)
	assert.Len(t, page.Items, 2)
}
