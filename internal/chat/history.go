package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultHistoryPage  = 1
	defaultHistoryLimit = 20
)

// HistoryQuery selects a page of a conversation's entries. Non-positive Page
// or Limit fall back to the defaults (page 1, limit 20).
type HistoryQuery struct {
	Page   int
	Limit  int
	Role   *Role
	After  *time.Time
	Before *time.Time
	Search string
}

// HistoryPage is one page of entries in reading order, plus the total number
// of entries matching the filters independent of paging
type HistoryPage struct {
	Items []TurnEntry `json:"items"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// ListEntries returns one page of a conversation's entries. Pages are fetched
// most-recent-first at the storage layer, so page 1 holds the newest entries,
// then re-sorted ascending by creation time so each page reads chronologically.
func (s *Service) ListEntries(ctx context.Context, conversationID uuid.UUID, ownerID string, q HistoryQuery) (HistoryPage, error) {
	conv, err := s.registry.GetConversation(ctx, conversationID, ownerID)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return HistoryPage{}, ErrNotFound
	}

	page := q.Page
	if page < 1 {
		page = defaultHistoryPage
	}
	limit := q.Limit
	if limit < 1 {
		limit = defaultHistoryLimit
	}

	filter := EntryFilter{
		Role:   q.Role,
		After:  q.After,
		Before: q.Before,
		Search: q.Search,
	}

	items, total, err := s.ledger.ListEntries(ctx, conversationID, filter, (page-1)*limit, limit)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("failed to list entries: %w", err)
	}

	// The page arrives newest-first; reverse into reading order
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return HistoryPage{
		Items: items,
		Total: total,
		Page:  page,
		Limit: limit,
	}, nil
}
