package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Registry owns conversation identity and ownership. Lookups scoped to a
// missing or differently-owned conversation return (nil, nil) rather than an
// error; the service layer maps that to ErrNotFound.
type Registry interface {
	CreateConversation(ctx context.Context, conv Conversation) error
	// GetConversation returns the conversation with the given id if it is owned
	// by ownerID, or nil if there is no such conversation
	GetConversation(ctx context.Context, id uuid.UUID, ownerID string) (*Conversation, error)
	// ListConversations returns all conversations owned by ownerID, most recent
	// first
	ListConversations(ctx context.Context, ownerID string) ([]Conversation, error)
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	// FindMostRecentEmpty returns the owner's most recently created conversation
	// that has no entries, or nil if every conversation has at least one entry
	FindMostRecentEmpty(ctx context.Context, ownerID string) (*Conversation, error)
}

// EntryFilter narrows ledger retrieval. Zero values mean "no constraint".
type EntryFilter struct {
	Role   *Role
	After  *time.Time // entries created strictly after this instant
	Before *time.Time // entries created strictly before this instant
	Search string     // case-insensitive substring match over content
}

// Ledger is the append-only, time-ordered store of turn entries. Entries
// within a conversation are totally ordered by creation time, with insertion
// order breaking ties.
type Ledger interface {
	AppendEntry(ctx context.Context, entry TurnEntry) error
	// LatestEntry returns the most recent entry in the conversation, or nil if
	// the conversation has no entries
	LatestEntry(ctx context.Context, conversationID uuid.UUID) (*TurnEntry, error)
	// UpdateEntryContent overwrites the content of an existing entry. Only reply
	// entries are ever updated, and only by the stream commit.
	UpdateEntryContent(ctx context.Context, id uuid.UUID, content string) error
	// ListEntries returns one page of matching entries ordered most-recent-first,
	// plus the total number of matching entries independent of paging
	ListEntries(ctx context.Context, conversationID uuid.UUID, filter EntryFilter, offset, limit int) ([]TurnEntry, int, error)
}
