// Package memory provides an in-memory Ledger and Registry, used by tests and
// by serve mode when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cchalm/colloquy/internal/chat"
)

// Store implements chat.Registry and chat.Ledger in memory. Entry order is
// append order, which matches creation-time order with insertion breaking
// ties.
type Store struct {
	mu        sync.Mutex
	convs     map[uuid.UUID]storedConversation
	convSeq   uint64
	entries   []chat.TurnEntry
	entryByID map[uuid.UUID]int // index into entries
}

type storedConversation struct {
	conv chat.Conversation
	seq  uint64
}

func New() *Store {
	return &Store{
		convs:     map[uuid.UUID]storedConversation{},
		entryByID: map[uuid.UUID]int{},
	}
}

func (s *Store) CreateConversation(_ context.Context, conv chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.convs[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	s.convSeq++
	s.convs[conv.ID] = storedConversation{conv: conv, seq: s.convSeq}
	return nil
}

func (s *Store) GetConversation(_ context.Context, id uuid.UUID, ownerID string) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.convs[id]
	if !ok || stored.conv.OwnerID != ownerID {
		return nil, nil
	}
	conv := stored.conv
	return &conv, nil
}

func (s *Store) ListConversations(_ context.Context, ownerID string) ([]chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.ownedConversationsLocked(ownerID)
	convs := make([]chat.Conversation, len(stored))
	for i, sc := range stored {
		convs[i] = sc.conv
	}
	return convs, nil
}

func (s *Store) UpdateTitle(_ context.Context, id uuid.UUID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, chat.ErrNotFound)
	}
	stored.conv.Title = title
	s.convs[id] = stored
	return nil
}

func (s *Store) FindMostRecentEmpty(_ context.Context, ownerID string) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stored := range s.ownedConversationsLocked(ownerID) {
		if s.countEntriesLocked(stored.conv.ID) == 0 {
			conv := stored.conv
			return &conv, nil
		}
	}
	return nil, nil
}

// ownedConversationsLocked returns the owner's conversations most recent
// first. Callers must hold s.mu.
func (s *Store) ownedConversationsLocked(ownerID string) []storedConversation {
	var owned []storedConversation
	for _, stored := range s.convs {
		if stored.conv.OwnerID == ownerID {
			owned = append(owned, stored)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].conv.CreatedAt.Equal(owned[j].conv.CreatedAt) {
			return owned[i].conv.CreatedAt.After(owned[j].conv.CreatedAt)
		}
		return owned[i].seq > owned[j].seq
	})
	return owned
}

func (s *Store) countEntriesLocked(conversationID uuid.UUID) int {
	n := 0
	for _, e := range s.entries {
		if e.ConversationID == conversationID {
			n++
		}
	}
	return n
}

func (s *Store) AppendEntry(_ context.Context, entry chat.TurnEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entryByID[entry.ID]; exists {
		return fmt.Errorf("entry %s already exists", entry.ID)
	}
	s.entryByID[entry.ID] = len(s.entries)
	s.entries = append(s.entries, entry)
	return nil
}

func (s *Store) LatestEntry(_ context.Context, conversationID uuid.UUID) (*chat.TurnEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].ConversationID == conversationID {
			entry := s.entries[i]
			return &entry, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateEntryContent(_ context.Context, id uuid.UUID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.entryByID[id]
	if !ok {
		return fmt.Errorf("entry %s: %w", id, chat.ErrNotFound)
	}
	s.entries[i].Content = content
	return nil
}

func (s *Store) ListEntries(_ context.Context, conversationID uuid.UUID, filter chat.EntryFilter, offset, limit int) ([]chat.TurnEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []chat.TurnEntry
	for _, e := range s.entries {
		if e.ConversationID != conversationID || !matches(e, filter) {
			continue
		}
		matched = append(matched, e)
	}

	// Newest first, mirroring a descending index scan
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	page := make([]chat.TurnEntry, end-offset)
	copy(page, matched[offset:end])
	return page, total, nil
}

func matches(e chat.TurnEntry, filter chat.EntryFilter) bool {
	if filter.Role != nil && e.Role != *filter.Role {
		return false
	}
	if filter.After != nil && !e.CreatedAt.After(*filter.After) {
		return false
	}
	if filter.Before != nil && !e.CreatedAt.Before(*filter.Before) {
		return false
	}
	if filter.Search != "" && !strings.Contains(strings.ToLower(e.Content), strings.ToLower(filter.Search)) {
		return false
	}
	return true
}
