// Package postgres provides a gorm-backed Ledger and Registry, selected by
// serve mode when a database URL is configured.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cchalm/colloquy/internal/chat"
)

type conversationRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerID   string    `gorm:"column:owner_id;index;not null"`
	Title     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index;not null"`
}

func (conversationRow) TableName() string { return "conversations" }

type messageRow struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID `gorm:"type:uuid;index:idx_messages_conversation_created,priority:1;not null"`
	Role           string    `gorm:"type:text;not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation_created,priority:2;not null"`

	// Seq breaks creation-time ties so ledger order is total. Assigned by the
	// database.
	Seq int64 `gorm:"autoIncrement;uniqueIndex"`
}

func (messageRow) TableName() string { return "messages" }

// Store implements chat.Registry and chat.Ledger on PostgreSQL
type Store struct {
	db *gorm.DB
}

// Open connects to the database and runs schema migration
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&conversationRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv chat.Conversation) error {
	row := conversationRow{
		ID:        conv.ID,
		OwnerID:   conv.OwnerID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID, ownerID string) (*chat.Conversation, error) {
	var row conversationRow
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	conv := toConversation(row)
	return &conv, nil
}

func (s *Store) ListConversations(ctx context.Context, ownerID string) ([]chat.Conversation, error) {
	var rows []conversationRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}

	convs := make([]chat.Conversation, len(rows))
	for i, row := range rows {
		convs[i] = toConversation(row)
	}
	return convs, nil
}

func (s *Store) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	result := s.db.WithContext(ctx).
		Model(&conversationRow{}).
		Where("id = ?", id).
		Update("title", title)
	if result.Error != nil {
		return fmt.Errorf("failed to update title: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", id, chat.ErrNotFound)
	}
	return nil
}

func (s *Store) FindMostRecentEmpty(ctx context.Context, ownerID string) (*chat.Conversation, error) {
	var row conversationRow
	err := s.db.WithContext(ctx).
		Model(&conversationRow{}).
		Select("conversations.*").
		Joins("LEFT JOIN messages ON messages.conversation_id = conversations.id").
		Where("conversations.owner_id = ? AND messages.id IS NULL", ownerID).
		Order("conversations.created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query empty conversations: %w", err)
	}
	conv := toConversation(row)
	return &conv, nil
}

func (s *Store) AppendEntry(ctx context.Context, entry chat.TurnEntry) error {
	row := messageRow{
		ID:             entry.ID,
		ConversationID: entry.ConversationID,
		Role:           string(entry.Role),
		Content:        entry.Content,
		CreatedAt:      entry.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Omit("seq").Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (s *Store) LatestEntry(ctx context.Context, conversationID uuid.UUID) (*chat.TurnEntry, error) {
	var row messageRow
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, seq DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest entry: %w", err)
	}
	entry := toEntry(row)
	return &entry, nil
}

func (s *Store) UpdateEntryContent(ctx context.Context, id uuid.UUID, content string) error {
	result := s.db.WithContext(ctx).
		Model(&messageRow{}).
		Where("id = ?", id).
		Update("content", content)
	if result.Error != nil {
		return fmt.Errorf("failed to update entry content: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("entry %s: %w", id, chat.ErrNotFound)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, conversationID uuid.UUID, filter chat.EntryFilter, offset, limit int) ([]chat.TurnEntry, int, error) {
	query := s.db.WithContext(ctx).
		Model(&messageRow{}).
		Where("conversation_id = ?", conversationID)

	if filter.Role != nil {
		query = query.Where("role = ?", string(*filter.Role))
	}
	if filter.After != nil {
		query = query.Where("created_at > ?", *filter.After)
	}
	if filter.Before != nil {
		query = query.Where("created_at < ?", *filter.Before)
	}
	if filter.Search != "" {
		query = query.Where("content ILIKE ?", "%"+filter.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count entries: %w", err)
	}

	var rows []messageRow
	err := query.
		Order("created_at DESC, seq DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query entries: %w", err)
	}

	entries := make([]chat.TurnEntry, len(rows))
	for i, row := range rows {
		entries[i] = toEntry(row)
	}
	return entries, int(total), nil
}

func toConversation(row conversationRow) chat.Conversation {
	return chat.Conversation{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
	}
}

func toEntry(row messageRow) chat.TurnEntry {
	return chat.TurnEntry{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		Role:           chat.Role(row.Role),
		Content:        row.Content,
		CreatedAt:      row.CreatedAt,
	}
}
