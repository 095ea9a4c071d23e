package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cchalm/colloquy/internal/events"
	"github.com/cchalm/colloquy/internal/generate"
)

const defaultCommitTimeout = 10 * time.Second

// ServiceConfig holds the collaborators and policy knobs for a Service
type ServiceConfig struct {
	Registry  Registry
	Ledger    Ledger
	Generator generate.Generator

	// Sinks receives a copy of every stream event, for audit/observer
	// consumers. Optional.
	Sinks *events.SinkSet

	Logger zerolog.Logger

	// SentinelTitles are titles still considered "default" and therefore
	// eligible for replacement by the title deriver. Defaults to DefaultTitle
	// plus the legacy "New Chat".
	SentinelTitles []string

	// CommitTimeout bounds the final reply commit, which runs detached from
	// the caller's context
	CommitTimeout time.Duration
}

// Service is the turn controller: it owns conversation lifecycle, enforces
// strict prompt/reply alternation, and serializes submissions per
// conversation. It is the only component that creates turn entries.
type Service struct {
	registry  Registry
	ledger    Ledger
	generator generate.Generator
	sinks     *events.SinkSet
	titles    *titleDeriver
	log       zerolog.Logger
	tracer    trace.Tracer

	commitTimeout time.Duration

	mu    sync.Mutex
	turns map[uuid.UUID]*turnState
}

// turnState serializes turn submission for one conversation. generating is
// true from reply-placeholder creation until the stream assembler's finalize
// step releases it.
type turnState struct {
	mu         sync.Mutex
	generating bool
}

func NewService(cfg ServiceConfig) *Service {
	sentinels := cfg.SentinelTitles
	if sentinels == nil {
		sentinels = []string{DefaultTitle, "New Chat"}
	}
	commitTimeout := cfg.CommitTimeout
	if commitTimeout <= 0 {
		commitTimeout = defaultCommitTimeout
	}

	return &Service{
		registry:      cfg.Registry,
		ledger:        cfg.Ledger,
		generator:     cfg.Generator,
		sinks:         cfg.Sinks,
		titles:        newTitleDeriver(cfg.Registry, sentinels, cfg.Logger),
		log:           cfg.Logger,
		tracer:        otel.Tracer("github.com/cchalm/colloquy/internal/chat"),
		commitTimeout: commitTimeout,
		turns:         map[uuid.UUID]*turnState{},
	}
}

// StartConversation returns a conversation for the owner to submit turns
// into. If the owner's most recent conversation has no entries yet it is
// reused instead of creating a duplicate; the returned flag reports whether a
// new conversation was created.
func (s *Service) StartConversation(ctx context.Context, ownerID string) (Conversation, bool, error) {
	existing, err := s.registry.FindMostRecentEmpty(ctx, ownerID)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("failed to look up empty conversations: %w", err)
	}
	if existing != nil {
		return *existing, false, nil
	}

	conv := Conversation{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     DefaultTitle,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.registry.CreateConversation(ctx, conv); err != nil {
		return Conversation{}, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, true, nil
}

// GetConversation returns a conversation owned by ownerID, or ErrNotFound
func (s *Service) GetConversation(ctx context.Context, id uuid.UUID, ownerID string) (Conversation, error) {
	conv, err := s.registry.GetConversation(ctx, id, ownerID)
	if err != nil {
		return Conversation{}, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return Conversation{}, ErrNotFound
	}
	return *conv, nil
}

// ListConversations returns the owner's conversations, most recent first
func (s *Service) ListConversations(ctx context.Context, ownerID string) ([]Conversation, error) {
	convs, err := s.registry.ListConversations(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// SubmitTurn validates ownership, appends the prompt entry, and creates the
// paired reply placeholder, all inside the conversation's serialization
// scope. When it returns successfully the conversation's latest entry is the
// reply placeholder, never a dangling prompt.
//
// It fails with ErrConflict if another submission for the same conversation
// interleaved, or if a previously submitted turn's generation is still in
// flight.
func (s *Service) SubmitTurn(ctx context.Context, conversationID uuid.UUID, ownerID string, promptText string) (*TurnHandle, error) {
	ctx, span := s.tracer.Start(ctx, "chat.SubmitTurn",
		trace.WithAttributes(attribute.String("conversation.id", conversationID.String())))
	defer span.End()

	if strings.TrimSpace(promptText) == "" {
		return nil, fmt.Errorf("%w: prompt text is required", ErrInvalidInput)
	}

	conv, err := s.registry.GetConversation(ctx, conversationID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrNotFound
	}

	st := s.stateFor(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.generating {
		return nil, fmt.Errorf("%w: a reply is still being generated", ErrConflict)
	}

	prompt := TurnEntry{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           RolePrompt,
		Content:        promptText,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.ledger.AppendEntry(ctx, prompt); err != nil {
		return nil, fmt.Errorf("failed to append prompt entry: %w", err)
	}

	// Re-read the latest entry to detect an interleaved submission that got
	// past the in-process lock, e.g. from another node sharing the ledger
	latest, err := s.ledger.LatestEntry(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest entry: %w", err)
	}
	if latest == nil || latest.ID != prompt.ID {
		return nil, fmt.Errorf("%w: another submission interleaved", ErrConflict)
	}

	reply := TurnEntry{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           RoleReply,
		Content:        "",
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.ledger.AppendEntry(ctx, reply); err != nil {
		return nil, fmt.Errorf("failed to append reply placeholder: %w", err)
	}

	st.generating = true

	return &TurnHandle{
		Conversation: *conv,
		Prompt:       prompt,
		Reply:        reply,
		release: func() {
			st.mu.Lock()
			st.generating = false
			st.mu.Unlock()
		},
	}, nil
}

func (s *Service) stateFor(conversationID uuid.UUID) *turnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.turns[conversationID]
	if !ok {
		st = &turnState{}
		s.turns[conversationID] = st
	}
	return st
}
