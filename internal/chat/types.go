// Package chat implements turn-serialized conversational exchanges: prompt
// submission, reply generation streaming, and exactly-once persistence of
// generated replies.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role tags a turn entry as either a caller prompt or a generated reply
type Role string

const (
	RolePrompt Role = "prompt"
	RoleReply  Role = "reply"
)

// DefaultTitle is the title given to conversations at creation
const DefaultTitle = "New Conversation"

// Conversation is a named exchange owned by a single identity. The title is
// the only field that changes after creation.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// TurnEntry is one half of a turn: a prompt or its paired reply. Reply
// content is empty while generation is in flight and is overwritten exactly
// once when the fragment stream terminates.
type TurnEntry struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// StreamEvent is one framed element of the caller-facing event sequence. The
// echo event and the reply fragments carry independent zero-based position
// counters.
type StreamEvent struct {
	EntryID         uuid.UUID  `json:"entryId"`
	PreviousEntryID *uuid.UUID `json:"previousEntryId"`
	ConversationID  uuid.UUID  `json:"conversationId"`
	Role            Role       `json:"role"`
	Content         string     `json:"content"`
	Position        int        `json:"position"`
	CreatedAt       time.Time  `json:"createdAt"`
}
