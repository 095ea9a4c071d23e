package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cchalm/colloquy/internal/generate"
)

// TurnHandle identifies an accepted turn: the persisted prompt entry and its
// paired reply placeholder. It is consumed exactly once by StreamTurn.
type TurnHandle struct {
	Conversation Conversation
	Prompt       TurnEntry
	Reply        TurnEntry

	finish  sync.Once
	release func()
}

// StreamTurn runs the generation for an accepted turn and returns its
// caller-facing event sequence. The channel is closed when the sequence
// terminates for any reason.
//
// The first event echoes the persisted prompt entry so the caller can
// reconcile optimistic state with the server-assigned id. Each subsequent
// event carries one reply fragment with a strictly increasing position
// starting at zero.
//
// Whatever terminates the sequence — exhaustion, ctx cancellation (caller
// disconnected), or a generator error — the accumulated reply content is
// committed to the ledger exactly once. Fragments are accumulated only after
// they have been delivered, so a cancelled stream commits exactly the
// fragments the caller received.
func (s *Service) StreamTurn(ctx context.Context, h *TurnHandle) <-chan StreamEvent {
	out := make(chan StreamEvent)

	go func() {
		defer close(out)

		ctx, span := s.tracer.Start(ctx, "chat.StreamTurn",
			trace.WithAttributes(attribute.String("conversation.id", h.Conversation.ID.String())))
		defer span.End()

		// Stop generation work as soon as this goroutine unwinds
		genCtx, cancelGen := context.WithCancel(ctx)
		defer cancelGen()

		var accumulated strings.Builder
		fragments := 0
		defer func() {
			span.SetAttributes(attribute.Int("stream.fragments", fragments))
			s.finalizeTurn(ctx, h, accumulated.String())
		}()

		promptID := h.Prompt.ID
		echo := StreamEvent{
			EntryID:         h.Prompt.ID,
			PreviousEntryID: nil,
			ConversationID:  h.Conversation.ID,
			Role:            RolePrompt,
			Content:         h.Prompt.Content,
			Position:        0,
			CreatedAt:       h.Prompt.CreatedAt,
		}
		if !s.emit(ctx, out, echo) {
			return
		}

		// The metadata callback fires on the generator's goroutine before the
		// first fragment; title persistence is detached so it can never delay
		// fragment delivery
		stream := s.generator.Generate(genCtx, h.Prompt.Content, func(meta generate.Classification) {
			s.titles.derive(context.WithoutCancel(ctx), h.Conversation, meta)
		})

		for stream.Next() {
			event := StreamEvent{
				EntryID:         h.Reply.ID,
				PreviousEntryID: &promptID,
				ConversationID:  h.Conversation.ID,
				Role:            RoleReply,
				Content:         stream.Current(),
				Position:        fragments,
				CreatedAt:       h.Reply.CreatedAt,
			}
			if !s.emit(ctx, out, event) {
				return
			}
			accumulated.WriteString(event.Content)
			fragments++
		}

		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			// Upstream failure mid-stream: the deferred commit still runs with
			// whatever was accumulated
			span.RecordError(err)
			s.log.Error().Err(err).
				Stringer("conversation_id", h.Conversation.ID).
				Stringer("reply_id", h.Reply.ID).
				Msg("generation failed mid-stream")
		}
	}()

	return out
}

// emit delivers an event to the caller and mirrors it to the observer sinks.
// Returns false if the caller is gone.
func (s *Service) emit(ctx context.Context, out chan<- StreamEvent, event StreamEvent) bool {
	if s.sinks != nil {
		s.sinks.PublishBlind(event)
	}
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// finalizeTurn makes the single commit attempt for a turn and releases the
// conversation for the next submission. The commit runs on a context detached
// from the caller so a disconnect cannot skip it. An empty accumulation (after
// trimming) leaves the placeholder row as-is; that is defined behavior, not an
// error.
func (s *Service) finalizeTurn(ctx context.Context, h *TurnHandle, content string) {
	h.finish.Do(func() {
		defer func() {
			if h.release != nil {
				h.release()
			}
		}()

		if strings.TrimSpace(content) == "" {
			return
		}

		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
		defer cancel()

		if err := s.ledger.UpdateEntryContent(commitCtx, h.Reply.ID, content); err != nil {
			// Non-fatal: the transport is already closing, there is nothing to
			// reopen or retry
			s.log.Error().Err(err).
				Stringer("conversation_id", h.Conversation.ID).
				Stringer("reply_id", h.Reply.ID).
				Msg("failed to commit reply content")
		}
	})
}
