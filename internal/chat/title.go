package chat

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cchalm/colloquy/internal/generate"
)

// titleDeriver replaces a conversation's default title with the topic label
// from generation metadata. It is strictly best-effort: persistence happens on
// its own goroutine and failures are logged and dropped, so it can never
// affect fragment delivery or the reply commit.
type titleDeriver struct {
	registry  Registry
	sentinels map[string]struct{}
	log       zerolog.Logger
}

func newTitleDeriver(registry Registry, sentinels []string, log zerolog.Logger) *titleDeriver {
	set := make(map[string]struct{}, len(sentinels))
	for _, s := range sentinels {
		set[s] = struct{}{}
	}
	return &titleDeriver{
		registry:  registry,
		sentinels: set,
		log:       log,
	}
}

// derive applies the title policy for one generation. Conversations whose
// title was already customized are left alone.
func (td *titleDeriver) derive(ctx context.Context, conv Conversation, meta generate.Classification) {
	if meta.Topic == "" {
		return
	}
	if _, isDefault := td.sentinels[conv.Title]; !isDefault {
		return
	}

	go func() {
		if err := td.registry.UpdateTitle(ctx, conv.ID, meta.Topic); err != nil {
			td.log.Warn().Err(err).
				Stringer("conversation_id", conv.ID).
				Msg("failed to persist derived title")
		}
	}()
}
