package generate

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// Anthropic is a Generator backed by the Anthropic Messages API. Each
// generation is a single-turn streamed completion of the prompt.
type Anthropic struct {
	client          anthropic.Client
	model           anthropic.Model
	maxOutputTokens int64
}

func NewAnthropic(client anthropic.Client, model anthropic.Model, maxOutputTokens int64) *Anthropic {
	return &Anthropic{
		client:          client,
		model:           model,
		maxOutputTokens: maxOutputTokens,
	}
}

func (g *Anthropic) Generate(ctx context.Context, prompt string, onMeta func(Classification)) FragmentStream {
	// The backend cannot classify content it has not produced yet, so the
	// topic label is derived from the prompt and the canonical text is left
	// empty
	if onMeta != nil {
		onMeta(Classification{Topic: TopicFromPrompt(prompt)})
	}

	stream := g.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxOutputTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})

	return &anthropicStream{stream: stream}
}

type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	current string
}

func (s *anthropicStream) Next() bool {
	for s.stream.Next() {
		event := s.stream.Current()
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if deltaVariant.Text == "" {
					continue
				}
				s.current = deltaVariant.Text
				return true
			}
		}
	}
	return false
}

func (s *anthropicStream) Current() string {
	return s.current
}

func (s *anthropicStream) Err() error {
	return s.stream.Err()
}
