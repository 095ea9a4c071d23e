package generate

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI is a Generator backed by the OpenAI chat completions API
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(client *openai.Client, model string) *OpenAI {
	return &OpenAI{
		client: client,
		model:  model,
	}
}

func (g *OpenAI) Generate(ctx context.Context, prompt string, onMeta func(Classification)) FragmentStream {
	if onMeta != nil {
		onMeta(Classification{Topic: TopicFromPrompt(prompt)})
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return &openaiStream{err: fmt.Errorf("failed to open completion stream: %w", err)}
	}

	return &openaiStream{stream: stream}
}

type openaiStream struct {
	stream  *openai.ChatCompletionStream
	current string
	err     error
	done    bool
}

func (s *openaiStream) Next() bool {
	if s.err != nil || s.done {
		return false
	}
	for {
		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			s.stream.Close()
			return false
		}
		if err != nil {
			s.err = fmt.Errorf("failed to receive completion chunk: %w", err)
			s.stream.Close()
			return false
		}
		if len(response.Choices) == 0 || response.Choices[0].Delta.Content == "" {
			continue
		}
		s.current = response.Choices[0].Delta.Content
		return true
	}
}

func (s *openaiStream) Current() string {
	return s.current
}

func (s *openaiStream) Err() error {
	return s.err
}
