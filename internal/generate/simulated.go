package generate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultEmissionCeiling bounds the total time a simulated generation spends
// emitting fragments, regardless of how many fragments there are
const DefaultEmissionCeiling = 15 * time.Second

// Simulated is a Generator that produces a canned reply without calling any
// external backend. The reply is split into one-word fragments and paced so
// that total emission time never exceeds the configured ceiling.
type Simulated struct {
	ceiling time.Duration

	// tick schedules one pacing delay; injectable so tests can run without
	// real timers
	tick func(d time.Duration) <-chan time.Time
}

// NewSimulated creates a simulated generator. A non-positive ceiling emits
// fragments without pacing.
func NewSimulated(ceiling time.Duration) *Simulated {
	return &Simulated{
		ceiling: ceiling,
		tick:    time.After,
	}
}

func (g *Simulated) Generate(ctx context.Context, prompt string, onMeta func(Classification)) FragmentStream {
	text := fmt.Sprintf(
		"[Simulated AI Response] I received your message: %q. This is a simulated response. "+
			"In a real deployment this conversation would be answered by a language-generation backend.",
		prompt,
	)

	words := strings.Fields(text)
	fragments := make([]string, len(words))
	for i, w := range words {
		if i < len(words)-1 {
			fragments[i] = w + " "
		} else {
			fragments[i] = w
		}
	}

	if onMeta != nil {
		onMeta(Classification{
			Topic: TopicFromPrompt(prompt),
			Text:  text,
		})
	}

	var interval time.Duration
	if g.ceiling > 0 && len(fragments) > 0 {
		interval = g.ceiling / time.Duration(len(fragments))
	}

	return &simulatedStream{
		ctx:       ctx,
		fragments: fragments,
		interval:  interval,
		tick:      g.tick,
		index:     -1,
	}
}

type simulatedStream struct {
	ctx       context.Context
	fragments []string
	interval  time.Duration
	tick      func(d time.Duration) <-chan time.Time

	index int
	err   error
}

func (s *simulatedStream) Next() bool {
	if s.err != nil || s.index+1 >= len(s.fragments) {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if s.interval > 0 {
		select {
		case <-s.tick(s.interval):
		case <-s.ctx.Done():
			s.err = s.ctx.Err()
			return false
		}
	}
	s.index++
	return true
}

func (s *simulatedStream) Current() string {
	return s.fragments[s.index]
}

func (s *simulatedStream) Err() error {
	return s.err
}

// TopicFromPrompt derives a short topic label from the opening words of a
// prompt. Used by backends that have no better classification source.
func TopicFromPrompt(prompt string) string {
	const maxLen = 48

	topic := strings.Join(strings.Fields(prompt), " ")
	topic = strings.TrimRight(topic, " .!?")
	if len(topic) > maxLen {
		topic = strings.TrimRight(topic[:maxLen], " ") + "..."
	}
	return topic
}
