// Package generate wraps language-generation backends behind a uniform lazy,
// cancellable fragment-stream contract.
package generate

import "context"

// Classification describes the content a generation is about to stream: a
// short topic label, used only for deriving conversation titles, and the
// canonical full text when the backend knows it up front.
type Classification struct {
	Topic string
	Text  string
}

// FragmentStream is a lazy, finite sequence of text fragments. It follows the
// Next/Current/Err iteration shape of SSE stream decoders: Next blocks until
// a fragment is available and returns false when the sequence ends for any
// reason; Err reports what ended it, or nil on natural exhaustion.
//
// A stream is not resumable; restarting means calling Generate again.
type FragmentStream interface {
	Next() bool
	Current() string
	Err() error
}

// Generator produces a fragment stream for a prompt. Cancelling ctx stops
// future fragment production but never retracts fragments already produced.
// Exactly once per stream, before or during the first fragment, the generator
// calls onMeta with a classification of the upcoming content. onMeta must not
// be used to alter or skip fragment delivery.
type Generator interface {
	Generate(ctx context.Context, prompt string, onMeta func(Classification)) FragmentStream
}
