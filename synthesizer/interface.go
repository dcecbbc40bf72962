package synthesizer

import "context"

type Interface interface {
	// Speak reads streamed text until the channel closes and speaks it one
	// sentence at a time. Cancelling ctx stops playback immediately.
	Speak(ctx context.Context, text <-chan string) error
	// Say speaks a complete message.
	Say(ctx context.Context, text string) error
}

// Engine plays one sentence and returns when playback ends.
type Engine interface {
	Name() string
	Speak(ctx context.Context, sentence string) error
}
