package speech_to_text

import (
	"context"
	"errors"
	"fmt"

	"voice-command-router/voice_activity"
)

// ErrNoSpeech means the utterance held no words: the gate closed on silence
// or every engine returned empty text.
var ErrNoSpeech = errors.New("no speech in utterance")

// Transcript is the text heard for one utterance.
type Transcript struct {
	Text        string
	Confidence  float64
	UtteranceID string
	Engine      string
}

type Interface interface {
	// Transcribe turns an utterance into text. Engine failures are retried
	// once across the whole engine chain. All failures are *TranscriptionError.
	Transcribe(ctx context.Context, u *voice_activity.Utterance) (Transcript, error)
	// Floor is the confidence below which a transcript is treated as noise.
	Floor() float64
}

// Engine is one speech recognizer. Confidence is in [0,1].
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, u *voice_activity.Utterance) (text string, confidence float64, err error)
}

type TranscriptionError struct {
	UtteranceID string
	Engine      string
	Err         error
}

func (e *TranscriptionError) Error() string {
	if e.Engine == "" {
		return fmt.Sprintf("transcribe utterance %s: %v", e.UtteranceID, e.Err)
	}

	return fmt.Sprintf("transcribe utterance %s with %s: %v", e.UtteranceID, e.Engine, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}
