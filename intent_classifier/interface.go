package intent_classifier

import (
	"context"

	"voice-command-router/command"
)

// Vote is one pass's reading of the transcript. Abstain means the pass had
// nothing to contribute and is left out of the tally.
type Vote struct {
	Pass     string
	Action   string
	Intent   command.Intent
	Entities []string
	Score    float64
	Abstain  bool
}

// Key is what votes agree or disagree on.
func (v Vote) Key() string {
	return v.Intent.String() + "|" + primary(v.Entities)
}

type Classification struct {
	Entities   []string
	Action     string
	Confidence float64
	Votes      []Vote
	// Agreement is the share of passes that backed the winning reading.
	Agreement float64
	Majority  bool
	// Context carries hints detected in the wording: urgency, scope.
	Context map[string]string
	// Cleaned is the transcript with filler removed.
	Cleaned string
}

// Pass is one independent reading strategy in the ensemble.
type Pass interface {
	Name() string
	Vote(ctx context.Context, u Utterance) (Vote, error)
}

// Utterance is the pre-processed transcript every pass sees.
type Utterance struct {
	Text    string
	Tokens  []string
	Context map[string]string
}

type Interface interface {
	Classify(ctx context.Context, text string, sessionContext map[string]string) (Classification, error)
}

func primary(entities []string) string {
	if len(entities) == 0 {
		return ""
	}

	return entities[0]
}
