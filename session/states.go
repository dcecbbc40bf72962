package session

import "fmt"

type State int32

const (
	Idle State = iota
	Listening
	Transcribing
	Classifying
	Clarifying
	Executing
	Speaking
	Interrupted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Transcribing:
		return "transcribing"
	case Classifying:
		return "classifying"
	case Clarifying:
		return "clarifying"
	case Executing:
		return "executing"
	case Speaking:
		return "speaking"
	case Interrupted:
		return "interrupted"
	}

	return fmt.Sprintf("State(%d)", int32(s))
}

// States lists every state, for metrics.
func States() []string {
	return []string{
		Idle.String(), Listening.String(), Transcribing.String(), Classifying.String(),
		Clarifying.String(), Executing.String(), Speaking.String(), Interrupted.String(),
	}
}

var transitions = map[State][]State{
	// Classifying directly from Idle is the typed-input path.
	Idle:         {Listening, Classifying},
	Listening:    {Transcribing, Idle},
	Transcribing: {Classifying, Listening, Idle},
	Classifying:  {Clarifying, Executing, Speaking, Idle},
	Clarifying:   {Listening, Idle},
	Executing:    {Speaking, Interrupted, Idle},
	Speaking:     {Idle, Interrupted},
	Interrupted:  {Listening},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}

	return false
}
