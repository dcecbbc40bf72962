package command_router

import (
	"context"

	"voice-command-router/command"
)

// Input is a classification ready to be routed.
type Input struct {
	Entities   []string
	Action     string
	Confidence float64
	Context    map[string]string
	Transcript string
	// Candidates are alternative readings offered when asking back.
	Candidates []string
}

type DecisionKind int

const (
	Dispatch DecisionKind = iota + 1
	Local
	Clarify
)

func (k DecisionKind) String() string {
	switch k {
	case Dispatch:
		return "dispatch"
	case Local:
		return "local"
	case Clarify:
		return "clarify"
	}

	return "unknown"
}

type LocalKind int

const (
	SetGoal LocalKind = iota + 1
	CompleteGoal
	PauseGoal
	RecordMilestone
	RecordDecision
	Cancel
)

func (k LocalKind) String() string {
	switch k {
	case SetGoal:
		return "set_goal"
	case CompleteGoal:
		return "complete_goal"
	case PauseGoal:
		return "pause_goal"
	case RecordMilestone:
		return "record_milestone"
	case RecordDecision:
		return "record_decision"
	case Cancel:
		return "cancel"
	}

	return "unknown"
}

// LocalAction is handled by the session without the assistant.
type LocalAction struct {
	Kind LocalKind
	Text string
	// Rationale is set for decisions phrased "X because Y".
	Rationale string
}

type UpdateOp int

const (
	Reinforce UpdateOp = iota + 1
	Learn
	Demote
)

// PatternUpdate is a learning side effect applied by Commit.
type PatternUpdate struct {
	Op         UpdateOp
	PatternID  int64
	From       string
	To         string
	Context    string
	Confidence float64
}

// Decision is exactly one of Command, Local or Clarification, per Kind.
type Decision struct {
	Kind          DecisionKind
	Command       *command.Command
	Local         *LocalAction
	Clarification *command.ClarificationRequest
	Resolutions   []command.AmbiguityResolution
	Learn         []PatternUpdate
	// Degraded is set when the knowledge store could not be read.
	Degraded bool
}

type Interface interface {
	// Route is a pure function of in, the knowledge snapshot and the clock.
	Route(ctx context.Context, in Input) Decision
	// Answer interprets a reply to a pending clarification. handled is false
	// when the reply is not an answer and should be classified afresh,
	// merged with the original transcript.
	Answer(ctx context.Context, req *command.ClarificationRequest, reply string) (d Decision, handled bool)
	// Commit applies d.Learn. Only the session calls it.
	Commit(ctx context.Context, d Decision) error
	Threshold() float64
}
