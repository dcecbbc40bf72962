package session

import (
	"context"
	"fmt"

	"voice-command-router/knowledge_store"
)

const (
	keyLastIntent    = "last_intent"
	keyLastDirective = "last_directive"
	keyLastOutcome   = "last_outcome"
	keyCurrentGoal   = "current_goal"
)

// Status is what the latest session left in the knowledge store: the last
// routed command, how the last turn ended and the goal in progress.
type Status struct {
	LastIntent    string                `json:"last_intent,omitempty"`
	LastDirective string                `json:"last_directive,omitempty"`
	LastOutcome   string                `json:"last_outcome,omitempty"`
	Goal          *knowledge_store.Goal `json:"goal,omitempty"`
	Milestones    int                   `json:"milestones"`
}

func (s Status) Empty() bool {
	return s.LastIntent == "" && s.LastDirective == "" && s.LastOutcome == "" && s.Goal == nil
}

// ReadStatus needs no running session. It only reads.
func ReadStatus(ctx context.Context, store knowledge_store.Interface) (Status, error) {
	if store == nil {
		return Status{}, fmt.Errorf("store is nil")
	}

	rows, err := store.Context(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read context: %w", err)
	}

	st := Status{
		LastIntent:    rows[keyLastIntent],
		LastDirective: rows[keyLastDirective],
		LastOutcome:   rows[keyLastOutcome],
	}

	goal, err := store.ActiveGoal(ctx)
	if err != nil {
		return st, fmt.Errorf("read active goal: %w", err)
	}

	if goal == nil {
		return st, nil
	}
	st.Goal = goal

	milestones, err := store.Milestones(ctx, goal.ID)
	if err != nil {
		return st, fmt.Errorf("read milestones: %w", err)
	}
	st.Milestones = len(milestones)

	return st, nil
}
