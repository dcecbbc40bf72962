package sync_api

import (
	"context"
	"time"
)

type Kind string

const (
	KindGoal      Kind = "goal"
	KindMilestone Kind = "milestone"
	KindDecision  Kind = "decision"
)

// Record is one knowledge write mirrored to the remote service.
type Record struct {
	Kind      Kind              `json:"kind"`
	ID        string            `json:"id"`
	GoalID    string            `json:"goal_id,omitempty"`
	Text      string            `json:"text"`
	Status    string            `json:"status,omitempty"`
	Rationale string            `json:"rationale,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	At        time.Time         `json:"at"`
}

type SyncAPI interface {
	Push(ctx context.Context, rec Record) error
}
