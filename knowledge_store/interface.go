package knowledge_store

import (
	"context"
	"fmt"
	"time"
)

// Pattern maps a phrase the user says to the entity they mean. Rows are never
// deleted and usage only grows; a better mapping for the same phrase
// supersedes by confidence.
type Pattern struct {
	ID         int64     `json:"id"`
	FromPhrase string    `json:"from_phrase"`
	ToEntity   string    `json:"to_entity"`
	Context    string    `json:"context"`
	Confidence float64   `json:"confidence"`
	UsageCount int64     `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalPaused    GoalStatus = "paused"
)

func (s GoalStatus) Valid() bool {
	switch s {
	case GoalActive, GoalCompleted, GoalPaused:
		return true
	}

	return false
}

type Goal struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      GoalStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type MilestoneStatus string

const (
	MilestonePending MilestoneStatus = "pending"
	MilestoneReached MilestoneStatus = "reached"
)

type Milestone struct {
	ID          string          `json:"id"`
	GoalID      string          `json:"goal_id"`
	Description string          `json:"description"`
	Status      MilestoneStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Decision struct {
	ID          string    `json:"id"`
	GoalID      string    `json:"goal_id"`
	Description string    `json:"description"`
	Rationale   string    `json:"rationale"`
	CreatedAt   time.Time `json:"created_at"`
}

// Match is a pattern found for a spoken phrase. Exact is false for fuzzy hits.
type Match struct {
	Pattern Pattern
	Exact   bool
	Score   int
}

type Interface interface {
	// Lookup finds the best pattern for phrase: exact normalized match first,
	// then fuzzy. A nil Match with nil error means nothing is known.
	Lookup(ctx context.Context, phrase string) (*Match, error)
	Patterns(ctx context.Context) ([]Pattern, error)
	// Learn records from→to, or strengthens the existing row for that pair.
	Learn(ctx context.Context, from, to, hint string, confidence float64) (Pattern, error)
	// Reinforce bumps usage and raises confidence toward 1.
	Reinforce(ctx context.Context, id int64) (Pattern, error)
	// Demote scales confidence down by factor in (0,1). Usage is untouched.
	Demote(ctx context.Context, id int64, factor float64) (Pattern, error)

	SetGoal(ctx context.Context, description string) (Goal, error)
	SetGoalStatus(ctx context.Context, id string, status GoalStatus) (Goal, error)
	ActiveGoal(ctx context.Context) (*Goal, error)
	Goals(ctx context.Context) ([]Goal, error)

	AddMilestone(ctx context.Context, goalID, description string, status MilestoneStatus) (Milestone, error)
	Milestones(ctx context.Context, goalID string) ([]Milestone, error)

	RecordDecision(ctx context.Context, goalID, description, rationale string) (Decision, error)
	Decisions(ctx context.Context, limit int) ([]Decision, error)

	SetContext(ctx context.Context, key, value string) error
	Context(ctx context.Context) (map[string]string, error)

	Close() error
}

// KnowledgeStoreError wraps any failure of the backing database. Callers
// degrade rather than fail the turn.
type KnowledgeStoreError struct {
	Op  string
	Err error
}

func (e *KnowledgeStoreError) Error() string {
	return fmt.Sprintf("knowledge store: %s: %v", e.Op, e.Err)
}

func (e *KnowledgeStoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}

	return &KnowledgeStoreError{Op: op, Err: err}
}
