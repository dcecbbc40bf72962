package knowledge_store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanGoal(row scanner) (Goal, error) {
	var (
		g                    Goal
		status               string
		createdAt, updatedAt string
	)

	if err := row.Scan(&g.ID, &g.Description, &status, &createdAt, &updatedAt); err != nil {
		return Goal{}, err
	}

	g.Status = GoalStatus(status)
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)

	return g, nil
}

// SetGoal creates a new active goal. Any goal that was active is paused, so
// at most one goal is active at a time.
func (s *sqliteImpl) SetGoal(ctx context.Context, description string) (Goal, error) {
	if description == "" {
		return Goal{}, storeErr("set goal", fmt.Errorf("empty description"))
	}

	now := s.stamp()
	g := Goal{
		ID:          uuid.NewString(),
		Description: description,
		Status:      GoalActive,
		CreatedAt:   parseTime(now),
		UpdatedAt:   parseTime(now),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Goal{}, storeErr("set goal", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `UPDATE goals SET status = ?, updated_at = ? WHERE status = ?`,
		string(GoalPaused), now, string(GoalActive)); err != nil {
		return Goal{}, storeErr("set goal", err)
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO goals (id, description, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.Description, string(g.Status), now, now); err != nil {
		return Goal{}, storeErr("set goal", err)
	}

	if err = tx.Commit(); err != nil {
		return Goal{}, storeErr("set goal", err)
	}

	s.logger.Info("goal set", zap.String("goal", g.ID), zap.String("description", description))

	return g, nil
}

func (s *sqliteImpl) SetGoalStatus(ctx context.Context, id string, status GoalStatus) (Goal, error) {
	if !status.Valid() {
		return Goal{}, storeErr("set goal status", fmt.Errorf("invalid status %q", status))
	}

	now := s.stamp()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Goal{}, storeErr("set goal status", err)
	}
	defer tx.Rollback()

	if status == GoalActive {
		if _, err = tx.ExecContext(ctx, `UPDATE goals SET status = ?, updated_at = ? WHERE status = ? AND id != ?`,
			string(GoalPaused), now, string(GoalActive), id); err != nil {
			return Goal{}, storeErr("set goal status", err)
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE goals SET status = ?, updated_at = ? WHERE id = ?`, string(status), now, id)
	if err != nil {
		return Goal{}, storeErr("set goal status", err)
	}

	if err = expectOne(res); err != nil {
		return Goal{}, storeErr("set goal status", err)
	}

	g, err := scanGoal(tx.QueryRowContext(ctx, `SELECT id, description, status, created_at, updated_at FROM goals WHERE id = ?`, id))
	if err != nil {
		return Goal{}, storeErr("set goal status", err)
	}

	return g, storeErr("set goal status", tx.Commit())
}

func (s *sqliteImpl) ActiveGoal(ctx context.Context) (*Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := scanGoal(s.db.QueryRowContext(ctx, `
	SELECT id, description, status, created_at, updated_at FROM goals
	WHERE status = ? ORDER BY updated_at DESC LIMIT 1`, string(GoalActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, storeErr("active goal", err)
	}

	return &g, nil
}

func (s *sqliteImpl) Goals(ctx context.Context) ([]Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, description, status, created_at, updated_at FROM goals ORDER BY created_at DESC`)
	if err != nil {
		return nil, storeErr("list goals", err)
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, storeErr("list goals", err)
		}
		out = append(out, g)
	}

	return out, storeErr("list goals", rows.Err())
}

func (s *sqliteImpl) AddMilestone(ctx context.Context, goalID, description string, status MilestoneStatus) (Milestone, error) {
	if description == "" {
		return Milestone{}, storeErr("add milestone", fmt.Errorf("empty description"))
	}

	if status == "" {
		status = MilestoneReached
	}

	now := s.stamp()
	m := Milestone{
		ID:          uuid.NewString(),
		GoalID:      goalID,
		Description: description,
		Status:      status,
		CreatedAt:   parseTime(now),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO milestones (id, goal_id, description, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.GoalID, m.Description, string(m.Status), now)
	if err != nil {
		return Milestone{}, storeErr("add milestone", err)
	}

	return m, nil
}

// Milestones lists milestones for goalID, or all when goalID is empty.
func (s *sqliteImpl) Milestones(ctx context.Context, goalID string) ([]Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, goal_id, description, status, created_at FROM milestones`
	args := []any{}

	if goalID != "" {
		query += ` WHERE goal_id = ?`
		args = append(args, goalID)
	}

	rows, err := s.db.QueryContext(ctx, query+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, storeErr("list milestones", err)
	}
	defer rows.Close()

	var out []Milestone
	for rows.Next() {
		var (
			m                 Milestone
			status, createdAt string
		)

		if err := rows.Scan(&m.ID, &m.GoalID, &m.Description, &status, &createdAt); err != nil {
			return nil, storeErr("list milestones", err)
		}

		m.Status = MilestoneStatus(status)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}

	return out, storeErr("list milestones", rows.Err())
}

func (s *sqliteImpl) RecordDecision(ctx context.Context, goalID, description, rationale string) (Decision, error) {
	if description == "" {
		return Decision{}, storeErr("record decision", fmt.Errorf("empty description"))
	}

	now := s.stamp()
	d := Decision{
		ID:          uuid.NewString(),
		GoalID:      goalID,
		Description: description,
		Rationale:   rationale,
		CreatedAt:   parseTime(now),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO decisions (id, goal_id, description, rationale, created_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.GoalID, d.Description, d.Rationale, now)
	if err != nil {
		return Decision{}, storeErr("record decision", err)
	}

	return d, nil
}

// Decisions returns the most recent decisions first; limit <= 0 means all.
func (s *sqliteImpl) Decisions(ctx context.Context, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = -1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, goal_id, description, rationale, created_at FROM decisions
	ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("list decisions", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var (
			d         Decision
			createdAt string
		)

		if err := rows.Scan(&d.ID, &d.GoalID, &d.Description, &d.Rationale, &createdAt); err != nil {
			return nil, storeErr("list decisions", err)
		}

		d.CreatedAt = parseTime(createdAt)
		out = append(out, d)
	}

	return out, storeErr("list decisions", rows.Err())
}

func (s *sqliteImpl) SetContext(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO context (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.stamp())

	return storeErr("set context", err)
}

func (s *sqliteImpl) Context(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM context ORDER BY key`)
	if err != nil {
		return nil, storeErr("read context", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, storeErr("read context", err)
		}
		out[k] = v
	}

	return out, storeErr("read context", rows.Err())
}
