package knowledge_store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tickingClock() func() time.Time {
	t := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newStore(t *testing.T) (Interface, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "knowledge.db")
	s, err := New(&Config{Path: path, Now: tickingClock()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, path
}

func TestNormalizePhrase(t *testing.T) {
	t.Run("case punctuation and leading articles are ignored", func(t *testing.T) {
		assert.Equal(t, "auth thing", NormalizePhrase("The  Auth thing!"))
		assert.Equal(t, "auth.py", NormalizePhrase("auth.py"))
		assert.Equal(t, "cafe", NormalizePhrase("ＣＡＦＥ"))
		assert.Equal(t, "", NormalizePhrase("  ?! "))
	})
}

func TestStore_Patterns(t *testing.T) {
	ctx := context.Background()

	t.Run("an exact lookup matches the normalized phrase", func(t *testing.T) {
		s, _ := newStore(t)

		_, err := s.Learn(ctx, "the auth thing", "authentication module", "code", 0.9)
		require.NoError(t, err)

		m, err := s.Lookup(ctx, "The Auth thing!")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.True(t, m.Exact)
		assert.Equal(t, "authentication module", m.Pattern.ToEntity)
	})

	t.Run("a close misspelling is found fuzzily", func(t *testing.T) {
		s, _ := newStore(t)

		_, err := s.Learn(ctx, "auth thing", "authentication module", "", 0.9)
		require.NoError(t, err)

		m, err := s.Lookup(ctx, "auth thng")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.False(t, m.Exact)
		assert.Equal(t, "authentication module", m.Pattern.ToEntity)
	})

	t.Run("unrelated short phrases do not match", func(t *testing.T) {
		s, _ := newStore(t)

		_, err := s.Learn(ctx, "auth thing", "authentication module", "", 0.9)
		require.NoError(t, err)

		m, err := s.Lookup(ctx, "db")
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("the highest confidence mapping for a phrase wins", func(t *testing.T) {
		s, _ := newStore(t)

		_, err := s.Learn(ctx, "auth", "authentication module", "", 0.7)
		require.NoError(t, err)
		_, err = s.Learn(ctx, "auth", "authorization service", "", 0.9)
		require.NoError(t, err)

		m, err := s.Lookup(ctx, "auth")
		require.NoError(t, err)
		assert.Equal(t, "authorization service", m.Pattern.ToEntity)

		all, err := s.Patterns(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("usage never decreases across learn reinforce and demote", func(t *testing.T) {
		s, _ := newStore(t)

		p, err := s.Learn(ctx, "auth", "authentication module", "", 0.8)
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.UsageCount)

		p, err = s.Learn(ctx, "auth", "authentication module", "", 0.6)
		require.NoError(t, err)
		assert.Equal(t, int64(2), p.UsageCount)
		assert.Equal(t, 0.8, p.Confidence)

		p, err = s.Reinforce(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), p.UsageCount)
		assert.InDelta(t, 0.82, p.Confidence, 1e-9)

		p, err = s.Demote(ctx, p.ID, 0.8)
		require.NoError(t, err)
		assert.Equal(t, int64(3), p.UsageCount)
		assert.InDelta(t, 0.656, p.Confidence, 1e-9)
	})

	t.Run("failures are reported as knowledge store errors", func(t *testing.T) {
		s, _ := newStore(t)

		var storeErr *KnowledgeStoreError

		_, err := s.Reinforce(ctx, 404)
		assert.True(t, errors.As(err, &storeErr))

		_, err = s.Demote(ctx, 1, 1.5)
		assert.True(t, errors.As(err, &storeErr))

		_, err = s.Learn(ctx, "?!", "x", "", 0.5)
		assert.True(t, errors.As(err, &storeErr))
	})

	t.Run("patterns survive reopening the database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "knowledge.db")

		s, err := New(&Config{Path: path})
		require.NoError(t, err)
		_, err = s.Learn(ctx, "auth", "authentication module", "", 0.9)
		require.NoError(t, err)
		require.NoError(t, s.Close())

		s, err = New(&Config{Path: path})
		require.NoError(t, err)
		defer s.Close()

		m, err := s.Lookup(ctx, "auth")
		require.NoError(t, err)
		require.NotNil(t, m)
	})
}

func TestStore_Goals(t *testing.T) {
	ctx := context.Background()

	t.Run("setting a goal pauses the previous active one", func(t *testing.T) {
		s, _ := newStore(t)

		first, err := s.SetGoal(ctx, "build payment system")
		require.NoError(t, err)
		second, err := s.SetGoal(ctx, "fix flaky tests")
		require.NoError(t, err)

		active, err := s.ActiveGoal(ctx)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, second.ID, active.ID)

		goals, err := s.Goals(ctx)
		require.NoError(t, err)
		require.Len(t, goals, 2)

		byID := map[string]Goal{}
		for _, g := range goals {
			byID[g.ID] = g
		}
		assert.Equal(t, GoalPaused, byID[first.ID].Status)
	})

	t.Run("completing the active goal leaves none active", func(t *testing.T) {
		s, _ := newStore(t)

		g, err := s.SetGoal(ctx, "ship v1")
		require.NoError(t, err)

		done, err := s.SetGoalStatus(ctx, g.ID, GoalCompleted)
		require.NoError(t, err)
		assert.Equal(t, GoalCompleted, done.Status)

		active, err := s.ActiveGoal(ctx)
		require.NoError(t, err)
		assert.Nil(t, active)
	})

	t.Run("milestones and decisions are kept per goal", func(t *testing.T) {
		s, _ := newStore(t)

		g, err := s.SetGoal(ctx, "ship v1")
		require.NoError(t, err)

		_, err = s.AddMilestone(ctx, g.ID, "api done", "")
		require.NoError(t, err)
		_, err = s.AddMilestone(ctx, "", "unrelated", MilestonePending)
		require.NoError(t, err)

		ms, err := s.Milestones(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, ms, 1)
		assert.Equal(t, MilestoneReached, ms[0].Status)

		all, err := s.Milestones(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		_, err = s.RecordDecision(ctx, g.ID, "use sqlite", "single user")
		require.NoError(t, err)
		_, err = s.RecordDecision(ctx, g.ID, "use zap", "structured logs")
		require.NoError(t, err)

		ds, err := s.Decisions(ctx, 1)
		require.NoError(t, err)
		require.Len(t, ds, 1)
		assert.Equal(t, "use zap", ds[0].Description)
	})

	t.Run("context keys are overwritten in place", func(t *testing.T) {
		s, _ := newStore(t)

		require.NoError(t, s.SetContext(ctx, "current_goal", "a"))
		require.NoError(t, s.SetContext(ctx, "current_goal", "b"))
		require.NoError(t, s.SetContext(ctx, "last_command", "RESEARCH"))

		c, err := s.Context(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"current_goal": "b", "last_command": "RESEARCH"}, c)
	})
}
