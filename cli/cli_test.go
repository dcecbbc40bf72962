package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"voice-command-router/knowledge_store"
	"voice-command-router/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the command tree against a private config file and database.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	t.Setenv("VCR_KNOWLEDGE_LOCAL_DB", filepath.Join(dir, "knowledge.db"))
	t.Setenv("VCR_LOGGING_LEVEL", "error")

	var out bytes.Buffer

	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", filepath.Join(dir, "config.yaml")}, args...))

	err := root.ExecuteContext(context.Background())

	return out.String(), err
}

func TestConfigCommand(t *testing.T) {
	t.Run("init writes the defaults and show reads them back", func(t *testing.T) {
		dir := t.TempDir()

		out, err := execute(t, dir, "config", "init")
		require.NoError(t, err)
		assert.Contains(t, out, "config.yaml")

		raw, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
		require.NoError(t, err)
		assert.Contains(t, string(raw), "interrupt_policy: barge-in")

		out, err = execute(t, dir, "config", "show")
		require.NoError(t, err)
		assert.Contains(t, out, "confidence_threshold: 0.8")
	})

	t.Run("init refuses to clobber an existing file", func(t *testing.T) {
		dir := t.TempDir()

		_, err := execute(t, dir, "config", "init")
		require.NoError(t, err)

		_, err = execute(t, dir, "config", "init")
		assert.ErrorContains(t, err, "already exists")

		_, err = execute(t, dir, "config", "init", "--force")
		assert.NoError(t, err)
	})

	t.Run("flags override the file", func(t *testing.T) {
		dir := t.TempDir()

		out, err := execute(t, dir, "--model", "opus", "config", "show")
		require.NoError(t, err)
		assert.Contains(t, out, "model: opus")
	})

	t.Run("an invalid file is reported", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("session:\n  interrupt_policy: shout\n"), 0o644))

		_, err := execute(t, dir, "config", "show")
		assert.Error(t, err)
	})
}

func TestKnowledgeCommand(t *testing.T) {
	t.Run("an empty database says so", func(t *testing.T) {
		dir := t.TempDir()

		out, err := execute(t, dir, "knowledge", "patterns")
		require.NoError(t, err)
		assert.Contains(t, out, "nothing recorded yet")
	})

	t.Run("taught phrases are listed", func(t *testing.T) {
		dir := t.TempDir()

		out, err := execute(t, dir, "knowledge", "teach", "the payment thing", "payment module")
		require.NoError(t, err)
		assert.Contains(t, out, `"payment thing" now means "payment module"`)

		out, err = execute(t, dir, "kb", "patterns")
		require.NoError(t, err)
		assert.Contains(t, out, "PHRASE")
		assert.Contains(t, out, "payment module")

		out, err = execute(t, dir, "knowledge", "patterns", "--json")
		require.NoError(t, err)

		var patterns []knowledge_store.Pattern
		require.NoError(t, json.Unmarshal([]byte(out), &patterns))
		require.Len(t, patterns, 1)
		assert.Equal(t, "payment thing", patterns[0].FromPhrase)
		assert.Equal(t, "taught", patterns[0].Context)
	})

	t.Run("goals and decisions come from the same database", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()

		store, err := knowledge_store.New(&knowledge_store.Config{Path: filepath.Join(dir, "knowledge.db")})
		require.NoError(t, err)

		goal, err := store.SetGoal(ctx, "build payment system")
		require.NoError(t, err)
		_, err = store.AddMilestone(ctx, goal.ID, "schema merged", knowledge_store.MilestoneReached)
		require.NoError(t, err)
		_, err = store.RecordDecision(ctx, goal.ID, "use postgres", "we need transactions")
		require.NoError(t, err)
		require.NoError(t, store.SetContext(ctx, "current_goal", goal.Description))
		require.NoError(t, store.Close())

		out, err := execute(t, dir, "knowledge", "goals")
		require.NoError(t, err)
		assert.Contains(t, out, "build payment system")
		assert.Contains(t, out, "active")

		out, err = execute(t, dir, "knowledge", "milestones")
		require.NoError(t, err)
		assert.Contains(t, out, "schema merged")

		out, err = execute(t, dir, "knowledge", "decisions", "--limit", "5")
		require.NoError(t, err)
		assert.Contains(t, out, "we need transactions")

		out, err = execute(t, dir, "knowledge", "context")
		require.NoError(t, err)
		assert.Contains(t, out, "current_goal")
	})

	t.Run("milestones need a goal", func(t *testing.T) {
		dir := t.TempDir()

		_, err := execute(t, dir, "knowledge", "milestones")
		assert.ErrorContains(t, err, "no active goal")
	})
}

func TestStatusCommand(t *testing.T) {
	t.Run("a fresh database has nothing to report", func(t *testing.T) {
		out, err := execute(t, t.TempDir(), "status")
		require.NoError(t, err)
		assert.Contains(t, out, "nothing recorded yet")
	})

	t.Run("the last request and the active goal are shown", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()

		store, err := knowledge_store.New(&knowledge_store.Config{Path: filepath.Join(dir, "knowledge.db")})
		require.NoError(t, err)

		goal, err := store.SetGoal(ctx, "build payment system")
		require.NoError(t, err)
		_, err = store.AddMilestone(ctx, goal.ID, "schema merged", knowledge_store.MilestoneReached)
		require.NoError(t, err)
		require.NoError(t, store.SetContext(ctx, "last_intent", "TEST"))
		require.NoError(t, store.SetContext(ctx, "last_directive", "Run the test suite for the payment module"))
		require.NoError(t, store.SetContext(ctx, "last_outcome", "dispatched"))
		require.NoError(t, store.Close())

		out, err := execute(t, dir, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "build payment system")
		assert.Contains(t, out, "Run the test suite for the payment module")
		assert.Contains(t, out, "dispatched")

		out, err = execute(t, dir, "status", "--json")
		require.NoError(t, err)

		var st session.Status
		require.NoError(t, json.Unmarshal([]byte(out), &st))
		assert.Equal(t, "TEST", st.LastIntent)
		assert.Equal(t, 1, st.Milestones)
		require.NotNil(t, st.Goal)
		assert.Equal(t, goal.ID, st.Goal.ID)
	})

	t.Run("status leaves the context untouched", func(t *testing.T) {
		dir := t.TempDir()

		_, err := execute(t, dir, "status")
		require.NoError(t, err)

		out, err := execute(t, dir, "knowledge", "context")
		require.NoError(t, err)
		assert.Contains(t, out, "nothing recorded yet")
	})
}

func TestSayCommand(t *testing.T) {
	t.Run("a request is required", func(t *testing.T) {
		_, err := execute(t, t.TempDir(), "say")
		assert.Error(t, err)
	})
}
