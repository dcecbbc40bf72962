package command_router

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"voice-command-router/command"
	"voice-command-router/knowledge_store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) knowledge_store.Interface {
	t.Helper()

	s, err := knowledge_store.New(&knowledge_store.Config{Path: filepath.Join(t.TempDir(), "knowledge.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func newRouter(t *testing.T, store Store, mode ConfirmationMode) Interface {
	t.Helper()

	r, err := New(&Config{
		Store:        store,
		Confirmation: mode,
		Now:          func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	return r
}

type brokenStore struct{}

func (brokenStore) Lookup(context.Context, string) (*knowledge_store.Match, error) {
	return nil, errors.New("database is locked")
}

func (brokenStore) Learn(context.Context, string, string, string, float64) (knowledge_store.Pattern, error) {
	return knowledge_store.Pattern{}, errors.New("database is locked")
}

func (brokenStore) Reinforce(context.Context, int64) (knowledge_store.Pattern, error) {
	return knowledge_store.Pattern{}, errors.New("database is locked")
}

func (brokenStore) Demote(context.Context, int64, float64) (knowledge_store.Pattern, error) {
	return knowledge_store.Pattern{}, errors.New("database is locked")
}

func TestNew(t *testing.T) {
	t.Run("a nil config is rejected", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})

	t.Run("an unknown confirmation mode is rejected", func(t *testing.T) {
		_, err := New(&Config{Confirmation: "sometimes"})
		assert.Error(t, err)
	})

	t.Run("the threshold defaults to 0.80", func(t *testing.T) {
		r, err := New(&Config{})
		require.NoError(t, err)
		assert.Equal(t, 0.80, r.Threshold())
	})
}

func TestRouter_Route(t *testing.T) {
	ctx := context.Background()

	t.Run("a known abbreviation is expanded and confidence multiplied", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Learn(ctx, "auth", "authentication module", "code", 0.9)
		require.NoError(t, err)

		r := newRouter(t, store, ConfirmSmart)

		d := r.Route(ctx, Input{
			Entities:   []string{"auth"},
			Action:     command.ActionTest,
			Confidence: 0.95,
			Transcript: "run tests on auth",
		})

		require.Equal(t, Dispatch, d.Kind)
		require.NotNil(t, d.Command)
		assert.Equal(t, command.Test, d.Command.Intent)
		assert.Equal(t, "Run the test suite for the authentication module", d.Command.Directive)
		assert.Equal(t, []string{"authentication module"}, d.Command.Entities)
		assert.InDelta(t, 0.855, d.Command.Confidence, 1e-9)
		assert.Equal(t, fixedNow, d.Command.CreatedAt)

		require.Len(t, d.Resolutions, 1)
		assert.Equal(t, "auth", d.Resolutions[0].FromPhrase)
		require.Len(t, d.Learn, 1)
		assert.Equal(t, Reinforce, d.Learn[0].Op)
	})

	t.Run("routing is deterministic for the same input and knowledge", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Learn(ctx, "auth", "authentication module", "code", 0.9)
		require.NoError(t, err)

		r := newRouter(t, store, ConfirmSmart)
		in := Input{Entities: []string{"auth"}, Action: command.ActionTest, Confidence: 0.95, Transcript: "run tests on auth"}

		first := r.Route(ctx, in)
		second := r.Route(ctx, in)
		assert.Equal(t, first, second)
	})

	t.Run("low confidence asks back with the competing readings", func(t *testing.T) {
		r := newRouter(t, newStore(t), ConfirmSmart)

		d := r.Route(ctx, Input{
			Entities:   []string{"login"},
			Action:     command.ActionFix,
			Confidence: 0.5,
			Transcript: "fix the login bug in the payment module",
			Candidates: []string{"login", "payment module"},
		})

		require.Equal(t, Clarify, d.Kind)
		assert.Nil(t, d.Command)
		require.NotNil(t, d.Clarification)
		assert.Equal(t, command.Disambiguate, d.Clarification.Kind)
		assert.Equal(t, []string{"login", "payment module"}, d.Clarification.Candidates)
		assert.Equal(t, "Which did you mean: login, or payment module?", d.Clarification.Question)
		assert.Empty(t, d.Learn)
	})

	t.Run("a lone unknown phrase gets a targeted question", func(t *testing.T) {
		r := newRouter(t, newStore(t), ConfirmSmart)

		d := r.Route(ctx, Input{Entities: []string{"auth thing"}, Action: command.ActionTest, Confidence: 0.6, Transcript: "test the auth thing"})

		require.Equal(t, Clarify, d.Kind)
		assert.Contains(t, d.Clarification.Question, "auth thing")
	})

	t.Run("nothing understood asks an open question", func(t *testing.T) {
		r := newRouter(t, newStore(t), ConfirmSmart)

		d := r.Route(ctx, Input{Confidence: 0.1, Transcript: "hmm"})

		require.Equal(t, Clarify, d.Kind)
		assert.Equal(t, "Sorry, what would you like me to do?", d.Clarification.Question)
	})

	t.Run("escalation dispatches uncertain commands for confirmation instead", func(t *testing.T) {
		r, err := New(&Config{Store: newStore(t), EscalateOnUncertainty: true, Confirmation: ConfirmSmart})
		require.NoError(t, err)

		d := r.Route(ctx, Input{Entities: []string{"cache"}, Action: command.ActionExplain, Confidence: 0.6, Transcript: "explain the cache"})

		require.Equal(t, Clarify, d.Kind)
		assert.Equal(t, command.Confirm, d.Clarification.Kind)
		require.NotNil(t, d.Clarification.Pending)
		assert.Equal(t, "true", d.Clarification.Pending.Context["uncertain"])
	})

	t.Run("escalation never forwards the raw transcript", func(t *testing.T) {
		r, err := New(&Config{Store: newStore(t), EscalateOnUncertainty: true, Confirmation: ConfirmNever})
		require.NoError(t, err)

		transcript := "um what is this, delete my home dir lol"
		d := r.Route(ctx, Input{Confidence: 0.2, Transcript: transcript})

		assert.Equal(t, Clarify, d.Kind)
		assert.Nil(t, d.Command)
		assert.Empty(t, d.Learn)

		d = r.Route(ctx, Input{Entities: []string{"cache"}, Confidence: 0.2, Transcript: "uh the cache thing " + transcript})

		require.Equal(t, Dispatch, d.Kind)
		assert.Equal(t, "Research the cache and summarize the findings", d.Command.Directive)
		assert.NotContains(t, d.Command.Directive, "home dir")
	})

	t.Run("a broken store degrades confidence instead of failing", func(t *testing.T) {
		r := newRouter(t, brokenStore{}, ConfirmNever)

		d := r.Route(ctx, Input{Entities: []string{"parser"}, Action: command.ActionTest, Confidence: 0.95, Transcript: "test the parser"})

		require.Equal(t, Dispatch, d.Kind)
		assert.True(t, d.Degraded)
		assert.InDelta(t, 0.855, d.Command.Confidence, 1e-9)
		assert.Equal(t, "Run the test suite for the parser", d.Command.Directive)
	})

	t.Run("fuzzy knowledge counts for less than exact knowledge", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Learn(ctx, "auth thing", "authentication module", "code", 1.0)
		require.NoError(t, err)

		r := newRouter(t, store, ConfirmNever)

		d := r.Route(ctx, Input{Entities: []string{"auth thng"}, Action: command.ActionExplain, Confidence: 1.0, Transcript: "explain the auth thng"})

		require.Equal(t, Dispatch, d.Kind)
		assert.Equal(t, "Explain how the authentication module works", d.Command.Directive)
		assert.InDelta(t, 0.9, d.Command.Confidence, 1e-9)
		assert.False(t, d.Resolutions[0].Exact)
	})

	t.Run("local goal requests never reach the assistant", func(t *testing.T) {
		r := newRouter(t, newStore(t), ConfirmSmart)

		d := r.Route(ctx, Input{Transcript: "Set goal to build the payment system.", Confidence: 0.2})

		require.Equal(t, Local, d.Kind)
		assert.Equal(t, SetGoal, d.Local.Kind)
		assert.Equal(t, "build the payment system", d.Local.Text)
	})
}

func TestRouter_Confirmation(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		mode    ConfirmationMode
		in      Input
		confirm bool
	}{
		{"always confirms even harmless research", ConfirmAlways, Input{Entities: []string{"cache"}, Action: command.ActionExplain, Confidence: 0.95}, true},
		{"never skips confirmation of destructive work", ConfirmNever, Input{Entities: []string{"cache"}, Action: command.ActionRefactor, Confidence: 0.85}, false},
		{"destructive-only confirms a deploy", ConfirmDestructive, Input{Entities: []string{"api"}, Action: command.ActionDeploy, Confidence: 0.99}, true},
		{"destructive-only lets tests through", ConfirmDestructive, Input{Entities: []string{"api"}, Action: command.ActionTest, Confidence: 0.85}, false},
		{"smart lets a confident narrow refactor through", ConfirmSmart, Input{Entities: []string{"parser"}, Action: command.ActionRefactor, Confidence: 0.95}, false},
		{"smart confirms a broad refactor", ConfirmSmart, Input{Entities: []string{"parser"}, Action: command.ActionRefactor, Confidence: 0.95, Context: map[string]string{"scope": "broad"}}, true},
		{"smart confirms a hesitant fix", ConfirmSmart, Input{Entities: []string{"parser"}, Action: command.ActionFix, Confidence: 0.85}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(t, newStore(t), tc.mode)

			d := r.Route(ctx, tc.in)

			if !tc.confirm {
				assert.Equal(t, Dispatch, d.Kind)
				return
			}

			require.Equal(t, Clarify, d.Kind)
			assert.Equal(t, command.Confirm, d.Clarification.Kind)
			require.NotNil(t, d.Clarification.Pending)
			assert.Equal(t, "Should I "+lowerFirst(d.Clarification.Pending.Directive)+"?", d.Clarification.Question)
		})
	}
}

func TestRouter_Answer(t *testing.T) {
	ctx := context.Background()

	confirmRequest := func(t *testing.T) (Interface, knowledge_store.Interface, *command.ClarificationRequest) {
		store := newStore(t)
		_, err := store.Learn(ctx, "db", "database layer", "code", 0.95)
		require.NoError(t, err)

		r := newRouter(t, store, ConfirmAlways)
		d := r.Route(ctx, Input{Entities: []string{"db"}, Action: command.ActionRefactor, Confidence: 1.0, Transcript: "refactor the db"})
		require.Equal(t, Clarify, d.Kind)

		return r, store, d.Clarification
	}

	t.Run("yes dispatches the pending command and reinforces what was used", func(t *testing.T) {
		r, store, req := confirmRequest(t)

		d, handled := r.Answer(ctx, req, "Yes, do it.")
		require.True(t, handled)
		require.Equal(t, Dispatch, d.Kind)
		assert.Equal(t, "Refactor the database layer", d.Command.Directive)

		require.NoError(t, r.Commit(ctx, d))

		m, err := store.Lookup(ctx, "db")
		require.NoError(t, err)
		assert.Greater(t, m.Pattern.Confidence, 0.95)
		assert.Equal(t, int64(2), m.Pattern.UsageCount)
	})

	t.Run("no cancels and demotes the mapping", func(t *testing.T) {
		r, store, req := confirmRequest(t)

		d, handled := r.Answer(ctx, req, "no")
		require.True(t, handled)
		require.Equal(t, Local, d.Kind)
		assert.Equal(t, Cancel, d.Local.Kind)

		require.NoError(t, r.Commit(ctx, d))

		m, err := store.Lookup(ctx, "db")
		require.NoError(t, err)
		assert.InDelta(t, 0.76, m.Pattern.Confidence, 1e-9)
	})

	t.Run("anything else is not an answer", func(t *testing.T) {
		r, _, req := confirmRequest(t)

		_, handled := r.Answer(ctx, req, "what time is it")
		assert.False(t, handled)
	})

	t.Run("naming a candidate routes it with high confidence", func(t *testing.T) {
		r := newRouter(t, newStore(t), ConfirmSmart)
		req := &command.ClarificationRequest{
			Kind:       command.Disambiguate,
			Candidates: []string{"login", "payment module"},
			Transcript: "fix the login bug in the payment module",
			Action:     command.ActionFix,
			Entities:   []string{"login"},
		}

		d, handled := r.Answer(ctx, req, "the payment module")
		require.True(t, handled)
		require.Equal(t, Dispatch, d.Kind)
		assert.Equal(t, "Find and fix the bug in the payment module", d.Command.Directive)
		assert.InDelta(t, 0.95, d.Command.Confidence, 1e-9)
		assert.Empty(t, d.Learn)
	})

	t.Run("an ordinal picks a candidate", func(t *testing.T) {
		r := newRouter(t, newStore(t), ConfirmNever)
		req := &command.ClarificationRequest{
			Kind:       command.Disambiguate,
			Candidates: []string{"login", "payment module"},
			Action:     command.ActionTest,
			Entities:   []string{"login"},
		}

		d, handled := r.Answer(ctx, req, "the second one")
		require.True(t, handled)
		assert.Equal(t, []string{"payment module"}, d.Command.Entities)
	})

	t.Run("explaining an unknown phrase teaches the store", func(t *testing.T) {
		store := newStore(t)
		r := newRouter(t, store, ConfirmSmart)
		req := &command.ClarificationRequest{
			Kind:       command.Disambiguate,
			Candidates: []string{"auth thing"},
			Transcript: "test the auth thing",
			Action:     command.ActionTest,
			Entities:   []string{"auth thing"},
		}

		d, handled := r.Answer(ctx, req, "I meant the authentication module")
		require.True(t, handled)
		require.Equal(t, Dispatch, d.Kind)
		assert.Equal(t, "Run the test suite for the authentication module", d.Command.Directive)

		require.Len(t, d.Learn, 1)
		assert.Equal(t, Learn, d.Learn[0].Op)
		require.NoError(t, r.Commit(ctx, d))

		m, err := store.Lookup(ctx, "the auth thing")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "authentication module", m.Pattern.ToEntity)
	})

	t.Run("a nil request is not handled", func(t *testing.T) {
		r := newRouter(t, newStore(t), ConfirmSmart)

		_, handled := r.Answer(ctx, nil, "yes")
		assert.False(t, handled)
	})
}

func TestRouter_Commit(t *testing.T) {
	t.Run("every failed update is reported", func(t *testing.T) {
		r := newRouter(t, brokenStore{}, ConfirmSmart)

		err := r.Commit(context.Background(), Decision{Learn: []PatternUpdate{{Op: Reinforce, PatternID: 1}, {Op: Demote, PatternID: 2}}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database is locked")
	})

	t.Run("a decision without updates is a no-op", func(t *testing.T) {
		r := newRouter(t, brokenStore{}, ConfirmSmart)
		assert.NoError(t, r.Commit(context.Background(), Decision{Kind: Dispatch}))
	})
}

func TestDetectLocal(t *testing.T) {
	cases := []struct {
		text      string
		kind      LocalKind
		body      string
		rationale string
	}{
		{"set goal to ship the billing rewrite", SetGoal, "ship the billing rewrite", ""},
		{"My goal is a faster build.", SetGoal, "a faster build", ""},
		{"goal is done", CompleteGoal, "", ""},
		{"complete the current goal", CompleteGoal, "", ""},
		{"pause the goal", PauseGoal, "", ""},
		{"milestone reached: login works", RecordMilestone, "login works", ""},
		{"we decided to use sqlite because it is embedded", RecordDecision, "use sqlite", "it is embedded"},
		{"never mind", Cancel, "", ""},
		{"Stop.", Cancel, "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			a := detectLocal(tc.text)
			require.NotNil(t, a)
			assert.Equal(t, tc.kind, a.Kind)
			assert.Equal(t, tc.body, a.Text)
			assert.Equal(t, tc.rationale, a.Rationale)
		})
	}

	t.Run("ordinary commands are not local", func(t *testing.T) {
		assert.Nil(t, detectLocal("run tests on auth"))
		assert.Nil(t, detectLocal("stop the server on staging"))
		assert.Nil(t, detectLocal(""))
	})
}

func TestDirective(t *testing.T) {
	t.Run("file names are not given an article", func(t *testing.T) {
		assert.Equal(t, "Explain how auth.py works", directive(command.ActionExplain, []string{"auth.py"}, nil))
	})

	t.Run("several targets are joined", func(t *testing.T) {
		assert.Equal(t, "Review the parser, the lexer and main.go and report problems",
			directive(command.ActionReview, []string{"parser", "lexer", "main.go"}, nil))
	})

	t.Run("broad scope widens the directive", func(t *testing.T) {
		assert.Equal(t, "Refactor the logging across the entire project",
			directive(command.ActionRefactor, []string{"logging"}, map[string]string{"scope": "broad"}))
	})

	t.Run("a bare action has a standalone form", func(t *testing.T) {
		assert.Equal(t, "Run the test suite", directive(command.ActionTest, nil, nil))
	})

	t.Run("a target without an action becomes research", func(t *testing.T) {
		assert.Equal(t, "Research the cache and summarize the findings", directive("", []string{"cache"}, nil))
	})

	t.Run("with neither action nor target there is no directive", func(t *testing.T) {
		assert.Equal(t, "", directive("", nil, nil))
		assert.Equal(t, "", directive("", []string{"  "}, map[string]string{"scope": "broad"}))
	})
}
