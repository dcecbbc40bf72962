package command

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntent(t *testing.T) {
	t.Run("every declared intent round trips through its string form", func(t *testing.T) {
		for _, intent := range Intents() {
			parsed, err := ParseIntent(intent.String())
			require.NoError(t, err)
			assert.Equal(t, intent, parsed)
		}
	})

	t.Run("unknown names are rejected rather than defaulted", func(t *testing.T) {
		_, err := ParseIntent("DEPLOY")
		assert.Error(t, err)

		_, err = ParseIntent("")
		assert.Error(t, err)
	})

	t.Run("the zero value is not a legal intent", func(t *testing.T) {
		var i Intent
		assert.False(t, i.Valid())
	})
}

func TestIntentJSON(t *testing.T) {
	t.Run("intents serialize in screaming case", func(t *testing.T) {
		cmd := New(Research, "Search for the auth implementation", []string{"auth"}, 0.92, time.Unix(0, 0).UTC())

		out, err := cmd.JSON()
		require.NoError(t, err)
		assert.Contains(t, out, `"RESEARCH"`)
	})

	t.Run("an invalid intent refuses to serialize", func(t *testing.T) {
		_, err := json.Marshal(Command{Intent: Intent(42), Directive: "x"})
		assert.Error(t, err)
	})

	t.Run("an unknown intent refuses to deserialize", func(t *testing.T) {
		var c Command
		err := json.Unmarshal([]byte(`{"intent":"DANCE","directive":"x"}`), &c)
		assert.Error(t, err)
	})
}

func TestCommand_Validate(t *testing.T) {
	now := time.Now()

	t.Run("a well formed command is valid", func(t *testing.T) {
		assert.NoError(t, New(Test, "Run the test suite", nil, 0.95, now).Validate())
	})

	t.Run("confidence is clamped on construction", func(t *testing.T) {
		assert.Equal(t, 1.0, New(Code, "x", nil, 1.7, now).Confidence)
		assert.Equal(t, 0.0, New(Code, "x", nil, -0.2, now).Confidence)
		assert.Equal(t, 0.0, New(Code, "x", nil, math.NaN(), now).Confidence)
	})

	t.Run("schema violations are reported", func(t *testing.T) {
		assert.ErrorIs(t, Command{Intent: Code, Confidence: 0.9}.Validate(), ErrInvalidCommand)
		assert.ErrorIs(t, Command{Directive: "x", Confidence: 0.9}.Validate(), ErrInvalidCommand)
		assert.ErrorIs(t, Command{Intent: Code, Directive: "x", Confidence: 1.2}.Validate(), ErrInvalidCommand)
	})
}

func TestCommand_WithContext(t *testing.T) {
	t.Run("context is copied so the original is untouched", func(t *testing.T) {
		base := New(Code, "Implement the payment module", []string{"payment"}, 0.9, time.Now())
		withGoal := base.WithContext("current_goal", "build payment system")

		assert.Empty(t, base.Context)
		assert.Equal(t, "build payment system", withGoal.Context["current_goal"])
		assert.Contains(t, withGoal.Trace(), "current_goal: build payment system")
	})

	t.Run("threshold comparison is inclusive", func(t *testing.T) {
		cmd := New(Test, "Run tests", nil, 0.80, time.Now())
		assert.True(t, cmd.IsConfident(0.80))
		assert.False(t, cmd.IsConfident(0.81))
	})
}

func TestIntentForAction(t *testing.T) {
	t.Run("every canonical action maps to a valid intent", func(t *testing.T) {
		for action := range actionIntents {
			intent, ok := IntentForAction(action)
			assert.True(t, ok, action)
			assert.True(t, intent.Valid(), action)
		}
	})

	t.Run("the test family maps to TEST", func(t *testing.T) {
		for _, a := range []string{ActionTest, ActionDebug, ActionFix} {
			intent, _ := IntentForAction(a)
			assert.Equal(t, Test, intent)
		}
	})

	t.Run("unmapped actions fall back to research", func(t *testing.T) {
		intent, ok := IntentForAction("juggle")
		assert.False(t, ok)
		assert.Equal(t, Research, intent)
	})
}
