package execution_dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestHelperProcess isn't a real test. It stands in for the assistant CLI
// when re-executed by fakeCLI.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	var args []string
	for i, arg := range os.Args {
		if arg == "--" {
			args = os.Args[i+2:]
			break
		}
	}

	say := func(v any) {
		out, _ := json.Marshal(v)
		fmt.Fprintln(os.Stdout, string(out))
	}
	text := func(s string) map[string]any {
		return map[string]any{"type": "assistant", "session_id": "s1", "message": map[string]any{
			"content": []map[string]any{{"type": "text", "text": s}},
		}}
	}
	result := func(s string, isError bool) map[string]any {
		return map[string]any{
			"type": "result", "subtype": "success", "session_id": "s1", "result": s, "is_error": isError,
			"total_cost_usd": 0.012, "duration_ms": 1500, "num_turns": 2,
			"usage": map[string]any{"input_tokens": 100, "output_tokens": 40},
		}
	}
	system := map[string]any{"type": "system", "subtype": "init", "session_id": "s1", "model": "sonnet"}

	switch os.Getenv("HELPER_SCENARIO") {
	case "stream":
		say(system)
		say(text("Running the tests now."))
		say(map[string]any{"type": "assistant", "message": map[string]any{
			"content": []map[string]any{{"type": "tool_use", "name": "Bash"}},
		}})
		say(map[string]any{"type": "user", "message": map[string]any{"content": []map[string]any{{"type": "tool_result"}}}})
		say(text("All 12 tests passed."))
		say(result("All 12 tests passed.", false))
	case "malformed":
		say(system)
		fmt.Fprintln(os.Stdout, `{"type": "assistant", "message": {`)
		fmt.Fprintln(os.Stdout, "npm WARN deprecated")
		fmt.Fprintln(os.Stdout)
		say(text("Done."))
		say(result("Done.", false))
	case "error_result":
		say(system)
		say(result("API overloaded", true))
		os.Exit(1)
	case "crash":
		say(text("Starting"))
		fmt.Fprintln(os.Stderr, "panic: boom")
		os.Exit(2)
	case "no_result":
		say(text("I will get to that"))
	case "slow":
		say(system)
		time.Sleep(30 * time.Second)
	case "linger":
		say(system)
		say(text("Finished."))
		say(result("Finished.", false))
		time.Sleep(30 * time.Second)
	case "stubborn":
		signal.Ignore(os.Interrupt)
		say(system)
		time.Sleep(30 * time.Second)
	case "args":
		say(text(strings.Join(args, "|")))
		say(result("ok", false))
	case "version":
		fmt.Fprintln(os.Stdout, "1.0.42")
	}

	os.Exit(0)
}

func fakeCLI(t *testing.T, scenario string) {
	t.Helper()

	old := execCommandContext
	execCommandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_SCENARIO="+scenario)

		return cmd
	}
	t.Cleanup(func() { execCommandContext = old })
}

func newDispatcher(t *testing.T, cfg *Config) Interface {
	t.Helper()

	if cfg == nil {
		cfg = &Config{}
	}

	d, err := New(cfg)
	require.NoError(t, err)

	return d
}

func collect(e *Execution) []Event {
	var events []Event
	for ev := range e.Events() {
		events = append(events, ev)
	}

	return events
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}

	return out
}

func TestDispatcher_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("streamed output becomes events ending in a result", func(t *testing.T) {
		fakeCLI(t, "stream")
		d := newDispatcher(t, nil)

		e, err := d.Execute(ctx, "Run the test suite for the authentication module")
		require.NoError(t, err)

		events := collect(e)
		assert.Equal(t, []EventKind{EventSystem, EventText, EventToolUse, EventText, EventResult}, kinds(events))
		assert.Equal(t, "Running the tests now.", events[1].Text)
		assert.Equal(t, "Bash", events[2].Tool)

		res, err := e.Wait()
		require.NoError(t, err)
		assert.Equal(t, "All 12 tests passed.", res.OutputText)
		assert.Equal(t, "s1", res.SessionID)
		assert.Equal(t, 1500*time.Millisecond, res.Duration)
		assert.Equal(t, 40, res.Usage.OutputTokens)
		assert.Equal(t, "Run the test suite for the authentication module", res.Directive)
		assert.True(t, res.Success)
		assert.Empty(t, res.ExitSignal)
		assert.False(t, d.Active())
	})

	t.Run("a result ends the execution even if the process lingers", func(t *testing.T) {
		fakeCLI(t, "linger")
		d := newDispatcher(t, &Config{GracePeriod: 200 * time.Millisecond})

		start := time.Now()
		e, err := d.Execute(ctx, "Summarize the open pull requests")
		require.NoError(t, err)

		events := collect(e)
		assert.Equal(t, []EventKind{EventSystem, EventText, EventResult}, kinds(events))

		res, err := e.Wait()
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "Finished.", res.OutputText)
		assert.Less(t, time.Since(start), 10*time.Second)

		assert.Eventually(t, func() bool { return !d.Active() }, 10*time.Second, 20*time.Millisecond)
	})

	t.Run("malformed lines are warnings and the turn still completes", func(t *testing.T) {
		fakeCLI(t, "malformed")
		d := newDispatcher(t, nil)

		e, err := d.Execute(ctx, "Build the project")
		require.NoError(t, err)

		events := collect(e)
		assert.Equal(t, []EventKind{EventSystem, EventParseWarning, EventParseWarning, EventText, EventResult}, kinds(events))
		assert.Equal(t, "npm WARN deprecated", events[2].Raw)

		res, err := e.Wait()
		require.NoError(t, err)
		assert.Equal(t, "Done.", res.OutputText)
	})

	t.Run("the directive and model are passed as arguments", func(t *testing.T) {
		fakeCLI(t, "args")
		d := newDispatcher(t, &Config{CLIPath: "claude", Model: "opus", ExtraArgs: []string{"--permission-mode", "acceptEdits"}})

		e, err := d.Execute(ctx, "Explain how the cache works")
		require.NoError(t, err)

		events := collect(e)
		require.NotEmpty(t, events)
		assert.Equal(t, "-p|Explain how the cache works|--output-format|stream-json|--verbose|--model|opus|--permission-mode|acceptEdits", events[0].Text)

		_, err = e.Wait()
		require.NoError(t, err)
	})

	t.Run("an error result is an execution failure", func(t *testing.T) {
		fakeCLI(t, "error_result")
		d := newDispatcher(t, nil)

		e, err := d.Execute(ctx, "Deploy the api")
		require.NoError(t, err)
		collect(e)

		_, err = e.Wait()
		var failure *ExecutionFailure
		require.ErrorAs(t, err, &failure)
		require.NotNil(t, failure.Result)
		assert.Equal(t, "API overloaded", failure.Result.OutputText)
		assert.Equal(t, 1, failure.ExitCode)
		assert.Contains(t, err.Error(), "API overloaded")
	})

	t.Run("a crash reports exit code and stderr", func(t *testing.T) {
		fakeCLI(t, "crash")
		d := newDispatcher(t, nil)

		e, err := d.Execute(ctx, "Build the project")
		require.NoError(t, err)
		collect(e)

		_, err = e.Wait()
		var failure *ExecutionFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, 2, failure.ExitCode)
		assert.Contains(t, failure.Stderr, "panic: boom")
	})

	t.Run("a clean exit without a result is a failure", func(t *testing.T) {
		fakeCLI(t, "no_result")
		d := newDispatcher(t, nil)

		e, err := d.Execute(ctx, "Plan the next steps")
		require.NoError(t, err)
		collect(e)

		_, err = e.Wait()
		assert.ErrorIs(t, err, ErrNoResult)
	})

	t.Run("an empty directive is refused", func(t *testing.T) {
		d := newDispatcher(t, nil)

		_, err := d.Execute(ctx, "  ")
		assert.Error(t, err)
	})

	t.Run("a missing binary fails to start", func(t *testing.T) {
		d := newDispatcher(t, &Config{CLIPath: "/nonexistent/claude"})

		_, err := d.Execute(ctx, "Build the project")
		var failure *ExecutionFailure
		assert.ErrorAs(t, err, &failure)
		assert.False(t, d.Active())
	})
}

func TestDispatcher_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("a second execution is refused while one is running", func(t *testing.T) {
		fakeCLI(t, "slow")
		d := newDispatcher(t, nil)

		e, err := d.Execute(ctx, "Build the project")
		require.NoError(t, err)
		assert.True(t, d.Active())

		_, err = d.Execute(ctx, "Deploy the project")
		assert.ErrorIs(t, err, ErrBusy)

		e.Cancel()
		collect(e)
		_, err = e.Wait()
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, d.Active())
	})

	t.Run("an interrupt stops a cooperative process promptly", func(t *testing.T) {
		fakeCLI(t, "slow")
		d := newDispatcher(t, &Config{GracePeriod: 5 * time.Second})

		e, err := d.Execute(ctx, "Build the project")
		require.NoError(t, err)

		first := <-e.Events()
		assert.Equal(t, EventSystem, first.Kind)

		start := time.Now()
		e.Cancel()
		collect(e)

		res, err := e.Wait()
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), 4*time.Second)
		assert.Equal(t, "interrupt", res.ExitSignal)
		assert.False(t, res.Success)
		assert.Equal(t, "Build the project", res.Directive)
		assert.Positive(t, res.Duration)
	})

	t.Run("a process ignoring the interrupt is killed after the grace period", func(t *testing.T) {
		fakeCLI(t, "stubborn")
		d := newDispatcher(t, &Config{GracePeriod: 200 * time.Millisecond})

		e, err := d.Execute(ctx, "Build the project")
		require.NoError(t, err)
		<-e.Events()

		start := time.Now()
		e.Cancel()
		collect(e)

		res, err := e.Wait()
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, "killed", res.ExitSignal)
		assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
		assert.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("cancelling the parent context cancels the execution", func(t *testing.T) {
		fakeCLI(t, "slow")
		d := newDispatcher(t, nil)

		cctx, cancel := context.WithCancel(ctx)
		e, err := d.Execute(cctx, "Build the project")
		require.NoError(t, err)
		<-e.Events()

		cancel()
		collect(e)

		_, err = e.Wait()
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestDispatcher_Version(t *testing.T) {
	t.Run("the CLI version is reported", func(t *testing.T) {
		fakeCLI(t, "version")
		d := newDispatcher(t, nil)

		v, err := d.Version(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "1.0.42", v)
	})
}

func TestParseLine(t *testing.T) {
	t.Run("a result subtype other than success is an error", func(t *testing.T) {
		events := parseLine([]byte(`{"type":"result","subtype":"error_max_turns","is_error":false}`))
		require.Len(t, events, 1)
		assert.True(t, events[0].Result.IsError)
	})

	t.Run("JSON without a type is a warning", func(t *testing.T) {
		events := parseLine([]byte(`{"hello":"world"}`))
		require.Len(t, events, 1)
		assert.Equal(t, EventParseWarning, events[0].Kind)
	})

	t.Run("unknown record types are ignored", func(t *testing.T) {
		assert.Empty(t, parseLine([]byte(`{"type":"stream_event"}`)))
		assert.Empty(t, parseLine([]byte("   ")))
	})
}
