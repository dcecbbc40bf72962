package execution_dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrBusy is returned by Execute while another execution is still running.
var ErrBusy = errors.New("an execution is already running")

// ErrNoResult means the assistant exited without a terminal result record.
var ErrNoResult = errors.New("assistant exited without a result")

type EventKind int

const (
	EventSystem EventKind = iota + 1
	EventText
	EventToolUse
	EventResult
	// EventParseWarning carries a stdout line that was not a valid record.
	EventParseWarning
)

func (k EventKind) String() string {
	switch k {
	case EventSystem:
		return "system"
	case EventText:
		return "text"
	case EventToolUse:
		return "tool_use"
	case EventResult:
		return "result"
	case EventParseWarning:
		return "parse_warning"
	}

	return "unknown"
}

type Event struct {
	Kind      EventKind
	Text      string
	SessionID string
	// Tool is the tool name for EventToolUse.
	Tool string
	// Raw is the offending line for EventParseWarning.
	Raw    string
	Result *Result
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is how an execution ended. Most fields come from the assistant's
// terminal record; Directive, Success and ExitSignal are filled in by the
// dispatcher.
type Result struct {
	Directive  string
	OutputText string
	Success    bool
	// Duration is the assistant's own figure, or wall time when it sent none.
	Duration   time.Duration
	// ExitSignal names the signal that ended the process, e.g. "interrupt".
	// Empty when it exited on its own.
	ExitSignal string

	SessionID string
	IsError   bool
	CostUSD   float64
	NumTurns  int
	Usage     Usage
}

type Interface interface {
	// Execute starts the assistant on directive. Only one execution may be
	// active; a second call gets ErrBusy.
	Execute(ctx context.Context, directive string) (*Execution, error)
	// Active reports whether an execution is running.
	Active() bool
	// Version runs the CLI with --version, for installation checks.
	Version(ctx context.Context) (string, error)
}

// ExecutionFailure is a finished execution that did not succeed: a nonzero
// exit, an error result, or no result at all.
type ExecutionFailure struct {
	ExitCode int
	Stderr   string
	Result   *Result
	Err      error
}

func (e *ExecutionFailure) Error() string {
	var b strings.Builder

	b.WriteString("assistant execution failed")

	switch {
	case e.Result != nil && e.Result.IsError:
		fmt.Fprintf(&b, ": %s", firstLine(e.Result.OutputText))
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}

	if s := firstLine(e.Stderr); s != "" {
		fmt.Fprintf(&b, ": %s", s)
	}

	return b.String()
}

func (e *ExecutionFailure) Unwrap() error {
	return e.Err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}

	return s
}
