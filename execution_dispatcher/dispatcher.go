package execution_dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"voice-command-router/metrics"

	gonanoid "github.com/matoous/go-nanoid"
	"go.uber.org/zap"
)

const (
	defaultCLIPath     = "claude"
	defaultGracePeriod = 3 * time.Second
	eventQueue         = 64
	stderrLimit        = 16 << 10
	idAlphabet         = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var execCommandContext = exec.CommandContext

type dispatcherImpl struct {
	cliPath   string
	model     string
	extraArgs []string
	grace     time.Duration
	workDir   string
	command   func(ctx context.Context, name string, args ...string) *exec.Cmd
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu     sync.Mutex
	active *Execution
}

type Config struct {
	CLIPath   string
	Model     string
	ExtraArgs []string
	// GracePeriod between SIGINT and SIGKILL on cancellation.
	GracePeriod time.Duration
	WorkDir     string
	// CommandContext builds the process; exec.CommandContext when nil.
	CommandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	d := &dispatcherImpl{
		cliPath:   cfg.CLIPath,
		model:     cfg.Model,
		extraArgs: cfg.ExtraArgs,
		grace:     cfg.GracePeriod,
		workDir:   cfg.WorkDir,
		command:   cfg.CommandContext,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}

	if d.cliPath == "" {
		d.cliPath = defaultCLIPath
	}

	if d.grace <= 0 {
		d.grace = defaultGracePeriod
	}

	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.Named("dispatcher")

	return d, nil
}

// Execution is one running assistant process.
type Execution struct {
	ID        string
	Directive string
	Started   time.Time

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	result Result
	err    error
}

// Events streams parsed output up to and including the result record. It is
// closed when the execution finishes.
func (e *Execution) Events() <-chan Event {
	return e.events
}

// Cancel interrupts the process; it is killed if still alive after the
// grace period. Safe to call more than once.
func (e *Execution) Cancel() {
	e.cancel()
}

// Done is closed once Wait would not block.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the result record arrives and the process exits, or the
// grace period after the result runs out. A cancelled execution returns
// context.Canceled unless a result had already arrived.
func (e *Execution) Wait() (Result, error) {
	<-e.done

	return e.result, e.err
}

func (d *dispatcherImpl) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.active != nil
}

func (d *dispatcherImpl) commandContext() func(ctx context.Context, name string, args ...string) *exec.Cmd {
	if d.command != nil {
		return d.command
	}

	return execCommandContext
}

func (d *dispatcherImpl) args(directive string) []string {
	args := []string{"-p", directive, "--output-format", "stream-json", "--verbose"}
	if d.model != "" {
		args = append(args, "--model", d.model)
	}

	return append(args, d.extraArgs...)
}

func (d *dispatcherImpl) Execute(ctx context.Context, directive string) (*Execution, error) {
	if strings.TrimSpace(directive) == "" {
		return nil, fmt.Errorf("directive is empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active != nil {
		return nil, ErrBusy
	}

	id, err := gonanoid.Generate(idAlphabet, 8)
	if err != nil {
		return nil, fmt.Errorf("execution id: %w", err)
	}

	execCtx, cancel := context.WithCancel(ctx)

	cmd := d.commandContext()(execCtx, d.cliPath, d.args(directive)...)
	cmd.Dir = d.workDir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = d.grace

	pr, pw := io.Pipe()
	stderr := &limitedBuffer{limit: stderrLimit}

	cmd.Stdout = pw
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		_ = pw.Close()
		_ = pr.Close()

		return nil, &ExecutionFailure{Err: fmt.Errorf("start %s: %w", d.cliPath, err)}
	}

	e := &Execution{
		ID:        id,
		Directive: directive,
		Started:   time.Now(),
		events:    make(chan Event, eventQueue),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	d.active = e

	logger := d.logger.With(zap.String("execution", id))
	logger.Info("assistant started", zap.String("directive", directive), zap.Int("pid", cmd.Process.Pid))

	waited := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		waited <- err
	}()

	go d.stream(execCtx, e, cmd, pr, stderr, waited, logger)

	return e, nil
}

func (d *dispatcherImpl) stream(ctx context.Context, e *Execution, cmd *exec.Cmd, stdout io.Reader, stderr *limitedBuffer, waited <-chan error, logger *zap.Logger) {
	var final *Result

	reader := bufio.NewReader(stdout)

	for final == nil {
		line, readErr := reader.ReadBytes('\n')

		for _, ev := range parseLine(line) {
			switch ev.Kind {
			case EventParseWarning:
				d.metrics.ParseWarning()
				logger.Warn("unparseable assistant output", zap.String("line", truncate(ev.Raw, 200)))
			case EventResult:
				final = ev.Result
			}

			d.emit(ctx, e, ev)
		}

		if readErr != nil {
			break
		}
	}

	var (
		waitErr error
		exited  bool
	)

	if final != nil {
		// Nothing after the result record is consumed, but the pipe must keep
		// draining or the process could block on a full write.
		go func() { _, _ = io.Copy(io.Discard, reader) }()

		select {
		case waitErr = <-waited:
			exited = true
		case <-time.After(d.grace):
			logger.Warn("assistant still running after its result, interrupting", zap.Duration("grace", d.grace))
			e.cancel()
		}
	} else {
		waitErr = <-waited
		exited = true
	}

	var state *os.ProcessState
	if exited {
		state = cmd.ProcessState
	}

	e.result, e.err = d.outcome(ctx, e, state, final, waitErr, stderr.String())

	switch {
	case e.err == nil:
		logger.Info("assistant finished",
			zap.Duration("elapsed", time.Since(e.Started)),
			zap.Float64("cost_usd", e.result.CostUSD),
			zap.Int("turns", e.result.NumTurns))
	case errors.Is(e.err, context.Canceled):
		logger.Info("assistant cancelled", zap.Duration("elapsed", time.Since(e.Started)), zap.String("signal", e.result.ExitSignal))
	default:
		logger.Warn("assistant failed", zap.Error(e.err))
	}

	if exited {
		d.release(e)
	}

	close(e.events)
	close(e.done)

	if !exited {
		// The slot stays taken until the process is actually gone; Execute
		// reports ErrBusy meanwhile.
		<-waited
		d.release(e)
		logger.Debug("assistant exited after its result")
	}
}

func (d *dispatcherImpl) release(e *Execution) {
	d.mu.Lock()
	if d.active == e {
		d.active = nil
	}
	d.mu.Unlock()

	e.cancel()
}

// emit never blocks past cancellation, so a consumer that stopped reading
// cannot wedge the process.
func (d *dispatcherImpl) emit(ctx context.Context, e *Execution, ev Event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

// outcome decides how an execution ended. A result record is final: once one
// arrived, later cancellation or a forced stop does not change the verdict.
// state is nil while the process is still shutting down.
func (d *dispatcherImpl) outcome(ctx context.Context, e *Execution, state *os.ProcessState, final *Result, waitErr error, stderr string) (Result, error) {
	var res Result
	if final != nil {
		res = *final
	}

	res.Directive = e.Directive
	res.ExitSignal = exitSignal(state)
	if res.Duration <= 0 {
		res.Duration = time.Since(e.Started)
	}

	exitCode := 0
	if state != nil {
		exitCode = state.ExitCode()
	}

	var err error

	switch {
	case final != nil && !final.IsError:
	case final != nil:
		err = &ExecutionFailure{ExitCode: exitCode, Stderr: stderr, Result: final, Err: waitErr}
	case ctx.Err() != nil:
		err = ctx.Err()
	case waitErr != nil:
		err = &ExecutionFailure{ExitCode: exitCode, Stderr: stderr, Err: waitErr}
	default:
		err = &ExecutionFailure{ExitCode: exitCode, Stderr: stderr, Err: ErrNoResult}
	}

	res.Success = err == nil

	return res, err
}

func exitSignal(state *os.ProcessState) string {
	if state == nil {
		return ""
	}

	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal().String()
	}

	return ""
}

func (d *dispatcherImpl) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := d.commandContext()(ctx, d.cliPath, "--version")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s --version: %w (stderr: %s)", d.cliPath, err, firstLine(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

// limitedBuffer keeps the first limit bytes of stderr and discards the rest.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}

	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
