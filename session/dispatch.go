package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"voice-command-router/command"
	"voice-command-router/command_router"
	"voice-command-router/execution_dispatcher"

	"go.uber.org/zap"
)

const (
	speechQueue = 256
	busyPoll    = 50 * time.Millisecond
)

// route turns heard text into a decision. A pending clarification gets the
// first chance to interpret it; otherwise the text is classified, merged
// with what was heard before the question.
func (o *Orchestrator) route(ctx context.Context, pending *command.ClarificationRequest, text string) command_router.Decision {
	if pending != nil {
		if d, ok := o.cfg.Router.Answer(ctx, pending, text); ok {
			return d
		}

		text = strings.TrimSpace(pending.Transcript + " " + text)
	}

	sc := o.sessionContext(ctx)

	cl, err := o.cfg.Classifier.Classify(ctx, text, sc)
	if err != nil {
		o.logger.Warn("classification failed", zap.Error(err))

		return command_router.Decision{
			Kind: command_router.Clarify,
			Clarification: &command.ClarificationRequest{
				Kind:       command.Disambiguate,
				Question:   "Sorry, I didn't catch that. What would you like me to do?",
				Transcript: text,
			},
		}
	}

	o.logger.Debug("classified",
		zap.String("action", cl.Action),
		zap.Strings("entities", cl.Entities),
		zap.Float64("confidence", cl.Confidence),
		zap.Float64("agreement", cl.Agreement))

	in := command_router.Input{
		Entities:   cl.Entities,
		Action:     cl.Action,
		Confidence: cl.Confidence,
		Context:    map[string]string{},
		Transcript: text,
		Candidates: cl.Candidates(),
	}

	for k, v := range cl.Context {
		in.Context[k] = v
	}

	if goal := sc[keyCurrentGoal]; goal != "" {
		in.Context[keyCurrentGoal] = goal
	}

	return o.cfg.Router.Route(ctx, in)
}

// sessionContext reads the current-context rows. A store failure degrades
// to an empty context.
func (o *Orchestrator) sessionContext(ctx context.Context) map[string]string {
	out := map[string]string{}

	if o.cfg.Store == nil {
		return out
	}

	rows, err := o.cfg.Store.Context(ctx)
	if err != nil {
		o.logger.Warn("session context unavailable", zap.Error(err))
		return out
	}

	for k, v := range rows {
		if v != "" {
			out[k] = v
		}
	}

	return out
}

func (o *Orchestrator) dispatch(ctx context.Context, d command_router.Decision) {
	t := o.turn
	cmd := d.Command

	if err := o.cfg.Router.Commit(ctx, d); err != nil {
		o.logger.Warn("pattern learning not saved", zap.Error(err))
	}

	o.lastCmd = cmd
	o.cfg.Metrics.Confidence(cmd.Intent.String(), cmd.Confidence)
	o.logger.Info("dispatching", zap.String("turn", t.id), zap.String("command", cmd.Trace()))

	o.remember(ctx, keyLastIntent, cmd.Intent.String())
	o.remember(ctx, keyLastDirective, cmd.Directive)

	o.transition(Executing)
	t.outcome = outcomeDispatched

	speech := make(chan string, speechQueue)

	o.spawn(t, func() message {
		return message{kind: msgSpoken, err: o.cfg.Synth.Speak(t.ctx, speech)}
	})

	prev := o.lastExec

	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		o.execute(t, prev, cmd.Directive, speech)
	}()
}

// execute runs directive and feeds what should be spoken into speech, which
// it closes when done. Nothing is reported once t is cancelled.
func (o *Orchestrator) execute(t *turn, prev *execution_dispatcher.Execution, directive string, speech chan<- string) {
	defer close(speech)

	exec, err := o.start(t.ctx, prev, directive)
	if err != nil {
		if t.ctx.Err() != nil {
			return
		}

		o.post(t.ctx, message{kind: msgExecDone, turn: t.id, err: err, speaks: feed(t.ctx, speech, failureNotice(err))})
		return
	}

	o.post(t.ctx, message{kind: msgExecStarted, turn: t.id, exec: exec})

	spoke := false
	for ev := range exec.Events() {
		if ev.Kind != execution_dispatcher.EventText || !o.cfg.SpeakPartial {
			continue
		}

		if !feed(t.ctx, speech, ev.Text) {
			continue
		}

		if !spoke {
			spoke = true
			o.post(t.ctx, message{kind: msgOutput, turn: t.id})
		}
	}

	res, err := exec.Wait()
	if t.ctx.Err() != nil {
		o.logger.Debug("execution outcome discarded", zap.String("execution", exec.ID), zap.Error(ErrCancellationRace))
		return
	}

	var final string
	switch {
	case err != nil:
		final = failureNotice(err)
	case !spoke && strings.TrimSpace(res.OutputText) != "":
		final = res.OutputText
	case !spoke:
		final = "Done."
	}

	speaks := spoke
	if final != "" && feed(t.ctx, speech, final) {
		speaks = true
	}

	o.post(t.ctx, message{kind: msgExecDone, turn: t.id, result: res, err: err, speaks: speaks})
}

// start waits out a previous execution that is still winding down.
func (o *Orchestrator) start(ctx context.Context, prev *execution_dispatcher.Execution, directive string) (*execution_dispatcher.Execution, error) {
	for {
		exec, err := o.cfg.Dispatcher.Execute(ctx, directive)
		if !errors.Is(err, execution_dispatcher.ErrBusy) {
			return exec, err
		}

		var done <-chan struct{}
		if prev != nil {
			done = prev.Done()
			prev = nil
		}

		o.logger.Debug("assistant busy, waiting")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
		case <-time.After(busyPoll):
		}
	}
}

func (o *Orchestrator) remember(ctx context.Context, key, value string) {
	if o.cfg.Store == nil {
		return
	}

	if err := o.cfg.Store.SetContext(ctx, key, value); err != nil {
		o.logger.Warn("context not saved", zap.String("key", key), zap.Error(err))
	}
}

func feed(ctx context.Context, speech chan<- string, text string) bool {
	select {
	case speech <- text:
		return true
	case <-ctx.Done():
		return false
	}
}

func failureNotice(err error) string {
	var failure *execution_dispatcher.ExecutionFailure
	if errors.As(err, &failure) && failure.Result != nil && failure.Result.IsError {
		if msg := strings.TrimSpace(failure.Result.OutputText); msg != "" {
			return "The assistant reported an error. " + msg
		}
	}

	return "Sorry, the assistant failed to finish that request."
}
