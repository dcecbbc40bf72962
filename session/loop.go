package session

import (
	"context"
	"errors"
	"time"

	"voice-command-router/command_router"
	"voice-command-router/execution_dispatcher"
	"voice-command-router/speech_to_text"
	"voice-command-router/voice_activity"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid"
	"go.uber.org/zap"
)

const turnAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

type msgKind int

const (
	msgVoice msgKind = iota + 1
	msgSourceDone
	msgTranscribed
	msgRouted
	msgExecStarted
	msgOutput
	msgExecDone
	msgSpoken
	msgAnswerWindow
)

func (k msgKind) String() string {
	switch k {
	case msgVoice:
		return "voice"
	case msgSourceDone:
		return "source_done"
	case msgTranscribed:
		return "transcribed"
	case msgRouted:
		return "routed"
	case msgExecStarted:
		return "exec_started"
	case msgOutput:
		return "output"
	case msgExecDone:
		return "exec_done"
	case msgSpoken:
		return "spoken"
	case msgAnswerWindow:
		return "answer_window"
	}

	return "unknown"
}

// message is the only way work reaches the loop. turn is empty for
// messages that do not belong to a turn.
type message struct {
	kind msgKind
	turn string

	voice *voice_activity.Event
	lag   time.Duration
	at    time.Time

	transcript speech_to_text.Transcript
	decision   command_router.Decision
	exec       *execution_dispatcher.Execution
	result     execution_dispatcher.Result
	speaks     bool
	err        error
}

// turn is one request from first sound to the spoken outcome. Everything
// it starts is bound to ctx.
type turn struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	outcome string
	heard   string

	speechCancel context.CancelFunc
	timer        *time.Timer
	execDone     bool
}

func (t *turn) stopSpeech() {
	if t.speechCancel != nil {
		t.speechCancel()
		t.speechCancel = nil
	}
}

func (t *turn) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (o *Orchestrator) loop(ctx context.Context, typed string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer o.workers.Wait()
	defer cancel()

	if o.cfg.Store != nil {
		o.activeGoalID(ctx)
		o.publish()
	}

	if o.textMode {
		o.beginTypedTurn(ctx, typed)
	}

	for {
		select {
		case <-ctx.Done():
			if o.turn != nil {
				o.turn.stopTimer()
			}
			return nil
		case m := <-o.msgs:
			o.handle(ctx, m)
			o.publish()

			if o.finished {
				return nil
			}
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, m message) {
	switch m.kind {
	case msgVoice:
		o.onVoice(ctx, m)
		return
	case msgSourceDone:
		o.srcDone = true
		switch {
		case o.state == Listening:
			o.endTurn(ctx, outcomeAbandoned)
		case o.state == Idle:
			o.finished = true
		}
		return
	}

	if o.turn == nil || m.turn != o.turn.id {
		o.logger.Debug("stale message dropped",
			zap.Stringer("kind", m.kind),
			zap.String("turn", m.turn),
			zap.Error(ErrCancellationRace))
		return
	}

	switch m.kind {
	case msgTranscribed:
		o.onTranscribed(ctx, m)
	case msgRouted:
		o.onRouted(ctx, m.decision)
	case msgExecStarted:
		o.lastExec = m.exec
	case msgOutput:
		if o.state == Executing {
			o.transition(Speaking)
		}
	case msgExecDone:
		o.onExecDone(m)
	case msgSpoken:
		o.onSpoken(ctx, m)
	case msgAnswerWindow:
		if o.state == Listening {
			o.steer(gateArm)
		}
	}
}

func (o *Orchestrator) onVoice(ctx context.Context, m message) {
	ev := m.voice

	switch ev.Kind {
	case voice_activity.UtteranceStart:
		o.onSpeechStart(ctx, m)
	case voice_activity.UtteranceStop:
		o.onSpeechStop(ctx, ev.Utterance)
	}
}

func (o *Orchestrator) onSpeechStart(ctx context.Context, m message) {
	switch o.state {
	case Idle:
		o.beginTurn(ctx)
	case Listening:
		o.turn.stopTimer()
	case Transcribing, Classifying:
		o.holding = true
	case Clarifying:
		o.turn.stopSpeech()
		o.transition(Listening)
	case Executing, Speaking:
		switch o.cfg.Policy {
		case PolicyBargeIn:
			o.bargeIn(ctx, m)
		case PolicyQueue:
			o.holding = true
		case PolicyReject:
			o.rejecting = true
		}
	}
}

func (o *Orchestrator) onSpeechStop(ctx context.Context, u *voice_activity.Utterance) {
	switch {
	case o.rejecting:
		o.rejecting = false
		o.cfg.Metrics.Turn(outcomeRejected)
		o.logger.Info("utterance rejected while busy", zap.String("utterance", u.ID))
		o.goNotice(ctx, "I'm still working on the last request.")
	case o.state == Listening:
		o.transcribe(u)
	case o.holding:
		o.holding = false
		if o.held != nil {
			o.logger.Info("held utterance replaced", zap.String("dropped", o.held.ID))
		}
		o.held = u
	case o.state == Idle:
		o.beginTurn(ctx)
		o.transcribe(u)
	default:
		o.logger.Warn("utterance dropped", zap.String("utterance", u.ID), zap.Stringer("state", o.state))
	}
}

// bargeIn abandons the running turn, cancelling its execution and speech,
// and starts listening to the new utterance.
func (o *Orchestrator) bargeIn(ctx context.Context, m message) {
	prev := o.turn

	o.transition(Interrupted)
	prev.stopTimer()
	prev.cancel()
	o.turn = nil
	o.cfg.Metrics.Turn(outcomeInterrupted)

	o.beginTurn(ctx)

	latency := m.lag + o.cfg.Now().Sub(m.at)
	o.cfg.Metrics.BargeIn(latency, o.cfg.BargeInBound)
	o.remember(ctx, keyLastOutcome, outcomeInterrupted)

	fields := []zap.Field{
		zap.String("interrupted", prev.id),
		zap.Duration("latency", latency),
	}
	if latency > o.cfg.BargeInBound {
		o.logger.Warn("barge-in slower than target", append(fields, zap.Duration("target", o.cfg.BargeInBound))...)
		return
	}

	o.logger.Info("barge-in", fields...)
}

func (o *Orchestrator) newTurn(ctx context.Context) *turn {
	id, err := gonanoid.Generate(turnAlphabet, 10)
	if err != nil {
		id = uuid.NewString()
	}

	tctx, cancel := context.WithCancel(ctx)

	return &turn{id: id, ctx: tctx, cancel: cancel}
}

func (o *Orchestrator) beginTurn(ctx context.Context) {
	o.turn = o.newTurn(ctx)
	o.transition(Listening)
	o.logger.Debug("turn started", zap.String("turn", o.turn.id))
}

func (o *Orchestrator) beginTypedTurn(ctx context.Context, text string) {
	o.turn = o.newTurn(ctx)
	o.logger.Debug("typed turn started", zap.String("turn", o.turn.id))
	o.classify(text)
}

// endTurn returns to Idle and picks up whatever speech arrived meanwhile.
func (o *Orchestrator) endTurn(ctx context.Context, outcome string) {
	if t := o.turn; t != nil {
		t.stopTimer()
		t.cancel()
		o.logger.Info("turn finished", zap.String("turn", t.id), zap.String("outcome", outcome))
	}

	o.turn = nil
	o.cfg.Metrics.Turn(outcome)
	if outcome != outcomeNoise && outcome != outcomeNoSpeech {
		o.remember(ctx, keyLastOutcome, outcome)
	}
	o.transition(Idle)

	switch {
	case o.held != nil:
		u := o.held
		o.held = nil
		o.beginTurn(ctx)
		o.transcribe(u)
	case o.holding:
		o.holding = false
		o.beginTurn(ctx)
	case o.textMode || o.srcDone || !o.cfg.Continuous:
		o.finished = true
	}
}

func (o *Orchestrator) transition(to State) {
	from := o.state
	if from == to {
		return
	}

	if !canTransition(from, to) {
		o.logger.Error("unexpected state transition", zap.Stringer("from", from), zap.Stringer("to", to))
	}

	o.state = to
	o.observed.Store(int32(to))
	o.cfg.Metrics.State(to.String(), States())

	o.logger.Debug("state", zap.Stringer("from", from), zap.Stringer("to", to))

	if o.cfg.OnTransition != nil {
		o.cfg.OnTransition(from, to)
	}
}

// spawn runs fn for t and posts its result back to the loop.
func (o *Orchestrator) spawn(t *turn, fn func() message) {
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()

		m := fn()
		m.turn = t.id
		o.post(t.ctx, m)
	}()
}

func (o *Orchestrator) goNotice(ctx context.Context, text string) {
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()

		ctx, cancel := context.WithTimeout(ctx, noticeTimeout)
		defer cancel()

		if err := o.cfg.Synth.Say(ctx, text); err != nil && ctx.Err() == nil {
			o.logger.Warn("notice not spoken", zap.Error(err))
		}
	}()
}

func (o *Orchestrator) transcribe(u *voice_activity.Utterance) {
	o.transition(Transcribing)

	t := o.turn
	o.spawn(t, func() message {
		tr, err := o.cfg.Transcriber.Transcribe(t.ctx, u)
		return message{kind: msgTranscribed, transcript: tr, err: err}
	})
}

func (o *Orchestrator) onTranscribed(ctx context.Context, m message) {
	if m.err != nil {
		if errors.Is(m.err, speech_to_text.ErrNoSpeech) {
			if o.pending != nil {
				o.logger.Info("clarification unanswered", zap.String("question", o.pending.Question))
				o.pending = nil
				o.endTurn(ctx, outcomeAbandoned)
				return
			}

			o.endTurn(ctx, outcomeNoSpeech)
			return
		}

		o.logger.Warn("transcription failed", zap.Error(m.err))
		o.endTurn(ctx, outcomeTranscriptionFailed)
		return
	}

	tr := m.transcript
	if tr.Confidence < o.cfg.Transcriber.Floor() {
		o.logger.Info("transcript below confidence floor",
			zap.String("text", tr.Text),
			zap.Float64("confidence", tr.Confidence),
			zap.Float64("floor", o.cfg.Transcriber.Floor()))
		o.cfg.Metrics.Turn(outcomeNoise)
		o.transition(Listening)
		o.steer(gateArm)
		return
	}

	o.logger.Info("heard", zap.String("text", tr.Text), zap.Float64("confidence", tr.Confidence), zap.String("engine", tr.Engine))
	o.classify(tr.Text)
}

func (o *Orchestrator) classify(text string) {
	o.transition(Classifying)

	t := o.turn
	t.heard = text

	pending := o.pending
	o.pending = nil

	o.spawn(t, func() message {
		return message{kind: msgRouted, decision: o.route(t.ctx, pending, text)}
	})
}

func (o *Orchestrator) onRouted(ctx context.Context, d command_router.Decision) {
	if d.Degraded {
		o.logger.Warn("routed without knowledge store")
	}

	for _, res := range d.Resolutions {
		o.logger.Debug("resolved",
			zap.String("from", res.FromPhrase),
			zap.String("to", res.ToEntity),
			zap.Float64("confidence", res.Confidence),
			zap.Bool("exact", res.Exact))
	}

	switch d.Kind {
	case command_router.Clarify:
		o.clarify(d)
	case command_router.Local:
		o.local(ctx, d)
	case command_router.Dispatch:
		o.dispatch(ctx, d)
	default:
		o.logger.Error("router returned no decision", zap.Stringer("kind", d.Kind))
		o.endTurn(ctx, outcomeFailed)
	}
}

func (o *Orchestrator) clarify(d command_router.Decision) {
	req := d.Clarification

	o.pending = req
	o.turn.outcome = outcomeClarified
	o.cfg.Metrics.Confidence("CLARIFY", req.Confidence)
	o.logger.Info("asking back", zap.Stringer("kind", req.Kind), zap.String("question", req.Question), zap.Strings("candidates", req.Candidates))

	o.transition(Clarifying)
	o.say(req.Question)
}

// say speaks text for the current turn; msgSpoken follows.
func (o *Orchestrator) say(text string) {
	t := o.turn

	sctx, cancel := context.WithCancel(t.ctx)
	t.speechCancel = cancel

	o.spawn(t, func() message {
		defer cancel()
		return message{kind: msgSpoken, err: o.cfg.Synth.Say(sctx, text)}
	})
}

func (o *Orchestrator) onSpoken(ctx context.Context, m message) {
	t := o.turn

	if m.err != nil && !errors.Is(m.err, context.Canceled) {
		o.logger.Warn("speech failed", zap.Error(m.err))
	}

	switch o.state {
	case Clarifying:
		t.speechCancel = nil
		if o.textMode {
			o.pending = nil
			o.endTurn(ctx, outcomeClarified)
			return
		}

		o.transition(Listening)
		t.timer = time.AfterFunc(o.cfg.AnswerGrace, func() {
			o.post(t.ctx, message{kind: msgAnswerWindow, turn: t.id})
		})
	case Speaking:
		o.endTurn(ctx, t.outcome)
	case Executing:
		if t.execDone {
			o.endTurn(ctx, t.outcome)
		}
	}
}

func (o *Orchestrator) onExecDone(m message) {
	t := o.turn
	t.execDone = true

	var failure *execution_dispatcher.ExecutionFailure
	switch {
	case errors.As(m.err, &failure):
		t.outcome = outcomeFailed
		o.logger.Warn("execution failed", zap.Int("exit_code", failure.ExitCode), zap.Error(m.err))
	case m.err != nil:
		t.outcome = outcomeFailed
		o.logger.Warn("execution failed", zap.Error(m.err))
	default:
		o.logger.Info("execution finished",
			zap.String("assistant_session", m.result.SessionID),
			zap.Duration("duration", m.result.Duration),
			zap.Float64("cost_usd", m.result.CostUSD))
	}

	if m.speaks && o.state == Executing {
		o.transition(Speaking)
	}
}
