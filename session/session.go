package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voice-command-router/audio_source"
	"voice-command-router/command"
	"voice-command-router/command_router"
	"voice-command-router/execution_dispatcher"
	"voice-command-router/intent_classifier"
	"voice-command-router/knowledge_store"
	"voice-command-router/knowledge_sync"
	"voice-command-router/metrics"
	"voice-command-router/speech_to_text"
	"voice-command-router/synthesizer"
	"voice-command-router/voice_activity"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBargeInBound = 300 * time.Millisecond
	defaultAnswerGrace  = time.Second
	noticeTimeout       = 5 * time.Second
	messageQueue        = 32
)

// Session is a point-in-time view of the live session.
type Session struct {
	ID           string
	State        State
	ActiveGoalID string
	LastCommand  *command.Command
	Executing    bool
}

type Config struct {
	Source      audio_source.Interface
	Gate        voice_activity.Interface
	Transcriber speech_to_text.Interface
	Classifier  intent_classifier.Interface
	Router      command_router.Interface
	Dispatcher  execution_dispatcher.Interface
	Synth       synthesizer.Interface
	// Store is optional; without it local actions are refused politely.
	Store knowledge_store.Interface
	// Sync is optional.
	Sync *knowledge_sync.Worker

	Policy InterruptPolicy
	// BargeInBound is the latency target from speech onset to Listening.
	BargeInBound time.Duration
	// AnswerGrace delays arming the gate after a clarification question, so
	// the user gets this long before the silence window starts.
	AnswerGrace  time.Duration
	SpeakPartial bool
	// Continuous keeps listening after a turn; otherwise Run returns after
	// the first turn completes.
	Continuous bool

	// OnTransition is called from the orchestrator loop on every state change.
	OnTransition func(from, to State)
	Now          func() time.Time
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

type Orchestrator struct {
	cfg    Config
	id     string
	logger *zap.Logger

	msgs    chan message
	control chan gateOp
	workers sync.WaitGroup

	// Owned by the loop.
	state     State
	turn      *turn
	pending   *command.ClarificationRequest
	held      *voice_activity.Utterance
	holding   bool
	rejecting bool
	lastExec  *execution_dispatcher.Execution
	lastCmd   *command.Command
	goalID    string
	textMode  bool
	finished  bool
	srcDone   bool

	observed atomic.Int32
	snapMu   sync.Mutex
	snap     Session
}

func New(cfg *Config) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	switch {
	case cfg.Classifier == nil:
		return nil, fmt.Errorf("missing parameter: cfg.Classifier")
	case cfg.Router == nil:
		return nil, fmt.Errorf("missing parameter: cfg.Router")
	case cfg.Dispatcher == nil:
		return nil, fmt.Errorf("missing parameter: cfg.Dispatcher")
	case cfg.Synth == nil:
		return nil, fmt.Errorf("missing parameter: cfg.Synth")
	}

	c := *cfg

	switch c.Policy {
	case "":
		c.Policy = PolicyBargeIn
	case PolicyBargeIn, PolicyQueue, PolicyReject:
	default:
		return nil, fmt.Errorf("unknown interrupt policy %q", c.Policy)
	}

	if c.BargeInBound <= 0 {
		c.BargeInBound = defaultBargeInBound
	}

	if c.AnswerGrace < 0 {
		c.AnswerGrace = 0
	} else if c.AnswerGrace == 0 {
		c.AnswerGrace = defaultAnswerGrace
	}

	if c.Now == nil {
		c.Now = time.Now
	}

	o := &Orchestrator{
		cfg:     c,
		id:      uuid.NewString(),
		msgs:    make(chan message, messageQueue),
		control: make(chan gateOp, 8),
	}

	o.logger = c.Logger
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("session").With(zap.String("session", o.id))

	o.snap = Session{ID: o.id, State: Idle}

	return o, nil
}

func (o *Orchestrator) ID() string {
	return o.id
}

// State is safe to call from any goroutine.
func (o *Orchestrator) State() State {
	return State(o.observed.Load())
}

// Snapshot is safe to call from any goroutine.
func (o *Orchestrator) Snapshot() Session {
	o.snapMu.Lock()
	defer o.snapMu.Unlock()

	s := o.snap
	s.State = o.State()

	return s
}

// Run drives the voice session: capture, voice activity, the sync worker and
// the orchestrator loop. It returns when ctx is done, when the audio source
// ends, after one turn in non-continuous mode, or on a fatal device error.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.cfg.Source == nil || o.cfg.Gate == nil || o.cfg.Transcriber == nil {
		return fmt.Errorf("voice mode needs an audio source, a gate and a transcriber")
	}

	o.logger.Info("session started",
		zap.String("policy", string(o.cfg.Policy)),
		zap.Bool("continuous", o.cfg.Continuous))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.cfg.Source.Run(gctx)

		var devErr *audio_source.AudioDeviceError
		if errors.As(err, &devErr) {
			o.logger.Error("audio device failed", zap.Error(err))
			o.notice("I lost the microphone, so I'm stopping.")
		}

		return err
	})

	g.Go(func() error {
		return o.runGate(gctx)
	})

	if o.cfg.Sync != nil {
		g.Go(func() error {
			return o.cfg.Sync.Run(gctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return o.loop(gctx, "")
	})

	err := g.Wait()

	o.logger.Info("session ended", zap.Error(err))

	return err
}

// RunText runs a single typed request through classification, routing and
// execution, speaking the outcome. No audio is involved.
func (o *Orchestrator) RunText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to run")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.textMode = true

	g, gctx := errgroup.WithContext(ctx)

	if o.cfg.Sync != nil {
		g.Go(func() error {
			return o.cfg.Sync.Run(gctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return o.loop(gctx, text)
	})

	return g.Wait()
}

// notice speaks a short message outside any turn.
func (o *Orchestrator) notice(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), noticeTimeout)
	defer cancel()

	if err := o.cfg.Synth.Say(ctx, text); err != nil {
		o.logger.Warn("notice not spoken", zap.Error(err))
	}
}

type gateOp int

const (
	gateArm gateOp = iota + 1
	gateReset
)

// runGate feeds captured frames through the voice activity gate. It owns
// the gate; the loop steers it through o.control.
func (o *Orchestrator) runGate(ctx context.Context) error {
	frames := o.cfg.Source.Frames()

	for {
		select {
		case <-ctx.Done():
			return nil
		case op := <-o.control:
			switch op {
			case gateArm:
				o.cfg.Gate.Arm()
			case gateReset:
				o.cfg.Gate.Reset()
			}
		case f, ok := <-frames:
			if !ok {
				o.post(ctx, message{kind: msgSourceDone})
				return nil
			}

			ev := o.cfg.Gate.Feed(f)
			if ev == nil {
				continue
			}

			o.post(ctx, message{
				kind:  msgVoice,
				voice: ev,
				// Detection trails the boundary by the frames it took to
				// confirm it.
				lag: f.Timestamp + f.Duration() - ev.Timestamp,
				at:  o.cfg.Now(),
			})
		}
	}
}

func (o *Orchestrator) steer(op gateOp) {
	if o.textMode {
		return
	}

	select {
	case o.control <- op:
	default:
		o.logger.Warn("gate control queue full", zap.Int("op", int(op)))
	}
}

// post delivers m to the loop unless ctx ends first.
func (o *Orchestrator) post(ctx context.Context, m message) bool {
	select {
	case o.msgs <- m:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) publish() {
	o.snapMu.Lock()
	defer o.snapMu.Unlock()

	o.snap.ActiveGoalID = o.goalID
	o.snap.LastCommand = o.lastCmd
	o.snap.Executing = o.lastExec != nil && o.cfg.Dispatcher.Active()
}
