package voice_activity

import (
	"fmt"
	"time"

	"voice-command-router/audio_source"
	"voice-command-router/ring_buffer"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultFluxRatio       = 1.75
	defaultSpeechThreshold = 0.015
	defaultMinSpeech       = 60 * time.Millisecond
	defaultSilence         = 1500 * time.Millisecond
	defaultMaxUtterance    = 30 * time.Second
	defaultPreRoll         = 300 * time.Millisecond
	defaultFrameDuration   = 20 * time.Millisecond

	baselineDecay = 0.9
)

type gateState int

const (
	stateIdle gateState = iota
	stateArmed
	stateSpeaking
)

type gateImpl struct {
	speechThreshold  float64
	silenceLevel     float64
	fluxRatio        float64
	minSpeech        time.Duration
	silenceThreshold time.Duration
	maxUtterance     time.Duration

	flux         *fluxDetector
	fluxBaseline float64
	preRoll      *ring_buffer.Buffer[audio_source.Frame]

	state       gateState
	candidate   time.Duration
	onset       time.Duration
	armedAt     time.Duration
	silence     time.Duration
	current     *Utterance
	lastFrameAt time.Duration

	logger *zap.Logger
}

type Config struct {
	// SpeechThreshold is the RMS level that counts as voiced. Speech ends
	// below half of it.
	SpeechThreshold  float64
	FluxRatio        float64
	MinSpeech        time.Duration
	SilenceThreshold time.Duration
	MaxUtterance     time.Duration
	PreRoll          time.Duration
	FrameDuration    time.Duration
	Logger           *zap.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	g := &gateImpl{
		speechThreshold:  orFloat(cfg.SpeechThreshold, defaultSpeechThreshold),
		fluxRatio:        orFloat(cfg.FluxRatio, defaultFluxRatio),
		minSpeech:        orDuration(cfg.MinSpeech, defaultMinSpeech),
		silenceThreshold: orDuration(cfg.SilenceThreshold, defaultSilence),
		maxUtterance:     orDuration(cfg.MaxUtterance, defaultMaxUtterance),
		logger:           cfg.Logger,
	}

	if g.fluxRatio <= 1 {
		return nil, fmt.Errorf("flux ratio must be greater than 1, got %v", g.fluxRatio)
	}

	if g.maxUtterance <= g.minSpeech {
		return nil, fmt.Errorf("max utterance %s must exceed min speech %s", g.maxUtterance, g.minSpeech)
	}

	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	g.logger = g.logger.Named("vad")

	g.silenceLevel = g.speechThreshold / 2

	frame := orDuration(cfg.FrameDuration, defaultFrameDuration)
	preRoll := orDuration(cfg.PreRoll, defaultPreRoll)

	// Room for the pre-roll plus the frames that proved speech had started.
	g.preRoll = ring_buffer.New[audio_source.Frame](int((preRoll+g.minSpeech)/frame) + 1)
	g.flux = newFluxDetector(int(16000 * frame / time.Second))

	return g, nil
}

func (g *gateImpl) InUtterance() bool {
	return g.state == stateSpeaking
}

func (g *gateImpl) Arm() {
	if g.state == stateIdle {
		g.state = stateArmed
		g.armedAt = g.lastFrameAt
		g.silence = 0
	}
}

func (g *gateImpl) Reset() {
	g.state = stateIdle
	g.current = nil
	g.candidate = 0
	g.silence = 0
	g.preRoll.Clear()
	g.flux.Reset()
}

func (g *gateImpl) Feed(frame audio_source.Frame) *Event {
	dur := frame.Duration()
	g.lastFrameAt = frame.Timestamp + dur

	voiced := g.voiced(frame.Samples)

	switch g.state {
	case stateIdle, stateArmed:
		return g.feedWaiting(frame, dur, voiced)
	case stateSpeaking:
		return g.feedSpeaking(frame, dur, voiced)
	}

	return nil
}

func (g *gateImpl) feedWaiting(frame audio_source.Frame, dur time.Duration, voiced bool) *Event {
	g.preRoll.Add(frame)

	if voiced {
		g.silence = 0
		if g.candidate == 0 {
			g.onset = frame.Timestamp
		}
		g.candidate += dur

		if g.candidate >= g.minSpeech {
			return g.start()
		}

		return nil
	}

	g.candidate = 0

	if g.state != stateArmed {
		return nil
	}

	g.silence += dur
	if g.silence < g.silenceThreshold {
		return nil
	}

	// Listening window expired without any speech.
	empty := &Utterance{
		ID:    uuid.NewString(),
		Start: g.armedAt,
		End:   g.lastFrameAt,
	}

	g.logger.Debug("listening window closed on silence", zap.String("utterance", empty.ID))
	g.Reset()

	return &Event{Kind: UtteranceStop, Timestamp: empty.End, Utterance: empty}
}

func (g *gateImpl) start() *Event {
	frames := g.preRoll.Read()
	g.preRoll.Clear()

	speech := int(g.candidate / frames[len(frames)-1].Duration())

	g.current = &Utterance{
		ID:           uuid.NewString(),
		Frames:       frames,
		Start:        frames[0].Timestamp,
		SpeechFrames: speech,
	}
	g.state = stateSpeaking
	g.candidate = 0
	g.silence = 0

	g.logger.Debug("utterance started",
		zap.String("utterance", g.current.ID),
		zap.Duration("onset", g.onset),
		zap.Int("pre_roll_frames", len(frames)-speech))

	return &Event{Kind: UtteranceStart, Timestamp: g.onset}
}

func (g *gateImpl) feedSpeaking(frame audio_source.Frame, dur time.Duration, voiced bool) *Event {
	u := g.current
	u.Frames = append(u.Frames, frame)

	if voiced {
		u.SpeechFrames++
		g.silence = 0
	} else {
		g.silence += dur
	}

	end := frame.Timestamp + dur

	switch {
	case g.silence >= g.silenceThreshold:
		return g.stop(end, false)
	case end-u.Start >= g.maxUtterance:
		return g.stop(end, true)
	}

	return nil
}

func (g *gateImpl) stop(end time.Duration, forced bool) *Event {
	u := g.current
	u.End = end
	u.ForceClosed = forced

	g.current = nil
	g.Reset()

	g.logger.Debug("utterance stopped",
		zap.String("utterance", u.ID),
		zap.Duration("length", u.Duration()),
		zap.Int("speech_frames", u.SpeechFrames),
		zap.Bool("force_closed", forced))

	return &Event{Kind: UtteranceStop, Timestamp: end, Utterance: u}
}

// voiced combines RMS hysteresis with a spectral flux rise over the running
// baseline, so soft onsets with a sharp spectral change still count.
func (g *gateImpl) voiced(samples []int16) bool {
	level := rms(samples)
	flux := g.flux.Flux(samples)

	fluxRise := g.fluxBaseline > 0 && flux >= g.fluxBaseline*g.fluxRatio

	var voiced bool
	if g.state == stateSpeaking {
		voiced = level >= g.silenceLevel
	} else {
		voiced = level >= g.speechThreshold || (fluxRise && level >= g.silenceLevel)
	}

	if !voiced {
		if g.fluxBaseline == 0 {
			g.fluxBaseline = flux
		} else {
			g.fluxBaseline = baselineDecay*g.fluxBaseline + (1-baselineDecay)*flux
		}
	}

	return voiced
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}

	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}

	return v
}
