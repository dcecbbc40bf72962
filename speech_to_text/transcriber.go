package speech_to_text

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"voice-command-router/metrics"
	"voice-command-router/voice_activity"

	"go.uber.org/zap"
)

const defaultRetries = 1

type transcriberImpl struct {
	engines []Engine
	floor   float64
	retries int
	dumper  *Dumper
	metrics *metrics.Metrics
	logger  *zap.Logger
}

type Config struct {
	// Engines are tried in order; later ones are fallbacks.
	Engines         []Engine
	ConfidenceFloor float64
	// Retries of the whole chain after a failure. Negative disables retrying.
	Retries int
	// Dumper, when set, writes every utterance to disk before transcription.
	Dumper  *Dumper
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if len(cfg.Engines) == 0 {
		return nil, fmt.Errorf("no transcription engine configured")
	}

	if cfg.ConfidenceFloor < 0 || cfg.ConfidenceFloor > 1 {
		return nil, fmt.Errorf("confidence floor %v outside [0,1]", cfg.ConfidenceFloor)
	}

	t := &transcriberImpl{
		engines: cfg.Engines,
		floor:   cfg.ConfidenceFloor,
		retries: cfg.Retries,
		dumper:  cfg.Dumper,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}

	switch {
	case t.retries == 0:
		t.retries = defaultRetries
	case t.retries < 0:
		t.retries = 0
	}

	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	t.logger = t.logger.Named("stt")

	return t, nil
}

func (t *transcriberImpl) Floor() float64 {
	return t.floor
}

func (t *transcriberImpl) Transcribe(ctx context.Context, u *voice_activity.Utterance) (Transcript, error) {
	if u == nil {
		return Transcript{}, &TranscriptionError{Err: errors.New("utterance is nil")}
	}

	if u.SpeechFrames == 0 || len(u.Frames) == 0 {
		return Transcript{}, &TranscriptionError{UtteranceID: u.ID, Err: ErrNoSpeech}
	}

	if t.dumper != nil {
		if path, err := t.dumper.Dump(u); err != nil {
			t.logger.Warn("could not dump utterance", zap.String("utterance", u.ID), zap.Error(err))
		} else {
			t.logger.Debug("utterance dumped", zap.String("utterance", u.ID), zap.String("path", path))
		}
	}

	var lastErr error

	for attempt := 0; attempt <= t.retries; attempt++ {
		for _, engine := range t.engines {
			if err := ctx.Err(); err != nil {
				return Transcript{}, &TranscriptionError{UtteranceID: u.ID, Err: err}
			}

			text, confidence, err := engine.Transcribe(ctx, u)
			if err != nil {
				if ctx.Err() != nil {
					return Transcript{}, &TranscriptionError{UtteranceID: u.ID, Engine: engine.Name(), Err: ctx.Err()}
				}

				t.metrics.TranscriptionFailed(engine.Name())
				t.logger.Warn("engine failed",
					zap.String("engine", engine.Name()),
					zap.String("utterance", u.ID),
					zap.Int("attempt", attempt+1),
					zap.Error(err))

				lastErr = &TranscriptionError{UtteranceID: u.ID, Engine: engine.Name(), Err: err}

				continue
			}

			text = strings.Join(strings.Fields(text), " ")
			if text == "" {
				return Transcript{}, &TranscriptionError{UtteranceID: u.ID, Engine: engine.Name(), Err: ErrNoSpeech}
			}

			tr := Transcript{
				Text:        text,
				Confidence:  clamp(confidence),
				UtteranceID: u.ID,
				Engine:      engine.Name(),
			}

			t.logger.Info("transcribed",
				zap.String("utterance", u.ID),
				zap.String("engine", tr.Engine),
				zap.String("text", tr.Text),
				zap.Float64("confidence", tr.Confidence))

			return tr, nil
		}
	}

	return Transcript{}, lastErr
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}

	return v
}
