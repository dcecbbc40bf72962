package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"voice-command-router/audio_source"
	"voice-command-router/clients/sync_api"
	"voice-command-router/command_router"
	"voice-command-router/config"
	"voice-command-router/execution_dispatcher"
	"voice-command-router/intent_classifier"
	"voice-command-router/knowledge_store"
	"voice-command-router/knowledge_sync"
	"voice-command-router/metrics"
	"voice-command-router/session"
	"voice-command-router/speech_to_text"
	"voice-command-router/synthesizer"
	"voice-command-router/voice_activity"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// app builds the pipeline from configuration and owns what must be closed.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	fileSys afero.Fs

	store   knowledge_store.Interface
	closers []func() error
}

func newApp(o *options) *app {
	return &app{
		cfg:     o.cfg,
		logger:  o.logger,
		metrics: metrics.New(nil),
		fileSys: afero.NewOsFs(),
	}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil

	return errors.Join(errs...)
}

func (a *app) openStore() (knowledge_store.Interface, error) {
	if a.store != nil {
		return a.store, nil
	}

	store, err := knowledge_store.New(&knowledge_store.Config{
		Path:   a.cfg.Knowledge.LocalDB,
		Logger: a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}

	a.store = store
	a.closers = append(a.closers, store.Close)

	return store, nil
}

func (a *app) synthesizer(provider string) (synthesizer.Interface, error) {
	engine, err := synthesizer.NewEngine(&synthesizer.EngineConfig{
		Provider: provider,
		Voice:    a.cfg.TTS.Voice,
		Rate:     a.cfg.TTS.Rate,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, err
	}

	return synthesizer.New(&synthesizer.Config{Engine: engine, Logger: a.logger})
}

func (a *app) transcriber() (speech_to_text.Interface, error) {
	stt := a.cfg.STT

	var engines []speech_to_text.Engine

	if stt.Provider != "http" {
		model, err := whisper.New(stt.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("load whisper model %s: %w", stt.ModelPath, err)
		}
		a.closers = append(a.closers, model.Close)

		engine, err := speech_to_text.NewWhisper(&speech_to_text.WhisperConfig{Model: model, Language: stt.Language})
		if err != nil {
			return nil, err
		}
		engines = append(engines, engine)
	}

	if stt.FallbackURL != "" {
		engine, err := speech_to_text.NewHTTP(&speech_to_text.HTTPConfig{
			URL:      stt.FallbackURL,
			APIKey:   stt.FallbackAPIKey,
			Model:    stt.FallbackModel,
			Language: stt.Language,
			Timeout:  stt.Timeout,
		})
		if err != nil {
			return nil, err
		}
		engines = append(engines, engine)
	}

	var dumper *speech_to_text.Dumper
	if dir := a.cfg.Audio.DumpDir; dir != "" {
		d, err := speech_to_text.NewDumper(a.fileSys, dir)
		if err != nil {
			return nil, err
		}
		dumper = d
	}

	return speech_to_text.New(&speech_to_text.Config{
		Engines:         engines,
		ConfidenceFloor: stt.ConfidenceFloor,
		Dumper:          dumper,
		Metrics:         a.metrics,
		Logger:          a.logger,
	})
}

func (a *app) classifier(store intent_classifier.PhraseLookup) (intent_classifier.Interface, error) {
	var llm intent_classifier.Pass
	if a.cfg.Intent.Endpoint != "" {
		pass, err := intent_classifier.NewLLMPass(&intent_classifier.LLMConfig{
			Endpoint: a.cfg.Intent.Endpoint,
			Model:    a.cfg.Intent.Model,
			Logger:   a.logger,
		})
		if err != nil {
			return nil, err
		}
		llm = pass
	}

	return intent_classifier.New(&intent_classifier.Config{
		Passes:          intent_classifier.DefaultPasses(store, llm, a.logger),
		EnsembleSize:    a.cfg.Intent.EnsembleSize,
		Policy:          intent_classifier.Policy(a.cfg.Intent.EnsemblePolicy),
		DisagreementCap: a.cfg.Intent.DisagreementCap,
		Logger:          a.logger,
	})
}

func (a *app) router(store command_router.Store) (command_router.Interface, error) {
	return command_router.New(&command_router.Config{
		Store:                 store,
		Threshold:             a.cfg.Intent.ConfidenceThreshold,
		Confirmation:          command_router.ConfirmationMode(a.cfg.Confirmation.Mode),
		EscalateOnUncertainty: a.cfg.Session.EscalateOnUncertainty,
		Logger:                a.logger,
	})
}

func (a *app) dispatcher() (execution_dispatcher.Interface, error) {
	return execution_dispatcher.New(&execution_dispatcher.Config{
		CLIPath:     a.cfg.Claude.CLIPath,
		Model:       a.cfg.Claude.Model,
		ExtraArgs:   a.cfg.Claude.ExtraArgs,
		GracePeriod: a.cfg.Claude.GracePeriod,
		WorkDir:     a.cfg.Claude.WorkDir,
		Metrics:     a.metrics,
		Logger:      a.logger,
	})
}

// syncWorker is nil when no endpoint is configured.
func (a *app) syncWorker() (*knowledge_sync.Worker, error) {
	k := a.cfg.Knowledge
	if k.SyncEndpoint == "" || k.SyncMode == string(knowledge_sync.ModeOff) {
		return nil, nil
	}

	client, err := sync_api.NewClient(&sync_api.Config{
		ApiHost: k.SyncEndpoint,
		Token:   os.Getenv("VCR_KNOWLEDGE_SYNC_TOKEN"),
	})
	if err != nil {
		return nil, err
	}

	return knowledge_sync.New(&knowledge_sync.Config{
		API:     client,
		Mode:    knowledge_sync.Mode(k.SyncMode),
		Queue:   k.SyncQueue,
		Metrics: a.metrics,
		Logger:  a.logger,
	})
}

func (a *app) sourceConfig() audio_source.Config {
	return audio_source.Config{
		Device:        a.cfg.Audio.InputDevice,
		SampleRate:    a.cfg.Audio.SampleRate,
		FrameDuration: a.cfg.Audio.FrameDuration,
		QueueFrames:   a.cfg.Audio.QueueFrames,
		OnDrop:        a.metrics.FrameDropped,
		Logger:        a.logger,
	}
}

func (a *app) gate() (voice_activity.Interface, error) {
	vad := a.cfg.VAD

	return voice_activity.New(&voice_activity.Config{
		SpeechThreshold:  vad.SpeechThreshold,
		FluxRatio:        vad.FluxRatio,
		MinSpeech:        vad.MinSpeech,
		SilenceThreshold: vad.SilenceThreshold,
		MaxUtterance:     vad.MaxUtterance,
		PreRoll:          vad.PreRoll,
		FrameDuration:    a.cfg.Audio.FrameDuration,
		Logger:           a.logger,
	})
}

// pipeline is everything a session needs apart from audio.
type pipeline struct {
	store      knowledge_store.Interface
	classifier intent_classifier.Interface
	router     command_router.Interface
	dispatcher execution_dispatcher.Interface
	synth      synthesizer.Interface
	sync       *knowledge_sync.Worker
}

func (a *app) pipeline(ttsProvider string) (*pipeline, error) {
	p := &pipeline{}

	store, err := a.openStore()
	if err != nil {
		// Routing degrades without knowledge; the session still works.
		a.logger.Warn("knowledge store unavailable", zap.Error(err))
	} else {
		p.store = store
	}

	var routerStore command_router.Store
	var lookup intent_classifier.PhraseLookup
	if p.store != nil {
		routerStore, lookup = p.store, p.store
	}

	if p.classifier, err = a.classifier(lookup); err != nil {
		return nil, err
	}

	if p.router, err = a.router(routerStore); err != nil {
		return nil, err
	}

	if p.dispatcher, err = a.dispatcher(); err != nil {
		return nil, err
	}

	if p.synth, err = a.synthesizer(ttsProvider); err != nil {
		return nil, err
	}

	if p.sync, err = a.syncWorker(); err != nil {
		return nil, err
	}

	return p, nil
}

func (a *app) session(p *pipeline, source audio_source.Interface, gate voice_activity.Interface, stt speech_to_text.Interface) (*session.Orchestrator, error) {
	return session.New(&session.Config{
		Source:       source,
		Gate:         gate,
		Transcriber:  stt,
		Classifier:   p.classifier,
		Router:       p.router,
		Dispatcher:   p.dispatcher,
		Synth:        p.synth,
		Store:        p.store,
		Sync:         p.sync,
		Policy:       session.InterruptPolicy(a.cfg.Session.InterruptPolicy),
		BargeInBound: a.cfg.Session.BargeInLatency,
		AnswerGrace:  a.cfg.Confirmation.Timeout,
		SpeakPartial: a.cfg.Session.SpeakPartial,
		Continuous:   a.cfg.Session.Continuous,
		Metrics:      a.metrics,
		Logger:       a.logger,
	})
}

// serve runs fn next to the metrics listener when one is configured.
func (a *app) serve(ctx context.Context, fn func(ctx context.Context) error) error {
	if a.cfg.Metrics.Addr == "" {
		return fn(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.metrics.Serve(gctx, a.cfg.Metrics.Addr, a.logger)
	})

	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})

	return g.Wait()
}
