package cli

import (
	"context"
	"errors"
	"fmt"

	"voice-command-router/audio_source"

	"go.uber.org/zap"
)

func runVoice(ctx context.Context, o *options) error {
	a := newApp(o)
	defer a.Close()

	p, err := a.pipeline(o.cfg.TTS.Provider)
	if err != nil {
		return err
	}

	stt, err := a.transcriber()
	if err != nil {
		return err
	}

	gate, err := a.gate()
	if err != nil {
		return err
	}

	srcCfg := a.sourceConfig()
	mic, err := audio_source.NewMicrophone(&srcCfg)
	if err != nil {
		return err
	}

	sess, err := a.session(p, mic, gate, stt)
	if err != nil {
		return err
	}

	o.logger.Info("listening",
		zap.String("session", sess.ID()),
		zap.String("device", srcCfg.Device),
		zap.String("policy", o.cfg.Session.InterruptPolicy),
		zap.Bool("continuous", o.cfg.Session.Continuous),
	)
	fmt.Fprintln(o.out, "Listening. Press Ctrl+C to stop.")

	err = a.serve(ctx, sess.Run)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	return err
}

// runText sends one typed request through the same pipeline.
func runText(ctx context.Context, o *options, text string) error {
	a := newApp(o)
	defer a.Close()

	p, err := a.pipeline(o.cfg.TTS.Provider)
	if err != nil {
		return err
	}

	sess, err := a.session(p, nil, nil, nil)
	if err != nil {
		return err
	}

	return a.serve(ctx, func(ctx context.Context) error {
		return sess.RunText(ctx, text)
	})
}
