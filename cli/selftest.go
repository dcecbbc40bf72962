package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"voice-command-router/audio_source"
	"voice-command-router/synthesizer"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const wavTrailingSilence = 2 * time.Second

var errSelfTest = errors.New("self-test failed")

func newSelfTestCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "self-test",
		Short: "Check the installation without starting a session",
		Long: `self-test verifies the configuration, knowledge database, assistant CLI,
speech engine, whisper model and audio devices.

With --wav the file is run through the whole pipeline as if it had been
spoken; replies are logged instead of played.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSelfTest(cmd.Context(), o)
		},
	}

	cmd.Flags().StringVar(&o.wavPath, "wav", "", "mono 16-bit WAV file to replay through the pipeline")

	return cmd
}

type check struct {
	name string
	fn   func(ctx context.Context) (string, error)
}

func runSelfTest(ctx context.Context, o *options) error {
	a := newApp(o)
	defer a.Close()

	checks := []check{
		{"config", func(context.Context) (string, error) {
			if _, err := os.Stat(o.configPath); err != nil {
				return "defaults (no file at " + o.configPath + ")", nil
			}
			return o.configPath, nil
		}},
		{"knowledge store", func(ctx context.Context) (string, error) {
			store, err := a.openStore()
			if err != nil {
				return "", err
			}
			patterns, err := store.Patterns(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (%d patterns)", o.cfg.Knowledge.LocalDB, len(patterns)), nil
		}},
		{"assistant cli", func(ctx context.Context) (string, error) {
			d, err := a.dispatcher()
			if err != nil {
				return "", err
			}
			return d.Version(ctx)
		}},
		{"speech engine", func(context.Context) (string, error) {
			engine, err := synthesizer.NewEngine(&synthesizer.EngineConfig{
				Provider: o.cfg.TTS.Provider,
				Voice:    o.cfg.TTS.Voice,
				Rate:     o.cfg.TTS.Rate,
				Logger:   o.logger,
			})
			if err != nil {
				return "", err
			}
			return engine.Name(), nil
		}},
		{"whisper model", func(context.Context) (string, error) {
			if o.cfg.STT.Provider == "http" {
				return "not used (http provider)", nil
			}
			info, err := a.fileSys.Stat(o.cfg.STT.ModelPath)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (%d MiB)", o.cfg.STT.ModelPath, info.Size()>>20), nil
		}},
		{"input devices", func(context.Context) (string, error) {
			names, err := audio_source.InputDevices()
			if err != nil {
				return "", err
			}
			if len(names) == 0 {
				return "", fmt.Errorf("no capture device found")
			}
			return strings.Join(names, ", "), nil
		}},
	}

	failed := 0
	for _, c := range checks {
		detail, err := c.fn(ctx)
		if err != nil {
			failed++
			fmt.Fprintf(o.out, "%s %s: %v\n", failStyle.Render("FAIL"), c.name, err)
			continue
		}
		fmt.Fprintf(o.out, "%s %s %s\n", okStyle.Render(" ok "), c.name, mutedStyle.Render(detail))
	}

	if o.wavPath != "" {
		if err := replayWAV(ctx, a, o); err != nil {
			failed++
			fmt.Fprintf(o.out, "%s replay %s: %v\n", failStyle.Render("FAIL"), o.wavPath, err)
		} else {
			fmt.Fprintf(o.out, "%s replay %s\n", okStyle.Render(" ok "), o.wavPath)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d check(s)", errSelfTest, failed)
	}

	return nil
}

// replayWAV runs one recorded request end to end with logged speech.
func replayWAV(ctx context.Context, a *app, o *options) error {
	p, err := a.pipeline(synthesizer.ProviderLog)
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

	source, err := audio_source.NewWAVFile(&audio_source.WAVConfig{
		Config:          a.sourceConfig(),
		FileSys:         a.fileSys,
		Path:            o.wavPath,
		TrailingSilence: wavTrailingSilence,
	})
	if err != nil {
		return err
	}

	sess, err := a.session(p, source, gate, stt)
	if err != nil {
		return err
	}

	err = sess.Run(ctx)

	o.logger.Info("replay finished",
		zap.String("file", o.wavPath),
		zap.Stringer("state", sess.State()))

	return err
}
