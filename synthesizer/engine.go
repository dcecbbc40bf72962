package synthesizer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	ProviderSay    = "say"
	ProviderEspeak = "espeak"
	ProviderAuto   = "auto"
	// ProviderLog writes sentences to the log instead of the speakers.
	ProviderLog = "log"
)

var (
	execCommandContext = exec.CommandContext
	lookPath           = exec.LookPath
)

type commandEngine struct {
	binary string
	voice  string
	rate   int
}

type EngineConfig struct {
	Provider string
	Voice    string
	// Rate in words per minute; 0 keeps the engine default.
	Rate   int
	Logger *zap.Logger
}

// NewEngine picks the speech backend. "auto" prefers macOS say, then
// espeak-ng, then espeak.
func NewEngine(cfg *EngineConfig) (Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	switch cfg.Provider {
	case ProviderSay:
		return &commandEngine{binary: "say", voice: cfg.Voice, rate: cfg.Rate}, nil
	case ProviderEspeak:
		return &commandEngine{binary: espeakBinary(), voice: cfg.Voice, rate: cfg.Rate}, nil
	case ProviderLog:
		return NewLogEngine(cfg.Logger), nil
	case ProviderAuto, "":
		if _, err := lookPath("say"); err == nil {
			return &commandEngine{binary: "say", voice: cfg.Voice, rate: cfg.Rate}, nil
		}

		if bin := espeakBinary(); bin != "" {
			if _, err := lookPath(bin); err == nil {
				// say voice names mean nothing to espeak.
				return &commandEngine{binary: bin, rate: cfg.Rate}, nil
			}
		}

		return nil, fmt.Errorf("no speech engine found: install say or espeak")
	}

	return nil, fmt.Errorf("unknown tts provider %q", cfg.Provider)
}

func espeakBinary() string {
	if _, err := lookPath("espeak-ng"); err == nil {
		return "espeak-ng"
	}

	return "espeak"
}

func (c *commandEngine) Name() string {
	return c.binary
}

func (c *commandEngine) args(sentence string) []string {
	var args []string

	if c.voice != "" {
		args = append(args, "-v", c.voice)
	}

	if c.rate > 0 {
		switch c.binary {
		case "say":
			args = append(args, "-r", strconv.Itoa(c.rate))
		default:
			args = append(args, "-s", strconv.Itoa(c.rate))
		}
	}

	// "--" keeps a sentence starting with "-" from being read as a flag.
	return append(args, "--", sentence)
}

// Speak runs the engine for one sentence. Cancellation kills the process,
// which stops playback mid-word.
func (c *commandEngine) Speak(ctx context.Context, sentence string) error {
	var stderr bytes.Buffer

	cmd := execCommandContext(ctx, c.binary, c.args(sentence)...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("%s: %w (%s)", c.binary, err, strings.TrimSpace(stderr.String()))
	}

	return nil
}

type logEngine struct {
	logger *zap.Logger
}

func NewLogEngine(logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &logEngine{logger: logger.Named("tts")}
}

func (l *logEngine) Name() string {
	return ProviderLog
}

func (l *logEngine) Speak(ctx context.Context, sentence string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.logger.Info("speak", zap.String("text", sentence))

	return nil
}
