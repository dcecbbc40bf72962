package synthesizer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type synthesizerImpl struct {
	engine Engine
	logger *zap.Logger
}

type Config struct {
	Engine Engine
	Logger *zap.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &synthesizerImpl{
		engine: cfg.Engine,
		logger: logger.Named("synthesizer"),
	}, nil
}

func (s *synthesizerImpl) Say(ctx context.Context, text string) error {
	ch := make(chan string, 1)
	ch <- text
	close(ch)

	return s.Speak(ctx, ch)
}

func (s *synthesizerImpl) Speak(ctx context.Context, text <-chan string) error {
	var sp splitter

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-text:
			if !ok {
				return s.speakAll(ctx, sp.flush())
			}

			if err := s.speakAll(ctx, sp.push(chunk)); err != nil {
				return err
			}
		}
	}
}

func (s *synthesizerImpl) speakAll(ctx context.Context, sentences []string) error {
	for _, sentence := range sentences {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.logger.Debug("speaking", zap.String("engine", s.engine.Name()), zap.String("sentence", sentence))

		if err := s.engine.Speak(ctx, sentence); err != nil {
			return err
		}
	}

	return nil
}
