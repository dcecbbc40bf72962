package speech_to_text

import (
	"context"
	"fmt"
	"io"
	"strings"

	"voice-command-router/voice_activity"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

type whisperEngine struct {
	model    whisper.Model
	language string
}

type WhisperConfig struct {
	Model    whisper.Model
	Language string
}

// NewWhisper runs utterances through a local whisper.cpp model. The model is
// shared; each call gets its own context.
func NewWhisper(cfg *WhisperConfig) (Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Model == nil {
		return nil, fmt.Errorf("model is nil")
	}

	return &whisperEngine{
		model:    cfg.Model,
		language: cfg.Language,
	}, nil
}

func (w *whisperEngine) Name() string {
	return "whisper"
}

func (w *whisperEngine) Transcribe(ctx context.Context, u *voice_activity.Utterance) (string, float64, error) {
	wctx, err := w.model.NewContext()
	if err != nil {
		return "", 0, err
	}

	if w.language != "" && w.model.IsMultilingual() {
		if err := wctx.SetLanguage(w.language); err != nil {
			return "", 0, fmt.Errorf("set language %q: %w", w.language, err)
		}
	}

	data := u.Buffer().AsFloat32Buffer().Data

	// whisper.cpp cannot be interrupted mid-run; check before and after.
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	if err := wctx.Process(data, nil); err != nil {
		return "", 0, err
	}

	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	segments, dropped, err := collectSegments(wctx)
	if err != nil {
		return "", 0, err
	}

	texts := make([]string, 0, len(segments))
	for _, s := range segments {
		texts = append(texts, strings.TrimSpace(s.Text))
	}

	return strings.Join(texts, " "), segmentConfidence(len(segments), dropped), nil
}

// collectSegments drains the context, skipping annotations like "[BLANK_AUDIO]"
// or "(music)" and repeated hallucinated lines.
func collectSegments(wctx whisper.Context) ([]whisper.Segment, int, error) {
	seenText := make(map[string]bool)

	segments := make([]whisper.Segment, 0)
	dropped := 0

	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			return segments, dropped, nil
		} else if err != nil {
			return nil, 0, err
		}

		text := strings.TrimSpace(segment.Text)
		if text == "" || isAnnotation(text) {
			dropped++
			continue
		}

		if seenText[text] {
			dropped++
			continue
		}
		seenText[text] = true

		segments = append(segments, segment)
	}
}

func isAnnotation(text string) bool {
	first, last := text[0], text[len(text)-1]

	return first == '(' || first == '[' || last == ')' || last == ']'
}

// segmentConfidence estimates confidence from how much of the output was
// usable. The bindings expose no token probabilities.
func segmentConfidence(kept, dropped int) float64 {
	if kept == 0 {
		return 0
	}

	return 0.9 * float64(kept) / float64(kept+dropped)
}
