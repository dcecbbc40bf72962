package speech_to_text

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"voice-command-router/voice_activity"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/afero"
)

const defaultHTTPTimeout = 20 * time.Second

type httpEngine struct {
	client   *resty.Client
	url      string
	apiKey   string
	model    string
	language string
	fileSys  afero.Fs
}

type HTTPConfig struct {
	// URL of an OpenAI-compatible /audio/transcriptions endpoint.
	URL      string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
	// FileSys stages the WAV upload; defaults to memory.
	FileSys afero.Fs
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewHTTP posts utterances as multipart WAV to a remote transcription API.
func NewHTTP(cfg *HTTPConfig) (Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("url is empty")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	fileSys := cfg.FileSys
	if fileSys == nil {
		fileSys = afero.NewMemMapFs()
	}

	return &httpEngine{
		client:   resty.New().SetTimeout(timeout),
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		fileSys:  fileSys,
	}, nil
}

func (h *httpEngine) Name() string {
	return "http"
}

func (h *httpEngine) Transcribe(ctx context.Context, u *voice_activity.Utterance) (string, float64, error) {
	payload, err := EncodeWAV(h.fileSys, u)
	if err != nil {
		return "", 0, err
	}

	form := map[string]string{"response_format": "verbose_json"}
	if h.model != "" {
		form["model"] = h.model
	}
	if h.language != "" {
		form["language"] = h.language
	}

	var out transcriptionResponse
	var apiErr apiError

	req := h.client.R().
		SetContext(ctx).
		SetFileReader("file", u.ID+".wav", bytes.NewReader(payload)).
		SetFormData(form).
		SetResult(&out).
		SetError(&apiErr)

	if h.apiKey != "" {
		req.SetAuthToken(h.apiKey)
	}

	resp, err := req.Post(h.url)
	if err != nil {
		return "", 0, err
	}

	if resp.IsError() {
		if apiErr.Error.Message != "" {
			return "", 0, fmt.Errorf("status %d: %s", resp.StatusCode(), apiErr.Error.Message)
		}

		return "", 0, fmt.Errorf("status %d", resp.StatusCode())
	}

	return out.Text, out.confidence(), nil
}

// confidence averages exp(avg_logprob) weighted by the chance of speech.
// Responses without segments get a fixed score.
func (r transcriptionResponse) confidence() float64 {
	if r.Text == "" {
		return 0
	}

	if len(r.Segments) == 0 {
		return 0.85
	}

	sum := 0.0
	for _, s := range r.Segments {
		sum += math.Exp(s.AvgLogprob) * (1 - s.NoSpeechProb)
	}

	return sum / float64(len(r.Segments))
}
