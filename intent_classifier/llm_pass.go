package intent_classifier

import (
	"context"
	"fmt"
	"sort"
	"time"

	"voice-command-router/command"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type llmRequest struct {
	Model   string            `json:"model,omitempty"`
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
	Actions []string          `json:"actions"`
}

type llmResponse struct {
	Action     string   `json:"action"`
	Entities   []string `json:"entities"`
	Confidence float64  `json:"confidence"`
}

type llmPass struct {
	client   *resty.Client
	endpoint string
	model    string
	logger   *zap.Logger
}

type LLMConfig struct {
	Endpoint string
	// Model is sent as-is; empty leaves the choice to the server.
	Model    string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewLLMPass asks a local model server for a structured reading. The server
// must answer with {"action", "entities", "confidence"}; any failure
// abstains.
func NewLLMPass(cfg *LLMConfig) (Pass, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is empty")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &llmPass{
		client:   resty.New().SetTimeout(timeout),
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		logger:   logger.Named("llm"),
	}, nil
}

func (p *llmPass) Name() string {
	return "llm"
}

func (p *llmPass) Vote(ctx context.Context, u Utterance) (Vote, error) {
	var out llmResponse

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(llmRequest{
			Model:   p.model,
			Text:    u.Text,
			Context: u.Context,
			Actions: knownActions(),
		}).
		SetResult(&out).
		Post(p.endpoint)
	if err != nil {
		return Vote{Pass: "llm", Abstain: true}, fmt.Errorf("llm pass: %w", err)
	}

	if resp.IsError() {
		return Vote{Pass: "llm", Abstain: true}, fmt.Errorf("llm pass: HTTP %d", resp.StatusCode())
	}

	intent, mapped := command.IntentForAction(out.Action)

	confidence := command.ClampConfidence(out.Confidence)
	if !mapped {
		confidence *= 0.8
		p.logger.Warn("model answered an unknown action", zap.String("action", out.Action), zap.String("model", p.model))
	}

	p.logger.Debug("model reading",
		zap.String("action", out.Action),
		zap.Strings("entities", out.Entities),
		zap.Float64("confidence", out.Confidence))

	return Vote{
		Pass:     "llm",
		Action:   out.Action,
		Intent:   intent,
		Entities: normalizeAll(out.Entities),
		Score:    confidence,
	}, nil
}

func knownActions() []string {
	seen := map[string]bool{}

	var out []string
	for _, k := range vocabulary {
		if !seen[k.action] {
			seen[k.action] = true
			out = append(out, k.action)
		}
	}
	sort.Strings(out)

	return out
}
