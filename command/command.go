package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var ErrInvalidCommand = errors.New("invalid command")

// Command is the rigid schema the external assistant receives. Only
// Directive is ever forwarded; the rest is for routing, logging and learning.
type Command struct {
	Intent     Intent            `json:"intent"`
	Directive  string            `json:"directive"`
	Entities   []string          `json:"entities"`
	Context    map[string]string `json:"context"`
	Confidence float64           `json:"confidence"`
	CreatedAt  time.Time         `json:"created_at"`
}

func New(intent Intent, directive string, entities []string, confidence float64, createdAt time.Time) Command {
	return Command{
		Intent:     intent,
		Directive:  directive,
		Entities:   entities,
		Context:    map[string]string{},
		Confidence: ClampConfidence(confidence),
		CreatedAt:  createdAt,
	}
}

// WithContext returns a copy of c with key set.
func (c Command) WithContext(key, value string) Command {
	ctx := make(map[string]string, len(c.Context)+1)
	for k, v := range c.Context {
		ctx[k] = v
	}
	ctx[key] = value
	c.Context = ctx

	return c
}

func (c Command) IsConfident(threshold float64) bool {
	return c.Confidence >= threshold
}

// Validate enforces the schema invariant: a legal intent, a non-empty
// directive and a confidence in [0,1].
func (c Command) Validate() error {
	if !c.Intent.Valid() {
		return fmt.Errorf("%w: intent %d", ErrInvalidCommand, int(c.Intent))
	}

	if strings.TrimSpace(c.Directive) == "" {
		return fmt.Errorf("%w: empty directive", ErrInvalidCommand)
	}

	if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidCommand, c.Confidence)
	}

	return nil
}

// ContextKeys returns the context keys sorted, so traces are stable.
func (c Command) ContextKeys() []string {
	keys := make([]string, 0, len(c.Context))
	for k := range c.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Trace renders the command with its context for debug output. It is never
// sent to the assistant.
func (c Command) Trace() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s %.0f%%] %s", c.Intent, c.Confidence*100, c.Directive)

	for _, k := range c.ContextKeys() {
		fmt.Fprintf(&b, "\n- %s: %s", k, c.Context[k])
	}

	return b.String()
}

func (c Command) JSON() (string, error) {
	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}

	return string(out), nil
}

// ClampConfidence maps any float onto [0,1]; NaN becomes 0.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}

	return v
}
