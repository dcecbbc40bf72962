package command_router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-command-router/command"
	"voice-command-router/knowledge_store"

	"go.uber.org/zap"
)

type ConfirmationMode string

const (
	ConfirmAlways      ConfirmationMode = "always"
	ConfirmNever       ConfirmationMode = "never"
	ConfirmSmart       ConfirmationMode = "smart"
	ConfirmDestructive ConfirmationMode = "destructive-only"
)

const (
	defaultThreshold = 0.80

	// Multiplier applied when the knowledge store cannot be read.
	degradedPenalty = 0.9
	// Extra multiplier for fuzzy knowledge hits.
	fuzzyPenalty = 0.9
	// Multiplier applied to a pattern the user rejected.
	demoteFactor = 0.8
	// Confidence of an entity the user named in answer to a question.
	clarifiedConfidence = 0.95
	// Smart mode confirms destructive actions below this confidence.
	smartConfirmBelow = 0.9
)

// Store is the slice of the knowledge store the router reads and commits to.
type Store interface {
	Lookup(ctx context.Context, phrase string) (*knowledge_store.Match, error)
	Learn(ctx context.Context, from, to, hint string, confidence float64) (knowledge_store.Pattern, error)
	Reinforce(ctx context.Context, id int64) (knowledge_store.Pattern, error)
	Demote(ctx context.Context, id int64, factor float64) (knowledge_store.Pattern, error)
}

type routerImpl struct {
	store        Store
	threshold    float64
	confirmation ConfirmationMode
	escalate     bool
	now          func() time.Time
	logger       *zap.Logger
}

type Config struct {
	Store                 Store
	Threshold             float64
	Confirmation          ConfirmationMode
	EscalateOnUncertainty bool
	Now                   func() time.Time
	Logger                *zap.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	r := &routerImpl{
		store:        cfg.Store,
		threshold:    cfg.Threshold,
		confirmation: cfg.Confirmation,
		escalate:     cfg.EscalateOnUncertainty,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}

	if r.threshold == 0 {
		r.threshold = defaultThreshold
	}

	if r.threshold < 0 || r.threshold > 1 {
		return nil, fmt.Errorf("threshold %v outside [0,1]", r.threshold)
	}

	switch r.confirmation {
	case "":
		r.confirmation = ConfirmSmart
	case ConfirmAlways, ConfirmNever, ConfirmSmart, ConfirmDestructive:
	default:
		return nil, fmt.Errorf("unknown confirmation mode %q", r.confirmation)
	}

	if r.now == nil {
		r.now = time.Now
	}

	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("router")

	return r, nil
}

func (r *routerImpl) Threshold() float64 {
	return r.threshold
}

func (r *routerImpl) Route(ctx context.Context, in Input) Decision {
	if local := detectLocal(in.Transcript); local != nil {
		return Decision{Kind: Local, Local: local}
	}

	confidence := command.ClampConfidence(in.Confidence)

	entities, resolutions, degraded := r.resolve(ctx, in.Entities)
	for _, res := range resolutions {
		confidence *= res.Confidence
	}

	if degraded {
		confidence *= degradedPenalty
	}

	confidence = command.ClampConfidence(confidence)

	intent, _ := command.IntentForAction(in.Action)

	cmd := command.New(intent, directive(in.Action, entities, in.Context), entities, confidence, r.now())
	for k, v := range in.Context {
		cmd = cmd.WithContext(k, v)
	}

	d := Decision{Resolutions: resolutions, Degraded: degraded}

	for _, res := range resolutions {
		d.Learn = append(d.Learn, PatternUpdate{Op: Reinforce, PatternID: res.PatternID, From: res.FromPhrase, To: res.ToEntity})
	}

	if err := cmd.Validate(); err != nil {
		r.logger.Debug("no dispatchable command", zap.Error(err), zap.String("transcript", in.Transcript))
		d.Kind = Clarify
		d.Clarification = r.disambiguate(in, entities, confidence, resolutions)
		d.Learn = nil

		return d
	}

	if !cmd.IsConfident(r.threshold) {
		if !r.escalate {
			d.Kind = Clarify
			d.Clarification = r.disambiguate(in, entities, confidence, resolutions)
			d.Learn = nil

			return d
		}

		cmd = cmd.WithContext("uncertain", "true")
	}

	if r.needsConfirmation(in, cmd) {
		d.Kind = Clarify
		d.Clarification = &command.ClarificationRequest{
			Kind:        command.Confirm,
			Question:    "Should I " + lowerFirst(cmd.Directive) + "?",
			Pending:     &cmd,
			Transcript:  in.Transcript,
			Action:      in.Action,
			Entities:    entities,
			Confidence:  confidence,
			Resolutions: resolutions,
		}
		d.Learn = nil

		return d
	}

	d.Kind = Dispatch
	d.Command = &cmd

	return d
}

// resolve substitutes known entities. A store failure stops further
// lookups and marks the decision degraded.
func (r *routerImpl) resolve(ctx context.Context, entities []string) ([]string, []command.AmbiguityResolution, bool) {
	out := make([]string, len(entities))
	copy(out, entities)

	if r.store == nil {
		return out, nil, false
	}

	var resolutions []command.AmbiguityResolution

	for i, e := range entities {
		m, err := r.store.Lookup(ctx, e)
		if err != nil {
			var storeErr *knowledge_store.KnowledgeStoreError
			if !errors.As(err, &storeErr) {
				err = &knowledge_store.KnowledgeStoreError{Op: "lookup", Err: err}
			}

			r.logger.Warn("knowledge lookup failed, routing without disambiguation", zap.Error(err))

			return copyOf(entities), nil, true
		}

		if m == nil || m.Pattern.ToEntity == "" {
			continue
		}

		c := m.Pattern.Confidence
		if !m.Exact {
			c *= fuzzyPenalty
		}

		out[i] = m.Pattern.ToEntity
		resolutions = append(resolutions, command.AmbiguityResolution{
			FromPhrase: e,
			ToEntity:   m.Pattern.ToEntity,
			Context:    m.Pattern.Context,
			Confidence: c,
			Exact:      m.Exact,
			PatternID:  m.Pattern.ID,
		})
	}

	return out, resolutions, false
}

func (r *routerImpl) needsConfirmation(in Input, cmd command.Command) bool {
	switch r.confirmation {
	case ConfirmAlways:
		return true
	case ConfirmNever:
		return false
	case ConfirmDestructive:
		return command.Destructive(in.Action)
	case ConfirmSmart:
		if cmd.Context["uncertain"] == "true" {
			return true
		}

		return command.Destructive(in.Action) && (in.Context["scope"] == "broad" || cmd.Confidence < smartConfirmBelow)
	}

	return false
}

func (r *routerImpl) disambiguate(in Input, entities []string, confidence float64, resolutions []command.AmbiguityResolution) *command.ClarificationRequest {
	var candidates []string
	for _, c := range append(copyOf(entities[:min(1, len(entities))]), in.Candidates...) {
		if n := knowledge_store.NormalizePhrase(c); n != "" && !containsString(candidates, n) {
			candidates = append(candidates, n)
		}
	}

	var question string

	switch {
	case len(candidates) >= 2:
		question = "Which did you mean: " + joinOr(candidates) + "?"
	case len(candidates) == 1 && in.Action == "":
		question = "What should I do with the " + candidates[0] + "?"
	case len(candidates) == 1:
		question = "I'm not sure what you meant by " + candidates[0] + ". Which part of the code is that?"
	default:
		question = "Sorry, what would you like me to do?"
	}

	return &command.ClarificationRequest{
		Kind:        command.Disambiguate,
		Question:    question,
		Candidates:  candidates,
		Transcript:  in.Transcript,
		Action:      in.Action,
		Entities:    in.Entities,
		Confidence:  confidence,
		Resolutions: resolutions,
	}
}

func (r *routerImpl) Answer(ctx context.Context, req *command.ClarificationRequest, reply string) (Decision, bool) {
	if req == nil {
		return Decision{}, false
	}

	normalized := knowledge_store.NormalizePhrase(reply)

	switch req.Kind {
	case command.Confirm:
		switch {
		case isYes(normalized) && req.Pending != nil:
			d := Decision{Kind: Dispatch, Command: req.Pending, Resolutions: req.Resolutions}
			for _, res := range req.Resolutions {
				d.Learn = append(d.Learn, PatternUpdate{Op: Reinforce, PatternID: res.PatternID, From: res.FromPhrase, To: res.ToEntity})
			}

			return d, true
		case isNo(normalized):
			d := Decision{Kind: Local, Local: &LocalAction{Kind: Cancel}}
			for _, res := range req.Resolutions {
				d.Learn = append(d.Learn, PatternUpdate{Op: Demote, PatternID: res.PatternID, From: res.FromPhrase, To: res.ToEntity})
			}

			return d, true
		}
	case command.Disambiguate:
		if isNo(normalized) {
			return Decision{Kind: Local, Local: &LocalAction{Kind: Cancel}}, true
		}

		heard := knowledge_store.NormalizePhrase(firstOf(req.Entities))

		chosen := pickCandidate(normalized, req.Candidates)
		learn := false

		if chosen == "" && len(req.Candidates) <= 1 && heard != "" && req.Action != "" {
			// A single unknown phrase: the reply names what it meant.
			chosen = stripMeant(normalized)
			learn = chosen != "" && chosen != heard
		}

		if chosen == "" {
			return Decision{}, false
		}

		entities := []string{chosen}
		for _, e := range req.Entities[min(1, len(req.Entities)):] {
			if e != chosen {
				entities = append(entities, e)
			}
		}

		d := r.Route(ctx, Input{
			Entities:   entities,
			Action:     req.Action,
			Confidence: clarifiedConfidence,
			Transcript: req.Transcript,
		})

		if learn && d.Kind != Local {
			d.Learn = append(d.Learn, PatternUpdate{Op: Learn, From: heard, To: chosen, Context: req.Action, Confidence: clarifiedConfidence})
		}

		return d, true
	}

	return Decision{}, false
}

func (r *routerImpl) Commit(ctx context.Context, d Decision) error {
	if r.store == nil || len(d.Learn) == 0 {
		return nil
	}

	var errs []error

	for _, u := range d.Learn {
		var err error

		switch u.Op {
		case Reinforce:
			_, err = r.store.Reinforce(ctx, u.PatternID)
		case Learn:
			_, err = r.store.Learn(ctx, u.From, u.To, u.Context, u.Confidence)
		case Demote:
			_, err = r.store.Demote(ctx, u.PatternID, demoteFactor)
		default:
			err = fmt.Errorf("unknown pattern update %d", u.Op)
		}

		if err != nil {
			errs = append(errs, err)
			continue
		}

		r.logger.Debug("pattern updated", zap.Int("op", int(u.Op)), zap.String("from", u.From), zap.String("to", u.To))
	}

	return errors.Join(errs...)
}

func pickCandidate(reply string, candidates []string) string {
	if reply == "" {
		return ""
	}

	// Ordinals: "the first one", "second".
	for i, words := range [][]string{{"first", "one"}, {"second", "two"}, {"third", "three"}} {
		if i >= len(candidates) {
			break
		}
		for _, w := range words {
			if reply == w || strings.HasPrefix(reply, w+" ") {
				return candidates[i]
			}
		}
	}

	best := ""
	for _, c := range candidates {
		if reply == c || strings.Contains(reply, c) || strings.Contains(c, reply) {
			if len(c) > len(best) {
				best = c
			}
		}
	}

	return best
}

var (
	yesWords = []string{"yes", "yeah", "yep", "yup", "sure", "correct", "confirm", "do it", "go ahead", "affirmative", "ok", "okay", "right"}
	noWords  = []string{"no", "nope", "nah", "cancel", "stop", "don t", "never mind", "nevermind", "abort", "wrong"}
)

func isYes(s string) bool {
	return matchesAny(s, yesWords)
}

func isNo(s string) bool {
	return matchesAny(s, noWords)
}

func matchesAny(s string, words []string) bool {
	for _, w := range words {
		if s == w || strings.HasPrefix(s, w+" ") {
			return true
		}
	}

	return false
}

var meantPrefixes = []string{"i meant ", "i mean ", "meant ", "it s ", "it is ", "that s ", "that is "}

func stripMeant(s string) string {
	for _, p := range meantPrefixes {
		if strings.HasPrefix(s, p) {
			return knowledge_store.NormalizePhrase(strings.TrimPrefix(s, p))
		}
	}

	return s
}

func copyOf(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)

	return out
}

func firstOf(s []string) string {
	if len(s) == 0 {
		return ""
	}

	return s[0]
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
