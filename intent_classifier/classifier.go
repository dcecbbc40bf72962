package intent_classifier

import (
	"context"
	"fmt"
	"strings"

	"voice-command-router/knowledge_store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Policy string

const (
	// PolicyMajority needs a strict majority; confidence is the mean score
	// of the majority.
	PolicyMajority Policy = "majority"
	// PolicyAverage averages every score and scales by agreement.
	PolicyAverage Policy = "average"
	// PolicyHybrid needs a majority and scales the majority mean by agreement.
	PolicyHybrid Policy = "hybrid"
)

const defaultDisagreementCap = 0.5

type classifierImpl struct {
	passes          []Pass
	size            int
	policy          Policy
	disagreementCap float64
	logger          *zap.Logger
}

type Config struct {
	Passes          []Pass
	// EnsembleSize is capped at len(Passes); each pass votes at most once.
	EnsembleSize    int
	Policy          Policy
	DisagreementCap float64
	Logger          *zap.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if len(cfg.Passes) == 0 {
		return nil, fmt.Errorf("no passes configured")
	}

	c := &classifierImpl{
		passes:          cfg.Passes,
		size:            cfg.EnsembleSize,
		policy:          cfg.Policy,
		disagreementCap: cfg.DisagreementCap,
		logger:          cfg.Logger,
	}


	switch c.policy {
	case "":
		c.policy = PolicyMajority
	case PolicyMajority, PolicyAverage, PolicyHybrid:
	default:
		return nil, fmt.Errorf("unknown ensemble policy %q", c.policy)
	}

	if c.disagreementCap <= 0 {
		c.disagreementCap = defaultDisagreementCap
	}

	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("classifier")

	switch {
	case c.size < 1:
		c.size = len(c.passes)
	case c.size > len(c.passes):
		// A deterministic pass run twice only repeats its vote.
		c.logger.Warn("ensemble larger than the pass set, capping",
			zap.Int("requested", c.size),
			zap.Int("passes", len(c.passes)))
		c.size = len(c.passes)
	}

	return c, nil
}

func (c *classifierImpl) Classify(ctx context.Context, text string, sessionContext map[string]string) (Classification, error) {
	tokens := tokenize(text)
	u := Utterance{
		Text:    strings.Join(tokens, " "),
		Tokens:  tokens,
		Context: sessionContext,
	}

	votes := make([]Vote, c.size)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.size; i++ {
		i, pass := i, c.passes[i]

		g.Go(func() error {
			v, err := pass.Vote(gctx, u)
			if err != nil {
				c.logger.Warn("pass failed, abstaining", zap.String("pass", pass.Name()), zap.Error(err))
				v = Vote{Pass: pass.Name(), Abstain: true}
			}

			if !v.Abstain {
				v.Entities = normalizeAll(v.Entities)
			}

			votes[i] = v

			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Classification{}, err
	}

	result := c.combine(votes)
	result.Context = detectContext(tokens)
	result.Cleaned = u.Text

	c.logger.Debug("classified",
		zap.String("text", u.Text),
		zap.String("action", result.Action),
		zap.Strings("entities", result.Entities),
		zap.Float64("confidence", result.Confidence),
		zap.Float64("agreement", result.Agreement),
		zap.Bool("majority", result.Majority))

	return result, nil
}

type group struct {
	key   string
	first Vote
	count int
	sum   float64
}

func (c *classifierImpl) combine(votes []Vote) Classification {
	var (
		groups   []*group
		byKey    = map[string]*group{}
		allSum   float64
		maxScore float64
	)

	for _, v := range votes {
		if v.Abstain {
			continue
		}

		allSum += v.Score
		if v.Score > maxScore {
			maxScore = v.Score
		}

		g, ok := byKey[v.Key()]
		if !ok {
			g = &group{key: v.Key(), first: v}
			byKey[g.key] = g
			groups = append(groups, g)
		}

		g.count++
		g.sum += v.Score
	}

	result := Classification{Votes: votes}

	if len(groups) == 0 {
		return result
	}

	top := groups[0]
	for _, g := range groups[1:] {
		if g.count > top.count || (g.count == top.count && g.sum/float64(g.count) > top.sum/float64(top.count)) {
			top = g
		}
	}

	n := float64(len(votes))
	result.Entities = top.first.Entities
	result.Action = top.first.Action
	result.Agreement = float64(top.count) / n
	result.Majority = top.count*2 > len(votes)

	topMean := top.sum / float64(top.count)

	var confidence float64

	switch c.policy {
	case PolicyMajority:
		confidence = topMean
	case PolicyAverage:
		confidence = allSum / n * result.Agreement
	case PolicyHybrid:
		confidence = topMean * result.Agreement
	}

	if !result.Majority {
		confidence = min(confidence, maxScore, c.disagreementCap)
	}

	result.Confidence = clamp(confidence)

	return result
}

// Candidates lists the distinct primary entities the passes proposed, for a
// disambiguating question.
func (c Classification) Candidates() []string {
	var out []string
	for _, v := range c.Votes {
		if v.Abstain {
			continue
		}

		if p := primary(v.Entities); p != "" && !contains(out, p) {
			out = append(out, p)
		}
	}

	return out
}

func normalizeAll(entities []string) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		if n := knowledge_store.NormalizePhrase(e); n != "" && !contains(out, n) {
			out = append(out, n)
		}
	}

	return out
}

func clamp(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}

	return v
}

// DefaultPasses returns the built-in pass order: lexicon, grammar,
// knowledge, then the optional model pass.
func DefaultPasses(store PhraseLookup, llm Pass, logger *zap.Logger) []Pass {
	passes := []Pass{NewLexiconPass(), NewGrammarPass(), NewKnowledgePass(store, logger)}
	if llm != nil {
		passes = append(passes, llm)
	}

	return passes
}
