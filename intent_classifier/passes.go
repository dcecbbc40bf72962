package intent_classifier

import (
	"context"
	"regexp"
	"strings"

	"voice-command-router/knowledge_store"

	"go.uber.org/zap"
)

type lexiconPass struct{}

// NewLexiconPass reads the transcript as a bag of keywords and content words.
func NewLexiconPass() Pass {
	return lexiconPass{}
}

func (lexiconPass) Name() string {
	return "lexicon"
}

func (lexiconPass) Vote(_ context.Context, u Utterance) (Vote, error) {
	action, strong := detectAction(u.Tokens)

	return voteFor("lexicon", action, strong, extractEntities(u.Tokens)), nil
}

// imperative splits "<verb> <object> [<preposition> <target>]".
var imperative = regexp.MustCompile(`^(\S+)(?:\s+(.+?))?(?:\s+(?:on|for|in|of|about|against|to|from|with|across)\s+(.+))?$`)

type grammarPass struct{}

// NewGrammarPass reads the transcript as an imperative sentence and prefers
// the prepositional target as the entity.
func NewGrammarPass() Pass {
	return grammarPass{}
}

func (grammarPass) Name() string {
	return "grammar"
}

func (grammarPass) Vote(_ context.Context, u Utterance) (Vote, error) {
	m := imperative.FindStringSubmatch(u.Text)
	if m == nil {
		return Vote{Pass: "grammar", Abstain: true}, nil
	}

	verb, object, target := m[1], m[2], m[3]

	head := append([]string{verb}, strings.Fields(object)...)
	action, strong := detectAction(head)
	if action == "" {
		action, strong = detectAction(u.Tokens)
	}

	var entities []string
	if target != "" {
		entities = extractEntities(strings.Fields(target))
	}

	for _, e := range extractEntities(head) {
		if !contains(entities, e) {
			entities = append(entities, e)
		}
	}

	return voteFor("grammar", action, strong, entities), nil
}

// PhraseLookup is the slice of the knowledge store the knowledge pass reads.
type PhraseLookup interface {
	Lookup(ctx context.Context, phrase string) (*knowledge_store.Match, error)
}

type knowledgePass struct {
	store  PhraseLookup
	logger *zap.Logger
}

const maxPhraseWords = 4

// NewKnowledgePass prefers phrases the user has taught before. It abstains
// when nothing in the transcript is known.
func NewKnowledgePass(store PhraseLookup, logger *zap.Logger) Pass {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &knowledgePass{store: store, logger: logger}
}

func (p *knowledgePass) Name() string {
	return "knowledge"
}

func (p *knowledgePass) Vote(ctx context.Context, u Utterance) (Vote, error) {
	abstain := Vote{Pass: "knowledge", Abstain: true}

	if p.store == nil {
		return abstain, nil
	}

	known := p.knownPhrase(ctx, u.Tokens)
	if known == "" {
		return abstain, nil
	}

	entities := []string{known}
	for _, e := range extractEntities(u.Tokens) {
		if e != known && !strings.Contains(known, e) {
			entities = append(entities, e)
		}
	}

	action, strong := detectAction(u.Tokens)

	return voteFor("knowledge", action, strong, entities), nil
}

// knownPhrase returns the longest n-gram of content words with an exact
// pattern in the store.
func (p *knowledgePass) knownPhrase(ctx context.Context, tokens []string) string {
	for _, run := range contentRuns(tokens) {
		words := strings.Fields(run)

		for n := min(maxPhraseWords, len(words)); n > 0; n-- {
			for i := 0; i+n <= len(words); i++ {
				phrase := strings.Join(words[i:i+n], " ")

				m, err := p.store.Lookup(ctx, phrase)
				if err != nil {
					p.logger.Warn("knowledge lookup failed, abstaining", zap.Error(err))
					return ""
				}

				if m != nil && m.Exact {
					return phrase
				}
			}
		}
	}

	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
