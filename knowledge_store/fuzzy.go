package knowledge_store

import (
	"unicode/utf8"

	"github.com/sahilm/fuzzy"
)

// Fuzzy hits must cover most of the longer string, otherwise a short word
// like "db" would match every phrase containing a d and a b.
const minCoverage = 0.6

type patternSource []Pattern

func (p patternSource) String(i int) string {
	return p[i].FromPhrase
}

func (p patternSource) Len() int {
	return len(p)
}

// fuzzyMatch picks the best known phrase for key in either direction: the
// spoken phrase abbreviating a known one, or a known one contained in what
// was said.
func fuzzyMatch(key string, known []Pattern) *Match {
	if len(known) == 0 {
		return nil
	}

	var best *Match

	consider := func(p Pattern, score int) {
		if !covers(key, p.FromPhrase) {
			return
		}

		if best == nil || score > best.Score ||
			(score == best.Score && p.Confidence > best.Pattern.Confidence) {
			best = &Match{Pattern: p, Score: score}
		}
	}

	for _, m := range fuzzy.FindFrom(key, patternSource(known)) {
		consider(known[m.Index], m.Score)
	}

	for _, p := range known {
		for _, m := range fuzzy.Find(p.FromPhrase, []string{key}) {
			consider(p, m.Score)
		}
	}

	return best
}

func covers(a, b string) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return false
	}

	short, long := la, lb
	if short > long {
		short, long = long, short
	}

	return float64(short)/float64(long) >= minCoverage
}
