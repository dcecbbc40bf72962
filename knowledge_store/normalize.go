package knowledge_store

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var fold = cases.Fold()

// NormalizePhrase folds case and width, drops punctuation and leading
// articles, and collapses whitespace so "The Auth thing!" and "auth thing"
// compare equal.
func NormalizePhrase(s string) string {
	s = fold.String(norm.NFKC.String(s))

	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '.' || r == '_' || r == '-' || r == '/':
			return r
		}

		return ' '
	}, s)

	words := strings.Fields(s)
	for len(words) > 1 && isArticle(words[0]) {
		words = words[1:]
	}

	return strings.Trim(strings.Join(words, " "), ".-_/")
}

func isArticle(w string) bool {
	switch w {
	case "the", "a", "an", "that", "this", "my", "our":
		return true
	}

	return false
}
