package synthesizer

import (
	"regexp"
	"strings"
	"unicode"
)

const maxSentence = 500

var (
	linkRe     = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	emphasisRe = regexp.MustCompile("[*`]+|~~")
	headingRe  = regexp.MustCompile(`(?m)^\s*#{1,6}\s*`)
	bulletRe   = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

// clean turns markdown-ish assistant output into something worth reading
// aloud. It returns "" for text that should not be spoken.
func clean(s string) string {
	if strings.Contains(s, "```") || strings.Contains(strings.ToLower(s), "<thinking>") {
		return ""
	}

	s = linkRe.ReplaceAllString(s, "$1")
	s = headingRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = emphasisRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))

	if len(s) > maxSentence {
		return ""
	}

	if !strings.ContainsFunc(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
		return ""
	}

	return s
}

// splitter accumulates streamed chunks and hands out complete sentences.
// Code fences are swallowed whole.
type splitter struct {
	buf    strings.Builder
	inCode bool
}

func (s *splitter) push(chunk string) []string {
	s.buf.WriteString(chunk)

	return s.extract(false)
}

// flush returns whatever is left, complete or not.
func (s *splitter) flush() []string {
	return s.extract(true)
}

func (s *splitter) extract(final bool) []string {
	text := s.buf.String()
	s.buf.Reset()

	var out []string

	for text != "" {
		if s.inCode {
			end := strings.Index(text, "```")
			if end < 0 {
				if !final {
					// Keep a possible partial fence.
					s.buf.WriteString(tail(text, 2))
				}
				return out
			}

			text = text[end+3:]
			s.inCode = false

			continue
		}

		fence := strings.Index(text, "```")
		cut := sentenceEnd(text)

		if fence >= 0 && (cut < 0 || fence < cut) {
			if c := clean(text[:fence]); c != "" {
				out = append(out, c)
			}

			text = text[fence+3:]
			s.inCode = true

			continue
		}

		if cut < 0 {
			if final {
				if c := clean(text); c != "" {
					out = append(out, c)
				}
			} else {
				s.buf.WriteString(text)
			}

			return out
		}

		if c := clean(text[:cut]); c != "" {
			out = append(out, c)
		}

		text = text[cut:]
	}

	return out
}

// sentenceEnd returns the index just past the first sentence terminator that
// is followed by whitespace, or -1. A terminator at the very end of the
// buffer is not trusted yet since more text may follow ("3.5", "e.g.").
func sentenceEnd(text string) int {
	for i, r := range text {
		switch r {
		case '\n':
			return i + 1
		case '.', '!', '?', ':', ';':
			next := i + 1
			if next < len(text) && (text[next] == ' ' || text[next] == '\n' || text[next] == '\t') {
				return next + 1
			}
		}
	}

	return -1
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[len(s)-n:]
}
