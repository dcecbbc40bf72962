package command_router

import (
	"regexp"
	"strings"
)

type localRule struct {
	kind LocalKind
	re   *regexp.Regexp
}

// Order matters: the first matching rule wins.
var localRules = []localRule{
	{CompleteGoal, regexp.MustCompile(`^(?:the )?(?:current |active )?goal (?:is )?(?:done|complete|completed|finished)$|^(?:complete|finish|close) (?:the )?(?:current |active )?goal$`)},
	{PauseGoal, regexp.MustCompile(`^(?:pause|park|suspend) (?:the )?(?:current |active )?goal$`)},
	{SetGoal, regexp.MustCompile(`^(?:set (?:the |a )?(?:new )?goal(?: to)?|(?:new|my|our) goal is|the goal is|goal(?: is)?:?)\s+(.+)$`)},
	{RecordMilestone, regexp.MustCompile(`^(?:milestone|record (?:a )?milestone|mark milestone)(?: reached)?:?\s+(.+)$`)},
	{RecordDecision, regexp.MustCompile(`^(?:we decided(?: to)?|decision|record (?:a )?decision|note (?:the )?decision|i decided(?: to)?):?\s+(.+)$`)},
	{Cancel, regexp.MustCompile(`^(?:cancel|stop|never ?mind|forget it|abort)(?: that| it| this)?(?: please)?$`)},
}

var becauseRe = regexp.MustCompile(`^(.+?)\s+because\s+(.+)$`)

// detectLocal recognizes requests the session handles itself. It works on
// the raw transcript, lowercased, with trailing punctuation removed.
func detectLocal(transcript string) *LocalAction {
	text := strings.ToLower(strings.TrimSpace(transcript))
	text = strings.TrimRight(text, ".!?, ")
	text = strings.Join(strings.Fields(text), " ")

	if text == "" {
		return nil
	}

	for _, rule := range localRules {
		m := rule.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		a := &LocalAction{Kind: rule.kind}
		if len(m) > 1 {
			a.Text = strings.TrimSpace(m[1])
		}

		if rule.kind == RecordDecision {
			if b := becauseRe.FindStringSubmatch(a.Text); b != nil {
				a.Text, a.Rationale = strings.TrimSpace(b[1]), strings.TrimSpace(b[2])
			}
		}

		return a
	}

	return nil
}
