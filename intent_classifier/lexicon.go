package intent_classifier

import (
	"regexp"
	"strings"

	"voice-command-router/command"
	"voice-command-router/knowledge_store"
)

type keyword struct {
	action string
	strong bool
}

var vocabulary = map[string]keyword{
	"test":    {command.ActionTest, true},
	"tests":   {command.ActionTest, true},
	"testing": {command.ActionTest, true},
	"specs":   {command.ActionTest, true},
	"debug":   {command.ActionDebug, true},
	"fix":     {command.ActionFix, true},
	"bug":     {command.ActionFix, true},
	"failing": {command.ActionDebug, true},
	"broken":  {command.ActionDebug, true},

	"search":   {command.ActionSearch, true},
	"grep":     {command.ActionSearch, true},
	"locate":   {command.ActionSearch, true},
	"find":     {command.ActionFind, true},
	"explain":  {command.ActionExplain, true},
	"describe": {command.ActionExplain, true},
	"why":      {command.ActionExplain, true},
	"review":   {command.ActionReview, true},
	"audit":    {command.ActionReview, true},
	"research": {command.ActionResearch, true},
	"read":     {command.ActionResearch, true},
	"docs":     {command.ActionResearch, true},

	"create":      {command.ActionCreate, true},
	"generate":    {command.ActionCreate, true},
	"scaffold":    {command.ActionCreate, true},
	"implement":   {command.ActionImplement, true},
	"refactor":    {command.ActionRefactor, true},
	"rename":      {command.ActionRefactor, true},
	"restructure": {command.ActionRefactor, true},
	"clean":       {command.ActionRefactor, true},
	"edit":        {command.ActionEdit, true},
	"change":      {command.ActionEdit, true},
	"update":      {command.ActionEdit, true},
	"modify":      {command.ActionEdit, true},
	"write":       {command.ActionWrite, true},

	"deploy":      {command.ActionDeploy, true},
	"release":     {command.ActionDeploy, true},
	"ship":        {command.ActionDeploy, true},
	"build":       {command.ActionBuild, true},
	"compile":     {command.ActionBuild, true},
	"launch":      {command.ActionStart, true},
	"spawn":       {command.ActionStart, true},
	"coordinate":  {command.ActionCoordinate, true},
	"orchestrate": {command.ActionCoordinate, true},
	"delegate":    {command.ActionCoordinate, true},
	"plan":        {command.ActionPlan, true},
	"schedule":    {command.ActionPlan, true},

	// Generic verbs only decide when nothing more specific was said.
	"run":   {command.ActionStart, false},
	"start": {command.ActionStart, false},
	"add":   {command.ActionCreate, false},
	"make":  {command.ActionCreate, false},
	"new":   {command.ActionCreate, false},
	"check": {command.ActionReview, false},
	"look":  {command.ActionFind, false},
	"show":  {command.ActionFind, false},
	"where": {command.ActionFind, false},
}

var fillerPhrases = [][]string{
	{"you", "know"},
	{"can", "you"},
	{"could", "you"},
	{"would", "you"},
	{"i", "want", "you", "to"},
	{"i", "want", "to"},
	{"i", "want"},
	{"i", "need", "you", "to"},
	{"i", "need", "to"},
	{"i", "need"},
	{"go", "ahead", "and"},
	{"let", "s"},
	{"um"}, {"uh"}, {"uhh"}, {"erm"}, {"hmm"}, {"like"}, {"actually"},
	{"basically"}, {"just"}, {"please"}, {"okay"}, {"ok"}, {"hey"}, {"so"}, {"well"},
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "on": true, "for": true, "in": true, "of": true,
	"to": true, "with": true, "at": true, "by": true, "from": true, "into": true, "about": true,
	"my": true, "our": true, "your": true, "this": true, "that": true, "these": true, "those": true,
	"it": true, "its": true, "is": true, "are": true, "was": true, "be": true, "and": true, "or": true,
	"me": true, "i": true, "we": true, "us": true, "some": true, "up": true, "out": true, "all": true,
	"every": true, "entire": true, "whole": true, "everything": true, "single": true, "one": true, "only": true,
	"now": true, "quick": true, "quickly": true, "fast": true, "urgent": true, "asap": true, "immediately": true,
	"again": true, "there": true, "here": true, "what": true, "how": true, "which": true, "do": true,
	"does": true, "did": true, "suite": true, "code": true,
	"across": true, "against": true,
}

// Prepositions that introduce the target of an imperative.
var targetPrepositions = map[string]bool{
	"on": true, "for": true, "in": true, "of": true, "about": true, "against": true,
	"to": true, "from": true, "with": true, "across": true,
}

var structureWords = map[string]bool{
	"class": true, "function": true, "method": true, "module": true, "struct": true,
	"package": true, "service": true, "component": true, "endpoint": true, "handler": true,
}

var fileName = regexp.MustCompile(`^[\w/-]+\.[a-z0-9]{1,5}$`)

// tokenize normalizes text and strips filler, keeping word order.
func tokenize(text string) []string {
	words := strings.Fields(knowledge_store.NormalizePhrase(text))

	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		if n := fillerAt(words, i); n > 0 {
			i += n
			continue
		}

		out = append(out, words[i])
		i++
	}

	return out
}

func fillerAt(words []string, i int) int {
	for _, phrase := range fillerPhrases {
		if i+len(phrase) > len(words) {
			continue
		}

		match := true
		for j, w := range phrase {
			if words[i+j] != w {
				match = false
				break
			}
		}

		if match {
			return len(phrase)
		}
	}

	return 0
}

// detectAction prefers the first specific keyword; a generic verb decides
// only when no specific keyword was said.
func detectAction(tokens []string) (action string, strong bool) {
	var weak string

	for _, t := range tokens {
		k, ok := vocabulary[t]
		if !ok {
			continue
		}

		if k.strong {
			return k.action, true
		}

		if weak == "" {
			weak = k.action
		}
	}

	return weak, false
}

// contentRuns groups adjacent words that are neither keywords nor stop words
// into candidate entity phrases.
func contentRuns(tokens []string) []string {
	var (
		runs []string
		cur  []string
	)

	flush := func() {
		if len(cur) > 0 {
			runs = append(runs, strings.Join(cur, " "))
			cur = nil
		}
	}

	for _, t := range tokens {
		_, isKeyword := vocabulary[t]
		if isKeyword || stopWords[t] {
			flush()
			continue
		}

		cur = append(cur, t)
	}
	flush()

	return runs
}

// extractEntities finds file names, "class for X" style names, then other
// content phrases, in that priority.
func extractEntities(tokens []string) []string {
	var out []string
	seen := map[string]bool{}

	add := func(e string) {
		if e != "" && !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}

	for _, t := range tokens {
		if fileName.MatchString(t) {
			add(t)
		}
	}

	for i, t := range tokens {
		if !structureWords[t] || i+1 >= len(tokens) {
			continue
		}

		next := i + 1
		if tokens[next] == "for" || tokens[next] == "called" || tokens[next] == "named" {
			next++
		}

		if runs := contentRuns(tokens[next:]); len(runs) > 0 && strings.HasPrefix(strings.Join(tokens[next:], " "), runs[0]) {
			add(runs[0])
		}
	}

	for _, r := range contentRuns(tokens) {
		add(r)
	}

	return out
}

// detectContext reports urgency and scope hints from the wording.
func detectContext(tokens []string) map[string]string {
	ctx := map[string]string{}

	for _, t := range tokens {
		switch t {
		case "urgent", "asap", "quick", "quickly", "fast", "now", "immediately":
			ctx["urgency"] = "high"
		}
	}

	for _, t := range tokens {
		switch t {
		case "all", "every", "entire", "whole", "everything":
			ctx["scope"] = "broad"
		}
	}

	if _, ok := ctx["scope"]; !ok {
		for _, t := range tokens {
			switch t {
			case "this", "that", "single", "one", "only":
				ctx["scope"] = "narrow"
			}
		}
	}

	return ctx
}

// score grades a reading by how much of it was actually heard.
func score(action string, strong bool, entities []string) float64 {
	switch {
	case action != "" && strong && len(entities) > 0:
		return 0.95
	case action != "" && len(entities) > 0:
		return 0.85
	case action != "":
		return 0.7
	case len(entities) > 0:
		return 0.5
	}

	return 0.2
}

func voteFor(pass, action string, strong bool, entities []string) Vote {
	intent, mapped := command.IntentForAction(action)

	s := score(action, strong, entities)
	if !mapped && action != "" {
		s *= 0.8
	}

	return Vote{
		Pass:     pass,
		Action:   action,
		Intent:   intent,
		Entities: entities,
		Score:    s,
	}
}
