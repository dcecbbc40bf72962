package command_router

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"voice-command-router/command"
)

// directiveTemplates turn an action and a rendered target into the sentence
// the assistant receives. %s is the target.
var directiveTemplates = map[string]string{
	command.ActionTest:       "Run the test suite for %s",
	command.ActionDebug:      "Debug the failing tests in %s",
	command.ActionFix:        "Find and fix the bug in %s",
	command.ActionSearch:     "Search the codebase for %s",
	command.ActionFind:       "Search the codebase for %s",
	command.ActionExplain:    "Explain how %s works",
	command.ActionReview:     "Review %s and report problems",
	command.ActionResearch:   "Research %s and summarize the findings",
	command.ActionCreate:     "Create %s",
	command.ActionImplement:  "Implement %s",
	command.ActionRefactor:   "Refactor %s",
	command.ActionEdit:       "Update %s",
	command.ActionWrite:      "Write %s",
	command.ActionDeploy:     "Deploy %s",
	command.ActionBuild:      "Build %s",
	command.ActionStart:      "Start %s",
	command.ActionCoordinate: "Coordinate the work on %s",
	command.ActionPlan:       "Plan the work for %s",
}

// Used when there is no target at all.
var bareTemplates = map[string]string{
	command.ActionTest:       "Run the test suite",
	command.ActionDebug:      "Debug the failing tests",
	command.ActionFix:        "Find and fix the failing tests",
	command.ActionReview:     "Review the recent changes and report problems",
	command.ActionBuild:      "Build the project",
	command.ActionDeploy:     "Deploy the project",
	command.ActionStart:      "Start the project",
	command.ActionPlan:       "Plan the next steps",
	command.ActionCoordinate: "Coordinate the pending work",
}

// directive renders the imperative sentence for action. The output is
// deterministic in its inputs and built only from templates, action and
// entities. With neither an action nor a target it returns "", which fails
// validation and becomes a clarification.
func directive(action string, entities []string, ctx map[string]string) string {
	target := renderTarget(entities)

	var out string

	switch tmpl, ok := directiveTemplates[action]; {
	case ok && target != "":
		out = strings.Replace(tmpl, "%s", target, 1)
	case ok:
		if bare, found := bareTemplates[action]; found {
			out = bare
		} else {
			out = strings.TrimSuffix(strings.Replace(tmpl, "%s", "", 1), " ")
			out = strings.Join(strings.Fields(out), " ")
		}
	case target != "":
		out = "Research " + target + " and summarize the findings"
	default:
		return ""
	}

	if ctx["scope"] == "broad" && target != "" {
		out += " across the entire project"
	}

	return upperFirst(strings.TrimRight(out, ". "))
}

func renderTarget(entities []string) string {
	parts := make([]string, 0, len(entities))

	for _, e := range entities {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}

		if isFileName(e) {
			parts = append(parts, e)
			continue
		}

		parts = append(parts, "the "+e)
	}

	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}

	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

func isFileName(s string) bool {
	if strings.ContainsAny(s, " ") {
		return false
	}

	return strings.Contains(s, "/") || filepath.Ext(s) != ""
}

func joinOr(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}

	return strings.Join(items[:len(items)-1], ", ") + ", or " + items[len(items)-1]
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}

	return string(unicode.ToUpper(r)) + s[size:]
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}

	return string(unicode.ToLower(r)) + s[size:]
}
