package command

// Actions are the canonical verbs the classifier emits. Each maps to exactly
// one intent.
const (
	ActionTest       = "test"
	ActionDebug      = "debug"
	ActionFix        = "fix"
	ActionSearch     = "search"
	ActionFind       = "find"
	ActionExplain    = "explain"
	ActionReview     = "review"
	ActionResearch   = "research"
	ActionCreate     = "create"
	ActionImplement  = "implement"
	ActionRefactor   = "refactor"
	ActionEdit       = "edit"
	ActionWrite      = "write"
	ActionDeploy     = "deploy"
	ActionBuild      = "build"
	ActionStart      = "start"
	ActionCoordinate = "coordinate"
	ActionPlan       = "plan"
)

var actionIntents = map[string]Intent{
	ActionTest:  Test,
	ActionDebug: Test,
	ActionFix:   Test,

	ActionSearch:   Research,
	ActionFind:     Research,
	ActionExplain:  Research,
	ActionReview:   Research,
	ActionResearch: Research,

	ActionCreate:    Code,
	ActionImplement: Code,
	ActionRefactor:  Code,
	ActionEdit:      Code,
	ActionWrite:     Code,

	ActionDeploy:     Orchestrate,
	ActionBuild:      Orchestrate,
	ActionStart:      Orchestrate,
	ActionCoordinate: Orchestrate,
	ActionPlan:       Orchestrate,
}

// IntentForAction maps an action through the fixed table. Unmapped actions
// fall back to Research with ok=false, so callers can lower confidence.
func IntentForAction(action string) (intent Intent, ok bool) {
	if i, found := actionIntents[action]; found {
		return i, true
	}

	return Research, false
}

// Destructive reports whether an action rewrites or ships something, for the
// destructive-only confirmation mode.
func Destructive(action string) bool {
	switch action {
	case ActionRefactor, ActionEdit, ActionWrite, ActionFix, ActionDeploy:
		return true
	}

	return false
}
