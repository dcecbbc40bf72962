package command

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Intent is the closed set of categories every spoken request is forced into.
// The zero value is not a valid intent.
type Intent int

const (
	Orchestrate Intent = iota + 1
	Research
	Code
	Test
)

// Intents lists every legal intent in declaration order.
func Intents() []Intent {
	return []Intent{Orchestrate, Research, Code, Test}
}

func (i Intent) String() string {
	switch i {
	case Orchestrate:
		return "ORCHESTRATE"
	case Research:
		return "RESEARCH"
	case Code:
		return "CODE"
	case Test:
		return "TEST"
	}

	return fmt.Sprintf("Intent(%d)", int(i))
}

// Description is a short human explanation, spoken back in debug traces.
func (i Intent) Description() string {
	switch i {
	case Orchestrate:
		return "manage workflows, coordinate agents, spawn tasks"
	case Research:
		return "search code, gather context, read documentation"
	case Code:
		return "generate, edit, refactor code"
	case Test:
		return "run tests, debug failures, fix issues"
	}

	return ""
}

// Valid reports whether i is one of the four intents.
func (i Intent) Valid() bool {
	switch i {
	case Orchestrate, Research, Code, Test:
		return true
	}

	return false
}

// ParseIntent is the only way to turn a string into an Intent.
func ParseIntent(s string) (Intent, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ORCHESTRATE":
		return Orchestrate, nil
	case "RESEARCH":
		return Research, nil
	case "CODE":
		return Code, nil
	case "TEST":
		return Test, nil
	}

	return 0, fmt.Errorf("unknown intent %q", s)
}

func (i Intent) MarshalJSON() ([]byte, error) {
	if !i.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid intent %d", int(i))
	}

	return json.Marshal(i.String())
}

func (i *Intent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseIntent(s)
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}
