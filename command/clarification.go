package command

// ClarificationKind distinguishes a disambiguating question from a yes/no
// confirmation of an otherwise resolved command.
type ClarificationKind int

const (
	Disambiguate ClarificationKind = iota + 1
	Confirm
)

func (k ClarificationKind) String() string {
	switch k {
	case Disambiguate:
		return "disambiguate"
	case Confirm:
		return "confirm"
	}

	return "unknown"
}

// ClarificationRequest replaces a Command whenever the router cannot commit
// to a directive. Question is what gets spoken.
type ClarificationRequest struct {
	Kind       ClarificationKind
	Question   string
	Candidates []string

	// Pending is set for Confirm: the command to dispatch on "yes".
	Pending *Command

	// What was heard, kept so the answer can be merged into a new attempt.
	Transcript string
	Action     string
	Entities   []string
	Confidence float64

	// Resolutions made while routing, so a "no" can demote them.
	Resolutions []AmbiguityResolution
}

// AmbiguityResolution records one knowledge substitution made while routing.
type AmbiguityResolution struct {
	FromPhrase string  `json:"from_phrase"`
	ToEntity   string  `json:"to_entity"`
	Context    string  `json:"context"`
	Confidence float64 `json:"confidence"`
	Exact      bool    `json:"exact"`
	PatternID  int64   `json:"-"`
}
