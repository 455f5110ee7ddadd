package models

// Stage is a product's pricing lifecycle phase.
type Stage string

const (
	StageNewboom   Stage = "newboom"
	StageBlossom   Stage = "blossom"
	StageEvergreen Stage = "evergreen"
	StageExit      Stage = "exit"
)

// Stages lists every stage in lifecycle order. Round r is sold in Stages[r-1].
var Stages = []Stage{StageNewboom, StageBlossom, StageEvergreen, StageExit}

// ExitRound is the round number sold during the exit stage.
const ExitRound = 4

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Index returns the position of s in Stages, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the successor stage. Exit has none.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i == len(Stages)-1 {
		return "", false
	}
	return Stages[i+1], true
}

// Round returns the round number sold in stage s.
func (s Stage) Round() int {
	return s.Index() + 1
}

// Label returns the display label for the stage badge.
func (s Stage) Label() string {
	switch s {
	case StageNewboom:
		return "New Boom"
	case StageBlossom:
		return "Blossom"
	case StageEvergreen:
		return "Evergreen"
	case StageExit:
		return "Exit"
	default:
		return "Unknown"
	}
}

// Color returns the badge color for the stage.
func (s Stage) Color() string {
	switch s {
	case StageNewboom:
		return "#22c55e"
	case StageBlossom:
		return "#ec4899"
	case StageEvergreen:
		return "#0ea5e9"
	case StageExit:
		return "#f59e0b"
	default:
		return "#6b7280"
	}
}

// StageForRound returns the stage that sells round r. Rounds past the exit
// round (a closed exit round) stay in exit.
func StageForRound(r int) Stage {
	switch {
	case r < 1:
		return StageNewboom
	case r > len(Stages):
		return StageExit
	default:
		return Stages[r-1]
	}
}
