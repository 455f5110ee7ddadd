package models

import "testing"

func TestStageProgression(t *testing.T) {
	tests := []struct {
		stage    Stage
		next     Stage
		hasNext  bool
		round    int
		label    string
		validity bool
	}{
		{StageNewboom, StageBlossom, true, 1, "New Boom", true},
		{StageBlossom, StageEvergreen, true, 2, "Blossom", true},
		{StageEvergreen, StageExit, true, 3, "Evergreen", true},
		{StageExit, "", false, 4, "Exit", true},
		{Stage("bogus"), "", false, 0, "Unknown", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			next, ok := tt.stage.Next()
			if next != tt.next || ok != tt.hasNext {
				t.Errorf("Next() = %q, %v; want %q, %v", next, ok, tt.next, tt.hasNext)
			}
			if got := tt.stage.Round(); got != tt.round {
				t.Errorf("Round() = %d, want %d", got, tt.round)
			}
			if got := tt.stage.Label(); got != tt.label {
				t.Errorf("Label() = %q, want %q", got, tt.label)
			}
			if got := tt.stage.Valid(); got != tt.validity {
				t.Errorf("Valid() = %v, want %v", got, tt.validity)
			}
		})
	}
}

func TestStageForRound(t *testing.T) {
	tests := map[int]Stage{
		0: StageNewboom,
		1: StageNewboom,
		2: StageBlossom,
		3: StageEvergreen,
		4: StageExit,
		5: StageExit,
	}
	for round, want := range tests {
		if got := StageForRound(round); got != want {
			t.Errorf("StageForRound(%d) = %q, want %q", round, got, want)
		}
	}
}

func TestStageColorsDistinct(t *testing.T) {
	seen := make(map[string]Stage)
	for _, s := range Stages {
		c := s.Color()
		if prev, ok := seen[c]; ok {
			t.Fatalf("%s and %s share color %s", prev, s, c)
		}
		seen[c] = s
	}
}
