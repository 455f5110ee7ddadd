package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MacJediWizard/roundledger/internal/db"
	"github.com/rs/zerolog"
)

func TestPrintMigrations(t *testing.T) {
	migrations := []db.Migration{
		{Version: 1, Name: "001_initial_schema"},
		{Version: 2, Name: "002_transfer_index"},
	}

	tests := []struct {
		name        string
		applied     int
		onlyPending bool
		want        []string
		absent      []string
	}{
		{name: "unknown state", applied: -1, want: []string{"[ ] 001_initial_schema", "[ ] 002_transfer_index"}},
		{name: "partly applied", applied: 1, want: []string{"[x] 001_initial_schema", "[ ] 002_transfer_index"}},
		{name: "pending only", applied: 1, onlyPending: true, want: []string{"002"}, absent: []string{"001"}},
		{name: "up to date", applied: 2, onlyPending: true, want: []string{"Schema is up to date"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			printMigrations(&out, migrations, tt.applied, tt.onlyPending)
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output missing %q:\n%s", w, out.String())
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(out.String(), a) {
					t.Errorf("output should not contain %q:\n%s", a, out.String())
				}
			}
		})
	}
}

func TestRunListDoesNotConnect(t *testing.T) {
	var out bytes.Buffer
	if err := run(options{list: true}, &out, zerolog.Nop()); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.Contains(out.String(), "[ ] 001_initial_schema") {
		t.Fatalf("expected embedded migration, got:\n%s", out.String())
	}
}

func TestRunRequiresURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if err := run(options{}, &bytes.Buffer{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without a database URL")
	}
}
