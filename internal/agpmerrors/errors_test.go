package agpmerrors

import (
	"errors"
	"testing"
)

func TestExitCodeMapping(t *testing.T) {
	err := New(Cycle, "agents/a", errors.New("a -> b -> a"))
	if got := ExitCode(err); got != 6 {
		t.Errorf("ExitCode(Cycle) = %d, want 6", got)
	}
	if got := KindOf(err); got != Cycle {
		t.Errorf("KindOf = %q, want Cycle", got)
	}
}

func TestExitCodeUntagged(t *testing.T) {
	if got := ExitCode(errors.New("boom")); got != 1 {
		t.Errorf("ExitCode(untagged) = %d, want 1", got)
	}
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d, want 0", got)
	}
}

func TestWithEntriesAndRemedy(t *testing.T) {
	err := New(ConflictUnresolvable, "agents/agent", errors.New("version mismatch")).
		WithEntries("agent-v1@v1.0.0", "agent-v2@v2.0.0").
		WithRemedy("reconcile constraints")

	if len(err.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(err.Entries))
	}
	if err.Remedy == "" {
		t.Error("expected remedy to be set")
	}
	msg := err.Error()
	if msg == "" {
		t.Error("expected non-empty error message")
	}
}
