package userauth

import "testing"

func TestNormalizeUsernamePassesThroughASCII(t *testing.T) {
	if got := normalizeUsername("alice"); got != "alice" {
		t.Fatalf("normalizeUsername(%q) = %q", "alice", got)
	}
}

func TestNormalizeUsernameCaseMaps(t *testing.T) {
	// PRECIS UsernameCaseMapped lower-cases per its name; this merely
	// pins the behavior this package relies on rather than re-testing
	// golang.org/x/text/secure/precis itself.
	got := normalizeUsername("Alice")
	if got != "alice" {
		t.Fatalf("normalizeUsername(%q) = %q, want lower-cased", "Alice", got)
	}
}
