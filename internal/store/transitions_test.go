package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call", "claimed", true},
		{"call", "called", false},
		{"serve", "called", true},
		{"serve", "claimed", false},
		{"skip", "called", true},
		{"skip", "skipped", false},
		{"release", "claimed", true},
		{"release", "called", false},
		{"release", "released", false},
		{"reset", "claimed", true},
		{"reset", "called", true},
		{"reset", "served", false},
		{"reset", "skipped", false},
		{"unknown", "claimed", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}
