package atomic

import "testing"

// TestValidTransitions checks every edge named in spec.md §3, plus a
// handful of edges that must be rejected.
func TestValidTransitions(t *testing.T) {
	allowed := []struct{ from, to State }{
		{Idle, Ready},
		{Ready, Ready},
		{Ready, Verify},
		{Ready, Abort},
		{Verify, Verify},
		{Verify, Fetch},
		{Verify, Abort},
		{Fetch, Fetch},
		{Fetch, Commit},
		{Fetch, Abort},
		{Commit, Abort},
	}
	for _, tc := range allowed {
		if !validTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be valid", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to State }{
		{Idle, Idle},
		{Idle, Verify},
		{Idle, Commit},
		{Ready, Fetch},
		{Verify, Ready},
		{Commit, Commit},
		{Commit, Ready},
		{Abort, Idle},
		{Abort, Ready},
		{Abort, Abort},
	}
	for _, tc := range forbidden {
		if validTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be invalid", tc.from, tc.to)
		}
	}
}

// TestStateTerminal checks that only Commit and Abort are terminal.
func TestStateTerminal(t *testing.T) {
	terminal := map[State]bool{Idle: false, Ready: false, Verify: false, Fetch: false, Commit: true, Abort: true}
	for state, want := range terminal {
		if state.Terminal() != want {
			t.Fatalf("State(%s).Terminal() = %v, want %v", state, state.Terminal(), want)
		}
	}
}
