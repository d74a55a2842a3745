package atomic

import "github.com/uplo-tech/atomicupdate/bus"

// State is an alias of bus.State: the six-state tag lives in the bus
// package to avoid an import cycle (bus.Message carries it), but the
// transition table that gives it meaning belongs here.
type State = bus.State

// Re-exported so callers of this package don't need a second import for
// the six state constants.
const (
	Idle   = bus.Idle
	Ready  = bus.Ready
	Verify = bus.Verify
	Fetch  = bus.Fetch
	Commit = bus.Commit
	Abort  = bus.Abort
)

// validTransitions is the total function from -> {to...} of spec.md §3.
// Self-loops are included to allow idempotent re-entry during recovery and
// retry.
var validTransitions = map[State]map[State]bool{
	Idle:   {Ready: true},
	Ready:  {Ready: true, Verify: true, Abort: true},
	Verify: {Verify: true, Fetch: true, Abort: true},
	Fetch:  {Fetch: true, Commit: true, Abort: true},
	Commit: {Abort: true},
	Abort:  {},
}

// validTransition reports whether from -> to is permitted by the table
// above.
func validTransition(from, to State) bool {
	return validTransitions[from][to]
}
