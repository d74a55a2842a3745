package atomic

import "github.com/uplo-tech/atomicupdate/bus"

// Payload is the tagged byte blob a Secondary's installer dispatches on
// (spec.md §3); it is bus.Payload directly, since the wire shape and the
// in-memory shape are identical.
type Payload = bus.Payload

// Payloads maps Serial -> (State -> Payload): the payload to deliver to a
// given Secondary on entering a given state. An absent serial or state key
// means no payload for that (serial, state) pair.
type Payloads map[string]map[State]Payload

// For returns the payload configured for (serial, state), and whether one
// was configured at all.
func (p Payloads) For(serial string, state State) (Payload, bool) {
	byState, ok := p[serial]
	if !ok {
		return Payload{}, false
	}
	payload, ok := byState[state]
	return payload, ok
}
