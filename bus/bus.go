// Package bus implements the pluggable duplex message transport between a
// Primary and its Secondaries (spec.md §4.1): a reference IP-multicast
// transport, a point-to-point multiplexed-stream transport, and an
// in-memory transport used only by tests.
package bus

import (
	"encoding/hex"
	"encoding/json"

	"github.com/uplo-tech/errors"
)

// ErrTimeout is the Bus contract's distinguishable "nothing arrived within
// the poll window" signal. It is not an error proper: Primary/Secondary
// treat it as a retry-or-check-deadline signal, never propagate it, and
// never surface it to a caller (spec.md §7).
var ErrTimeout = errors.New("bus read timed out")

// WakeUp is the 2-tuple a wake-up frame carries (spec.md §6.1).
type WakeUp struct {
	Serial string
	TxID   [16]byte
}

// MarshalJSON encodes WakeUp as the wire-level 2-tuple [serial, txid]
// rather than as an object.
func (w WakeUp) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{w.Serial, hex.EncodeToString(w.TxID[:])})
}

// UnmarshalJSON decodes the [serial, txid] 2-tuple produced by MarshalJSON.
func (w *WakeUp) UnmarshalJSON(data []byte) error {
	var tuple [2]string
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	raw, err := hex.DecodeString(tuple[1])
	if err != nil {
		return errors.AddContext(err, "could not decode wake-up txid")
	}
	if len(raw) != len(w.TxID) {
		return errors.New("wake-up txid has wrong length")
	}
	w.Serial = tuple[0]
	copy(w.TxID[:], raw)
	return nil
}

// Bus is the polymorphic duplex message channel Primary and Secondary
// communicate over (spec.md §4.1). Implementations are assumed
// unreliable/datagram-style: a WriteMessage may be lost, and all retry and
// deduplication is the caller's responsibility.
type Bus interface {
	// ReadWakeUp blocks up to the bus's poll timeout for a wake-up frame,
	// returning ErrTimeout if none arrived.
	ReadWakeUp() (WakeUp, error)

	// WriteWakeUp broadcasts a wake-up announcement for serial/txid.
	WriteWakeUp(serial string, txid [16]byte) error

	// ReadMessage blocks up to the bus's poll timeout for a message frame,
	// returning ErrTimeout if none arrived.
	ReadMessage() (Message, error)

	// WriteMessage sends msg at most once; it may be silently lost.
	WriteMessage(msg Message) error

	// Close releases any underlying transport resources.
	Close() error
}
