// Package atomic implements the three-phase atomic commit protocol between
// a Primary and its Secondaries (spec.md §4.4-§4.6): the state machine,
// timeouts, crash recovery, and checkpoint persistence that coordinate an
// all-or-nothing multi-ECU update.
package atomic

import "github.com/google/uuid"

// TransactionID is the 128-bit identifier a Primary generates fresh for
// each transaction (spec.md §3).
type TransactionID [16]byte

// NewTransactionID generates a fresh random TransactionID.
func NewTransactionID() TransactionID {
	var id TransactionID
	copy(id[:], uuid.New()[:])
	return id
}

// String returns the canonical UUID string form of id.
func (id TransactionID) String() string {
	u, _ := uuid.FromBytes(id[:])
	return u.String()
}
