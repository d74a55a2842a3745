package atomic

import (
	"fmt"

	"github.com/uplo-tech/errors"
)

// AtomicStateError is returned when a transition was requested that the
// state machine's transition table (spec.md §3) forbids.
type AtomicStateError struct {
	From, To State
}

func (e *AtomicStateError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// AtomicAbortError is the protocol-level abort result of a transaction:
// the final error a commit() returns once one or more serials aborted.
type AtomicAbortError struct {
	Serials []string
	Reason  error
}

func (e *AtomicAbortError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("transaction aborted (%v): %v", e.Serials, e.Reason)
	}
	return fmt.Sprintf("transaction aborted: %v", e.Serials)
}

func (e *AtomicAbortError) Unwrap() error { return e.Reason }

// ErrAtomicTimeout is returned when a transaction's deadline elapsed before
// every participant reached a terminal state.
var ErrAtomicTimeout = errors.New("atomic: transaction timed out")

// ErrAtomicPayload is the error for a payload that exceeded the bus-frame
// budget or was structurally rejected by the installer. No function in this
// package returns it.
var ErrAtomicPayload = errors.New("atomic: payload rejected")

// ErrAtomicSigned is returned when a terminal-state Ack was sent without a
// required signed report.
var ErrAtomicSigned = errors.New("atomic: terminal ack missing signed report")

// ErrTransactionMismatch names an inbound frame whose txid or serial does
// not match the receiver's own. No function in this package returns it:
// Primary and Secondary skip such frames silently (spec.md §4.4/§4.5 "if
// txid/serial match").
var ErrTransactionMismatch = errors.New("atomic: transaction id or serial mismatch")
