// Package step implements the installer interface (spec.md §4.7) that a
// Secondary invokes on every state transition: the external hook that
// actually performs verification, image reception, and installation.
package step

import (
	"github.com/uplo-tech/atomicupdate/bus"
	"github.com/uplo-tech/atomicupdate/image"
	"github.com/uplo-tech/atomicupdate/uptane"
)

// Result is the Option<StepData> of spec.md §4.7: at most one of Writer or
// Report is set. Neither set means the step completed synchronously with
// no further action required.
type Result struct {
	Writer *image.Writer
	Report *uptane.TufSigned
}

// Step is the installer interface a Secondary calls at each transition.
// Implementers MUST hold the contract invariants of spec.md §4.7:
//
//   - In non-terminal states, either return a zero Result (step complete),
//     or a Result with Writer set to request image streaming.
//   - In Commit or Abort, a Result with Report set is required.
//   - Step may be slow; the Secondary measures elapsed wall time against
//     its own timeout, not against Step's internal behavior.
//   - Panics are not recovered here; the crash-recovery checkpoint
//     guarantees a subsequent process can resume.
type Step interface {
	Step(state bus.State, payload *bus.Payload) (Result, error)
}
