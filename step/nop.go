package step

import (
	"time"

	"github.com/uplo-tech/atomicupdate/bus"
	"github.com/uplo-tech/atomicupdate/uptane"
	"github.com/uplo-tech/errors"
)

// errDefaultFailure is returned by Nop.Step when FailAt is set but FailErr
// is left nil.
var errDefaultFailure = errors.New("nop step configured to fail")

// Nop is a Step that performs no installation work: it returns an empty
// Result for every non-terminal state and a signed report in Commit and
// Abort, exactly the "installer always returns None... a dummy signed
// report in terminal states" fixture used by spec.md §8's end-to-end
// scenarios.
type Nop struct {
	// Serial names the ECU this step signs reports for.
	Serial string
	// Sign produces a TufSigned report for Serial at the given state;
	// installed is true when Step is reporting a successful Commit. If
	// nil, Step returns an unsigned placeholder report.
	Sign func(serial string, state bus.State, installed bool) uptane.TufSigned
	// Delay, if non-zero, is slept before returning - used to simulate a
	// slow installer in timeout-focused scenarios.
	Delay time.Duration
	// FailAt, if non-empty, makes Step return FailErr when called at that
	// state.
	FailAt  bus.State
	FailErr error
}

// Step implements Step.
func (n *Nop) Step(state bus.State, payload *bus.Payload) (Result, error) {
	if n.Delay > 0 {
		time.Sleep(n.Delay)
	}
	if n.FailAt != "" && state == n.FailAt {
		err := n.FailErr
		if err == nil {
			err = errDefaultFailure
		}
		return Result{}, err
	}
	if !state.Terminal() {
		return Result{}, nil
	}
	if n.Sign != nil {
		report := n.Sign(n.Serial, state, state == bus.Commit)
		return Result{Report: &report}, nil
	}
	return Result{Report: &uptane.TufSigned{}}, nil
}
