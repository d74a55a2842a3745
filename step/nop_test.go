package step

import (
	"errors"
	"testing"

	"github.com/uplo-tech/atomicupdate/bus"
	"github.com/uplo-tech/atomicupdate/uptane"
)

func TestNopNonTerminalIsEmpty(t *testing.T) {
	n := &Nop{Serial: "ecu-a"}
	for _, state := range []bus.State{bus.Ready, bus.Verify, bus.Fetch} {
		result, err := n.Step(state, nil)
		if err != nil {
			t.Fatalf("state %s: unexpected error %v", state, err)
		}
		if result.Writer != nil || result.Report != nil {
			t.Fatalf("state %s: expected empty result, got %+v", state, result)
		}
	}
}

func TestNopTerminalSigns(t *testing.T) {
	var gotSerial string
	var gotInstalled bool
	n := &Nop{
		Serial: "ecu-a",
		Sign: func(serial string, state bus.State, installed bool) uptane.TufSigned {
			gotSerial = serial
			gotInstalled = installed
			return uptane.TufSigned{Signed: []byte(`{"ok":true}`)}
		},
	}
	result, err := n.Step(bus.Commit, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Report == nil {
		t.Fatal("expected a report at a terminal state")
	}
	if gotSerial != "ecu-a" || !gotInstalled {
		t.Fatalf("sign callback got serial=%q installed=%v", gotSerial, gotInstalled)
	}
}

func TestNopFailAt(t *testing.T) {
	failErr := errors.New("boom")
	n := &Nop{Serial: "ecu-a", FailAt: bus.Verify, FailErr: failErr}
	if _, err := n.Step(bus.Ready, nil); err != nil {
		t.Fatalf("expected Ready to succeed, got %v", err)
	}
	_, err := n.Step(bus.Verify, nil)
	if err != failErr {
		t.Fatalf("expected configured FailErr, got %v", err)
	}
}

func TestNopFailAtDefaultError(t *testing.T) {
	n := &Nop{Serial: "ecu-a", FailAt: bus.Fetch}
	if _, err := n.Step(bus.Fetch, nil); err != errDefaultFailure {
		t.Fatalf("expected errDefaultFailure, got %v", err)
	}
}
