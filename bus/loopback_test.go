package bus

import "testing"

// TestLoopbackHubBroadcast checks that a write from one endpoint reaches
// every other endpoint on the hub, but not the writer itself.
func TestLoopbackHubBroadcast(t *testing.T) {
	hub := NewLoopbackHub()
	primary := hub.Endpoint()
	a := hub.Endpoint()
	b := hub.Endpoint()
	defer hub.CloseAll()

	var txid [16]byte
	txid[0] = 7

	if err := primary.WriteWakeUp("ecu-a", txid); err != nil {
		t.Fatal(err)
	}
	wa, err := a.ReadWakeUp()
	if err != nil {
		t.Fatal(err)
	}
	if wa.Serial != "ecu-a" || wa.TxID != txid {
		t.Fatal("wake-up not delivered to a")
	}
	wb, err := b.ReadWakeUp()
	if err != nil {
		t.Fatal(err)
	}
	if wb.Serial != "ecu-a" {
		t.Fatal("wake-up not delivered to b")
	}

	msg := NewNext(NextMsg{TxID: txid, Serial: "ecu-a", State: Ready})
	if err := a.WriteMessage(msg); err != nil {
		t.Fatal(err)
	}
	gotPrimary, err := primary.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if gotPrimary.Tag != NextTag || gotPrimary.Next.State != Ready {
		t.Fatal("message not delivered to primary")
	}
}

// TestLoopbackHubCloseUnblocksRead checks that closing the hub unblocks a
// pending read rather than hanging for the full poll timeout.
func TestLoopbackHubCloseUnblocksRead(t *testing.T) {
	hub := NewLoopbackHub()
	ep := hub.Endpoint()

	done := make(chan error, 1)
	go func() {
		_, err := ep.ReadMessage()
		done <- err
	}()

	hub.CloseAll()

	err := <-done
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout after close, got %v", err)
	}
}
