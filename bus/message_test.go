package bus

import (
	"encoding/json"
	"testing"

	"github.com/uplo-tech/fastrand"
)

// TestMessageRoundTrip checks that each Message variant survives a
// marshal/unmarshal cycle with its tag intact.
func TestMessageRoundTrip(t *testing.T) {
	var txid [16]byte
	fastrand.Read(txid[:])

	cases := []Message{
		NewNext(NextMsg{TxID: txid, Serial: "ecu-1", State: Ready}),
		NewNext(NextMsg{TxID: txid, Serial: "ecu-1", State: Verify, Payload: &Payload{Tag: Blob, Data: []byte("hello")}}),
		NewAck(AckMsg{TxID: txid, Serial: "ecu-1", State: Commit, Report: json.RawMessage(`{"ok":true}`)}),
		NewReq(ReqMsg{TxID: txid, Serial: "ecu-1", Image: "firmware.bin", Index: 3}),
		NewResp(RespMsg{TxID: txid, Serial: "ecu-1", Image: "firmware.bin", Index: 3, Chunk: []byte{1, 2, 3}}),
	}

	for _, want := range cases {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatal(err)
		}
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Tag != want.Tag {
			t.Fatalf("tag mismatch: got %v want %v", got.Tag, want.Tag)
		}
		switch want.Tag {
		case NextTag:
			if got.Next == nil || got.Next.Serial != want.Next.Serial || got.Next.State != want.Next.State {
				t.Fatal("Next fields did not round-trip")
			}
		case AckTag:
			if got.Ack == nil || got.Ack.State != want.Ack.State {
				t.Fatal("Ack fields did not round-trip")
			}
		case ReqTag:
			if got.Req == nil || got.Req.Index != want.Req.Index {
				t.Fatal("Req fields did not round-trip")
			}
		case RespTag:
			if got.Resp == nil || string(got.Resp.Chunk) != string(want.Resp.Chunk) {
				t.Fatal("Resp fields did not round-trip")
			}
		}
	}
}

// TestMessageUnknownTag checks that an unrecognized tag is rejected rather
// than silently decoded as a zero-value variant.
func TestMessageUnknownTag(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"tag":"Bogus"}`), &m)
	if err != ErrUnknownMessageTag {
		t.Fatalf("expected ErrUnknownMessageTag, got %v", err)
	}
}

// TestWakeUpRoundTrip checks the [serial, txid] tuple encoding.
func TestWakeUpRoundTrip(t *testing.T) {
	var txid [16]byte
	fastrand.Read(txid[:])
	want := WakeUp{Serial: "ecu-1", TxID: txid}

	data, err := json.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		t.Fatal(err)
	}
	if len(arr) != 2 {
		t.Fatalf("expected a 2-tuple, got %d elements", len(arr))
	}

	var got WakeUp
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Serial != want.Serial || got.TxID != want.TxID {
		t.Fatal("wake-up did not round-trip")
	}
}
