package bus

import (
	"encoding/json"

	"github.com/uplo-tech/errors"
)

// MessageTag names a Message variant (spec.md §6.2).
type MessageTag string

// The four message variants.
const (
	NextTag MessageTag = "Next"
	AckTag  MessageTag = "Ack"
	ReqTag  MessageTag = "Req"
	RespTag MessageTag = "Resp"
)

// ErrUnknownMessageTag is returned when a frame's tag does not match any
// known Message variant.
var ErrUnknownMessageTag = errors.New("unknown message tag")

// Message is the closed tagged-variant type carried on the message channel
// of the bus (spec.md §6.2). Exactly one of Next/Ack/Req/Resp is set,
// matching Tag.
type Message struct {
	Tag  MessageTag
	Next *NextMsg
	Ack  *AckMsg
	Req  *ReqMsg
	Resp *RespMsg
}

// NextMsg: Primary -> Secondary, transition to State with an optional
// Payload.
type NextMsg struct {
	TxID    [16]byte `json:"txid"`
	Serial  string   `json:"serial"`
	State   State    `json:"state"`
	Payload *Payload `json:"payload,omitempty"`
}

// AckMsg: Secondary -> Primary, now at State. Report is required when State
// is terminal (spec.md §4.4's Ack rule).
type AckMsg struct {
	TxID   [16]byte        `json:"txid"`
	Serial string          `json:"serial"`
	State  State           `json:"state"`
	Report json.RawMessage `json:"report,omitempty"`
}

// ReqMsg: Secondary -> Primary, please send chunk Index of Image.
type ReqMsg struct {
	TxID   [16]byte `json:"txid"`
	Serial string   `json:"serial"`
	Image  string   `json:"image"`
	Index  uint64   `json:"index"`
}

// RespMsg: Primary -> Secondary, here is the chunk.
type RespMsg struct {
	TxID   [16]byte `json:"txid"`
	Serial string   `json:"serial"`
	Image  string   `json:"image"`
	Index  uint64   `json:"index"`
	Chunk  []byte   `json:"chunk"`
}

// NewNext, NewAck, NewReq, and NewResp build a Message wrapping each
// variant, saving call sites from repeating the Tag/pointer boilerplate.
func NewNext(m NextMsg) Message { return Message{Tag: NextTag, Next: &m} }
func NewAck(m AckMsg) Message   { return Message{Tag: AckTag, Ack: &m} }
func NewReq(m ReqMsg) Message   { return Message{Tag: ReqTag, Req: &m} }
func NewResp(m RespMsg) Message { return Message{Tag: RespTag, Resp: &m} }

// MarshalJSON flattens the set variant's fields alongside the tag, so a
// frame on the wire looks like {"tag":"Next","txid":...,"serial":...}
// rather than nesting the variant under its own key.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Tag {
	case NextTag:
		return json.Marshal(struct {
			Tag MessageTag `json:"tag"`
			NextMsg
		}{m.Tag, *m.Next})
	case AckTag:
		return json.Marshal(struct {
			Tag MessageTag `json:"tag"`
			AckMsg
		}{m.Tag, *m.Ack})
	case ReqTag:
		return json.Marshal(struct {
			Tag MessageTag `json:"tag"`
			ReqMsg
		}{m.Tag, *m.Req})
	case RespTag:
		return json.Marshal(struct {
			Tag MessageTag `json:"tag"`
			RespMsg
		}{m.Tag, *m.Resp})
	default:
		return nil, ErrUnknownMessageTag
	}
}

// UnmarshalJSON reads the tag first, then decodes the matching variant's
// fields from the same object.
func (m *Message) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Tag MessageTag `json:"tag"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	switch tagged.Tag {
	case NextTag:
		var v NextMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = NewNext(v)
	case AckTag:
		var v AckMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = NewAck(v)
	case ReqTag:
		var v ReqMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = NewReq(v)
	case RespTag:
		var v RespMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = NewResp(v)
	default:
		return ErrUnknownMessageTag
	}
	return nil
}
