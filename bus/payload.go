package bus

import (
	"encoding/json"

	"github.com/uplo-tech/errors"
)

// PayloadTag drives the Secondary installer's dispatch (spec.md §3).
type PayloadTag string

// The four payload tags.
const (
	Blob           PayloadTag = "Blob"
	ImageMetaTag   PayloadTag = "ImageMeta"
	OstreePackage  PayloadTag = "OstreePackage"
	UptaneMetadata PayloadTag = "UptaneMetadata"
)

// ErrUnknownPayloadTag is returned when a Payload's tag is not one of the
// four recognized variants.
var ErrUnknownPayloadTag = errors.New("unknown payload tag")

// Payload is a tagged byte blob delivered to a Secondary on entering a
// given state (spec.md §3). The tag's meaning is interpreted by the
// installer (step.Step), not by the bus or the state machine.
type Payload struct {
	Tag  PayloadTag `json:"tag"`
	Data []byte     `json:"data"`
}

// payloadWire is Payload's on-the-wire shape: spec.md §6.2 describes
// "an object with a tag among {...} and a byte-array field", so Data is
// base64-encoded JSON bytes under the json tag, which encoding/json already
// does for []byte - this type exists only so MarshalJSON/UnmarshalJSON on
// Payload can validate the tag.
type payloadWire Payload

// MarshalJSON validates the tag before delegating to the default []byte
// (base64) encoding.
func (p Payload) MarshalJSON() ([]byte, error) {
	if !validPayloadTag(p.Tag) {
		return nil, ErrUnknownPayloadTag
	}
	return json.Marshal(payloadWire(p))
}

// UnmarshalJSON validates the tag after decoding.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var wire payloadWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if !validPayloadTag(wire.Tag) {
		return ErrUnknownPayloadTag
	}
	*p = Payload(wire)
	return nil
}

func validPayloadTag(tag PayloadTag) bool {
	switch tag {
	case Blob, ImageMetaTag, OstreePackage, UptaneMetadata:
		return true
	default:
		return false
	}
}
