package uptane

import (
	"encoding/json"
	"time"
)

// TufSigned is a signed Uptane/TUF metadata document exactly as it travels
// over the wire (spec.md §6.5): an opaque signed payload plus the set of
// signatures over its canonical encoding.
type TufSigned struct {
	Signed     json.RawMessage `json:"signed"`
	Signatures []Signature     `json:"signatures"`
}

// Signature is one signature over a TufSigned's Signed field.
type Signature struct {
	KeyID   string  `json:"keyid"`
	SigType KeyType `json:"sig_type"`
	Sig     string  `json:"sig"`
}

// RoleData is the subset of a role's signed payload the verifier itself
// inspects (spec.md §4.2 step 4); callers decode TufSigned.Signed a second
// time into their own richer type (targets, snapshot, ...) once Verified.
type RoleData struct {
	Type    string    `json:"_type"`
	Expires time.Time `json:"expires"`
	Version uint64    `json:"version"`
}
