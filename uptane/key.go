package uptane

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/uplo-tech/errors"
)

// KeyType names the signature algorithm a Key was generated for.
type KeyType string

// The two key types the verifier accepts, matching the two signature
// schemes it can check (see verifyOne).
const (
	Ed25519 KeyType = "ed25519"
	Rsa     KeyType = "rsa"
)

// ErrUnknownKeyType is returned when a Key names a KeyType the verifier
// does not know how to check signatures against.
var ErrUnknownKeyType = errors.New("unknown key type")

// ErrKeyIDMismatch is returned by AddKey when the supplied id does not
// match the key's canonical id.
var ErrKeyIDMismatch = errors.New("key id does not match canonical key id")

// Key is a single Uptane signing key, keyed in the Verifier by its
// canonical id.
type Key struct {
	KeyType KeyType `json:"keytype"`
	KeyVal  KeyVal  `json:"keyval"`
	ID      string  `json:"-"`
}

// KeyVal holds the public material of a Key. The public field is the
// hex-encoded key material (raw Ed25519 key bytes, or a DER PKCS#1 RSA
// key); the key id is derived from it still encoded, and verifyOne
// hex-decodes it before checking a signature. PEM is not accepted.
type KeyVal struct {
	Public string `json:"public"`
}

// CanonicalKeyID computes the id a Key must be registered under: the hex
// sha256 of the canonical JSON encoding of {keytype, keyval}. This mirrors
// how real TUF implementations derive key ids (a hash of the canonicalized
// public-key object), resolving spec.md's "id == hash(keyval.public) under
// the defined key-id scheme" by fixing that scheme to canonical-JSON+sha256
// over the whole public portion of the key, not just the bare public string,
// so that two keys with the same public bytes but different declared types
// never collide.
func CanonicalKeyID(key Key) (string, error) {
	canon, err := CanonicalJSON(struct {
		KeyType KeyType `json:"keytype"`
		KeyVal  KeyVal  `json:"keyval"`
	}{key.KeyType, key.KeyVal})
	if err != nil {
		return "", errors.AddContext(err, "could not canonicalize key")
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
