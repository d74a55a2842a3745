package crypto

import (
	"crypto/sha256"

	"github.com/uplo-tech/encoding"
)

// HashSize is the length of a Hash in bytes.
const HashSize = 32

// Hash is a generic 256-bit hash.
type Hash [HashSize]byte

// HashBytes returns the sha256 hash of data.
func HashBytes(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// HashAll takes a set of objects as input, encodes them each with the
// binary encoding package, concatenates the encodings, and hashes the
// result. This is the same pattern used to bind a session's ephemeral key
// exchange to both parties' long-term identities elsewhere in this
// codebase (see the host/renter RPC handshake).
func HashAll(objs ...interface{}) Hash {
	h := sha256.New()
	for _, obj := range objs {
		switch v := obj.(type) {
		case []byte:
			h.Write(v)
		case Hash:
			h.Write(v[:])
		default:
			b := encoding.Marshal(obj)
			h.Write(b)
		}
	}
	var sum Hash
	copy(sum[:], h.Sum(nil))
	return sum
}
