package crypto

import (
	"crypto/rand"

	"github.com/uplo-tech/errors"
	"golang.org/x/crypto/ed25519"
)

// PublicKeySize, SecretKeySize, and SignatureSize are the lengths, in
// bytes, of an Ed25519 public key, secret key, and signature.
const (
	PublicKeySize = ed25519.PublicKeySize
	SecretKeySize = ed25519.PrivateKeySize
	SignatureSize = ed25519.SignatureSize
)

// ErrInvalidSignature is returned when a signature does not verify against
// a hash/key pair.
var ErrInvalidSignature = errors.New("invalid signature")

type (
	// PublicKey is an Ed25519 public key.
	PublicKey [PublicKeySize]byte

	// SecretKey is an Ed25519 secret key.
	SecretKey [SecretKeySize]byte

	// Signature is an Ed25519 signature.
	Signature [SignatureSize]byte
)

// GenerateKeyPair creates a new Ed25519 public/secret key pair.
func GenerateKeyPair() (sk SecretKey, pk PublicKey) {
	epk, esk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		// rand.Reader failing is catastrophic and not something callers can
		// meaningfully recover from.
		panic(err)
	}
	copy(sk[:], esk)
	copy(pk[:], epk)
	return
}

// SignHash signs a Hash using the provided secret key, producing a
// Signature that VerifyHash will accept for the same hash and the matching
// public key.
func SignHash(hash Hash, sk SecretKey) (sig Signature) {
	esig := ed25519.Sign(ed25519.PrivateKey(sk[:]), hash[:])
	copy(sig[:], esig)
	return
}

// VerifyHash verifies that sig is a valid signature of hash under pk.
func VerifyHash(hash Hash, pk PublicKey, sig Signature) error {
	if !ed25519.Verify(ed25519.PublicKey(pk[:]), hash[:], sig[:]) {
		return ErrInvalidSignature
	}
	return nil
}
