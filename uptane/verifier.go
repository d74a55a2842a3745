package uptane

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/uplo-tech/errors"
	"golang.org/x/crypto/ed25519"
)

// RoleName identifies one of the four Uptane metadata roles (Root, Targets,
// Snapshot, Timestamp) or a delegated targets role; the verifier treats it
// as an opaque string key.
type RoleName string

var (
	// ErrRoleExists is returned by AddMeta when a role already has
	// RoleMeta registered.
	ErrRoleExists = errors.New("role metadata already registered")

	// ErrUnknownRole is returned by VerifySigned when no RoleMeta has been
	// registered for the requested role.
	ErrUnknownRole = errors.New("unknown role")

	// ErrKeyExists is returned by AddKey when a key id is already
	// registered.
	ErrKeyExists = errors.New("key already registered")

	// ErrThresholdNotMet is returned by VerifySigned when fewer than
	// threshold distinct, valid signatures were found.
	ErrThresholdNotMet = errors.New("signature threshold not met")

	// ErrRoleMismatch is returned when the signed payload's _type field
	// does not match the role it was fetched/verified as.
	ErrRoleMismatch = errors.New("signed payload role mismatch")

	// ErrExpired is returned when the signed payload's expires timestamp
	// is not in the future.
	ErrExpired = errors.New("signed metadata has expired")

	// ErrVersionRegression is returned when the signed payload's version
	// is lower than the last-known version for its role.
	ErrVersionRegression = errors.New("signed metadata version regression")
)

// Verified is the result of a successful VerifySigned call.
type Verified struct {
	Role   RoleName
	Data   RoleData
	OldVer uint64
	NewVer uint64
}

// IsNew reports whether VerifySigned observed a strictly newer version than
// was previously on record for Role.
func (v Verified) IsNew() bool {
	return v.NewVer > v.OldVer
}

// Verifier holds the trusted keys and role metadata for one logical Uptane
// service instance (director or image repo), as described in spec.md §4.2.
type Verifier struct {
	mu    sync.Mutex
	keys  map[string]Key
	roles map[RoleName]RoleMeta
}

// NewVerifier returns an empty Verifier with no keys or roles registered.
func NewVerifier() *Verifier {
	return &Verifier{
		keys:  make(map[string]Key),
		roles: make(map[RoleName]RoleMeta),
	}
}

// AddMeta registers meta as the trust anchor for role. It fails if role
// already has metadata registered or meta.Threshold < 1.
func (v *Verifier) AddMeta(role RoleName, meta RoleMeta) error {
	if meta.Threshold < 1 {
		return ErrBadThreshold
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.roles[role]; ok {
		return ErrRoleExists
	}
	v.roles[role] = meta
	return nil
}

// AddKey registers key under id. It fails if id does not match key's
// canonical id or id is already registered.
func (v *Verifier) AddKey(id string, key Key) error {
	canon, err := CanonicalKeyID(key)
	if err != nil {
		return err
	}
	if canon != id {
		return ErrKeyIDMismatch
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.keys[id]; ok {
		return ErrKeyExists
	}
	key.ID = id
	v.keys[id] = key
	return nil
}

// VerifySigned checks signed against the trust anchor registered for role,
// exactly per spec.md §4.2:
//
//  1. look up RoleMeta for role, failing if none is registered;
//  2. canonicalize signed.Signed and count distinct-keyid signatures that
//     are both in role.KeyIDs and cryptographically valid;
//  3. fail if that count is below threshold;
//  4. decode the inner payload, requiring _type == role, expires in the
//     future, and version >= the registered version;
//  5. if version > the registered version, atomically raise it.
func (v *Verifier) VerifySigned(role RoleName, signed TufSigned) (Verified, error) {
	v.mu.Lock()
	meta, ok := v.roles[role]
	keys := v.keys
	v.mu.Unlock()
	if !ok {
		return Verified{}, ErrUnknownRole
	}

	canon, err := canonicalizeRaw(signed.Signed)
	if err != nil {
		return Verified{}, errors.AddContext(err, "could not canonicalize signed payload")
	}

	seen := make(map[string]struct{})
	for _, sig := range signed.Signatures {
		if _, authorized := meta.KeyIDs[sig.KeyID]; !authorized {
			continue
		}
		if _, dup := seen[sig.KeyID]; dup {
			continue
		}
		key, ok := keys[sig.KeyID]
		if !ok {
			continue
		}
		if err := verifyOne(key, canon, sig); err == nil {
			seen[sig.KeyID] = struct{}{}
		}
	}
	if uint64(len(seen)) < meta.Threshold {
		return Verified{}, ErrThresholdNotMet
	}

	var data RoleData
	if err := json.Unmarshal(signed.Signed, &data); err != nil {
		return Verified{}, errors.AddContext(err, "could not decode role data")
	}
	if data.Type != string(role) {
		return Verified{}, ErrRoleMismatch
	}
	if !data.Expires.After(time.Now()) {
		return Verified{}, ErrExpired
	}
	if data.Version < meta.Version {
		return Verified{}, ErrVersionRegression
	}

	result := Verified{Role: role, Data: data, OldVer: meta.Version, NewVer: data.Version}
	if data.Version > meta.Version {
		v.mu.Lock()
		// Re-check under the lock in case of a concurrent verifier update;
		// only raise, never lower.
		if cur := v.roles[role]; data.Version > cur.Version {
			cur.Version = data.Version
			v.roles[role] = cur
		}
		v.mu.Unlock()
	}
	return result, nil
}

// canonicalizeRaw canonicalizes an already-encoded JSON payload.
func canonicalizeRaw(raw json.RawMessage) ([]byte, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return CanonicalJSON(generic)
}

// verifyOne checks a single signature against its claimed key. Both key
// types sign the SHA-256 digest of canon (for Ed25519, the digest this
// module's own crypto.SignHash signs).
func verifyOne(key Key, canon []byte, sig Signature) error {
	sigBytes, err := hex.DecodeString(sig.Sig)
	if err != nil {
		return errors.AddContext(err, "could not decode signature hex")
	}
	switch key.KeyType {
	case Ed25519:
		pub, err := hex.DecodeString(key.KeyVal.Public)
		if err != nil {
			return errors.AddContext(err, "could not decode ed25519 public key")
		}
		if len(pub) != ed25519.PublicKeySize {
			return errors.New("malformed ed25519 public key")
		}
		digest := sha256.Sum256(canon)
		if !ed25519.Verify(ed25519.PublicKey(pub), digest[:], sigBytes) {
			return ErrInvalidSignature
		}
		return nil
	case Rsa:
		pub, err := hex.DecodeString(key.KeyVal.Public)
		if err != nil {
			return errors.AddContext(err, "could not decode rsa public key")
		}
		rsaKey, err := parseRSAPublicKeyPKCS1(pub)
		if err != nil {
			return errors.AddContext(err, "could not parse rsa public key")
		}
		digest := sha256.Sum256(canon)
		return rsa.VerifyPSS(rsaKey, crypto.SHA256, digest[:], sigBytes, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256})
	default:
		return ErrUnknownKeyType
	}
}

// ErrInvalidSignature mirrors crypto.ErrInvalidSignature for the ed25519
// path without importing this module's own crypto package, keeping uptane
// dependency-free of the coordinator's other internal packages.
var ErrInvalidSignature = errors.New("invalid signature")
