package driver

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/uplo-tech/errors"

	"github.com/uplo-tech/atomicupdate/crypto"
	"github.com/uplo-tech/atomicupdate/uptane"
)

// EcuManifests is the signed payload put_manifest uploads to the director
// (spec.md §4.8): the Primary's own serial plus one signed version report
// per ECU in the just-completed transaction.
type EcuManifests struct {
	PrimaryEcuSerial    string                       `json:"primary_ecu_serial"`
	EcuVersionManifests map[string]*uptane.TufSigned `json:"ecu_version_manifests"`
}

// PutManifest signs an EcuManifests with sk under keyID and PUTs it to
// <director>/manifest, per spec.md §4.8.
func (c *Client) PutManifest(director, primarySerial string, reports map[string]*uptane.TufSigned, keyID string, sk crypto.SecretKey) error {
	manifests := EcuManifests{
		PrimaryEcuSerial:    primarySerial,
		EcuVersionManifests: reports,
	}
	signed, err := signManifests(manifests, keyID, sk)
	if err != nil {
		return errors.AddContext(err, "could not sign ecu manifests")
	}
	body, err := json.Marshal(signed)
	if err != nil {
		return errors.AddContext(err, "could not encode signed ecu manifests")
	}
	url := strings.TrimRight(director, "/") + "/manifest"
	return c.put(url, body)
}

// signManifests wraps manifests in a TufSigned the way a TUF role document
// is signed: canonicalize, hash, sign with the Primary's key.
func signManifests(manifests EcuManifests, keyID string, sk crypto.SecretKey) (uptane.TufSigned, error) {
	// embed a timestamp so repeated uploads of an identical manifest set
	// still produce distinguishable signed documents.
	wrapped := struct {
		EcuManifests
		Time time.Time `json:"time"`
	}{manifests, time.Now()}

	canon, err := uptane.CanonicalJSON(wrapped)
	if err != nil {
		return uptane.TufSigned{}, errors.AddContext(err, "could not canonicalize manifests")
	}
	hash := crypto.HashBytes(canon)
	sig := crypto.SignHash(hash, sk)
	return uptane.TufSigned{
		Signed: json.RawMessage(canon),
		Signatures: []uptane.Signature{{
			KeyID:   keyID,
			SigType: uptane.Ed25519,
			Sig:     hex.EncodeToString(sig[:]),
		}},
	}, nil
}
