package uptane

import (
	"crypto/rsa"
	"crypto/x509"

	"github.com/uplo-tech/errors"
)

// parseRSAPublicKeyPKCS1 decodes a DER-encoded PKCS#1 RSA public key, the
// same encoding real-world Uptane RSA keys are shipped in (a hex-encoded
// DER blob inside keyval.public).
func parseRSAPublicKeyPKCS1(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, errors.AddContext(err, "could not parse PKCS1 public key")
	}
	return pub, nil
}
