package crypto

import (
	"crypto/ed25519"
	"fmt"
)

// Sign signs data with the secret key and returns the raw signature bytes.
func Sign(secret SecretKey, data []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(secret), data)
}

// Verify checks a signature against data using the public key.
// An invalid signature is reported as (false, nil); a malformed key is
// an error so callers can distinguish bad input from a failed check.
func Verify(pub PublicKey, data, sig []byte) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}
