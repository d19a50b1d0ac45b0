// Package crypto wraps the hashing and signing primitives used by the
// rest of the module: 256-bit content digests, ed25519 key pairs and
// X25519 shared secrets for encoding channels.
package crypto

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the size of a content digest in bytes.
const HashSize = 32

// Hash is a 256-bit content digest. Textual form is unpadded Base64.
type Hash [HashSize]byte

// MinHash is the minimal possible hash value (all zeros).
var MinHash = Hash{}

// MaxHash is the maximal possible hash value (all ones).
var MaxHash = func() Hash {
	var h Hash
	for i := range h {
		h[i] = 0xff
	}
	return h
}()

// HashSlice returns the BLAKE2b-256 digest of data.
func HashSlice(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// Equal reports whether h and other are the same digest.
// Comparison runs in constant time.
func (h Hash) Equal(other Hash) bool {
	return subtle.ConstantTimeCompare(h[:], other[:]) == 1
}

// Compare orders hashes lexicographically on their raw bytes.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// Bytes returns a copy of the raw digest bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// Base64 returns the unpadded Base64 form of the hash.
func (h Hash) Base64() string {
	return EncodeBase64(h[:])
}

func (h Hash) String() string {
	return h.Base64()
}

// HashFromBase64 decodes a hash from its Base64 textual form.
func HashFromBase64(s string) (Hash, error) {
	raw, err := DecodeBase64(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != HashSize {
		return Hash{}, fmt.Errorf("invalid hash length: %d bytes expected, got %d", HashSize, len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

// EncodeBase64 encodes data as unpadded standard Base64.
func EncodeBase64(data []byte) string {
	return base64.RawStdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes standard Base64, with or without padding.
func DecodeBase64(s string) ([]byte, error) {
	if raw, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
