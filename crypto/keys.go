package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// SecretKey wraps ed25519 private key bytes.
type SecretKey []byte

// PublicKey wraps ed25519 public key bytes.
type PublicKey []byte

// GenerateKeyPair generates a new ed25519 key pair.
func GenerateKeyPair() (SecretKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return SecretKey(priv), PublicKey(pub), nil
}

// RandomSecretKey generates a fresh secret key, panicking on entropy
// failure. Intended for tests and key generation tooling.
func RandomSecretKey() SecretKey {
	secret, _, err := GenerateKeyPair()
	if err != nil {
		panic(fmt.Sprintf("generate key pair: %v", err))
	}
	return secret
}

// RandomSeed returns a uniformly random uint64 from the system's CSPRNG.
func RandomSeed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("read random seed: %v", err))
	}
	return binary.BigEndian.Uint64(buf[:])
}

// Public derives the ed25519 public key from the secret key.
func (secret SecretKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(secret).Public().(ed25519.PublicKey))
}

// Base64 returns the unpadded Base64 form of the secret key.
func (secret SecretKey) Base64() string {
	return EncodeBase64(secret)
}

// SecretKeyFromBase64 decodes a Base64-encoded secret key.
func SecretKeyFromBase64(s string) (SecretKey, error) {
	raw, err := DecodeBase64(s)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key base64: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return SecretKey(raw), nil
}

// Bytes returns a copy of the raw public key bytes.
func (pub PublicKey) Bytes() []byte {
	out := make([]byte, len(pub))
	copy(out, pub)
	return out
}

// Base64 returns the unpadded Base64 form of the public key.
func (pub PublicKey) Base64() string {
	return EncodeBase64(pub)
}

func (pub PublicKey) String() string {
	return pub.Base64()
}

// Equal reports whether two public keys are the same key.
func (pub PublicKey) Equal(other PublicKey) bool {
	return string(pub) == string(other)
}

// PublicKeyFromBase64 decodes a Base64-encoded public key.
func PublicKeyFromBase64(s string) (PublicKey, error) {
	raw, err := DecodeBase64(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public key base64: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return PublicKey(raw), nil
}
