package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// SharedSecretSize is the size of a derived channel key in bytes.
const SharedSecretSize = 32

// SharedSecret derives a symmetric channel key shared between the holder
// of this secret key and the holder of peer's secret key. Both sides
// derive the same key for the same salt.
//
// The ed25519 keys are mapped to X25519 (scalar from the hashed seed,
// point through the birational map), the raw Diffie-Hellman output is
// then expanded with HKDF-SHA256 using the salt.
func (secret SecretKey) SharedSecret(peer PublicKey, salt []byte) ([SharedSecretSize]byte, error) {
	var out [SharedSecretSize]byte

	if len(secret) != ed25519.PrivateKeySize {
		return out, fmt.Errorf("secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(secret))
	}

	scalar := ed25519ScalarBytes(secret)

	point, err := ed25519PointToX25519(peer)
	if err != nil {
		return out, err
	}

	raw, err := curve25519.X25519(scalar, point)
	if err != nil {
		return out, fmt.Errorf("x25519: %w", err)
	}

	kdf := hkdf.New(sha256.New, raw, salt, []byte("hyperchain/v1/shared-secret"))
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		return out, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

// ed25519ScalarBytes derives the clamped X25519 scalar from an ed25519
// private key seed, exactly as ed25519 key generation does internally.
func ed25519ScalarBytes(secret SecretKey) []byte {
	h := sha512.Sum512(secret[:ed25519.SeedSize])
	scalar := make([]byte, curve25519.ScalarSize)
	copy(scalar, h[:curve25519.ScalarSize])
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar
}

// ed25519PointToX25519 converts an ed25519 public key (Edwards point)
// to its X25519 (Montgomery u-coordinate) representation.
func ed25519PointToX25519(pub PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	point, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("invalid edwards point: %w", err)
	}
	return point.BytesMontgomery(), nil
}
