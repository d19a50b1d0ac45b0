package transport

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/hyperchain-net/hyperchain/crypto"
)

// Encoding is the outermost textual encoding of a message payload.
type Encoding string

const (
	EncodingBase64 Encoding = "base64"
)

// Encryption is the symmetric cipher applied to a payload.
type Encryption string

const (
	EncryptionNone      Encryption = "none"
	EncryptionSecretbox Encryption = "secretbox"
)

// Compression is the compression algorithm applied to a payload.
type Compression string

const (
	CompressionNone    Compression = "none"
	CompressionDeflate Compression = "deflate"
)

// CompressionLevel selects the speed/size trade-off.
type CompressionLevel int

const (
	CompressionFast CompressionLevel = iota
	CompressionBalanced
	CompressionQuality
)

func (l CompressionLevel) flateLevel() int {
	switch l {
	case CompressionFast:
		return flate.BestSpeed
	case CompressionQuality:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

// MessageEncoding describes the full payload pipeline: compression,
// then encryption, then textual encoding. Its textual form joins the
// non-trivial components with "/", e.g. "base64" or
// "base64/secretbox/deflate".
type MessageEncoding struct {
	Encoding    Encoding
	Encryption  Encryption
	Compression Compression
}

// DefaultMessageEncoding is plain Base64 without encryption, deflated.
var DefaultMessageEncoding = MessageEncoding{
	Encoding:    EncodingBase64,
	Encryption:  EncryptionNone,
	Compression: CompressionDeflate,
}

func (e MessageEncoding) String() string {
	parts := []string{string(e.Encoding)}
	if e.Encryption != EncryptionNone && e.Encryption != "" {
		parts = append(parts, string(e.Encryption))
	}
	if e.Compression != CompressionNone && e.Compression != "" {
		parts = append(parts, string(e.Compression))
	}
	return strings.Join(parts, "/")
}

// ParseMessageEncoding parses the textual pipeline form.
func ParseMessageEncoding(s string) (MessageEncoding, error) {
	encoding := MessageEncoding{
		Encryption:  EncryptionNone,
		Compression: CompressionNone,
	}

	parts := strings.Split(s, "/")
	if len(parts) == 0 || parts[0] == "" {
		return encoding, errors.New("empty message encoding")
	}

	switch Encoding(parts[0]) {
	case EncodingBase64:
		encoding.Encoding = EncodingBase64
	default:
		return encoding, fmt.Errorf("unknown encoding %q", parts[0])
	}

	for _, part := range parts[1:] {
		switch {
		case part == string(EncryptionSecretbox):
			encoding.Encryption = EncryptionSecretbox
		case part == string(CompressionDeflate):
			encoding.Compression = CompressionDeflate
		default:
			return encoding, fmt.Errorf("unknown encoding component %q", part)
		}
	}
	return encoding, nil
}

// Forward runs data through the pipeline: compress, encrypt, encode.
// The secret is only used when the pipeline encrypts.
func (e MessageEncoding) Forward(data []byte, secret [crypto.SharedSecretSize]byte, level CompressionLevel) (string, error) {
	out := data

	if e.Compression == CompressionDeflate {
		var buf bytes.Buffer
		writer, err := flate.NewWriter(&buf, level.flateLevel())
		if err != nil {
			return "", fmt.Errorf("deflate init: %w", err)
		}
		if _, err := writer.Write(out); err != nil {
			return "", fmt.Errorf("deflate: %w", err)
		}
		if err := writer.Close(); err != nil {
			return "", fmt.Errorf("deflate close: %w", err)
		}
		out = buf.Bytes()
	}

	if e.Encryption == EncryptionSecretbox {
		var nonce [24]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return "", fmt.Errorf("nonce: %w", err)
		}
		key := [32]byte(secret)
		out = secretbox.Seal(nonce[:], out, &nonce, &key)
	}

	return crypto.EncodeBase64(out), nil
}

// Backward reverses the pipeline: decode, decrypt, decompress.
func (e MessageEncoding) Backward(payload string, secret [crypto.SharedSecretSize]byte) ([]byte, error) {
	out, err := crypto.DecodeBase64(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	if e.Encryption == EncryptionSecretbox {
		if len(out) < 24 {
			return nil, errors.New("payload shorter than nonce")
		}
		var nonce [24]byte
		copy(nonce[:], out[:24])
		key := [32]byte(secret)
		opened, ok := secretbox.Open(nil, out[24:], &nonce, &key)
		if !ok {
			return nil, errors.New("payload decryption failed")
		}
		out = opened
	}

	if e.Compression == CompressionDeflate {
		reader := flate.NewReader(bytes.NewReader(out))
		inflated, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("inflate: %w", err)
		}
		if err := reader.Close(); err != nil {
			return nil, err
		}
		out = inflated
	}

	return out, nil
}
