package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hyperchain-net/hyperchain/crypto"
)

// Message is the authenticated envelope carried by a transport. The
// payload runs through the declared encoding pipeline; the signature
// covers the digest of the decoded content and is bound to the sender's
// key. The message id doubles as the shared-secret salt, so every
// envelope encrypts under a fresh key.
type Message struct {
	ID       string
	Sender   crypto.PublicKey
	Encoding MessageEncoding
	Payload  string
	Sign     []byte
}

// NewMessage builds an envelope from secret to recipient carrying data.
func NewMessage(
	secret crypto.SecretKey,
	recipient crypto.PublicKey,
	data []byte,
	encoding MessageEncoding,
	level CompressionLevel,
) (*Message, error) {
	id := uuid.NewString()

	shared, err := secret.SharedSecret(recipient, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("derive channel key: %w", err)
	}

	payload, err := encoding.Forward(data, shared, level)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	digest := crypto.HashSlice(data)

	return &Message{
		ID:       id,
		Sender:   secret.Public(),
		Encoding: encoding,
		Payload:  payload,
		Sign:     crypto.Sign(secret, digest[:]),
	}, nil
}

// Read decodes the payload using the recipient's secret key and the
// sender's public key, and verifies the sender's signature.
func (m *Message) Read(secret crypto.SecretKey, sender crypto.PublicKey) ([]byte, error) {
	shared, err := secret.SharedSecret(sender, []byte(m.ID))
	if err != nil {
		return nil, fmt.Errorf("derive channel key: %w", err)
	}

	data, err := m.Encoding.Backward(m.Payload, shared)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	digest := crypto.HashSlice(data)
	ok, err := crypto.Verify(sender, digest[:], m.Sign)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("envelope signature verification failed")
	}
	return data, nil
}

// ---- wire form ----

type messageJSON struct {
	ID       string `json:"id"`
	Sender   string `json:"sender"`
	Encoding string `json:"encoding"`
	Payload  string `json:"payload"`
	Sign     string `json:"sign"`
}

// MarshalJSON renders the envelope for transports that frame JSON.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		ID:       m.ID,
		Sender:   m.Sender.Base64(),
		Encoding: m.Encoding.String(),
		Payload:  m.Payload,
		Sign:     crypto.EncodeBase64(m.Sign),
	})
}

// UnmarshalJSON decodes a framed envelope.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	sender, err := crypto.PublicKeyFromBase64(wire.Sender)
	if err != nil {
		return fmt.Errorf("envelope sender: %w", err)
	}
	encoding, err := ParseMessageEncoding(wire.Encoding)
	if err != nil {
		return fmt.Errorf("envelope encoding: %w", err)
	}
	sign, err := crypto.DecodeBase64(wire.Sign)
	if err != nil {
		return fmt.Errorf("envelope sign: %w", err)
	}

	m.ID = wire.ID
	m.Sender = sender
	m.Encoding = encoding
	m.Payload = wire.Payload
	m.Sign = sign
	return nil
}
