package core

import (
	"encoding/json"

	"golang.org/x/crypto/blake2b"

	"github.com/hyperchain-net/hyperchain/crypto"
)

// TransactionType labels the kind of payload a transaction carries.
type TransactionType string

const (
	TypeRaw          TransactionType = "raw"
	TypeMessage      TransactionType = "message"
	TypeAnnouncement TransactionType = "announcement"
)

// Encoding is the textual label of the message encoding pipeline applied
// to a body's content (e.g. "base64" or "base64/deflate"). The transport
// package knows how to run these pipelines.
type Encoding string

// DefaultEncoding is plain unpadded Base64.
const DefaultEncoding Encoding = "base64"

// TransactionBody is the sum type of transaction payloads: Raw, Message
// and Announcement. Implementations are immutable value types.
type TransactionBody interface {
	// BodyType returns the wire discriminator of the body.
	BodyType() TransactionType

	// Hash returns the content digest of the body.
	Hash() crypto.Hash
}

// RawBody is an opaque payload, hashed solely over its bytes.
type RawBody struct {
	Data []byte
}

func (RawBody) BodyType() TransactionType { return TypeRaw }

func (b RawBody) Hash() crypto.Hash {
	return crypto.HashSlice(b.Data)
}

// MessageBody is a directed payload from one member to another.
// Content is already encoded according to Format.
type MessageBody struct {
	From    crypto.PublicKey
	To      crypto.PublicKey
	Format  Encoding
	Content string
}

func (MessageBody) BodyType() TransactionType { return TypeMessage }

func (b MessageBody) Hash() crypto.Hash {
	hasher, _ := blake2b.New256(nil)
	hasher.Write(b.From)
	hasher.Write(b.To)
	hasher.Write([]byte(b.Format))
	hasher.Write([]byte(b.Content))
	var h crypto.Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// AnnouncementBody is an undirected payload readable by every member.
// Content is already encoded according to Format.
type AnnouncementBody struct {
	From    crypto.PublicKey
	Format  Encoding
	Content string
}

func (AnnouncementBody) BodyType() TransactionType { return TypeAnnouncement }

func (b AnnouncementBody) Hash() crypto.Hash {
	hasher, _ := blake2b.New256(nil)
	hasher.Write(b.From)
	hasher.Write([]byte(b.Format))
	hasher.Write([]byte(b.Content))
	var h crypto.Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// ---- wire form ----

type bodyJSON struct {
	Type TransactionType `json:"type"`
	Body json.RawMessage `json:"body"`
}

type messageBodyJSON struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

type announcementBodyJSON struct {
	From    string `json:"from"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

func marshalBody(body TransactionBody) (bodyJSON, error) {
	var inner any
	switch b := body.(type) {
	case RawBody:
		inner = crypto.EncodeBase64(b.Data)
	case MessageBody:
		inner = messageBodyJSON{
			From:    b.From.Base64(),
			To:      b.To.Base64(),
			Format:  string(b.Format),
			Content: b.Content,
		}
	case AnnouncementBody:
		inner = announcementBodyJSON{
			From:    b.From.Base64(),
			Format:  string(b.Format),
			Content: b.Content,
		}
	default:
		return bodyJSON{}, &FieldError{Field: "body.type"}
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return bodyJSON{}, err
	}
	return bodyJSON{Type: body.BodyType(), Body: raw}, nil
}

func unmarshalBody(wire bodyJSON) (TransactionBody, error) {
	switch wire.Type {
	case TypeRaw:
		var encoded string
		if err := json.Unmarshal(wire.Body, &encoded); err != nil {
			return nil, &FieldError{Field: "body", Err: err}
		}
		data, err := crypto.DecodeBase64(encoded)
		if err != nil {
			return nil, &FieldError{Field: "body", Err: err}
		}
		return RawBody{Data: data}, nil

	case TypeMessage:
		var m messageBodyJSON
		if err := json.Unmarshal(wire.Body, &m); err != nil {
			return nil, &FieldError{Field: "body", Err: err}
		}
		from, err := crypto.PublicKeyFromBase64(m.From)
		if err != nil {
			return nil, &FieldError{Field: "body.from", Err: err}
		}
		to, err := crypto.PublicKeyFromBase64(m.To)
		if err != nil {
			return nil, &FieldError{Field: "body.to", Err: err}
		}
		return MessageBody{From: from, To: to, Format: Encoding(m.Format), Content: m.Content}, nil

	case TypeAnnouncement:
		var a announcementBodyJSON
		if err := json.Unmarshal(wire.Body, &a); err != nil {
			return nil, &FieldError{Field: "body", Err: err}
		}
		from, err := crypto.PublicKeyFromBase64(a.From)
		if err != nil {
			return nil, &FieldError{Field: "body.from", Err: err}
		}
		return AnnouncementBody{From: from, Format: Encoding(a.Format), Content: a.Content}, nil

	default:
		return nil, &FieldError{Field: "type"}
	}
}
