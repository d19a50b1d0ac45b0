// Package wallet provides key management and transaction-building
// helpers on top of the core builders.
package wallet

import (
	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/transport"
)

// Wallet holds a key pair and builds signed transactions.
type Wallet struct {
	secret crypto.SecretKey
	pub    crypto.PublicKey
}

// New creates a Wallet from an existing secret key.
func New(secret crypto.SecretKey) *Wallet {
	return &Wallet{secret: secret, pub: secret.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	secret, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Wallet{secret: secret, pub: pub}, nil
}

// Secret returns the raw secret key (handle with care).
func (w *Wallet) Secret() crypto.SecretKey {
	return w.secret
}

// PublicKey returns the wallet's public key.
func (w *Wallet) PublicKey() crypto.PublicKey {
	return w.pub
}

// NewRaw builds a signed transaction with an opaque payload.
func (w *Wallet) NewRaw(payload []byte) (*core.Transaction, error) {
	return core.NewTransactionBuilder().
		WithBody(core.RawBody{Data: payload}).
		Sign(w.secret)
}

// NewMessage builds a signed directed message transaction. The content
// is Base64 encoded per the default body encoding.
func (w *Wallet) NewMessage(to crypto.PublicKey, content []byte) (*core.Transaction, error) {
	return core.NewTransactionBuilder().
		WithBody(core.MessageBody{
			From:    w.pub,
			To:      to,
			Format:  core.DefaultEncoding,
			Content: crypto.EncodeBase64(content),
		}).
		Sign(w.secret)
}

// NewAnnouncement builds a signed announcement transaction. The content
// runs through the given encoding pipeline keyed by a self-shared
// secret with the provided salt.
func (w *Wallet) NewAnnouncement(content []byte, encoding transport.MessageEncoding, level transport.CompressionLevel, salt []byte) (*core.Transaction, error) {
	shared, err := w.secret.SharedSecret(w.pub, salt)
	if err != nil {
		return nil, err
	}
	encoded, err := encoding.Forward(content, shared, level)
	if err != nil {
		return nil, err
	}
	return core.NewTransactionBuilder().
		WithBody(core.AnnouncementBody{
			From:    w.pub,
			Format:  core.Encoding(encoding.String()),
			Content: encoded,
		}).
		Sign(w.secret)
}
