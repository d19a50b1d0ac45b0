package core

import (
	"errors"

	"github.com/hyperchain-net/hyperchain/crypto"
)

// ErrMissingBody is returned when a transaction is signed without a body.
var ErrMissingBody = errors.New("transaction body is not set")

// TransactionBuilder accumulates transaction fields. Sign finalizes the
// hash and signature atomically and yields the immutable Transaction.
type TransactionBuilder struct {
	randomSeed uint64
	createdAt  uint64
	body       TransactionBody
}

// NewTransactionBuilder creates a builder with a fresh random seed and
// the current UTC timestamp.
func NewTransactionBuilder() *TransactionBuilder {
	return &TransactionBuilder{
		randomSeed: crypto.RandomSeed(),
		createdAt:  Timestamp(),
	}
}

// WithRandomSeed overrides the uniqueness seed.
func (b *TransactionBuilder) WithRandomSeed(seed uint64) *TransactionBuilder {
	b.randomSeed = seed
	return b
}

// WithCreatedAt overrides the creation timestamp (UTC seconds).
func (b *TransactionBuilder) WithCreatedAt(createdAt uint64) *TransactionBuilder {
	b.createdAt = createdAt
	return b
}

// WithBody sets the transaction's payload.
func (b *TransactionBuilder) WithBody(body TransactionBody) *TransactionBuilder {
	b.body = body
	return b
}

// Sign finalizes the transaction: the author is derived from secret, the
// hash is computed over the accumulated fields and signed.
func (b *TransactionBuilder) Sign(secret crypto.SecretKey) (*Transaction, error) {
	if b.body == nil {
		return nil, ErrMissingBody
	}

	tx := &Transaction{
		randomSeed: b.randomSeed,
		createdAt:  b.createdAt,
		author:     secret.Public(),
		body:       b.body,
	}

	tx.hash = tx.CalcHash()
	tx.sign = crypto.Sign(secret, tx.hash[:])

	return tx, nil
}
