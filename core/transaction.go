package core

import (
	"encoding/binary"
	"encoding/json"

	"golang.org/x/crypto/blake2b"

	"github.com/hyperchain-net/hyperchain/crypto"
)

// TransactionValidationKind classifies the outcome of Transaction.Validate.
type TransactionValidationKind int

const (
	TransactionValid TransactionValidationKind = iota
	TransactionInvalidCreationTime
	TransactionInvalidHash
	TransactionInvalidSign
)

// TransactionValidation is the structured result of validating a
// transaction. Invariant violations are reported here, never as errors.
type TransactionValidation struct {
	Kind TransactionValidationKind

	// InvalidCreationTime
	CreatedAt uint64

	// InvalidHash
	Stored     crypto.Hash
	Calculated crypto.Hash

	// InvalidSign
	Hash crypto.Hash
	Sign []byte
}

// IsValid reports whether the transaction passed every check.
func (v TransactionValidation) IsValid() bool {
	return v.Kind == TransactionValid
}

// Transaction is the atomic unit of content distributed through a shard.
// Once signed it is immutable; all fields are reachable through getters.
type Transaction struct {
	// Header
	hash crypto.Hash

	// Metadata
	randomSeed uint64
	createdAt  uint64

	// Body
	author crypto.PublicKey
	body   TransactionBody
	sign   []byte
}

// Hash returns the stored transaction hash. The value is not validated
// here; use Validate to confirm it matches the content.
func (tx *Transaction) Hash() crypto.Hash { return tx.hash }

// RandomSeed returns the uniqueness seed mixed into the hash.
func (tx *Transaction) RandomSeed() uint64 { return tx.randomSeed }

// CreatedAt returns the UTC creation time in seconds.
func (tx *Transaction) CreatedAt() uint64 { return tx.createdAt }

// Author returns the public key of the transaction's signer.
func (tx *Transaction) Author() crypto.PublicKey { return tx.author }

// Body returns the transaction's payload.
func (tx *Transaction) Body() TransactionBody { return tx.body }

// Sign returns the signature over the transaction hash.
func (tx *Transaction) Sign() []byte { return tx.sign }

// CalcHash computes the content digest of the transaction:
// H(random_seed ‖ author ‖ body hash), integers big-endian.
func (tx *Transaction) CalcHash() crypto.Hash {
	hasher, _ := blake2b.New256(nil)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], tx.randomSeed)
	hasher.Write(buf[:])

	hasher.Write(tx.author)

	bodyHash := tx.body.Hash()
	hasher.Write(bodyHash[:])

	var h crypto.Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// Validate checks the creation time, the stored hash and the signature.
// Invariant violations come back in the result; a failure to run the
// signature check itself is returned as an error.
func (tx *Transaction) Validate() (TransactionValidation, error) {
	if tx.createdAt > maxTimestamp() {
		return TransactionValidation{
			Kind:      TransactionInvalidCreationTime,
			CreatedAt: tx.createdAt,
		}, nil
	}

	calculated := tx.CalcHash()
	if !tx.hash.Equal(calculated) {
		return TransactionValidation{
			Kind:       TransactionInvalidHash,
			Stored:     tx.hash,
			Calculated: calculated,
		}, nil
	}

	ok, err := crypto.Verify(tx.author, tx.hash[:], tx.sign)
	if err != nil {
		return TransactionValidation{}, err
	}
	if !ok {
		return TransactionValidation{
			Kind: TransactionInvalidSign,
			Hash: tx.hash,
			Sign: tx.sign,
		}, nil
	}

	return TransactionValidation{Kind: TransactionValid}, nil
}

// Equal reports whether two transactions carry identical content.
func (tx *Transaction) Equal(other *Transaction) bool {
	if tx == nil || other == nil {
		return tx == other
	}
	return tx.hash.Equal(other.hash) &&
		tx.randomSeed == other.randomSeed &&
		tx.createdAt == other.createdAt &&
		tx.author.Equal(other.author) &&
		tx.body.Hash().Equal(other.body.Hash()) &&
		string(tx.sign) == string(other.sign)
}

// ---- wire form ----

type transactionMetadataJSON struct {
	RandomSeed uint64 `json:"random_seed"`
	CreatedAt  uint64 `json:"created_at"`
}

type transactionContentJSON struct {
	Author string   `json:"author"`
	Body   bodyJSON `json:"body"`
	Sign   string   `json:"sign"`
}

type transactionInnerJSON struct {
	Hash     string                  `json:"hash"`
	Metadata transactionMetadataJSON `json:"metadata"`
	Content  transactionContentJSON  `json:"content"`
}

type transactionJSON struct {
	Format      uint64               `json:"format"`
	Transaction transactionInnerJSON `json:"transaction"`
}

// MarshalJSON renders the transaction in its versioned wire form.
func (tx *Transaction) MarshalJSON() ([]byte, error) {
	body, err := marshalBody(tx.body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(transactionJSON{
		Format: WireFormat,
		Transaction: transactionInnerJSON{
			Hash: tx.hash.Base64(),
			Metadata: transactionMetadataJSON{
				RandomSeed: tx.randomSeed,
				CreatedAt:  tx.createdAt,
			},
			Content: transactionContentJSON{
				Author: tx.author.Base64(),
				Body:   body,
				Sign:   crypto.EncodeBase64(tx.sign),
			},
		},
	})
}

// UnmarshalJSON decodes the versioned wire form, rejecting unknown
// format versions.
func (tx *Transaction) UnmarshalJSON(data []byte) error {
	var wire transactionJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Format != WireFormat {
		return &InvalidStandardError{Format: wire.Format}
	}

	hash, err := crypto.HashFromBase64(wire.Transaction.Hash)
	if err != nil {
		return &FieldError{Field: "transaction.hash", Err: err}
	}
	author, err := crypto.PublicKeyFromBase64(wire.Transaction.Content.Author)
	if err != nil {
		return &FieldError{Field: "transaction.content.author", Err: err}
	}
	body, err := unmarshalBody(wire.Transaction.Content.Body)
	if err != nil {
		return &FieldError{Field: "transaction.content.body", Err: err}
	}
	sign, err := crypto.DecodeBase64(wire.Transaction.Content.Sign)
	if err != nil {
		return &FieldError{Field: "transaction.content.sign", Err: err}
	}

	tx.hash = hash
	tx.randomSeed = wire.Transaction.Metadata.RandomSeed
	tx.createdAt = wire.Transaction.Metadata.CreatedAt
	tx.author = author
	tx.body = body
	tx.sign = sign
	return nil
}
