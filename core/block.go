package core

import (
	"encoding/binary"
	"encoding/json"

	"golang.org/x/crypto/blake2b"

	"github.com/hyperchain-net/hyperchain/crypto"
)

// BlockValidationKind classifies the outcome of Block.Validate.
type BlockValidationKind int

const (
	BlockValid BlockValidationKind = iota
	BlockInvalidCreationTime
	BlockInvalidHash
	BlockInvalidSign
	BlockInvalidTransaction
)

// BlockValidation is the structured result of validating a block,
// including the recursive validation of its transactions.
type BlockValidation struct {
	Kind BlockValidationKind

	// InvalidCreationTime
	CreatedAt uint64

	// InvalidHash
	Stored     crypto.Hash
	Calculated crypto.Hash

	// InvalidSign
	Hash crypto.Hash
	Sign []byte

	// InvalidTransaction
	Transaction crypto.Hash
	Reason      TransactionValidation
}

// IsValid reports whether the block passed every check.
func (v BlockValidation) IsValid() bool {
	return v.Kind == BlockValid
}

// Block is an ordered list of transactions chained to its predecessor
// and signed by an authority. Once signed it is immutable.
type Block struct {
	// Header
	previousBlock *crypto.Hash
	hash          crypto.Hash
	number        uint64

	// Metadata
	randomSeed uint64
	createdAt  uint64

	// Body
	transactions []*Transaction
	minters      []BlockMinter
	validator    crypto.PublicKey
	sign         []byte
}

// PreviousBlock returns the hash of the previous block, or (zero, false)
// for the root block.
func (b *Block) PreviousBlock() (crypto.Hash, bool) {
	if b.previousBlock == nil {
		return crypto.Hash{}, false
	}
	return *b.previousBlock, true
}

// IsRoot reports whether the block has no predecessor.
func (b *Block) IsRoot() bool { return b.previousBlock == nil }

// Hash returns the stored block hash. The value is not validated here;
// use Validate to confirm it matches the content.
func (b *Block) Hash() crypto.Hash { return b.hash }

// Number returns the position of the block in the chain.
func (b *Block) Number() uint64 { return b.number }

// RandomSeed returns the uniqueness seed mixed into the hash.
func (b *Block) RandomSeed() uint64 { return b.randomSeed }

// CreatedAt returns the UTC creation time in seconds.
func (b *Block) CreatedAt() uint64 { return b.createdAt }

// Transactions returns the block's transactions as a shared read-only slice.
func (b *Block) Transactions() []*Transaction { return b.transactions }

// Minters returns the block's minter records.
func (b *Block) Minters() []BlockMinter { return b.minters }

// Validator returns the public key of the block's signer.
func (b *Block) Validator() crypto.PublicKey { return b.validator }

// Sign returns the signature over the block hash.
func (b *Block) Sign() []byte { return b.sign }

// CalcHash computes the content digest of the block:
// H(previous? ‖ number ‖ random_seed ‖ created_at ‖ transaction hashes ‖
// minter hashes), integers big-endian.
func (b *Block) CalcHash() crypto.Hash {
	hasher, _ := blake2b.New256(nil)

	if b.previousBlock != nil {
		hasher.Write(b.previousBlock[:])
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], b.number)
	hasher.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], b.randomSeed)
	hasher.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], b.createdAt)
	hasher.Write(buf[:])

	for _, tx := range b.transactions {
		hash := tx.Hash()
		hasher.Write(hash[:])
	}
	for _, minter := range b.minters {
		hash := minter.Hash()
		hasher.Write(hash[:])
	}

	var h crypto.Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// Validate checks the creation time, the stored hash, the validator
// signature and every contained transaction. Invariant violations come
// back in the result; a failure to run a signature check itself is
// returned as an error.
func (b *Block) Validate() (BlockValidation, error) {
	if b.createdAt > maxTimestamp() {
		return BlockValidation{
			Kind:      BlockInvalidCreationTime,
			CreatedAt: b.createdAt,
		}, nil
	}

	calculated := b.CalcHash()
	if !b.hash.Equal(calculated) {
		return BlockValidation{
			Kind:       BlockInvalidHash,
			Stored:     b.hash,
			Calculated: calculated,
		}, nil
	}

	ok, err := crypto.Verify(b.validator, b.hash[:], b.sign)
	if err != nil {
		return BlockValidation{}, err
	}
	if !ok {
		return BlockValidation{
			Kind: BlockInvalidSign,
			Hash: b.hash,
			Sign: b.sign,
		}, nil
	}

	for _, tx := range b.transactions {
		result, err := tx.Validate()
		if err != nil {
			return BlockValidation{}, err
		}
		if !result.IsValid() {
			return BlockValidation{
				Kind:        BlockInvalidTransaction,
				Transaction: tx.Hash(),
				Reason:      result,
			}, nil
		}
	}

	return BlockValidation{Kind: BlockValid}, nil
}

// Equal reports whether two blocks carry identical content.
func (b *Block) Equal(other *Block) bool {
	if b == nil || other == nil {
		return b == other
	}
	if !b.hash.Equal(other.hash) || b.number != other.number ||
		b.randomSeed != other.randomSeed || b.createdAt != other.createdAt ||
		!b.validator.Equal(other.validator) || string(b.sign) != string(other.sign) {
		return false
	}
	if (b.previousBlock == nil) != (other.previousBlock == nil) {
		return false
	}
	if b.previousBlock != nil && !b.previousBlock.Equal(*other.previousBlock) {
		return false
	}
	if len(b.transactions) != len(other.transactions) || len(b.minters) != len(other.minters) {
		return false
	}
	for i := range b.transactions {
		if !b.transactions[i].Equal(other.transactions[i]) {
			return false
		}
	}
	for i := range b.minters {
		if !b.minters[i].Hash().Equal(other.minters[i].Hash()) {
			return false
		}
	}
	return true
}

// ---- wire form ----

type blockMetadataJSON struct {
	RandomSeed uint64 `json:"random_seed"`
	CreatedAt  uint64 `json:"created_at"`
}

type blockContentJSON struct {
	Transactions []json.RawMessage `json:"transactions"`
	Minters      []minterJSON      `json:"minters"`
	Validator    string            `json:"validator"`
	Sign         string            `json:"sign"`
}

type blockInnerJSON struct {
	Previous *string           `json:"previous"`
	Hash     string            `json:"hash"`
	Number   uint64            `json:"number"`
	Metadata blockMetadataJSON `json:"metadata"`
	Content  blockContentJSON  `json:"content"`
}

type blockJSON struct {
	Format uint64         `json:"format"`
	Block  blockInnerJSON `json:"block"`
}

// MarshalJSON renders the block in its versioned wire form.
func (b *Block) MarshalJSON() ([]byte, error) {
	var previous *string
	if b.previousBlock != nil {
		encoded := b.previousBlock.Base64()
		previous = &encoded
	}

	transactions := make([]json.RawMessage, 0, len(b.transactions))
	for _, tx := range b.transactions {
		raw, err := json.Marshal(tx)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, raw)
	}

	minters := make([]minterJSON, 0, len(b.minters))
	for _, m := range b.minters {
		minters = append(minters, marshalMinter(m))
	}

	return json.Marshal(blockJSON{
		Format: WireFormat,
		Block: blockInnerJSON{
			Previous: previous,
			Hash:     b.hash.Base64(),
			Number:   b.number,
			Metadata: blockMetadataJSON{
				RandomSeed: b.randomSeed,
				CreatedAt:  b.createdAt,
			},
			Content: blockContentJSON{
				Transactions: transactions,
				Minters:      minters,
				Validator:    b.validator.Base64(),
				Sign:         crypto.EncodeBase64(b.sign),
			},
		},
	})
}

// UnmarshalJSON decodes the versioned wire form, rejecting unknown
// format versions.
func (b *Block) UnmarshalJSON(data []byte) error {
	var wire blockJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Format != WireFormat {
		return &InvalidStandardError{Format: wire.Format}
	}

	var previous *crypto.Hash
	if wire.Block.Previous != nil {
		hash, err := crypto.HashFromBase64(*wire.Block.Previous)
		if err != nil {
			return &FieldError{Field: "block.previous", Err: err}
		}
		previous = &hash
	}

	hash, err := crypto.HashFromBase64(wire.Block.Hash)
	if err != nil {
		return &FieldError{Field: "block.hash", Err: err}
	}
	validator, err := crypto.PublicKeyFromBase64(wire.Block.Content.Validator)
	if err != nil {
		return &FieldError{Field: "block.content.validator", Err: err}
	}
	sign, err := crypto.DecodeBase64(wire.Block.Content.Sign)
	if err != nil {
		return &FieldError{Field: "block.content.sign", Err: err}
	}

	transactions := make([]*Transaction, 0, len(wire.Block.Content.Transactions))
	for _, raw := range wire.Block.Content.Transactions {
		tx := new(Transaction)
		if err := json.Unmarshal(raw, tx); err != nil {
			return &FieldError{Field: "block.content.transactions", Err: err}
		}
		transactions = append(transactions, tx)
	}

	minters := make([]BlockMinter, 0, len(wire.Block.Content.Minters))
	for _, rawMinter := range wire.Block.Content.Minters {
		m, err := unmarshalMinter(rawMinter)
		if err != nil {
			return &FieldError{Field: "block.content.minters", Err: err}
		}
		minters = append(minters, m)
	}

	b.previousBlock = previous
	b.hash = hash
	b.number = wire.Block.Number
	b.randomSeed = wire.Block.Metadata.RandomSeed
	b.createdAt = wire.Block.Metadata.CreatedAt
	b.transactions = transactions
	b.minters = minters
	b.validator = validator
	b.sign = sign
	return nil
}
