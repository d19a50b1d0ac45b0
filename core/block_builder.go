package core

import (
	"github.com/hyperchain-net/hyperchain/crypto"
)

// BlockBuilder accumulates block fields. Sign finalizes the hash and
// signature atomically and yields the immutable Block.
type BlockBuilder struct {
	previousBlock *crypto.Hash
	number        uint64

	randomSeed uint64
	createdAt  uint64

	transactions []*Transaction
	minters      []BlockMinter
}

// NewBlockBuilder creates a builder for a root block (number 0, no
// predecessor) with a fresh random seed and the current UTC timestamp.
// Use Chained to continue an existing chain.
func NewBlockBuilder() *BlockBuilder {
	return &BlockBuilder{
		randomSeed: crypto.RandomSeed(),
		createdAt:  Timestamp(),
	}
}

// Chained creates a builder referencing previous, with number set to
// previous.Number()+1.
func Chained(previous *Block) *BlockBuilder {
	return NewBlockBuilder().
		WithPrevious(previous.Hash()).
		WithNumber(previous.Number() + 1)
}

// WithPrevious sets the reference to the previous block.
func (b *BlockBuilder) WithPrevious(hash crypto.Hash) *BlockBuilder {
	b.previousBlock = &hash
	return b
}

// WithNumber sets the block's number.
func (b *BlockBuilder) WithNumber(number uint64) *BlockBuilder {
	b.number = number
	return b
}

// WithRandomSeed overrides the uniqueness seed.
func (b *BlockBuilder) WithRandomSeed(seed uint64) *BlockBuilder {
	b.randomSeed = seed
	return b
}

// WithCreatedAt overrides the creation timestamp (UTC seconds).
func (b *BlockBuilder) WithCreatedAt(createdAt uint64) *BlockBuilder {
	b.createdAt = createdAt
	return b
}

// AddTransaction appends a transaction to the block.
func (b *BlockBuilder) AddTransaction(tx *Transaction) *BlockBuilder {
	b.transactions = append(b.transactions, tx)
	return b
}

// AddMinter appends a minter record to the block.
func (b *BlockBuilder) AddMinter(minter BlockMinter) *BlockBuilder {
	b.minters = append(b.minters, minter)
	return b
}

// Sign finalizes the block: the validator is derived from secret, the
// hash is computed over the accumulated fields and signed.
func (b *BlockBuilder) Sign(secret crypto.SecretKey) *Block {
	block := &Block{
		previousBlock: b.previousBlock,
		number:        b.number,
		randomSeed:    b.randomSeed,
		createdAt:     b.createdAt,
		transactions:  b.transactions,
		minters:       b.minters,
		validator:     secret.Public(),
	}

	block.hash = block.CalcHash()
	block.sign = crypto.Sign(secret, block.hash[:])

	return block
}

// BuildRoot builds an empty root block signed by secret.
func BuildRoot(secret crypto.SecretKey) *Block {
	return NewBlockBuilder().Sign(secret)
}
