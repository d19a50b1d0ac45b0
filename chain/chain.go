// Package chain defines the capability interfaces of the three local
// indices (authorities, blocks, transactions) and the Blockchain view
// composed over them.
package chain

import (
	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
)

// AuthoritiesIndex manages the unordered set of public keys whose block
// signatures the blockchain accepts.
type AuthoritiesIndex interface {
	// GetAll returns every authority currently in the set.
	GetAll() ([]crypto.PublicKey, error)

	// Insert adds pub to the set. Returns true iff it was newly added.
	Insert(pub crypto.PublicKey) (bool, error)

	// Delete removes pub from the set. Returns true iff it existed.
	Delete(pub crypto.PublicKey) (bool, error)

	// Contains reports whether pub is an authority.
	Contains(pub crypto.PublicKey) (bool, error)
}

// BlocksIndex is an ordered store of blocks keyed by number. Absent
// blocks are reported as (nil, nil).
type BlocksIndex interface {
	// Get returns the block with the given number, or nil.
	Get(number uint64) (*core.Block, error)

	// Insert adds a block to the index. It never overwrites an existing
	// block and returns false if an entry with the same hash is already
	// stored.
	Insert(block *core.Block) (bool, error)

	// Next returns the block following the given one, or nil.
	Next(block *core.Block) (*core.Block, error)

	// Head returns the block with the minimum stored number, or nil.
	Head() (*core.Block, error)

	// Tail returns the highest-numbered block reachable from the head
	// through unbroken previous-block links, or nil.
	Tail() (*core.Block, error)

	// IsEmpty reports whether no blocks are stored.
	IsEmpty() (bool, error)

	// IsTruncated reports whether the head block references a
	// predecessor that is not stored. A truncated index cannot be
	// fully validated from the root.
	IsTruncated() (bool, error)
}

// TransactionsIndex is a reverse index from transaction hashes to the
// blocks that stabilized them.
type TransactionsIndex interface {
	// IndexIfNeeded idempotently catches the index up with the blocks
	// index, one entry per not-yet-indexed block.
	IndexIfNeeded() error

	// Lookup returns the number of the block containing the
	// transaction, if any.
	Lookup(hash crypto.Hash) (uint64, bool, error)

	// GetTransaction returns the stabilized transaction and the block
	// that contains it, or (nil, nil) when unknown.
	GetTransaction(hash crypto.Hash) (*core.Transaction, *core.Block, error)

	// HasTransaction reports whether the transaction is stabilized.
	HasTransaction(hash crypto.Hash) (bool, error)
}
