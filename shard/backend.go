package shard

import (
	"sync"

	"github.com/hyperchain-net/hyperchain/chain"
	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/events"
)

// Backend is the local policy layer the overlay feeds: it decides
// whether announced blocks and transactions are accepted, keeps the
// staged transaction pool and answers chain queries.
type Backend interface {
	GetHeadBlock() (*core.Block, error)
	GetTailBlock() (*core.Block, error)
	GetBlock(number uint64) (*core.Block, error)
	GetNextBlock(block *core.Block) (*core.Block, error)

	// GetStagedTransactions returns the hashes of the staged pool.
	GetStagedTransactions() ([]crypto.Hash, error)

	// GetStagedTransaction returns a staged transaction by hash, or nil.
	GetStagedTransaction(hash crypto.Hash) (*core.Transaction, error)

	// GetTransaction returns a stabilized transaction with its block,
	// or (nil, nil).
	GetTransaction(hash crypto.Hash) (*core.Transaction, *core.Block, error)

	// HandleBlock runs the block admission routine. Returns true iff
	// the block was stored.
	HandleBlock(block *core.Block) (bool, error)

	// HandleTransaction stages a not-yet-stabilized transaction.
	// Returns true iff a new pool entry was created.
	HandleTransaction(tx *core.Transaction) (bool, error)
}

// BasicBackend is the default Backend over a blockchain view with an
// in-memory staged pool. Validator hooks veto admissions; handler hooks
// observe them.
type BasicBackend struct {
	blockchain *chain.Blockchain

	mu     sync.Mutex
	staged map[crypto.Hash]*core.Transaction

	blockValidator       func(*core.Block) bool
	transactionValidator func(*core.Transaction) bool
	blockHandler         func(*core.Block)
	transactionHandler   func(*core.Transaction)

	emitter *events.Emitter
}

// NewBasicBackend creates a backend over the given blockchain view.
func NewBasicBackend(blockchain *chain.Blockchain) *BasicBackend {
	return &BasicBackend{
		blockchain: blockchain,
		staged:     make(map[crypto.Hash]*core.Transaction),
	}
}

// WithBlockValidator installs a pre-admission veto for blocks.
func (b *BasicBackend) WithBlockValidator(validator func(*core.Block) bool) *BasicBackend {
	b.blockValidator = validator
	return b
}

// WithTransactionValidator installs a pre-admission veto for
// transactions.
func (b *BasicBackend) WithTransactionValidator(validator func(*core.Transaction) bool) *BasicBackend {
	b.transactionValidator = validator
	return b
}

// WithBlockHandler installs a hook invoked after a block is stored.
func (b *BasicBackend) WithBlockHandler(handler func(*core.Block)) *BasicBackend {
	b.blockHandler = handler
	return b
}

// WithTransactionHandler installs a hook invoked after a transaction is
// staged.
func (b *BasicBackend) WithTransactionHandler(handler func(*core.Transaction)) *BasicBackend {
	b.transactionHandler = handler
	return b
}

// WithEmitter publishes backend events through emitter.
func (b *BasicBackend) WithEmitter(emitter *events.Emitter) *BasicBackend {
	b.emitter = emitter
	return b
}

// Blockchain returns the underlying blockchain view.
func (b *BasicBackend) Blockchain() *chain.Blockchain {
	return b.blockchain
}

func (b *BasicBackend) GetHeadBlock() (*core.Block, error) {
	return b.blockchain.Blocks().Head()
}

func (b *BasicBackend) GetTailBlock() (*core.Block, error) {
	return b.blockchain.Blocks().Tail()
}

func (b *BasicBackend) GetBlock(number uint64) (*core.Block, error) {
	return b.blockchain.Blocks().Get(number)
}

func (b *BasicBackend) GetNextBlock(block *core.Block) (*core.Block, error) {
	return b.blockchain.Blocks().Next(block)
}

func (b *BasicBackend) GetStagedTransactions() ([]crypto.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hashes := make([]crypto.Hash, 0, len(b.staged))
	for hash := range b.staged {
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

func (b *BasicBackend) GetStagedTransaction(hash crypto.Hash) (*core.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.staged[hash], nil
}

func (b *BasicBackend) GetTransaction(hash crypto.Hash) (*core.Transaction, *core.Block, error) {
	return b.blockchain.Transactions().GetTransaction(hash)
}

// HandleBlock admits a block: the validator must be an authority, the
// optional veto hook must pass and the blocks index must accept it.
// After a successful insert the staged pool drops every transaction the
// block stabilized, so pool readers never observe them again.
func (b *BasicBackend) HandleBlock(block *core.Block) (bool, error) {
	isAuthority, err := b.blockchain.Authorities().Contains(block.Validator())
	if err != nil {
		return false, err
	}
	if !isAuthority {
		return false, nil
	}

	if b.blockValidator != nil && !b.blockValidator(block) {
		return false, nil
	}

	inserted, err := b.blockchain.Blocks().Insert(block)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	if err := b.rebuildStagedPool(); err != nil {
		return false, err
	}

	if b.blockHandler != nil {
		b.blockHandler(block)
	}
	if b.emitter != nil {
		b.emitter.Emit(events.Event{
			Type: events.EventBlockAccepted,
			Data: map[string]any{
				"number":       block.Number(),
				"hash":         block.Hash().Base64(),
				"transactions": len(block.Transactions()),
			},
		})
	}
	return true, nil
}

// rebuildStagedPool drops staged transactions that are now stabilized.
func (b *BasicBackend) rebuildStagedPool() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	filtered := make(map[crypto.Hash]*core.Transaction, len(b.staged))
	for hash, tx := range b.staged {
		stabilized, err := b.blockchain.Transactions().HasTransaction(hash)
		if err != nil {
			return err
		}
		if !stabilized {
			filtered[hash] = tx
		}
	}
	b.staged = filtered
	return nil
}

// HandleTransaction stages a transaction unless it is already
// stabilized or vetoed. Returns true iff a new pool entry was created.
func (b *BasicBackend) HandleTransaction(tx *core.Transaction) (bool, error) {
	stabilized, err := b.blockchain.Transactions().HasTransaction(tx.Hash())
	if err != nil {
		return false, err
	}
	if stabilized {
		return false, nil
	}

	if b.transactionValidator != nil && !b.transactionValidator(tx) {
		return false, nil
	}

	b.mu.Lock()
	if _, exists := b.staged[tx.Hash()]; exists {
		b.mu.Unlock()
		return false, nil
	}
	b.staged[tx.Hash()] = tx
	b.mu.Unlock()

	if b.transactionHandler != nil {
		b.transactionHandler(tx)
	}
	if b.emitter != nil {
		b.emitter.Emit(events.Event{
			Type: events.EventTransactionStaged,
			Data: map[string]any{"hash": tx.Hash().Base64()},
		})
	}
	return true, nil
}
