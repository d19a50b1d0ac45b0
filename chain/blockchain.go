package chain

import (
	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
)

// ValidationKind classifies the outcome of Blockchain.ValidateSince.
type ValidationKind int

const (
	Valid ValidationKind = iota
	UnknownBlockNumber
	InvalidCreationTime
	InvalidNumber
	InvalidPreviousBlockReference
	InvalidValidator
	InvalidSign
)

// ValidationResult is the structured outcome of a chain validation walk.
type ValidationResult struct {
	Kind ValidationKind

	// Number of the offending block (or the requested start for
	// UnknownBlockNumber).
	BlockNumber uint64

	// InvalidCreationTime
	CreatedAt uint64

	// InvalidNumber
	PreviousNumber uint64

	// InvalidPreviousBlockReference. A nil pointer means "no
	// reference".
	ExpectedPrevious *crypto.Hash
	GotPrevious      *crypto.Hash

	// InvalidValidator / InvalidSign
	Validator crypto.PublicKey
	Reason    core.BlockValidation
}

// IsValid reports whether the walked chain satisfied every invariant.
func (r ValidationResult) IsValid() bool {
	return r.Kind == Valid
}

// Blockchain composes the three indices into one chain view. The only
// algorithmic responsibility beyond pass-through is the validation walk.
// Index handles are shared: multiple views may wrap the same stores.
type Blockchain struct {
	authorities  AuthoritiesIndex
	blocks       BlocksIndex
	transactions TransactionsIndex
}

// New creates a blockchain view over the given indices.
func New(authorities AuthoritiesIndex, blocks BlocksIndex, transactions TransactionsIndex) *Blockchain {
	return &Blockchain{
		authorities:  authorities,
		blocks:       blocks,
		transactions: transactions,
	}
}

// Authorities returns the shared authorities index handle.
func (bc *Blockchain) Authorities() AuthoritiesIndex { return bc.authorities }

// Blocks returns the shared blocks index handle.
func (bc *Blockchain) Blocks() BlocksIndex { return bc.blocks }

// Transactions returns the shared transactions index handle.
func (bc *Blockchain) Transactions() TransactionsIndex { return bc.transactions }

// Validate walks the whole chain from the root block.
func (bc *Blockchain) Validate() (ValidationResult, error) {
	return bc.ValidateSince(0)
}

// ValidateSince walks the chain starting at the given block number and
// checks, for every visited block: monotonic creation time, contiguous
// numbering, previous-hash linkage, validator membership and the block's
// own validity. The first violated invariant is reported in the result.
//
// When starting above the root the first block's number is deliberately
// not checked against its predecessor (the predecessor is not loaded).
func (bc *Blockchain) ValidateSince(startNumber uint64) (ValidationResult, error) {
	block, err := bc.blocks.Get(startNumber)
	if err != nil {
		return ValidationResult{}, err
	}
	if block == nil {
		return ValidationResult{
			Kind:        UnknownBlockNumber,
			BlockNumber: startNumber,
		}, nil
	}

	maxCreatedAt := core.Timestamp() + uint64(core.MaxClockSkew.Seconds())

	var prevHash *crypto.Hash
	if hash, ok := block.PreviousBlock(); ok {
		prevHash = &hash
	}

	var prevCreatedAt uint64
	prevNumber := uint64(0)
	if startNumber > 0 {
		prevNumber = startNumber - 1
	}

	for block != nil {
		if block.CreatedAt() < prevCreatedAt || block.CreatedAt() > maxCreatedAt {
			return ValidationResult{
				Kind:        InvalidCreationTime,
				BlockNumber: block.Number(),
				CreatedAt:   block.CreatedAt(),
			}, nil
		}

		if prevNumber > 0 && prevNumber+1 != block.Number() {
			return ValidationResult{
				Kind:           InvalidNumber,
				BlockNumber:    block.Number(),
				PreviousNumber: prevNumber,
			}, nil
		}

		var gotPrev *crypto.Hash
		if hash, ok := block.PreviousBlock(); ok {
			gotPrev = &hash
		}
		if !hashPtrEqual(prevHash, gotPrev) {
			return ValidationResult{
				Kind:             InvalidPreviousBlockReference,
				BlockNumber:      block.Number(),
				ExpectedPrevious: prevHash,
				GotPrevious:      gotPrev,
			}, nil
		}

		isAuthority, err := bc.authorities.Contains(block.Validator())
		if err != nil {
			return ValidationResult{}, err
		}
		if !isAuthority {
			return ValidationResult{
				Kind:        InvalidValidator,
				BlockNumber: block.Number(),
				Validator:   block.Validator(),
			}, nil
		}

		reason, err := block.Validate()
		if err != nil {
			return ValidationResult{}, err
		}
		if !reason.IsValid() {
			return ValidationResult{
				Kind:        InvalidSign,
				BlockNumber: block.Number(),
				Validator:   block.Validator(),
				Reason:      reason,
			}, nil
		}

		prevCreatedAt = block.CreatedAt()
		prevNumber = block.Number()
		hash := block.Hash()
		prevHash = &hash

		block, err = bc.blocks.Next(block)
		if err != nil {
			return ValidationResult{}, err
		}
	}

	return ValidationResult{Kind: Valid}, nil
}

func hashPtrEqual(a, b *crypto.Hash) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || a.Equal(*b)
}
