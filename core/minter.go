package core

import (
	"golang.org/x/crypto/blake2b"

	"github.com/hyperchain-net/hyperchain/crypto"
)

// BlockMinter carries ancillary accounting info about a block's minter.
// The balance mask is the XOR chain previous_mask ^ minted_block.
type BlockMinter struct {
	PublicKey   crypto.PublicKey
	BalanceMask crypto.Hash
}

// NewBlockMinter creates a minter record.
func NewBlockMinter(pub crypto.PublicKey, balanceMask crypto.Hash) BlockMinter {
	return BlockMinter{PublicKey: pub, BalanceMask: balanceMask}
}

// Hash returns the content digest of the minter record.
func (m BlockMinter) Hash() crypto.Hash {
	hasher, _ := blake2b.New256(nil)
	hasher.Write(m.PublicKey)
	hasher.Write(m.BalanceMask[:])
	var h crypto.Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// ---- wire form ----

type minterInnerJSON struct {
	PublicKey   string `json:"public_key"`
	BalanceMask string `json:"balance_mask"`
}

type minterJSON struct {
	Format uint64          `json:"format"`
	Minter minterInnerJSON `json:"minter"`
}

func marshalMinter(m BlockMinter) minterJSON {
	return minterJSON{
		Format: WireFormat,
		Minter: minterInnerJSON{
			PublicKey:   m.PublicKey.Base64(),
			BalanceMask: m.BalanceMask.Base64(),
		},
	}
}

func unmarshalMinter(wire minterJSON) (BlockMinter, error) {
	if wire.Format != WireFormat {
		return BlockMinter{}, &InvalidStandardError{Format: wire.Format}
	}
	pub, err := crypto.PublicKeyFromBase64(wire.Minter.PublicKey)
	if err != nil {
		return BlockMinter{}, &FieldError{Field: "minter.public_key", Err: err}
	}
	mask, err := crypto.HashFromBase64(wire.Minter.BalanceMask)
	if err != nil {
		return BlockMinter{}, &FieldError{Field: "minter.balance_mask", Err: err}
	}
	return BlockMinter{PublicKey: pub, BalanceMask: mask}, nil
}
