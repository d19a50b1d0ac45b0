// Package consensus implements authority block production: an authority
// periodically packs staged transactions into a signed chained block and
// announces it through the shard overlay.
package consensus

import (
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hyperchain-net/hyperchain/chain"
	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/shard"
)

// DefaultMaxBlockTransactions caps how many staged transactions one
// produced block carries.
const DefaultMaxBlockTransactions = 500

// ErrNotAuthority is returned when the local key may not sign blocks.
var ErrNotAuthority = errors.New("local key is not an authority")

// ErrNothingStaged is returned when the staged pool is empty and there
// is already a chain to extend.
var ErrNothingStaged = errors.New("no staged transactions to stabilize")

// Producer drives block production for one authority participant.
type Producer struct {
	shard       *shard.Shard
	authorities chain.AuthoritiesIndex
	secret      crypto.SecretKey

	maxBlockTransactions int

	log *logrus.Entry
}

// NewProducer creates a producer signing with secret.
func NewProducer(s *shard.Shard, authorities chain.AuthoritiesIndex, secret crypto.SecretKey) *Producer {
	return &Producer{
		shard:                s,
		authorities:          authorities,
		secret:               secret,
		maxBlockTransactions: DefaultMaxBlockTransactions,
		log:                  logrus.WithField("shard", s.Name()),
	}
}

// WithMaxBlockTransactions overrides the per-block transaction cap.
func (p *Producer) WithMaxBlockTransactions(limit int) *Producer {
	if limit > 0 {
		p.maxBlockTransactions = limit
	}
	return p
}

// ProduceBlock packs up to the configured number of staged transactions
// into the next chained block (or the root for a fresh chain), signs it
// and announces it. Returns the produced block.
func (p *Producer) ProduceBlock() (*core.Block, error) {
	isAuthority, err := p.authorities.Contains(p.secret.Public())
	if err != nil {
		return nil, err
	}
	if !isAuthority {
		return nil, ErrNotAuthority
	}

	backend := p.shard.Backend()

	staged, err := backend.GetStagedTransactions()
	if err != nil {
		return nil, err
	}

	tail, err := backend.GetTailBlock()
	if err != nil {
		return nil, err
	}

	if tail != nil && len(staged) == 0 {
		return nil, ErrNothingStaged
	}

	// Deterministic packing order regardless of pool iteration order.
	sort.Slice(staged, func(i, j int) bool {
		return staged[i].Compare(staged[j]) < 0
	})
	if len(staged) > p.maxBlockTransactions {
		staged = staged[:p.maxBlockTransactions]
	}

	builder := core.NewBlockBuilder()
	if tail != nil {
		builder = core.Chained(tail)
	}
	for _, hash := range staged {
		tx, err := backend.GetStagedTransaction(hash)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			builder.AddTransaction(tx)
		}
	}

	block := builder.Sign(p.secret)

	if err := p.shard.AnnounceBlock(block); err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"number":       block.Number(),
		"transactions": len(block.Transactions()),
	}).Info("produced block")

	return block, nil
}

// Run produces blocks on the given interval until done closes. Empty
// pools and non-authority keys are skipped quietly; other errors are
// logged.
func (p *Producer) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_, err := p.ProduceBlock()
			if err != nil && !errors.Is(err, ErrNothingStaged) && !errors.Is(err, ErrNotAuthority) {
				p.log.WithError(err).Error("block production failed")
			}
		}
	}
}
