package shard

import (
	"time"

	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
)

// memberStatus tracks what we last learned about one peer and when we
// last exchanged protocol traffic with it.
type memberStatus struct {
	headBlock *core.Block
	tailBlock *core.Block
	staged    map[crypto.Hash]struct{}

	lastInHeartbeat  time.Time
	lastOutHeartbeat time.Time
	lastOutStatus    time.Time
}

// timePastOffset pushes the outbound timers far enough into the past
// that the first tick sends a heartbeat and a status immediately.
const timePastOffset = 120 * 24 * time.Hour

func newMemberStatus(now time.Time) *memberStatus {
	past := now.Add(-timePastOffset)
	return &memberStatus{
		staged:           make(map[crypto.Hash]struct{}),
		lastInHeartbeat:  now,
		lastOutHeartbeat: past,
		lastOutStatus:    past,
	}
}

// isBlockKnown conservatively approximates whether the peer already has
// the block: inside its [head, tail] number range when both endpoints
// are known, equality by hash when only one is, unknown otherwise.
func (s *memberStatus) isBlockKnown(block *core.Block) bool {
	switch {
	case s.headBlock != nil && s.tailBlock != nil:
		return block.Number() >= s.headBlock.Number() && block.Number() <= s.tailBlock.Number()
	case s.headBlock != nil:
		return s.headBlock.Hash().Equal(block.Hash())
	case s.tailBlock != nil:
		return s.tailBlock.Hash().Equal(block.Hash())
	default:
		return false
	}
}

// isTransactionKnown reports whether the peer announced the transaction
// in its staged set.
func (s *memberStatus) isTransactionKnown(tx *core.Transaction) bool {
	_, ok := s.staged[tx.Hash()]
	return ok
}

// peer couples a member identity with its status record.
type peer struct {
	member Member
	status *memberStatus
}
