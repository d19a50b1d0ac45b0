package shard

import (
	"time"

	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/transport"
)

// Options tune the overlay's behavior. Zero values are not meaningful;
// start from DefaultOptions.
type Options struct {
	// EncodingFormat is the envelope pipeline used for outgoing
	// messages.
	EncodingFormat transport.MessageEncoding

	// CompressionLevel used for outgoing envelopes.
	CompressionLevel transport.CompressionLevel

	// AcceptSubscriptions controls whether incoming subscriptions are
	// admitted at all.
	AcceptSubscriptions bool

	// MaxSubscribers bounds how many members may subscribe to us.
	MaxSubscribers int

	// MaxSubscriptions bounds how many members we subscribe to.
	MaxSubscriptions int

	// RememberSubscribersStatuses keeps the latest status record per
	// peer, trading memory for suppressed redundant announcements.
	RememberSubscribersStatuses bool

	// AnnounceMembersOnFailedSubscription sends a refused subscriber
	// the list of our own subscribers so it can join the mesh
	// elsewhere.
	AnnounceMembersOnFailedSubscription bool

	// SubscribeOnAnnouncedMembers follows member announcements from
	// peers we are subscribed to.
	SubscribeOnAnnouncedMembers bool

	// RandomlyChooseAnnouncedMembers picks announced members uniformly
	// at random instead of in announcement order.
	RandomlyChooseAnnouncedMembers bool

	// SendBlocksDiffOnStatuses answers peer status updates with the
	// blocks we believe they are missing.
	SendBlocksDiffOnStatuses bool

	// MaxBlocksDiffSize caps one blocks diff.
	MaxBlocksDiffSize int

	// SendTransactionsDiffOnStatuses answers peer status updates with
	// the staged transactions we believe they are missing.
	SendTransactionsDiffOnStatuses bool

	// MaxTransactionsDiffSize caps one transactions diff.
	MaxTransactionsDiffSize int

	// MaxHandledBlocksMemory bounds the loop-suppression set of block
	// hashes; at the cap the set is cleared wholesale.
	MaxHandledBlocksMemory int

	// MaxHandledTransactionsMemory bounds the loop-suppression set of
	// transaction hashes; at the cap the set is cleared wholesale.
	MaxHandledTransactionsMemory int

	// MaxInHeartbeatDelay drops peers that stayed silent longer.
	MaxInHeartbeatDelay time.Duration

	// MinOutHeartbeatDelay spaces our outgoing heartbeats.
	MinOutHeartbeatDelay time.Duration

	// MinOutStatusDelay spaces our outgoing status updates.
	MinOutStatusDelay time.Duration
}

// DefaultOptions returns the documented defaults. The handled-set caps
// are sized for roughly 1 MiB and 4 MiB of hashes respectively.
func DefaultOptions() Options {
	return Options{
		EncodingFormat:   transport.DefaultMessageEncoding,
		CompressionLevel: transport.CompressionBalanced,

		AcceptSubscriptions: true,
		MaxSubscribers:      32,
		MaxSubscriptions:    32,

		RememberSubscribersStatuses:         true,
		AnnounceMembersOnFailedSubscription: true,
		SubscribeOnAnnouncedMembers:         true,
		RandomlyChooseAnnouncedMembers:      true,

		SendBlocksDiffOnStatuses: true,
		MaxBlocksDiffSize:        16,

		SendTransactionsDiffOnStatuses: true,
		MaxTransactionsDiffSize:        64,

		MaxHandledBlocksMemory:       1024 * 1024 / crypto.HashSize,
		MaxHandledTransactionsMemory: 4 * 1024 * 1024 / crypto.HashSize,

		MaxInHeartbeatDelay:  5 * time.Minute,
		MinOutHeartbeatDelay: 2 * time.Minute,
		MinOutStatusDelay:    5 * time.Minute,
	}
}
