// Package transport delivers authenticated, optionally compressed and
// encrypted messages between shard participants. The overlay consumes
// the Transport contract; in-memory and TCP implementations live here.
package transport

import (
	"github.com/hyperchain-net/hyperchain/crypto"
)

// SenderInfo identifies the origin of a delivered message.
type SenderInfo struct {
	// ClientPublic is the sender's client public key.
	ClientPublic crypto.PublicKey

	// ServerAddress is the address the sender can be reached back at.
	ServerAddress string
}

// MessageInfo is one delivered message together with its sender.
type MessageInfo struct {
	Sender  SenderInfo
	Message *Message
}

// Transport moves envelopes between participants. Implementations are
// free to batch, reorder across channels and drop on peer failure; a
// returned error from Send means the recipient is unreachable.
type Transport interface {
	// Send delivers message to the recipient client behind the given
	// server address on a channel.
	Send(serverAddress string, recipient crypto.PublicKey, channel string, message *Message) error

	// Poll drains up to max queued messages from a channel (max <= 0
	// selects the transport's default batch size) and reports how many
	// remain queued.
	Poll(channel string, max int) ([]MessageInfo, uint64, error)
}
