package transport

import (
	"fmt"
	"sync"

	"github.com/hyperchain-net/hyperchain/crypto"
)

// defaultPollBatch is how many messages a poll returns when the caller
// does not limit the batch.
const defaultPollBatch = 32

// MemoryNetwork is an in-process message hub connecting MemoryTransport
// handles by server address. It exists for tests and local simulations.
type MemoryNetwork struct {
	mu    sync.Mutex
	nodes map[string]*MemoryTransport
}

// NewMemoryNetwork creates an empty hub.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[string]*MemoryTransport)}
}

// Join registers a participant under address and returns its transport
// handle. Joining an occupied address replaces the previous handle.
func (n *MemoryNetwork) Join(address string) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	node := &MemoryTransport{
		network: n,
		address: address,
		inbox:   make(map[string][]MessageInfo),
	}
	n.nodes[address] = node
	return node
}

// Drop disconnects the participant at address: subsequent sends to it
// fail. Useful for simulating peer failure.
func (n *MemoryNetwork) Drop(address string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, address)
}

func (n *MemoryNetwork) lookup(address string) (*MemoryTransport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	node, ok := n.nodes[address]
	return node, ok
}

// MemoryTransport is one participant's handle on a MemoryNetwork.
type MemoryTransport struct {
	network *MemoryNetwork
	address string

	mu    sync.Mutex
	inbox map[string][]MessageInfo
}

// Address returns the server address this handle is registered under.
func (t *MemoryTransport) Address() string {
	return t.address
}

// Send delivers the envelope to the participant at serverAddress.
func (t *MemoryTransport) Send(serverAddress string, _ crypto.PublicKey, channel string, message *Message) error {
	node, ok := t.network.lookup(serverAddress)
	if !ok {
		return fmt.Errorf("no participant at %q", serverAddress)
	}

	node.mu.Lock()
	defer node.mu.Unlock()
	node.inbox[channel] = append(node.inbox[channel], MessageInfo{
		Sender: SenderInfo{
			ClientPublic:  message.Sender,
			ServerAddress: t.address,
		},
		Message: message,
	})
	return nil
}

// Poll drains up to max messages from the channel's inbox.
func (t *MemoryTransport) Poll(channel string, max int) ([]MessageInfo, uint64, error) {
	if max <= 0 {
		max = defaultPollBatch
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	queued := t.inbox[channel]
	if len(queued) == 0 {
		return nil, 0, nil
	}
	if max > len(queued) {
		max = len(queued)
	}

	batch := make([]MessageInfo, max)
	copy(batch, queued[:max])
	t.inbox[channel] = queued[max:]

	return batch, uint64(len(queued) - max), nil
}
