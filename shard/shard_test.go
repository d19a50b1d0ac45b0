package shard

import (
	"fmt"
	"testing"
	"time"

	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/transport"
)

// participant bundles one shard instance with its identity for tests.
type participant struct {
	shard   *Shard
	backend *BasicBackend
	secret  crypto.SecretKey
	member  Member
}

func newParticipant(t *testing.T, network *transport.MemoryNetwork, address string, authorities ...crypto.PublicKey) *participant {
	t.Helper()

	secret := crypto.RandomSecretKey()
	backend := newBackend(t, authorities...)

	return &participant{
		shard:   New(network.Join(address), secret, "testnet", backend),
		backend: backend,
		secret:  secret,
		member: Member{
			ClientPublic:  secret.Public(),
			ServerAddress: address,
		},
	}
}

// drive runs update ticks on all participants until their queues drain.
func drive(t *testing.T, participants ...*participant) {
	t.Helper()
	for i := 0; i < 16; i++ {
		for _, p := range participants {
			if err := p.shard.Update(); err != nil {
				t.Fatalf("update: %v", err)
			}
		}
	}
}

// Gossip convergence: two mutually subscribed participants, one block
// announced, both end up with the same tail.
func TestGossipConvergence(t *testing.T) {
	authority := crypto.RandomSecretKey()
	network := transport.NewMemoryNetwork()

	p := newParticipant(t, network, "p:9000", authority.Public())
	q := newParticipant(t, network, "q:9000", authority.Public())

	if err := p.shard.Subscribe(q.member); err != nil {
		t.Fatalf("P subscribe: %v", err)
	}
	if err := q.shard.Subscribe(p.member); err != nil {
		t.Fatalf("Q subscribe: %v", err)
	}
	drive(t, p, q)

	b1 := core.BuildRoot(authority)
	if err := p.shard.AnnounceBlock(b1); err != nil {
		t.Fatalf("announce: %v", err)
	}
	drive(t, p, q)

	tail, err := q.backend.GetTailBlock()
	if err != nil {
		t.Fatal(err)
	}
	if !b1.Equal(tail) {
		t.Error("Q should converge on the announced block")
	}

	if !p.shard.HasHandledBlock(b1.Hash()) {
		t.Error("P must remember the announced block for loop suppression")
	}
}

// recordingTransport counts block announcements per destination.
type recordingTransport struct {
	*transport.MemoryTransport
	secret crypto.SecretKey
	sent   map[string]int
}

func (r *recordingTransport) Send(serverAddress string, recipient crypto.PublicKey, channel string, message *transport.Message) error {
	if data, err := message.Read(r.secret, message.Sender); err == nil {
		if msg, err := DecodeMessage(data); err == nil && msg.Type == MessageUpdate {
			if _, ok := msg.Update.(AnnounceBlocks); ok {
				r.sent[serverAddress]++
			}
		}
	}
	return r.MemoryTransport.Send(serverAddress, recipient, channel, message)
}

// Loop suppression: a block announced to us is never announced back to
// its sender.
func TestLoopSuppression(t *testing.T) {
	authority := crypto.RandomSecretKey()
	network := transport.NewMemoryNetwork()

	p := newParticipant(t, network, "p:9000", authority.Public())

	// Q runs on a transport that records outgoing block announcements.
	// Unencrypted envelopes let the recorder inspect its own traffic.
	qSecret := crypto.RandomSecretKey()
	recorder := &recordingTransport{
		MemoryTransport: network.Join("q:9000"),
		secret:          qSecret,
		sent:            make(map[string]int),
	}
	qBackend := newBackend(t, authority.Public())
	qShard := New(recorder, qSecret, "testnet", qBackend)
	q := &participant{
		shard:   qShard,
		backend: qBackend,
		secret:  qSecret,
		member:  Member{ClientPublic: qSecret.Public(), ServerAddress: "q:9000"},
	}

	if err := p.shard.Subscribe(q.member); err != nil {
		t.Fatal(err)
	}
	if err := q.shard.Subscribe(p.member); err != nil {
		t.Fatal(err)
	}
	drive(t, p, q)

	b1 := core.BuildRoot(authority)
	if err := p.shard.AnnounceBlock(b1); err != nil {
		t.Fatal(err)
	}
	drive(t, p, q)

	if !q.shard.HasHandledBlock(b1.Hash()) {
		t.Error("Q must remember the handled block")
	}
	if count := recorder.sent["p:9000"]; count != 0 {
		t.Errorf("Q announced blocks back to the sender %d times", count)
	}

	tailP, err := p.backend.GetTailBlock()
	if err != nil {
		t.Fatal(err)
	}
	if !b1.Equal(tailP) {
		t.Error("P keeps its own announced block")
	}
}

// Transactions gossip through the same path as blocks.
func TestTransactionGossip(t *testing.T) {
	authority := crypto.RandomSecretKey()
	network := transport.NewMemoryNetwork()

	p := newParticipant(t, network, "p:9000", authority.Public())
	q := newParticipant(t, network, "q:9000", authority.Public())

	if err := p.shard.Subscribe(q.member); err != nil {
		t.Fatal(err)
	}
	drive(t, p, q)

	tx, err := core.NewTransactionBuilder().
		WithBody(core.RawBody{Data: []byte("gossiped")}).
		Sign(authority)
	if err != nil {
		t.Fatal(err)
	}

	if err := p.shard.AnnounceTransaction(tx); err != nil {
		t.Fatal(err)
	}
	drive(t, p, q)

	staged, err := q.backend.GetStagedTransaction(tx.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !tx.Equal(staged) {
		t.Error("Q should stage the announced transaction")
	}
}

// Subscribe refusal with member fallback: a full participant answers a
// subscription with its member list instead, and the subscriber drops
// it after the heartbeat timer fires.
func TestSubscribeRefusalAnnouncesMembers(t *testing.T) {
	authority := crypto.RandomSecretKey()
	network := transport.NewMemoryNetwork()

	p := newParticipant(t, network, "p:9000", authority.Public())
	q := newParticipant(t, network, "q:9000", authority.Public())

	options := DefaultOptions()
	options.MaxSubscribers = 0
	q.shard.WithOptions(options)

	// P drops silent peers aggressively so the refusal is observable.
	pOptions := DefaultOptions()
	pOptions.MaxInHeartbeatDelay = time.Millisecond
	p.shard.WithOptions(pOptions)

	if err := p.shard.Subscribe(q.member); err != nil {
		t.Fatal(err)
	}
	if len(p.shard.Subscriptions()) != 1 {
		t.Fatal("P should record the attempted subscription")
	}

	// Q processes the subscribe and refuses it.
	if err := q.shard.Update(); err != nil {
		t.Fatal(err)
	}
	if len(q.shard.Subscribers()) != 0 {
		t.Error("Q must not admit subscribers beyond its cap")
	}

	// P processes the AnnounceMembers answer (empty list) and, after
	// the heartbeat window passes, evicts Q.
	time.Sleep(5 * time.Millisecond)
	drive(t, p, q)

	if len(p.shard.Subscriptions()) != 0 {
		t.Error("P should drop the refused subscription after the timer check")
	}
}

// Admission cap: subscriber and subscription counts never exceed their
// bounds.
func TestAdmissionCaps(t *testing.T) {
	authority := crypto.RandomSecretKey()
	network := transport.NewMemoryNetwork()

	hub := newParticipant(t, network, "hub:9000", authority.Public())

	options := DefaultOptions()
	options.MaxSubscribers = 2
	hub.shard.WithOptions(options)

	others := make([]*participant, 0, 4)
	for i := 0; i < 4; i++ {
		other := newParticipant(t, network, fmt.Sprintf("node%d:9000", i), authority.Public())
		others = append(others, other)
		if err := other.shard.Subscribe(hub.member); err != nil {
			t.Fatal(err)
		}
	}

	drive(t, append([]*participant{hub}, others...)...)

	if got := len(hub.shard.Subscribers()); got > 2 {
		t.Errorf("subscribers: got %d, cap is 2", got)
	}
}

// A subscription request from a peer we already subscribe to is
// refused, preventing two-member subscription loops.
func TestSubscribeLoopPrevention(t *testing.T) {
	authority := crypto.RandomSecretKey()
	network := transport.NewMemoryNetwork()

	p := newParticipant(t, network, "p:9000", authority.Public())
	q := newParticipant(t, network, "q:9000", authority.Public())

	if err := p.shard.Subscribe(q.member); err != nil {
		t.Fatal(err)
	}
	drive(t, p, q)

	// Q subscribes back; P must refuse because P already subscribes
	// to Q.
	if err := q.shard.Subscribe(p.member); err != nil {
		t.Fatal(err)
	}
	drive(t, p, q)

	for _, member := range p.shard.Subscribers() {
		if member.Equal(q.member) {
			t.Error("P must not admit a subscriber it subscribes to")
		}
	}
}

// Status updates trigger block diffs: a peer announcing an empty chain
// receives the blocks it is missing.
func TestStatusTriggersBlocksDiff(t *testing.T) {
	authority := crypto.RandomSecretKey()
	network := transport.NewMemoryNetwork()

	p := newParticipant(t, network, "p:9000", authority.Public())
	q := newParticipant(t, network, "q:9000", authority.Public())

	// P holds a three-block chain.
	b0 := core.BuildRoot(authority)
	b1 := core.Chained(b0).Sign(authority)
	b2 := core.Chained(b1).Sign(authority)
	for _, block := range []*core.Block{b0, b1, b2} {
		if _, err := p.backend.HandleBlock(block); err != nil {
			t.Fatal(err)
		}
	}

	// Mutual connection.
	if err := p.shard.Subscribe(q.member); err != nil {
		t.Fatal(err)
	}
	if err := q.shard.Subscribe(p.member); err != nil {
		t.Fatal(err)
	}

	// Drive: Q's first timer tick sends its (empty) status to P; P
	// answers with a blocks diff; Q ingests it.
	drive(t, p, q)

	tail, err := q.backend.GetTailBlock()
	if err != nil {
		t.Fatal(err)
	}
	if tail == nil || tail.Number() != 2 {
		t.Errorf("Q should receive the missing chain, tail %v", tail)
	}
}

// Unsubscribe removes the peer on the publisher's side.
func TestUnsubscribe(t *testing.T) {
	authority := crypto.RandomSecretKey()
	network := transport.NewMemoryNetwork()

	p := newParticipant(t, network, "p:9000", authority.Public())
	q := newParticipant(t, network, "q:9000", authority.Public())

	if err := p.shard.Subscribe(q.member); err != nil {
		t.Fatal(err)
	}
	drive(t, p, q)

	if len(q.shard.Subscribers()) != 1 {
		t.Fatal("Q should have admitted P")
	}

	if err := p.shard.Unsubscribe(q.member); err != nil {
		t.Fatal(err)
	}
	if len(p.shard.Subscriptions()) != 0 {
		t.Error("P should forget the subscription")
	}
	drive(t, p, q)

	if len(q.shard.Subscribers()) != 0 {
		t.Error("Q should forget the unsubscribed peer")
	}
}

// A dead transport peer is evicted when sending to it fails.
func TestSendFailureEvictsPeer(t *testing.T) {
	authority := crypto.RandomSecretKey()
	network := transport.NewMemoryNetwork()

	p := newParticipant(t, network, "p:9000", authority.Public())
	q := newParticipant(t, network, "q:9000", authority.Public())

	if err := p.shard.Subscribe(q.member); err != nil {
		t.Fatal(err)
	}
	drive(t, p, q)

	network.Drop("q:9000")

	if err := p.shard.AnnounceBlock(core.BuildRoot(authority)); err != nil {
		t.Fatal(err)
	}
	if len(p.shard.Subscriptions()) != 0 {
		t.Error("unreachable peer should be dropped")
	}
}
