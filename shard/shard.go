package shard

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/events"
	"github.com/hyperchain-net/hyperchain/transport"
)

// ChannelPrefix is the transport channel namespace of the overlay.
const ChannelPrefix = "hyperchain/v1/"

// Shard is one participant's view of the gossip overlay. It is driven
// cooperatively: an outer loop calls Update repeatedly, and every call
// processes at most one inbound message plus one round of timer checks.
// Shard is not safe for concurrent use; the driving loop owns it.
type Shard struct {
	transport transport.Transport
	secret    crypto.SecretKey
	name      string
	backend   Backend
	options   Options

	queue []transport.MessageInfo

	handledBlocks       map[crypto.Hash]struct{}
	handledTransactions map[crypto.Hash]struct{}

	subscribers   map[string]*peer
	subscriptions map[string]*peer

	emitter *events.Emitter

	log *logrus.Entry
}

// New creates a shard participant named name on top of the given
// transport and backend, signing its traffic with secret.
func New(tr transport.Transport, secret crypto.SecretKey, name string, backend Backend) *Shard {
	return &Shard{
		transport:           tr,
		secret:              secret,
		name:                name,
		backend:             backend,
		options:             DefaultOptions(),
		handledBlocks:       make(map[crypto.Hash]struct{}),
		handledTransactions: make(map[crypto.Hash]struct{}),
		subscribers:         make(map[string]*peer),
		subscriptions:       make(map[string]*peer),
		log:                 logrus.WithField("shard", name),
	}
}

// WithOptions replaces the shard options.
func (s *Shard) WithOptions(options Options) *Shard {
	s.options = options
	return s
}

// WithEmitter publishes peer lifecycle events through emitter.
func (s *Shard) WithEmitter(emitter *events.Emitter) *Shard {
	s.emitter = emitter
	return s
}

// Name returns the shard's name.
func (s *Shard) Name() string { return s.name }

// Backend returns the shard's backend.
func (s *Shard) Backend() Backend { return s.backend }

// PublicKey returns the participant's client public key.
func (s *Shard) PublicKey() crypto.PublicKey { return s.secret.Public() }

// Channel returns the transport channel the shard communicates on.
func (s *Shard) Channel() string {
	return ChannelPrefix + s.name
}

// Subscribers returns the members currently subscribed to us.
func (s *Shard) Subscribers() []Member {
	members := make([]Member, 0, len(s.subscribers))
	for _, p := range s.subscribers {
		members = append(members, p.member)
	}
	return members
}

// Subscriptions returns the members we are currently subscribed to.
func (s *Shard) Subscriptions() []Member {
	members := make([]Member, 0, len(s.subscriptions))
	for _, p := range s.subscriptions {
		members = append(members, p.member)
	}
	return members
}

// HasHandledBlock reports whether the block hash is in the
// loop-suppression set.
func (s *Shard) HasHandledBlock(hash crypto.Hash) bool {
	_, ok := s.handledBlocks[hash]
	return ok
}

// HasHandledTransaction reports whether the transaction hash is in the
// loop-suppression set.
func (s *Shard) HasHandledTransaction(hash crypto.Hash) bool {
	_, ok := s.handledTransactions[hash]
	return ok
}

// send encodes and delivers one shard message to a member.
func (s *Shard) send(member Member, msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	envelope, err := transport.NewMessage(
		s.secret,
		member.ClientPublic,
		data,
		s.options.EncodingFormat,
		s.options.CompressionLevel,
	)
	if err != nil {
		return err
	}

	return s.transport.Send(member.ServerAddress, member.ClientPublic, s.Channel(), envelope)
}

// Subscribe sends a subscription request to a member and records it.
// When the subscription list is full the least useful entries are
// evicted first. A failed send aborts without recording.
func (s *Shard) Subscribe(member Member) error {
	if s.options.MaxSubscriptions == 0 {
		return nil
	}

	if len(s.subscriptions) >= s.options.MaxSubscriptions {
		for _, evicted := range s.shrinkSubscriptions(s.options.MaxSubscriptions - 1) {
			if err := s.send(evicted, Unsubscribe()); err != nil {
				s.log.WithField("member", evicted.Key()).Debug("unsubscribe send failed")
			}
		}
	}

	if err := s.send(member, Subscribe()); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	// A member cannot sit on both sides at once; subscribing wins.
	delete(s.subscribers, member.Key())

	s.subscriptions[member.Key()] = &peer{
		member: member,
		status: newMemberStatus(time.Now()),
	}
	return nil
}

// Unsubscribe sends an unsubscription message and forgets the member.
func (s *Shard) Unsubscribe(member Member) error {
	if err := s.send(member, Unsubscribe()); err != nil {
		return fmt.Errorf("send unsubscribe: %w", err)
	}
	delete(s.subscriptions, member.Key())
	return nil
}

// sendHeartbeat sends a keep-alive and stamps the outbound timer.
func (s *Shard) sendHeartbeat(member Member) error {
	if err := s.send(member, Heartbeat()); err != nil {
		return err
	}
	now := time.Now()
	if p, ok := s.subscriptions[member.Key()]; ok {
		p.status.lastOutHeartbeat = now
	}
	if p, ok := s.subscribers[member.Key()]; ok {
		p.status.lastOutHeartbeat = now
	}
	return nil
}

// sendStatus sends our chain endpoints and staged pool to a member and
// stamps the outbound timer.
func (s *Shard) sendStatus(member Member) error {
	head, err := s.backend.GetHeadBlock()
	if err != nil {
		return err
	}
	tail, err := s.backend.GetTailBlock()
	if err != nil {
		return err
	}
	staged, err := s.backend.GetStagedTransactions()
	if err != nil {
		return err
	}

	if err := s.send(member, WrapUpdate(Status{
		HeadBlock:          head,
		TailBlock:          tail,
		StagedTransactions: staged,
	})); err != nil {
		return err
	}

	now := time.Now()
	if p, ok := s.subscriptions[member.Key()]; ok {
		p.status.lastOutStatus = now
	}
	if p, ok := s.subscribers[member.Key()]; ok {
		p.status.lastOutStatus = now
	}
	return nil
}

// sendMembers announces our subscribers to a member.
func (s *Shard) sendMembers(member Member) error {
	members := make([]Member, 0, len(s.subscribers))
	for _, p := range s.subscribers {
		members = append(members, p.member)
	}
	return s.send(member, WrapUpdate(AnnounceMembers{Members: members}))
}

// AnnounceBlock ingests a block locally and announces it to every
// connected member. Members that cannot be reached are dropped.
func (s *Shard) AnnounceBlock(block *core.Block) error {
	if _, err := s.backend.HandleBlock(block); err != nil {
		return err
	}

	s.rememberHandledBlock(block.Hash())

	update := WrapUpdate(AnnounceBlocks{Blocks: []*core.Block{block}})
	for _, member := range s.connectedMembers() {
		if err := s.send(member, update); err != nil {
			s.dropPeer(member, "block announcement failed")
		}
	}
	return nil
}

// AnnounceTransaction ingests a transaction locally and announces it to
// every connected member. Members that cannot be reached are dropped.
func (s *Shard) AnnounceTransaction(tx *core.Transaction) error {
	if _, err := s.backend.HandleTransaction(tx); err != nil {
		return err
	}

	s.rememberHandledTransaction(tx.Hash())

	update := WrapUpdate(AnnounceTransactions{Transactions: []*core.Transaction{tx}})
	for _, member := range s.connectedMembers() {
		if err := s.send(member, update); err != nil {
			s.dropPeer(member, "transaction announcement failed")
		}
	}
	return nil
}

// connectedMembers returns subscribers and subscriptions deduplicated.
func (s *Shard) connectedMembers() []Member {
	seen := make(map[string]struct{}, len(s.subscribers)+len(s.subscriptions))
	members := make([]Member, 0, len(s.subscribers)+len(s.subscriptions))
	for key, p := range s.subscribers {
		seen[key] = struct{}{}
		members = append(members, p.member)
	}
	for key, p := range s.subscriptions {
		if _, ok := seen[key]; !ok {
			members = append(members, p.member)
		}
	}
	return members
}

// peerStatus returns the peer record for a member, preferring the
// subscriber record when the member sits on both sides.
func (s *Shard) peerStatus(member Member) (*peer, bool) {
	if p, ok := s.subscribers[member.Key()]; ok {
		return p, true
	}
	if p, ok := s.subscriptions[member.Key()]; ok {
		return p, true
	}
	return nil, false
}

func (s *Shard) isConnected(member Member) bool {
	_, ok := s.peerStatus(member)
	return ok
}

// dropPeer forgets a member on both sides, typically after a transport
// failure.
func (s *Shard) dropPeer(member Member, reason string) {
	delete(s.subscribers, member.Key())
	delete(s.subscriptions, member.Key())
	s.log.WithField("member", member.Key()).Debug("dropped peer: " + reason)
	if s.emitter != nil {
		s.emitter.Emit(events.Event{
			Type: events.EventPeerDropped,
			Data: map[string]any{"member": member.Key(), "reason": reason},
		})
	}
}

func (s *Shard) rememberHandledBlock(hash crypto.Hash) {
	if len(s.handledBlocks) >= s.options.MaxHandledBlocksMemory {
		s.handledBlocks = make(map[crypto.Hash]struct{})
	}
	s.handledBlocks[hash] = struct{}{}
}

func (s *Shard) rememberHandledTransaction(hash crypto.Hash) {
	if len(s.handledTransactions) >= s.options.MaxHandledTransactionsMemory {
		s.handledTransactions = make(map[crypto.Hash]struct{})
	}
	s.handledTransactions[hash] = struct{}{}
}

// shrinkSubscribers evicts subscribers until at most target remain,
// least useful first (lowest known tail block number, unknown lowest).
func (s *Shard) shrinkSubscribers(target int) []Member {
	return shrinkPeers(s.subscribers, target)
}

// shrinkSubscriptions evicts subscriptions until at most target remain,
// least useful first.
func (s *Shard) shrinkSubscriptions(target int) []Member {
	return shrinkPeers(s.subscriptions, target)
}

func shrinkPeers(peers map[string]*peer, target int) []Member {
	if target < 0 {
		target = 0
	}
	if len(peers) <= target {
		return nil
	}

	ranked := make([]*peer, 0, len(peers))
	for _, p := range peers {
		ranked = append(ranked, p)
	}
	// Ascending by known tail number; peers without a known tail rank
	// lowest and go first.
	sort.Slice(ranked, func(i, j int) bool {
		return peerTailRank(ranked[i]) < peerTailRank(ranked[j])
	})

	evicted := make([]Member, 0, len(peers)-target)
	for _, p := range ranked[:len(peers)-target] {
		delete(peers, p.member.Key())
		evicted = append(evicted, p.member)
	}
	return evicted
}

func peerTailRank(p *peer) int64 {
	if p.status.tailBlock == nil {
		return -1
	}
	return int64(p.status.tailBlock.Number())
}

// Update runs one cooperative tick: refill the inbound queue when it is
// empty, process at most one message, enforce the connection caps and
// run the per-peer timers once. Index and transport poll errors
// propagate; per-peer failures only drop that peer.
func (s *Shard) Update() error {
	if len(s.queue) == 0 {
		for {
			batch, remaining, err := s.transport.Poll(s.Channel(), 0)
			if err != nil {
				return fmt.Errorf("poll transport: %w", err)
			}
			// An empty batch despite a nonzero remaining count means
			// the transport is confused; stop polling either way.
			if len(batch) == 0 {
				break
			}
			s.queue = append(s.queue, batch...)
			if remaining == 0 {
				break
			}
		}
	}

	if len(s.queue) > 0 {
		info := s.queue[0]
		s.queue = s.queue[1:]
		if err := s.processMessage(info); err != nil {
			return err
		}
	}

	if len(s.subscribers) > s.options.MaxSubscribers {
		s.shrinkSubscribers(s.options.MaxSubscribers)
	}
	if len(s.subscriptions) > s.options.MaxSubscriptions {
		for _, evicted := range s.shrinkSubscriptions(s.options.MaxSubscriptions) {
			if err := s.send(evicted, Unsubscribe()); err != nil {
				s.log.WithField("member", evicted.Key()).Debug("unsubscribe send failed")
			}
		}
	}

	s.runTimers()
	return nil
}

// processMessage decodes and routes one inbound message. Undecodable
// messages are dropped silently (buggy peer suppression).
func (s *Shard) processMessage(info transport.MessageInfo) error {
	data, err := info.Message.Read(s.secret, info.Sender.ClientPublic)
	if err != nil {
		s.log.WithError(err).Debug("dropped unreadable envelope")
		return nil
	}

	msg, err := DecodeMessage(data)
	if err != nil {
		s.log.WithError(err).Debug("dropped malformed shard message")
		return nil
	}

	sender := Member{
		ClientPublic:  info.Sender.ClientPublic,
		ServerAddress: info.Sender.ServerAddress,
	}

	switch msg.Type {
	case MessageSubscribe:
		s.handleSubscribe(sender)
		return nil

	case MessageUnsubscribe:
		delete(s.subscribers, sender.Key())
		return nil

	case MessageHeartbeat:
		if p, ok := s.peerStatus(sender); ok {
			p.status.lastInHeartbeat = time.Now()
		}
		return nil

	case MessageUpdate:
		// Updates are honored from connected members only.
		if !s.isConnected(sender) {
			return nil
		}
		return s.processUpdate(sender, msg.Update)
	}
	return nil
}

func (s *Shard) handleSubscribe(sender Member) {
	allowed := s.options.AcceptSubscriptions &&
		len(s.subscribers) < s.options.MaxSubscribers &&
		// Refusing members we are subscribed to prevents subscription
		// loops with a peer already publishing to us.
		s.subscriptions[sender.Key()] == nil

	if allowed {
		p, ok := s.subscribers[sender.Key()]
		if !ok {
			p = &peer{member: sender, status: newMemberStatus(time.Now())}
			s.subscribers[sender.Key()] = p
		}
		// A subscribe doubles as a heartbeat.
		p.status.lastInHeartbeat = time.Now()
		return
	}

	if s.options.AnnounceMembersOnFailedSubscription {
		if err := s.sendMembers(sender); err != nil {
			s.log.WithField("member", sender.Key()).Debug("member announcement failed")
		}
	}
}

func (s *Shard) processUpdate(sender Member, update Update) error {
	switch u := update.(type) {
	case Status:
		return s.handleStatus(sender, u)
	case AnnounceMembers:
		return s.handleAnnounceMembers(sender, u)
	case AnnounceBlocks:
		return s.handleAnnounceBlocks(sender, u)
	case AnnounceTransactions:
		return s.handleAnnounceTransactions(sender, u)
	}
	return nil
}

func (s *Shard) handleStatus(sender Member, status Status) error {
	for _, block := range []*core.Block{status.HeadBlock, status.TailBlock} {
		if block == nil {
			continue
		}
		result, err := block.Validate()
		if err != nil {
			return err
		}
		if result.IsValid() {
			if _, err := s.backend.HandleBlock(block); err != nil {
				return err
			}
		}
	}

	if s.options.RememberSubscribersStatuses {
		if p, ok := s.peerStatus(sender); ok {
			p.status.headBlock = status.HeadBlock
			p.status.tailBlock = status.TailBlock
			p.status.staged = make(map[crypto.Hash]struct{}, len(status.StagedTransactions))
			for _, hash := range status.StagedTransactions {
				p.status.staged[hash] = struct{}{}
			}
		}
	}

	if s.options.SendBlocksDiffOnStatuses {
		diff, err := s.blocksDiff(status.HeadBlock, status.TailBlock)
		if err != nil {
			return err
		}
		if len(diff) > 0 {
			if err := s.send(sender, WrapUpdate(AnnounceBlocks{Blocks: diff})); err != nil {
				s.dropPeer(sender, "blocks diff send failed")
			}
		}
	}

	if s.options.SendTransactionsDiffOnStatuses {
		diff, err := s.transactionsDiff(status.StagedTransactions)
		if err != nil {
			return err
		}
		if len(diff) > 0 {
			if err := s.send(sender, WrapUpdate(AnnounceTransactions{Transactions: diff})); err != nil {
				s.dropPeer(sender, "transactions diff send failed")
			}
		}
	}

	return nil
}

// blocksDiff computes the blocks the peer appears to be missing given
// its announced head and tail.
func (s *Shard) blocksDiff(remoteHead, remoteTail *core.Block) ([]*core.Block, error) {
	localHead, err := s.backend.GetHeadBlock()
	if err != nil {
		return nil, err
	}
	localTail, err := s.backend.GetTailBlock()
	if err != nil {
		return nil, err
	}

	limit := s.options.MaxBlocksDiffSize
	var diff []*core.Block
	seen := make(map[crypto.Hash]struct{})

	push := func(block *core.Block) bool {
		if len(diff) >= limit {
			return false
		}
		if _, ok := seen[block.Hash()]; ok {
			return true
		}
		seen[block.Hash()] = struct{}{}
		diff = append(diff, block)
		return true
	}

	switch {
	case localHead != nil && localTail != nil:
		if remoteHead == nil {
			push(localHead)
		}
		if remoteTail == nil {
			push(localTail)
		}

		// [local head .. remote head): blocks below the peer's window.
		cursor := localHead
		for remoteHead != nil && cursor.Number() < remoteHead.Number() {
			if !push(cursor) {
				break
			}
			next, err := s.backend.GetNextBlock(cursor)
			if err != nil {
				return nil, err
			}
			if next == nil {
				break
			}
			cursor = next
		}

		// [remote tail .. local tail): blocks above the peer's window.
		// Without a remote tail the walk covers the whole chain.
		cursor = remoteTail
		if cursor == nil {
			cursor = localHead
		}
		for cursor.Number() < localTail.Number() {
			if !push(cursor) {
				break
			}
			next, err := s.backend.GetNextBlock(cursor)
			if err != nil {
				return nil, err
			}
			if next == nil {
				break
			}
			cursor = next
		}
		// The walk above stops short of the local tail; include it when
		// the peer's window provably ends below it.
		if remoteTail != nil && remoteTail.Number() < localTail.Number() {
			push(localTail)
		}

	case localHead != nil || localTail != nil:
		block := localHead
		if block == nil {
			block = localTail
		}
		outside := remoteTail == nil ||
			block.Number() > remoteTail.Number() ||
			(remoteHead != nil && block.Number() < remoteHead.Number())
		if outside {
			push(block)
		}
	}

	return diff, nil
}

// transactionsDiff returns staged transactions the peer did not
// announce.
func (s *Shard) transactionsDiff(remoteStaged []crypto.Hash) ([]*core.Transaction, error) {
	remote := make(map[crypto.Hash]struct{}, len(remoteStaged))
	for _, hash := range remoteStaged {
		remote[hash] = struct{}{}
	}

	staged, err := s.backend.GetStagedTransactions()
	if err != nil {
		return nil, err
	}

	var diff []*core.Transaction
	for _, hash := range staged {
		if len(diff) >= s.options.MaxTransactionsDiffSize {
			break
		}
		if _, known := remote[hash]; known {
			continue
		}
		tx, err := s.backend.GetStagedTransaction(hash)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			diff = append(diff, tx)
		}
	}
	return diff, nil
}

func (s *Shard) handleAnnounceMembers(sender Member, announce AnnounceMembers) error {
	// Member announcements are only honored from members we chose to
	// subscribe to.
	if !s.options.SubscribeOnAnnouncedMembers {
		return nil
	}
	if _, ok := s.subscriptions[sender.Key()]; !ok {
		return nil
	}

	candidates := make([]Member, 0, len(announce.Members))
	for _, member := range announce.Members {
		if member.ClientPublic.Equal(s.PublicKey()) {
			continue
		}
		candidates = append(candidates, member)
	}

	for len(candidates) > 0 && len(s.subscriptions) < s.options.MaxSubscriptions {
		index := 0
		if s.options.RandomlyChooseAnnouncedMembers {
			index = rand.IntN(len(candidates))
		}
		member := candidates[index]
		candidates = append(candidates[:index], candidates[index+1:]...)

		if err := s.Subscribe(member); err != nil {
			s.log.WithField("member", member.Key()).Debug("announced member subscription failed")
		}
	}
	return nil
}

func (s *Shard) handleAnnounceBlocks(sender Member, announce AnnounceBlocks) error {
	blocks := make([]*core.Block, len(announce.Blocks))
	copy(blocks, announce.Blocks)

	// Ascending insertion keeps peer-visible chain growth in order.
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Number() < blocks[j].Number()
	})

	var validBlocks []*core.Block
	for _, block := range blocks {
		if _, handled := s.handledBlocks[block.Hash()]; handled {
			continue
		}

		result, err := block.Validate()
		if err != nil {
			return err
		}
		if !result.IsValid() {
			continue
		}

		if _, err := s.backend.HandleBlock(block); err != nil {
			return err
		}

		s.rememberHandledBlock(block.Hash())
		validBlocks = append(validBlocks, block)
	}

	if len(validBlocks) == 0 {
		return nil
	}

	// Forward to everyone but the sender, skipping blocks the
	// recipient already appears to have.
	for _, member := range s.connectedMembers() {
		if member.Equal(sender) {
			continue
		}
		p, ok := s.peerStatus(member)
		if !ok {
			continue
		}

		var forward []*core.Block
		for _, block := range validBlocks {
			if !p.status.isBlockKnown(block) {
				forward = append(forward, block)
			}
		}
		if len(forward) == 0 {
			continue
		}

		if err := s.send(member, WrapUpdate(AnnounceBlocks{Blocks: forward})); err != nil {
			s.dropPeer(member, "block forwarding failed")
		}
	}
	return nil
}

func (s *Shard) handleAnnounceTransactions(sender Member, announce AnnounceTransactions) error {
	var validTransactions []*core.Transaction
	for _, tx := range announce.Transactions {
		if _, handled := s.handledTransactions[tx.Hash()]; handled {
			continue
		}

		result, err := tx.Validate()
		if err != nil {
			return err
		}
		if !result.IsValid() {
			continue
		}

		if _, err := s.backend.HandleTransaction(tx); err != nil {
			return err
		}

		s.rememberHandledTransaction(tx.Hash())
		validTransactions = append(validTransactions, tx)
	}

	if len(validTransactions) == 0 {
		return nil
	}

	for _, member := range s.connectedMembers() {
		if member.Equal(sender) {
			continue
		}
		p, ok := s.peerStatus(member)
		if !ok {
			continue
		}

		var forward []*core.Transaction
		for _, tx := range validTransactions {
			if !p.status.isTransactionKnown(tx) {
				forward = append(forward, tx)
			}
		}
		if len(forward) == 0 {
			continue
		}

		if err := s.send(member, WrapUpdate(AnnounceTransactions{Transactions: forward})); err != nil {
			s.dropPeer(member, "transaction forwarding failed")
		}
	}
	return nil
}

// runTimers performs the three timer checks once per connected peer:
// outgoing heartbeat, silent-peer eviction, outgoing status.
func (s *Shard) runTimers() {
	now := time.Now()
	for _, member := range s.connectedMembers() {
		p, ok := s.peerStatus(member)
		if !ok {
			continue
		}

		if now.Sub(p.status.lastOutHeartbeat) > s.options.MinOutHeartbeatDelay {
			if err := s.sendHeartbeat(member); err != nil {
				s.dropPeer(member, "heartbeat failed")
				continue
			}
		}

		if now.Sub(p.status.lastInHeartbeat) > s.options.MaxInHeartbeatDelay {
			s.dropPeer(member, "heartbeat timeout")
			continue
		}

		if now.Sub(p.status.lastOutStatus) > s.options.MinOutStatusDelay {
			if err := s.sendStatus(member); err != nil {
				s.dropPeer(member, "status update failed")
				continue
			}
		}
	}
}
