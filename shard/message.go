package shard

import (
	"encoding/json"

	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
)

// MessageType discriminates top-level shard messages on the wire.
type MessageType string

const (
	MessageSubscribe   MessageType = "subscribe"
	MessageUnsubscribe MessageType = "unsubscribe"
	MessageHeartbeat   MessageType = "heartbeat"
	MessageUpdate      MessageType = "update"
)

// UpdateType discriminates update payloads on the wire.
type UpdateType string

const (
	UpdateStatus               UpdateType = "status"
	UpdateAnnounceMembers      UpdateType = "announce_members"
	UpdateAnnounceBlocks       UpdateType = "announce_blocks"
	UpdateAnnounceTransactions UpdateType = "announce_transactions"
)

// Update is the sum type of shard update payloads.
type Update interface {
	UpdateType() UpdateType
}

// Status announces the sender's chain endpoints and staged pool.
type Status struct {
	HeadBlock          *core.Block
	TailBlock          *core.Block
	StagedTransactions []crypto.Hash
}

func (Status) UpdateType() UpdateType { return UpdateStatus }

// AnnounceMembers shares known shard members, typically with a refused
// subscriber.
type AnnounceMembers struct {
	Members []Member
}

func (AnnounceMembers) UpdateType() UpdateType { return UpdateAnnounceMembers }

// AnnounceBlocks distributes blocks (not necessarily new ones).
type AnnounceBlocks struct {
	Blocks []*core.Block
}

func (AnnounceBlocks) UpdateType() UpdateType { return UpdateAnnounceBlocks }

// AnnounceTransactions distributes transactions (not necessarily new
// ones).
type AnnounceTransactions struct {
	Transactions []*core.Transaction
}

func (AnnounceTransactions) UpdateType() UpdateType { return UpdateAnnounceTransactions }

// Message is one decoded shard wire message. Update is set only for
// MessageUpdate.
type Message struct {
	Type   MessageType
	Update Update
}

// Subscribe returns a subscription request message.
func Subscribe() Message { return Message{Type: MessageSubscribe} }

// Unsubscribe returns an unsubscription message.
func Unsubscribe() Message { return Message{Type: MessageUnsubscribe} }

// Heartbeat returns a keep-alive message.
func Heartbeat() Message { return Message{Type: MessageHeartbeat} }

// WrapUpdate wraps an update payload into a message.
func WrapUpdate(update Update) Message {
	return Message{Type: MessageUpdate, Update: update}
}

// ---- wire form ----

type messageJSON struct {
	Format  uint64          `json:"format"`
	Type    MessageType     `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

type statusBlocksJSON struct {
	Head json.RawMessage `json:"head"`
	Tail json.RawMessage `json:"tail"`
}

type statusBodyJSON struct {
	Blocks             statusBlocksJSON `json:"blocks"`
	StagedTransactions []string         `json:"staged_transactions"`
}

type updateJSON struct {
	Format       uint64            `json:"format"`
	Type         UpdateType        `json:"type"`
	Body         *statusBodyJSON   `json:"body,omitempty"`
	Members      []Member          `json:"members,omitempty"`
	Blocks       []json.RawMessage `json:"blocks,omitempty"`
	Transactions []json.RawMessage `json:"transactions,omitempty"`
}

// EncodeMessage serializes a shard message into its versioned wire
// form.
func EncodeMessage(msg Message) ([]byte, error) {
	wire := messageJSON{Format: core.WireFormat, Type: msg.Type}

	if msg.Type == MessageUpdate {
		content, err := encodeUpdate(msg.Update)
		if err != nil {
			return nil, err
		}
		wire.Content = content
	}

	return json.Marshal(wire)
}

func encodeUpdate(update Update) ([]byte, error) {
	wire := updateJSON{Format: core.WireFormat, Type: update.UpdateType()}

	switch u := update.(type) {
	case Status:
		body := statusBodyJSON{
			Blocks:             statusBlocksJSON{Head: nullJSON, Tail: nullJSON},
			StagedTransactions: make([]string, 0, len(u.StagedTransactions)),
		}
		if u.HeadBlock != nil {
			raw, err := json.Marshal(u.HeadBlock)
			if err != nil {
				return nil, err
			}
			body.Blocks.Head = raw
		}
		if u.TailBlock != nil {
			raw, err := json.Marshal(u.TailBlock)
			if err != nil {
				return nil, err
			}
			body.Blocks.Tail = raw
		}
		for _, hash := range u.StagedTransactions {
			body.StagedTransactions = append(body.StagedTransactions, hash.Base64())
		}
		wire.Body = &body

	case AnnounceMembers:
		wire.Members = u.Members
		if wire.Members == nil {
			wire.Members = []Member{}
		}

	case AnnounceBlocks:
		wire.Blocks = make([]json.RawMessage, 0, len(u.Blocks))
		for _, block := range u.Blocks {
			raw, err := json.Marshal(block)
			if err != nil {
				return nil, err
			}
			wire.Blocks = append(wire.Blocks, raw)
		}

	case AnnounceTransactions:
		wire.Transactions = make([]json.RawMessage, 0, len(u.Transactions))
		for _, tx := range u.Transactions {
			raw, err := json.Marshal(tx)
			if err != nil {
				return nil, err
			}
			wire.Transactions = append(wire.Transactions, raw)
		}

	default:
		return nil, &core.FieldError{Field: "content.type"}
	}

	return json.Marshal(wire)
}

var nullJSON = json.RawMessage("null")

func isNullJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// DecodeMessage parses a shard wire message, rejecting unknown format
// versions and discriminators.
func DecodeMessage(data []byte) (Message, error) {
	var wire messageJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, err
	}
	if wire.Format != core.WireFormat {
		return Message{}, &core.InvalidStandardError{Format: wire.Format}
	}

	switch wire.Type {
	case MessageSubscribe, MessageUnsubscribe, MessageHeartbeat:
		return Message{Type: wire.Type}, nil

	case MessageUpdate:
		if isNullJSON(wire.Content) {
			return Message{}, &core.FieldError{Field: "content"}
		}
		update, err := decodeUpdate(wire.Content)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: MessageUpdate, Update: update}, nil

	default:
		return Message{}, &core.FieldError{Field: "type"}
	}
}

func decodeUpdate(data []byte) (Update, error) {
	var wire updateJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	if wire.Format != core.WireFormat {
		return nil, &core.InvalidStandardError{Format: wire.Format}
	}

	switch wire.Type {
	case UpdateStatus:
		if wire.Body == nil {
			return nil, &core.FieldError{Field: "content.body"}
		}
		status := Status{
			StagedTransactions: make([]crypto.Hash, 0, len(wire.Body.StagedTransactions)),
		}
		if !isNullJSON(wire.Body.Blocks.Head) {
			block := new(core.Block)
			if err := json.Unmarshal(wire.Body.Blocks.Head, block); err != nil {
				return nil, &core.FieldError{Field: "content.body.blocks.head", Err: err}
			}
			status.HeadBlock = block
		}
		if !isNullJSON(wire.Body.Blocks.Tail) {
			block := new(core.Block)
			if err := json.Unmarshal(wire.Body.Blocks.Tail, block); err != nil {
				return nil, &core.FieldError{Field: "content.body.blocks.tail", Err: err}
			}
			status.TailBlock = block
		}
		for _, encoded := range wire.Body.StagedTransactions {
			hash, err := crypto.HashFromBase64(encoded)
			if err != nil {
				return nil, &core.FieldError{Field: "content.body.staged_transactions", Err: err}
			}
			status.StagedTransactions = append(status.StagedTransactions, hash)
		}
		return status, nil

	case UpdateAnnounceMembers:
		return AnnounceMembers{Members: wire.Members}, nil

	case UpdateAnnounceBlocks:
		blocks := make([]*core.Block, 0, len(wire.Blocks))
		for _, raw := range wire.Blocks {
			block := new(core.Block)
			if err := json.Unmarshal(raw, block); err != nil {
				return nil, &core.FieldError{Field: "content.blocks", Err: err}
			}
			blocks = append(blocks, block)
		}
		return AnnounceBlocks{Blocks: blocks}, nil

	case UpdateAnnounceTransactions:
		transactions := make([]*core.Transaction, 0, len(wire.Transactions))
		for _, raw := range wire.Transactions {
			tx := new(core.Transaction)
			if err := json.Unmarshal(raw, tx); err != nil {
				return nil, &core.FieldError{Field: "content.transactions", Err: err}
			}
			transactions = append(transactions, tx)
		}
		return AnnounceTransactions{Transactions: transactions}, nil

	default:
		return nil, &core.FieldError{Field: "content.type"}
	}
}
