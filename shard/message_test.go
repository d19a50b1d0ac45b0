package shard

import (
	"errors"
	"testing"

	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/internal/testutil"
)

func memberFixture(t *testing.T) Member {
	t.Helper()
	return Member{
		ClientPublic:  crypto.RandomSecretKey().Public(),
		ServerAddress: "node.example:9000",
	}
}

func TestMessageRoundTrip(t *testing.T) {
	secret := crypto.RandomSecretKey()
	blocks := testutil.BuildChain(t, secret, 2)
	tx := testutil.RawTransaction(t, secret, "gossip payload")

	messages := []Message{
		Subscribe(),
		Unsubscribe(),
		Heartbeat(),
		WrapUpdate(Status{}),
		WrapUpdate(Status{
			HeadBlock:          blocks[0],
			TailBlock:          blocks[1],
			StagedTransactions: []crypto.Hash{crypto.MinHash, crypto.MaxHash},
		}),
		WrapUpdate(AnnounceMembers{}),
		WrapUpdate(AnnounceMembers{Members: []Member{memberFixture(t), memberFixture(t)}}),
		WrapUpdate(AnnounceBlocks{Blocks: blocks}),
		WrapUpdate(AnnounceTransactions{Transactions: []*core.Transaction{tx}}),
	}

	for _, msg := range messages {
		data, err := EncodeMessage(msg)
		if err != nil {
			t.Fatalf("encode %s: %v", msg.Type, err)
		}
		decoded, err := DecodeMessage(data)
		if err != nil {
			t.Fatalf("decode %s: %v", msg.Type, err)
		}
		if decoded.Type != msg.Type {
			t.Errorf("type: got %s want %s", decoded.Type, msg.Type)
		}
		if msg.Type != MessageUpdate {
			continue
		}
		if decoded.Update.UpdateType() != msg.Update.UpdateType() {
			t.Errorf("update type: got %s want %s", decoded.Update.UpdateType(), msg.Update.UpdateType())
			continue
		}

		switch want := msg.Update.(type) {
		case Status:
			got := decoded.Update.(Status)
			if !want.HeadBlock.Equal(got.HeadBlock) || !want.TailBlock.Equal(got.TailBlock) {
				t.Error("status blocks did not round trip")
			}
			if len(got.StagedTransactions) != len(want.StagedTransactions) {
				t.Error("staged transactions did not round trip")
			}
		case AnnounceMembers:
			got := decoded.Update.(AnnounceMembers)
			if len(got.Members) != len(want.Members) {
				t.Error("members did not round trip")
			}
			for i := range want.Members {
				if !want.Members[i].Equal(got.Members[i]) {
					t.Error("member identity did not round trip")
				}
			}
		case AnnounceBlocks:
			got := decoded.Update.(AnnounceBlocks)
			if len(got.Blocks) != len(want.Blocks) {
				t.Fatal("blocks did not round trip")
			}
			for i := range want.Blocks {
				if !want.Blocks[i].Equal(got.Blocks[i]) {
					t.Error("block did not round trip")
				}
			}
		case AnnounceTransactions:
			got := decoded.Update.(AnnounceTransactions)
			if len(got.Transactions) != 1 || !got.Transactions[0].Equal(tx) {
				t.Error("transactions did not round trip")
			}
		}
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"format": 2, "type": "subscribe"}`))
	var standard *core.InvalidStandardError
	if err == nil || !errors.As(err, &standard) {
		t.Fatalf("expected InvalidStandardError, got %v", err)
	}
	if standard.Format != 2 {
		t.Errorf("format: got %d want 2", standard.Format)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"format": 1, "type": "gossip"}`)); err == nil {
		t.Error("unknown message type should fail to decode")
	}
	if _, err := DecodeMessage([]byte(`{"format": 1, "type": "update", "content": {"format": 1, "type": "nonsense"}}`)); err == nil {
		t.Error("unknown update type should fail to decode")
	}
}
