package consensus

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperchain-net/hyperchain/chain"
	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/internal/testutil"
	"github.com/hyperchain-net/hyperchain/shard"
	"github.com/hyperchain-net/hyperchain/storage"
	"github.com/hyperchain-net/hyperchain/transport"
)

func newProducer(t *testing.T, secret crypto.SecretKey, authorities ...crypto.PublicKey) (*Producer, *shard.BasicBackend) {
	t.Helper()
	dir := t.TempDir()

	authIndex, err := storage.OpenAuthoritiesFile(filepath.Join(dir, "authorities"))
	if err != nil {
		t.Fatal(err)
	}
	blocks, err := storage.OpenChunkedBlocks(filepath.Join(dir, "blocks"), 4)
	if err != nil {
		t.Fatal(err)
	}
	transactions, err := storage.OpenTransactionsLog(filepath.Join(dir, "transactions"), blocks)
	if err != nil {
		t.Fatal(err)
	}
	for _, pub := range authorities {
		if _, err := authIndex.Insert(pub); err != nil {
			t.Fatal(err)
		}
	}

	blockchain := chain.New(authIndex, blocks, transactions)
	backend := shard.NewBasicBackend(blockchain)

	network := transport.NewMemoryNetwork()
	s := shard.New(network.Join("producer:9000"), secret, "testnet", backend)

	return NewProducer(s, blockchain.Authorities(), secret), backend
}

func TestProduceBlockStabilizesStaged(t *testing.T) {
	secret := crypto.RandomSecretKey()
	producer, backend := newProducer(t, secret, secret.Public())

	// Fresh chain: the first production mints the root.
	root, err := producer.ProduceBlock()
	if err != nil {
		t.Fatalf("produce root: %v", err)
	}
	if !root.IsRoot() {
		t.Error("first produced block should be the root")
	}

	tx := testutil.RawTransaction(t, secret, "pending payload")
	if _, err := backend.HandleTransaction(tx); err != nil {
		t.Fatal(err)
	}

	block, err := producer.ProduceBlock()
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if block.Number() != 1 {
		t.Errorf("block number: got %d want 1", block.Number())
	}
	if len(block.Transactions()) != 1 || !block.Transactions()[0].Equal(tx) {
		t.Error("produced block should carry the staged transaction")
	}

	// The staged pool drains after stabilization.
	staged, err := backend.GetStagedTransactions()
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 0 {
		t.Errorf("staged pool: got %d entries want 0", len(staged))
	}

	result, err := block.Validate()
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsValid() {
		t.Error("produced block should validate")
	}
}

func TestProduceBlockRequiresAuthority(t *testing.T) {
	secret := crypto.RandomSecretKey()
	other := crypto.RandomSecretKey()

	// Authorities set contains only the other key.
	producer, _ := newProducer(t, secret, other.Public())

	_, err := producer.ProduceBlock()
	if !errors.Is(err, ErrNotAuthority) {
		t.Errorf("expected ErrNotAuthority, got %v", err)
	}
}

func TestProduceBlockSkipsEmptyPool(t *testing.T) {
	secret := crypto.RandomSecretKey()
	producer, _ := newProducer(t, secret, secret.Public())

	if _, err := producer.ProduceBlock(); err != nil {
		t.Fatal(err)
	}

	// With a chain in place and nothing staged there is nothing to do.
	_, err := producer.ProduceBlock()
	if !errors.Is(err, ErrNothingStaged) {
		t.Errorf("expected ErrNothingStaged, got %v", err)
	}
}
