package shard

import (
	"path/filepath"
	"testing"

	"github.com/hyperchain-net/hyperchain/chain"
	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/internal/testutil"
	"github.com/hyperchain-net/hyperchain/storage"
)

func newBackend(t *testing.T, authorities ...crypto.PublicKey) *BasicBackend {
	t.Helper()
	dir := t.TempDir()

	authIndex, err := storage.OpenAuthoritiesFile(filepath.Join(dir, "authorities"))
	if err != nil {
		t.Fatal(err)
	}
	blocks, err := storage.OpenChunkedBlocks(filepath.Join(dir, "blocks"), 2)
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

	return NewBasicBackend(chain.New(authIndex, blocks, transactions))
}

func TestBackendBlockAdmission(t *testing.T) {
	secret := crypto.RandomSecretKey()
	backend := newBackend(t, secret.Public())

	root := core.BuildRoot(secret)

	accepted, err := backend.HandleBlock(root)
	if err != nil {
		t.Fatal(err)
	}
	if !accepted {
		t.Fatal("authority root block should be accepted")
	}

	// Idempotence: the same block is not stored twice.
	accepted, err = backend.HandleBlock(root)
	if err != nil {
		t.Fatal(err)
	}
	if accepted {
		t.Error("duplicate block should be rejected")
	}

	head, err := backend.GetHeadBlock()
	if err != nil {
		t.Fatal(err)
	}
	if !root.Equal(head) {
		t.Error("head should be the admitted root")
	}
}

// Authority gate: blocks from a non-authority are rejected regardless
// of signature validity, and the indices stay unchanged.
func TestBackendRejectsNonAuthority(t *testing.T) {
	authority := crypto.RandomSecretKey()
	outsider := crypto.RandomSecretKey()
	backend := newBackend(t, authority.Public())

	rogue := core.BuildRoot(outsider)

	accepted, err := backend.HandleBlock(rogue)
	if err != nil {
		t.Fatal(err)
	}
	if accepted {
		t.Error("non-authority block should be rejected")
	}

	head, err := backend.GetHeadBlock()
	if err != nil {
		t.Fatal(err)
	}
	if head != nil {
		t.Error("indices must stay unchanged after a rejected block")
	}
}

func TestBackendValidatorHooks(t *testing.T) {
	secret := crypto.RandomSecretKey()

	var vetoedBlocks, handledBlocks int
	backend := newBackend(t, secret.Public()).
		WithBlockValidator(func(*core.Block) bool {
			vetoedBlocks++
			return false
		}).
		WithBlockHandler(func(*core.Block) {
			handledBlocks++
		})

	accepted, err := backend.HandleBlock(core.BuildRoot(secret))
	if err != nil {
		t.Fatal(err)
	}
	if accepted {
		t.Error("vetoed block should be rejected")
	}
	if vetoedBlocks != 1 {
		t.Errorf("validator hook calls: got %d want 1", vetoedBlocks)
	}
	if handledBlocks != 0 {
		t.Error("handler hook must not run for rejected blocks")
	}
}

func TestBackendTransactionStaging(t *testing.T) {
	secret := crypto.RandomSecretKey()
	backend := newBackend(t, secret.Public())

	tx := testutil.RawTransaction(t, secret, "staged payload")

	staged, err := backend.HandleTransaction(tx)
	if err != nil {
		t.Fatal(err)
	}
	if !staged {
		t.Fatal("fresh transaction should stage")
	}

	// Staging the same transaction again creates no new entry.
	staged, err = backend.HandleTransaction(tx)
	if err != nil {
		t.Fatal(err)
	}
	if staged {
		t.Error("duplicate transaction should not re-stage")
	}

	got, err := backend.GetStagedTransaction(tx.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !tx.Equal(got) {
		t.Error("staged transaction should be retrievable")
	}

	hashes, err := backend.GetStagedTransactions()
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 1 || !hashes[0].Equal(tx.Hash()) {
		t.Error("staged pool should contain exactly the staged hash")
	}
}

// Stabilization removes from pool: after a block carrying a staged
// transaction is admitted, the pool no longer returns it.
func TestBackendStabilizationEvictsStaged(t *testing.T) {
	secret := crypto.RandomSecretKey()
	backend := newBackend(t, secret.Public())

	tx := testutil.RawTransaction(t, secret, "to be stabilized")
	if _, err := backend.HandleTransaction(tx); err != nil {
		t.Fatal(err)
	}

	root := core.BuildRoot(secret)
	if _, err := backend.HandleBlock(root); err != nil {
		t.Fatal(err)
	}
	block := core.Chained(root).AddTransaction(tx).Sign(secret)

	accepted, err := backend.HandleBlock(block)
	if err != nil {
		t.Fatal(err)
	}
	if !accepted {
		t.Fatal("stabilizing block should be accepted")
	}

	got, err := backend.GetStagedTransaction(tx.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("stabilized transaction must leave the staged pool")
	}

	// Re-staging a stabilized transaction is refused.
	staged, err := backend.HandleTransaction(tx)
	if err != nil {
		t.Fatal(err)
	}
	if staged {
		t.Error("stabilized transaction must not re-stage")
	}

	gotTx, gotBlock, err := backend.GetTransaction(tx.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !tx.Equal(gotTx) || gotBlock == nil || gotBlock.Number() != 1 {
		t.Error("stabilized transaction should resolve through the index")
	}
}
