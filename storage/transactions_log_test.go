package storage

import (
	"path/filepath"
	"testing"

	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/internal/testutil"
)

// Builds the scenario chain: b0 root, b1 carries ta, b2 empty, b3
// carries tb and tc.
func buildIndexedChain(t *testing.T, secret crypto.SecretKey) (blocks []*core.Block, txs []*core.Transaction) {
	t.Helper()

	ta := testutil.RawTransaction(t, secret, "payload a")
	tb := testutil.RawTransaction(t, secret, "payload b")
	tc := testutil.RawTransaction(t, secret, "payload c")

	b0 := core.BuildRoot(secret)
	b1 := core.Chained(b0).AddTransaction(ta).Sign(secret)
	b2 := core.Chained(b1).Sign(secret)
	b3 := core.Chained(b2).AddTransaction(tb).AddTransaction(tc).Sign(secret)

	return []*core.Block{b0, b1, b2, b3}, []*core.Transaction{ta, tb, tc}
}

func TestTransactionsLogLookup(t *testing.T) {
	dir := t.TempDir()
	secret := crypto.RandomSecretKey()

	blocks, err := OpenChunkedBlocks(filepath.Join(dir, "blocks"), 2)
	if err != nil {
		t.Fatal(err)
	}
	index, err := OpenTransactionsLog(filepath.Join(dir, "transactions"), blocks)
	if err != nil {
		t.Fatal(err)
	}

	chainBlocks, txs := buildIndexedChain(t, secret)
	ta, tb, tc := txs[0], txs[1], txs[2]

	// Nothing is stabilized before any block lands.
	for _, hash := range []crypto.Hash{crypto.MinHash, crypto.MaxHash, ta.Hash()} {
		has, err := index.HasTransaction(hash)
		if err != nil {
			t.Fatal(err)
		}
		if has {
			t.Errorf("hash %s should not be indexed yet", hash)
		}
	}

	for _, block := range chainBlocks {
		if _, err := blocks.Insert(block); err != nil {
			t.Fatal(err)
		}
	}

	gotTx, gotBlock, err := index.GetTransaction(ta.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !ta.Equal(gotTx) || gotBlock == nil || gotBlock.Number() != 1 {
		t.Error("ta should resolve to (ta, b1)")
	}

	gotTx, gotBlock, err = index.GetTransaction(tb.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !tb.Equal(gotTx) || gotBlock == nil || gotBlock.Number() != 3 {
		t.Error("tb should resolve to (tb, b3)")
	}

	gotTx, gotBlock, err = index.GetTransaction(tc.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !tc.Equal(gotTx) || gotBlock == nil || gotBlock.Number() != 3 {
		t.Error("tc should resolve to (tc, b3)")
	}

	has, err := index.HasTransaction(crypto.MaxHash)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("MaxHash must not be indexed")
	}
}

func TestTransactionsLogIncrementalIndexing(t *testing.T) {
	dir := t.TempDir()
	secret := crypto.RandomSecretKey()

	blocks, err := OpenChunkedBlocks(filepath.Join(dir, "blocks"), 2)
	if err != nil {
		t.Fatal(err)
	}
	index, err := OpenTransactionsLog(filepath.Join(dir, "transactions"), blocks)
	if err != nil {
		t.Fatal(err)
	}

	chainBlocks, txs := buildIndexedChain(t, secret)
	ta, tb := txs[0], txs[1]

	// Insert the prefix b0..b1 and index.
	for _, block := range chainBlocks[:2] {
		if _, err := blocks.Insert(block); err != nil {
			t.Fatal(err)
		}
	}

	has, err := index.HasTransaction(ta.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("ta must be indexed after b1 lands")
	}
	has, err = index.HasTransaction(tb.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("tb must not be indexed before b3 lands")
	}

	// Land the rest; the next query catches the index up.
	for _, block := range chainBlocks[2:] {
		if _, err := blocks.Insert(block); err != nil {
			t.Fatal(err)
		}
	}

	number, found, err := index.Lookup(tb.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !found || number != 3 {
		t.Errorf("Lookup(tb): got (%d, %v) want (3, true)", number, found)
	}

	// Indexing again must be a no-op.
	if err := index.IndexIfNeeded(); err != nil {
		t.Fatal(err)
	}
	number, found, err = index.Lookup(tb.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !found || number != 3 {
		t.Error("repeated indexing changed the lookup result")
	}
}
