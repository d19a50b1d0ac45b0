package storage

import (
	"path/filepath"
	"testing"

	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/internal/testutil"
)

func TestLevelBlocksIndex(t *testing.T) {
	db, err := OpenLevelDB(filepath.Join(t.TempDir(), "chain"))
	if err != nil {
		t.Fatalf("OpenLevelDB: %v", err)
	}
	defer db.Close()

	index := NewLevelBlocks(db)

	secret := crypto.RandomSecretKey()
	blocks := testutil.BuildChain(t, secret, 4)

	// Out-of-order insertion, as the overlay delivers blocks.
	for _, i := range []int{0, 2, 1, 3} {
		inserted, err := index.Insert(blocks[i])
		if err != nil {
			t.Fatal(err)
		}
		if !inserted {
			t.Fatalf("insert block %d: expected true", i)
		}
	}

	inserted, err := index.Insert(blocks[0])
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("re-insert should return false")
	}

	head, err := index.Head()
	if err != nil {
		t.Fatal(err)
	}
	if !blocks[0].Equal(head) {
		t.Error("head should be the root")
	}

	tail, err := index.Tail()
	if err != nil {
		t.Fatal(err)
	}
	if !blocks[3].Equal(tail) {
		t.Errorf("tail: got %d want 3", tail.Number())
	}

	next, err := index.Next(blocks[1])
	if err != nil {
		t.Fatal(err)
	}
	if !blocks[2].Equal(next) {
		t.Error("Next(b1) should be b2")
	}
}

func TestLevelTransactionsIndex(t *testing.T) {
	db, err := OpenLevelDB(filepath.Join(t.TempDir(), "chain"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	blocks := NewLevelBlocks(db)
	index := NewLevelTransactions(db, blocks)

	secret := crypto.RandomSecretKey()
	chainBlocks, txs := buildIndexedChain(t, secret)

	for _, block := range chainBlocks {
		if _, err := blocks.Insert(block); err != nil {
			t.Fatal(err)
		}
	}

	gotTx, gotBlock, err := index.GetTransaction(txs[0].Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !txs[0].Equal(gotTx) || gotBlock == nil || gotBlock.Number() != 1 {
		t.Error("ta should resolve to (ta, b1)")
	}

	number, found, err := index.Lookup(txs[2].Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !found || number != 3 {
		t.Errorf("Lookup(tc): got (%d, %v) want (3, true)", number, found)
	}

	has, err := index.HasTransaction(crypto.MaxHash)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("MaxHash must not be indexed")
	}
}
