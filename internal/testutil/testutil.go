// Package testutil provides shared fixtures for tests across the
// module. Never import this in production code.
package testutil

import (
	"testing"

	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
)

// BuildChain builds a valid chain of n blocks (root included) signed by
// secret.
func BuildChain(t *testing.T, secret crypto.SecretKey, n int) []*core.Block {
	t.Helper()
	if n <= 0 {
		return nil
	}
	blocks := make([]*core.Block, 0, n)
	blocks = append(blocks, core.BuildRoot(secret))
	for i := 1; i < n; i++ {
		blocks = append(blocks, core.Chained(blocks[i-1]).Sign(secret))
	}
	return blocks
}

// RawTransaction builds a signed raw-payload transaction.
func RawTransaction(t *testing.T, secret crypto.SecretKey, payload string) *core.Transaction {
	t.Helper()
	tx, err := core.NewTransactionBuilder().
		WithBody(core.RawBody{Data: []byte(payload)}).
		Sign(secret)
	if err != nil {
		t.Fatalf("sign transaction: %v", err)
	}
	return tx
}
