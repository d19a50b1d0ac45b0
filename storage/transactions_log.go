package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperchain-net/hyperchain/chain"
	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
)

// TransactionsLog is a reverse index from transaction hashes to block
// numbers, stored as a single append-only binary log:
//
//	[u64 last_block_entry_offset]          header
//	repeat:
//	  [u64 prev_block_entry_offset]
//	  [u64 block_number]
//	  [u16 transactions_in_block]
//	  [32 bytes per transaction hash] * N
//
// The header points at the most recently indexed block entry; entries
// point at their predecessors, forming a reverse linked list. A block
// entry is buffered fully and written with a single append before the
// header pointer commits it; a crash in between leaves a trailing
// orphan entry invisible to readers.
type TransactionsLog struct {
	mu     sync.Mutex
	path   string
	blocks chain.BlocksIndex
}

const logHeaderSize = 8
const logEntryHeaderSize = 18

// OpenTransactionsLog opens or creates the log at path. The blocks
// index is the source the log catches up with.
func OpenTransactionsLog(path string, blocks chain.BlocksIndex) (*TransactionsLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create transactions dir: %w", err)
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		var header [logHeaderSize]byte
		if err := os.WriteFile(path, header[:], 0o644); err != nil {
			return nil, fmt.Errorf("create transactions log: %w", err)
		}
	} else if err != nil {
		return nil, err
	}
	return &TransactionsLog{path: path, blocks: blocks}, nil
}

// indexBlock appends one entry for block and commits it through the
// header pointer.
func (t *TransactionsLog) indexBlock(file *os.File, block *core.Block) error {
	var header [logHeaderSize]byte
	if _, err := file.ReadAt(header[:], 0); err != nil {
		return fmt.Errorf("read log header: %w", err)
	}
	lastEntry := binary.BigEndian.Uint64(header[:])

	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	transactions := block.Transactions()

	// Buffer the whole entry so the file write is a single append and a
	// partial failure cannot corrupt the list structure.
	entry := make([]byte, 0, logEntryHeaderSize+len(transactions)*crypto.HashSize)
	entry = binary.BigEndian.AppendUint64(entry, lastEntry)
	entry = binary.BigEndian.AppendUint64(entry, block.Number())
	entry = binary.BigEndian.AppendUint16(entry, uint16(len(transactions)))
	for _, tx := range transactions {
		hash := tx.Hash()
		entry = append(entry, hash[:]...)
	}

	if _, err := file.WriteAt(entry, end); err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}

	binary.BigEndian.PutUint64(header[:], uint64(end))
	if _, err := file.WriteAt(header[:], 0); err != nil {
		return fmt.Errorf("commit log entry: %w", err)
	}
	return nil
}

// lookup walks the reverse list from the header until it finds the
// block entry containing hash.
func (t *TransactionsLog) lookup(file *os.File, hash crypto.Hash) (uint64, bool, error) {
	var header [logHeaderSize]byte
	if _, err := file.ReadAt(header[:], 0); err != nil {
		return 0, false, fmt.Errorf("read log header: %w", err)
	}
	entryPos := binary.BigEndian.Uint64(header[:])

	for entryPos > 0 {
		var entryHeader [logEntryHeaderSize]byte
		if _, err := file.ReadAt(entryHeader[:], int64(entryPos)); err != nil {
			return 0, false, fmt.Errorf("read log entry: %w", err)
		}
		prev := binary.BigEndian.Uint64(entryHeader[0:8])
		number := binary.BigEndian.Uint64(entryHeader[8:16])
		count := binary.BigEndian.Uint16(entryHeader[16:18])

		hashes := make([]byte, int(count)*crypto.HashSize)
		if _, err := file.ReadAt(hashes, int64(entryPos)+logEntryHeaderSize); err != nil {
			return 0, false, fmt.Errorf("read log entry hashes: %w", err)
		}
		for i := 0; i < int(count); i++ {
			var candidate crypto.Hash
			copy(candidate[:], hashes[i*crypto.HashSize:(i+1)*crypto.HashSize])
			if candidate.Equal(hash) {
				return number, true, nil
			}
		}

		entryPos = prev
	}
	return 0, false, nil
}

// lastIndexed returns the number of the most recently indexed block.
func (t *TransactionsLog) lastIndexed(file *os.File) (uint64, bool, error) {
	var header [logHeaderSize]byte
	if _, err := file.ReadAt(header[:], 0); err != nil {
		return 0, false, fmt.Errorf("read log header: %w", err)
	}
	entryPos := binary.BigEndian.Uint64(header[:])
	if entryPos == 0 {
		return 0, false, nil
	}
	var numberBuf [8]byte
	if _, err := file.ReadAt(numberBuf[:], int64(entryPos)+8); err != nil {
		return 0, false, fmt.Errorf("read last indexed block: %w", err)
	}
	return binary.BigEndian.Uint64(numberBuf[:]), true, nil
}

// IndexIfNeeded catches the log up with the blocks index, appending one
// entry per block past the latest indexed one. The call is idempotent.
func (t *TransactionsLog) IndexIfNeeded() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.OpenFile(t.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open transactions log: %w", err)
	}
	defer file.Close()

	last, indexed, err := t.lastIndexed(file)
	if err != nil {
		return err
	}

	var block *core.Block
	if indexed {
		block, err = t.blocks.Get(last)
	} else {
		block, err = t.blocks.Head()
	}
	if err != nil {
		return err
	}
	if block == nil {
		return nil
	}

	if !indexed {
		if err := t.indexBlock(file, block); err != nil {
			return err
		}
	}

	for {
		next, err := t.blocks.Next(block)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		if err := t.indexBlock(file, next); err != nil {
			return err
		}
		block = next
	}
}

// Lookup returns the number of the block that stabilized the
// transaction, if any.
func (t *TransactionsLog) Lookup(hash crypto.Hash) (uint64, bool, error) {
	if err := t.IndexIfNeeded(); err != nil {
		return 0, false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.Open(t.path)
	if err != nil {
		return 0, false, fmt.Errorf("open transactions log: %w", err)
	}
	defer file.Close()

	return t.lookup(file, hash)
}

// GetTransaction returns the stabilized transaction and the block that
// contains it, or (nil, nil) when unknown.
func (t *TransactionsLog) GetTransaction(hash crypto.Hash) (*core.Transaction, *core.Block, error) {
	number, found, err := t.Lookup(hash)
	if err != nil || !found {
		return nil, nil, err
	}

	block, err := t.blocks.Get(number)
	if err != nil || block == nil {
		return nil, nil, err
	}

	for _, tx := range block.Transactions() {
		if tx.Hash().Equal(hash) {
			return tx, block, nil
		}
	}
	return nil, nil, nil
}

// HasTransaction reports whether the transaction is stabilized.
func (t *TransactionsLog) HasTransaction(hash crypto.Hash) (bool, error) {
	_, found, err := t.Lookup(hash)
	return found, err
}
