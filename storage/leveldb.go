package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
)

// LevelDB wraps a LevelDB database shared by the LevelDB-backed index
// implementations.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a LevelDB database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// Close closes the underlying database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

func blockKey(number uint64) []byte {
	key := make([]byte, 0, 6+8)
	key = append(key, "block:"...)
	return binary.BigEndian.AppendUint64(key, number)
}

func txKey(hash crypto.Hash) []byte {
	key := make([]byte, 0, 3+crypto.HashSize)
	key = append(key, "tx:"...)
	return append(key, hash[:]...)
}

var txLastKey = []byte("txmeta:last")

// LevelBlocks implements chain.BlocksIndex on a LevelDB keyspace, the
// alternative to the chunk-file store for larger installations. Blocks
// are stored under big-endian number keys so iteration order is chain
// order.
type LevelBlocks struct {
	db *LevelDB
}

// NewLevelBlocks wraps a LevelDB instance as a blocks index.
func NewLevelBlocks(db *LevelDB) *LevelBlocks {
	return &LevelBlocks{db: db}
}

// Get returns the block with the given number, or nil.
func (s *LevelBlocks) Get(number uint64) (*core.Block, error) {
	data, err := s.db.db.Get(blockKey(number), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	block := new(core.Block)
	if err := json.Unmarshal(data, block); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", number, err)
	}
	return block, nil
}

// Insert adds a block. Returns false when a block with the same hash or
// number is already stored.
func (s *LevelBlocks) Insert(block *core.Block) (bool, error) {
	existing, err := s.Get(block.Number())
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	data, err := json.Marshal(block)
	if err != nil {
		return false, err
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(block.Number()), data)
	if err := s.db.db.Write(batch, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Next returns the block following the given one, or nil.
func (s *LevelBlocks) Next(block *core.Block) (*core.Block, error) {
	return s.Get(block.Number() + 1)
}

// Head returns the lowest-numbered stored block, or nil.
func (s *LevelBlocks) Head() (*core.Block, error) {
	iter := s.db.db.NewIterator(util.BytesPrefix([]byte("block:")), nil)
	defer iter.Release()
	if !iter.First() {
		return nil, iter.Error()
	}
	block := new(core.Block)
	if err := json.Unmarshal(iter.Value(), block); err != nil {
		return nil, fmt.Errorf("decode head block: %w", err)
	}
	return block, nil
}

// Tail returns the highest-numbered block reachable from the head
// through unbroken previous-block links.
func (s *LevelBlocks) Tail() (*core.Block, error) {
	tail, err := s.Head()
	if err != nil || tail == nil {
		return nil, err
	}
	for {
		next, err := s.Get(tail.Number() + 1)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return tail, nil
		}
		prev, ok := next.PreviousBlock()
		if !ok || !prev.Equal(tail.Hash()) {
			return tail, nil
		}
		tail = next
	}
}

// IsEmpty reports whether no blocks are stored.
func (s *LevelBlocks) IsEmpty() (bool, error) {
	head, err := s.Head()
	return head == nil, err
}

// IsTruncated reports whether the head block references a predecessor
// that is not stored here.
func (s *LevelBlocks) IsTruncated() (bool, error) {
	head, err := s.Head()
	if err != nil || head == nil {
		return false, err
	}
	_, hasPrevious := head.PreviousBlock()
	return hasPrevious, nil
}

// LevelTransactions implements chain.TransactionsIndex on the same
// LevelDB keyspace: one entry per stabilized transaction hash plus a
// high-water mark of the latest indexed block.
type LevelTransactions struct {
	db     *LevelDB
	blocks *LevelBlocks
}

// NewLevelTransactions wraps a LevelDB instance as a transactions index
// fed from blocks.
func NewLevelTransactions(db *LevelDB, blocks *LevelBlocks) *LevelTransactions {
	return &LevelTransactions{db: db, blocks: blocks}
}

// IndexIfNeeded catches the index up with the blocks index. Each block
// commits as one batch.
func (t *LevelTransactions) IndexIfNeeded() error {
	var block *core.Block
	var err error

	lastRaw, lastErr := t.db.db.Get(txLastKey, nil)
	switch {
	case lastErr == leveldb.ErrNotFound:
		block, err = t.blocks.Head()
		if err != nil {
			return err
		}
		if block == nil {
			return nil
		}
		if err := t.indexBlock(block); err != nil {
			return err
		}
	case lastErr != nil:
		return lastErr
	default:
		block, err = t.blocks.Get(binary.BigEndian.Uint64(lastRaw))
		if err != nil {
			return err
		}
		if block == nil {
			return nil
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
		if err := t.indexBlock(next); err != nil {
			return err
		}
		block = next
	}
}

func (t *LevelTransactions) indexBlock(block *core.Block) error {
	batch := new(leveldb.Batch)
	var numberBuf [8]byte
	binary.BigEndian.PutUint64(numberBuf[:], block.Number())
	for _, tx := range block.Transactions() {
		batch.Put(txKey(tx.Hash()), numberBuf[:])
	}
	batch.Put(txLastKey, numberBuf[:])
	return t.db.db.Write(batch, nil)
}

// Lookup returns the number of the block that stabilized the
// transaction, if any.
func (t *LevelTransactions) Lookup(hash crypto.Hash) (uint64, bool, error) {
	if err := t.IndexIfNeeded(); err != nil {
		return 0, false, err
	}
	data, err := t.db.db.Get(txKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(data), true, nil
}

// GetTransaction returns the stabilized transaction and its block, or
// (nil, nil) when unknown.
func (t *LevelTransactions) GetTransaction(hash crypto.Hash) (*core.Transaction, *core.Block, error) {
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
func (t *LevelTransactions) HasTransaction(hash crypto.Hash) (bool, error) {
	_, found, err := t.Lookup(hash)
	return found, err
}
