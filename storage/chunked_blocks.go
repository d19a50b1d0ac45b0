package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/hyperchain-net/hyperchain/core"
)

// DefaultChunkSize is the number of blocks squashed into one chunk file.
const DefaultChunkSize = 64

// chunkCacheSize bounds the number of parsed chunks kept in memory.
const chunkCacheSize = 16

// ChunkedBlocks stores blocks grouped into fixed-size chunk files, one
// pretty-printed JSON array per chunk. Chunk k holds blocks
// [k*chunkSize, (k+1)*chunkSize). Each chunk file is the serialization
// boundary: inserts rewrite the whole chunk atomically.
//
// The tail block number is cached as a best-effort hint; a stale hint is
// detected and recomputed from the head.
type ChunkedBlocks struct {
	dir       string
	chunkSize uint64

	tailHint atomic.Uint64

	mu    sync.Mutex
	cache *lru.Cache[uint64, []*core.Block]
}

// OpenChunkedBlocks opens or creates a chunked blocks index in dir.
// chunkSize of 0 selects DefaultChunkSize.
func OpenChunkedBlocks(dir string, chunkSize uint64) (*ChunkedBlocks, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blocks dir: %w", err)
	}
	cache, err := lru.New[uint64, []*core.Block](chunkCacheSize)
	if err != nil {
		return nil, err
	}
	return &ChunkedBlocks{
		dir:       dir,
		chunkSize: chunkSize,
		cache:     cache,
	}, nil
}

func (c *ChunkedBlocks) chunkPath(chunk uint64) string {
	return filepath.Join(c.dir, fmt.Sprintf("chunk-%d.json", chunk))
}

// readChunk returns the parsed blocks of a chunk and whether the chunk
// file exists.
func (c *ChunkedBlocks) readChunk(chunk uint64) ([]*core.Block, bool, error) {
	if blocks, ok := c.cache.Get(chunk); ok {
		return blocks, true, nil
	}

	data, err := os.ReadFile(c.chunkPath(chunk))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read chunk %d: %w", chunk, err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("parse chunk %d: %w", chunk, err)
	}

	blocks := make([]*core.Block, 0, len(raw))
	for _, entry := range raw {
		block := new(core.Block)
		if err := json.Unmarshal(entry, block); err != nil {
			return nil, false, fmt.Errorf("parse chunk %d block: %w", chunk, err)
		}
		blocks = append(blocks, block)
	}

	c.cache.Add(chunk, blocks)
	return blocks, true, nil
}

func (c *ChunkedBlocks) writeChunk(chunk uint64, blocks []*core.Block) error {
	data, err := json.MarshalIndent(blocks, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWriteFile(c.chunkPath(chunk), data); err != nil {
		return fmt.Errorf("write chunk %d: %w", chunk, err)
	}
	c.cache.Add(chunk, blocks)
	return nil
}

// Get returns the block with the given number, or nil.
func (c *ChunkedBlocks) Get(number uint64) (*core.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(number)
}

func (c *ChunkedBlocks) get(number uint64) (*core.Block, error) {
	blocks, ok, err := c.readChunk(number / c.chunkSize)
	if err != nil || !ok {
		return nil, err
	}
	for _, block := range blocks {
		if block.Number() == number {
			return block, nil
		}
	}
	return nil, nil
}

// Insert adds a block to its chunk. Returns false when a block with the
// same hash is already stored, or when a different block already
// occupies the same number (existing entries are never overwritten).
func (c *ChunkedBlocks) Insert(block *core.Block) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunk := block.Number() / c.chunkSize

	blocks, _, err := c.readChunk(chunk)
	if err != nil {
		return false, err
	}
	for _, existing := range blocks {
		if existing.Hash().Equal(block.Hash()) {
			return false, nil
		}
		if existing.Number() == block.Number() {
			return false, nil
		}
	}

	updated := make([]*core.Block, 0, len(blocks)+1)
	updated = append(updated, blocks...)
	updated = append(updated, block)

	if err := c.writeChunk(chunk, updated); err != nil {
		return false, err
	}
	return true, nil
}

// Next returns the block following the given one, or nil.
func (c *ChunkedBlocks) Next(block *core.Block) (*core.Block, error) {
	return c.Get(block.Number() + 1)
}

// chunkNumbers lists the numbers of all existing chunk files, unsorted.
func (c *ChunkedBlocks) chunkNumbers() ([]uint64, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read blocks dir: %w", err)
	}
	var chunks []uint64
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "chunk-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		number, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "chunk-"), ".json"), 10, 64)
		if err != nil {
			continue
		}
		chunks = append(chunks, number)
	}
	return chunks, nil
}

// Head returns the block with the minimum stored number, or nil.
func (c *ChunkedBlocks) Head() (*core.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head()
}

func (c *ChunkedBlocks) head() (*core.Block, error) {
	chunks, err := c.chunkNumbers()
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	lowest := chunks[0]
	for _, chunk := range chunks[1:] {
		if chunk < lowest {
			lowest = chunk
		}
	}

	blocks, ok, err := c.readChunk(lowest)
	if err != nil || !ok {
		return nil, err
	}

	var head *core.Block
	for _, block := range blocks {
		if head == nil || block.Number() < head.Number() {
			head = block
		}
	}
	return head, nil
}

// Tail returns the highest-numbered block reachable from the head
// through unbroken previous-block links. The walk starts from the
// cached tail hint when it is still present in the index.
func (c *ChunkedBlocks) Tail() (*core.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tail, err := c.head()
	if err != nil || tail == nil {
		return nil, err
	}

	hint := c.tailHint.Load()
	if hint > tail.Number() {
		block, err := c.get(hint)
		if err != nil {
			return nil, err
		}
		if block != nil {
			tail = block
		} else {
			logrus.WithField("hint", hint).Debug("stale tail hint, rewalking from head")
		}
	}

	chunk := tail.Number() / c.chunkSize
	for {
		blocks, ok, err := c.readChunk(chunk)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		candidates := make([]*core.Block, 0, len(blocks))
		for _, block := range blocks {
			if block.Number() > tail.Number() {
				candidates = append(candidates, block)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].Number() < candidates[j].Number()
		})

		for _, block := range candidates {
			prev, ok := block.PreviousBlock()
			if !ok || !prev.Equal(tail.Hash()) {
				c.tailHint.Store(tail.Number())
				return tail, nil
			}
			tail = block
		}

		chunk++
	}

	c.tailHint.Store(tail.Number())
	return tail, nil
}

// IsEmpty reports whether no blocks are stored.
func (c *ChunkedBlocks) IsEmpty() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chunks, err := c.chunkNumbers()
	if err != nil {
		return false, err
	}
	return len(chunks) == 0, nil
}

// IsTruncated reports whether the head block references a predecessor
// that is not stored here.
func (c *ChunkedBlocks) IsTruncated() (bool, error) {
	head, err := c.Head()
	if err != nil || head == nil {
		return false, err
	}
	_, hasPrevious := head.PreviousBlock()
	return hasPrevious, nil
}
