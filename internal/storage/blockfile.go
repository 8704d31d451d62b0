package storage

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// BlockFile is a raw fixed-size block device backed by a single file.
// Blocks are addressed by integer index; the file grows on demand when a
// block past the current end is written.
type BlockFile struct {
	file       *os.File
	pageSize   int
	blockCount int
	mu         sync.RWMutex
}

// OpenBlockFile opens or creates the file at path and derives the current
// block count from its size.
func OpenBlockFile(path string, pageSize int) (*BlockFile, error) {
	if !ValidPageSize(pageSize) {
		return nil, ErrBadPageSize
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0664)
	if err != nil {
		return nil, fmt.Errorf("open block file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat block file: %w", err)
	}

	return &BlockFile{
		file:       file,
		pageSize:   pageSize,
		blockCount: int(info.Size()) / pageSize,
	}, nil
}

// ReadBlock reads exactly one block into dst. Reads past the end of the
// file, or short reads inside the last block, are zero-filled so that
// lazily created pages decode as uninitialized.
func (bf *BlockFile) ReadBlock(n int, dst []byte) error {
	if n < 0 {
		return fmt.Errorf("invalid block number: %d", n)
	}
	if len(dst) != bf.pageSize {
		return ErrWrongSize
	}

	bf.mu.RLock()
	defer bf.mu.RUnlock()

	read, err := bf.file.ReadAt(dst, int64(n)*int64(bf.pageSize))
	if err != nil && err != io.EOF {
		return fmt.Errorf("read block %d: %w", n, err)
	}
	for i := read; i < bf.pageSize; i++ {
		dst[i] = 0
	}
	return nil
}

// WriteBlock writes exactly one block from src, growing the file when n is
// past the current end.
func (bf *BlockFile) WriteBlock(n int, src []byte) error {
	if n < 0 {
		return fmt.Errorf("invalid block number: %d", n)
	}
	if len(src) != bf.pageSize {
		return ErrWrongSize
	}

	bf.mu.Lock()
	defer bf.mu.Unlock()

	written, err := bf.file.WriteAt(src, int64(n)*int64(bf.pageSize))
	if err != nil {
		return fmt.Errorf("write block %d: %w", n, err)
	}
	if written != bf.pageSize {
		return io.ErrShortWrite
	}

	if n >= bf.blockCount {
		bf.blockCount = n + 1
	}
	return nil
}

// Truncate shrinks the file to the first n blocks.
func (bf *BlockFile) Truncate(n int) error {
	if n < 0 {
		return fmt.Errorf("invalid block count: %d", n)
	}

	bf.mu.Lock()
	defer bf.mu.Unlock()

	if n >= bf.blockCount {
		return nil
	}
	if err := bf.file.Truncate(int64(n) * int64(bf.pageSize)); err != nil {
		return fmt.Errorf("truncate to %d blocks: %w", n, err)
	}
	bf.blockCount = n
	return nil
}

// BlockCount returns the number of blocks currently in the file.
func (bf *BlockFile) BlockCount() int {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.blockCount
}

// PageSize returns the size of each block.
func (bf *BlockFile) PageSize() int { return bf.pageSize }

// Sync flushes file contents to stable storage.
func (bf *BlockFile) Sync() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	return bf.file.Sync()
}

// Close closes the underlying file.
func (bf *BlockFile) Close() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	return bf.file.Close()
}
