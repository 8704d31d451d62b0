package recman

import (
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tuannm99/novastore/internal/storage"
)

// frame is one cached page plus its dirty flag.
type frame struct {
	page  *storage.Page
	dirty bool
}

// pageCache is the manager's explicitly owned page arena: an LRU keyed by
// page id whose eviction callback writes dirty pages back through the block
// file. Nothing outside the owning Manager touches it.
type pageCache struct {
	bf       *storage.BlockFile
	pageSize int
	lru      *lru.Cache[uint32, *frame]

	// frames whose eviction write-back failed, retained so the data
	// survives until flushAll retries them.
	failed map[uint32]*frame
	// first write-back failure observed inside the eviction callback;
	// surfaced on the next cache operation.
	evictErr error
}

func newPageCache(bf *storage.BlockFile, capacity int) (*pageCache, error) {
	c := &pageCache{
		bf:       bf,
		pageSize: bf.PageSize(),
		failed:   make(map[uint32]*frame),
	}
	l, err := lru.NewWithEvict[uint32, *frame](capacity, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

func (c *pageCache) onEvict(pageID uint32, f *frame) {
	if !f.dirty {
		return
	}
	if err := c.bf.WriteBlock(int(pageID), f.page.Buf()); err != nil {
		slog.Error("page cache: write-back on evict failed", "page", pageID, "err", err)
		// keep the frame: the page's contents must not be lost just
		// because the LRU let go of it
		c.failed[pageID] = f
		if c.evictErr == nil {
			c.evictErr = fmt.Errorf("evict page %d: %w", pageID, err)
		}
		return
	}
	f.dirty = false
}

func (c *pageCache) takeEvictErr() error {
	err := c.evictErr
	c.evictErr = nil
	return err
}

// page returns the cached frame for pageID, loading and decoding the block
// on a miss. Blocks past the end of the file decode as fresh empty pages.
func (c *pageCache) page(pageID uint32) (*frame, error) {
	if f, ok := c.lru.Get(pageID); ok {
		return f, nil
	}
	if f, ok := c.failed[pageID]; ok {
		delete(c.failed, pageID)
		c.lru.Add(pageID, f)
		if err := c.takeEvictErr(); err != nil {
			return nil, err
		}
		return f, nil
	}

	buf := make([]byte, c.pageSize)
	if err := c.bf.ReadBlock(int(pageID), buf); err != nil {
		return nil, err
	}
	p, err := storage.LoadPage(buf, pageID, c.pageSize)
	if err != nil {
		return nil, err
	}

	f := &frame{page: p}
	c.lru.Add(pageID, f)
	if err := c.takeEvictErr(); err != nil {
		return nil, err
	}
	return f, nil
}

// flushAll writes every dirty cached page back to the block file, retrying
// frames whose eviction write-back failed first.
func (c *pageCache) flushAll() error {
	for pageID, f := range c.failed {
		if err := c.bf.WriteBlock(int(pageID), f.page.Buf()); err != nil {
			return fmt.Errorf("flush page %d: %w", pageID, err)
		}
		f.dirty = false
		delete(c.failed, pageID)
	}
	c.evictErr = nil

	for _, pageID := range c.lru.Keys() {
		f, ok := c.lru.Peek(pageID)
		if !ok || !f.dirty {
			continue
		}
		if err := c.bf.WriteBlock(int(pageID), f.page.Buf()); err != nil {
			return fmt.Errorf("flush page %d: %w", pageID, err)
		}
		f.dirty = false
	}
	return nil
}

// drop discards a cached page without writing it back; used when the page
// itself is being destroyed.
func (c *pageCache) drop(pageID uint32) {
	delete(c.failed, pageID)
	if f, ok := c.lru.Peek(pageID); ok {
		f.dirty = false
		c.lru.Remove(pageID)
	}
}

// purge empties the cache, writing nothing.
func (c *pageCache) purge() {
	c.failed = make(map[uint32]*frame)
	c.evictErr = nil
	for _, pageID := range c.lru.Keys() {
		c.drop(pageID)
	}
}
