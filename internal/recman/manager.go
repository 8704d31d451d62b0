package recman

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tuannm99/novastore/internal/storage"
	"github.com/tuannm99/novastore/internal/strategy"
)

// Manager is the top-level record store: it owns the block file, the page
// cache, the placement strategy and the id directory. Single-writer model;
// callers needing cross-goroutine access must synchronize externally.
type Manager struct {
	dir  string
	base string
	opts Options

	meta  *storeMeta
	bf    *storage.BlockFile
	cache *pageCache
	strat strategy.Strategy

	ovfBF *storage.BlockFile
	ovf   *overflowChain

	locs      map[RecordID]location
	nextID    RecordID
	pageCount uint32

	rebuilt bool
	closed  bool
}

// Open attaches a record store under dir with the given base name, creating
// it if absent. On reopen the id directory and strategy state are restored
// from their sidecar files; a missing, stale or mismatched sidecar (or an
// unclean previous shutdown) triggers a full page scan instead.
func Open(dir, base string, opts Options) (*Manager, error) {
	requestedPageSize := opts.PageSize
	opts = opts.withDefaults()
	if !storage.ValidPageSize(opts.PageSize) {
		return nil, storage.ErrBadPageSize
	}

	if err := os.MkdirAll(dir, storage.FileMode0755); err != nil {
		return nil, err
	}

	m := &Manager{
		dir:    dir,
		base:   base,
		opts:   opts,
		locs:   make(map[RecordID]location),
		nextID: 1,
	}

	meta, err := readMeta(m.metaPath())
	fresh := false
	switch {
	case err == nil:
		if requestedPageSize != 0 && requestedPageSize != meta.PageSize {
			return nil, fmt.Errorf("%w: store has %d, requested %d", ErrPageSizeMismatch, meta.PageSize, requestedPageSize)
		}
		m.opts.PageSize = meta.PageSize
		// promotion to oversized sticks: once overflow refs may exist on
		// disk, every later open must be able to resolve them
		m.opts.AllowOversized = m.opts.AllowOversized || meta.AllowOversized
		meta.AllowOversized = m.opts.AllowOversized
		m.meta = meta
	case os.IsNotExist(err):
		fresh = true
		m.meta = &storeMeta{
			StoreID:        uuid.NewString(),
			PageSize:       m.opts.PageSize,
			Strategy:       m.opts.Strategy.Kind.String(),
			PercentageFree: m.opts.Strategy.PercentageFree,
			AllowOversized: m.opts.AllowOversized,
			Clean:          true,
			CreatedAt:      time.Now(),
		}
	default:
		return nil, err
	}

	bf, err := storage.OpenBlockFile(m.dataPath(), m.opts.PageSize)
	if err != nil {
		return nil, err
	}
	m.bf = bf
	m.pageCount = uint32(bf.BlockCount())

	cache, err := newPageCache(bf, m.opts.CachePages)
	if err != nil {
		bf.Close()
		return nil, err
	}
	m.cache = cache

	if m.opts.AllowOversized {
		ovfBF, err := storage.OpenBlockFile(m.overflowPath(), m.opts.PageSize)
		if err != nil {
			bf.Close()
			return nil, err
		}
		m.ovfBF = ovfBF
		m.ovf = newOverflowChain(ovfBF)
	}

	if err := m.restoreState(fresh); err != nil {
		m.releaseFiles()
		return nil, err
	}

	// mark the store in use; sidecars are only trustworthy again after a
	// clean Close rewrites them
	m.meta.Clean = false
	if err := m.writeMeta(); err != nil {
		m.releaseFiles()
		return nil, err
	}

	slog.Info("recman: store open",
		"dir", dir, "base", base,
		"pages", m.pageCount, "records", len(m.locs),
		"strategy", m.opts.Strategy.Kind.String(),
		"rebuilt", m.rebuilt,
	)
	return m, nil
}

func (m *Manager) restoreState(fresh bool) error {
	if fresh {
		// a data file without its meta file is a damaged store, not a
		// fresh one; recover the records instead of orphaning them
		if m.pageCount > 0 {
			slog.Warn("recman: data file present without meta, rebuilding", "pages", m.pageCount)
			return m.rebuildState()
		}
		s, err := strategy.New(m.opts.Strategy)
		if err != nil {
			return err
		}
		if err := s.Init(nil, m.opts.PageSize); err != nil {
			return err
		}
		m.strat = s
		return nil
	}

	if m.meta.Clean {
		if err := m.loadDirectorySidecar(); err != nil {
			slog.Warn("recman: directory sidecar unusable, rebuilding", "err", err)
			return m.rebuildState()
		}
		s, err := m.loadStrategySidecar()
		if err != nil {
			slog.Warn("recman: strategy sidecar unusable, rebuilding", "err", err)
			return m.rebuildState()
		}
		m.strat = s
		return nil
	}

	slog.Warn("recman: store was not closed cleanly, rebuilding")
	return m.rebuildState()
}

func (m *Manager) releaseFiles() {
	_ = m.bf.Close()
	if m.ovfBF != nil {
		_ = m.ovfBF.Close()
	}
}

func (m *Manager) maxInline() int {
	return storage.MaxRecordSize(m.opts.PageSize)
}

func (m *Manager) pageInfo(p *storage.Page) strategy.PageInformation {
	return strategy.PageInformation{
		PageID:      p.PageID(),
		BytesFree:   p.FreeSpace(),
		RecordCount: p.RecordCount(),
	}
}

// placeRecord writes payload into a page chosen by the strategy, falling
// back to allocating a fresh page, and pushes the matching notification
// before returning.
func (m *Manager) placeRecord(recordID uint64, payload []byte, flags uint16) (location, error) {
	// reserve directory overhead for a possibly-new slot entry
	need := len(payload) + storage.SlotSize

	if pageID, ok := m.strat.PageForRecord(need); ok {
		f, err := m.cache.page(pageID)
		if err != nil {
			return location{}, err
		}
		slot, err := f.page.InsertRecord(recordID, payload, flags)
		if err == nil {
			f.dirty = true
			m.strat.RecordChanged(strategy.RecordInserted, m.pageInfo(f.page))
			return location{pageID: pageID, slot: slot}, nil
		}
		if !errors.Is(err, storage.ErrNoSpace) {
			return location{}, err
		}
		// the summary promised room but the page disagrees; resync the
		// strategy and fall through to a fresh page
		slog.Warn("recman: strategy chose a page without room", "page", pageID, "need", need)
		m.strat.RecordChanged(strategy.RecordResized, m.pageInfo(f.page))
	}

	pageID := m.pageCount
	f, err := m.cache.page(pageID) // past EOF, decodes as a fresh empty page
	if err != nil {
		return location{}, err
	}
	slot, err := f.page.InsertRecord(recordID, payload, flags)
	if err != nil {
		return location{}, err
	}
	f.dirty = true
	m.pageCount++
	m.strat.PageInserted(m.pageInfo(f.page))
	return location{pageID: pageID, slot: slot}, nil
}

// Insert stores payload and returns its fresh logical id. Payloads larger
// than a page's capacity are rejected with ErrRecordTooLarge unless the
// store allows oversized records, in which case they go to overflow chains.
func (m *Manager) Insert(payload []byte) (RecordID, error) {
	if m.closed {
		return 0, ErrClosed
	}
	if len(payload) == 0 {
		return 0, storage.ErrEmptyRecord
	}

	data, flags := payload, uint16(0)
	if len(payload) > m.maxInline() {
		if m.ovf == nil {
			return 0, fmt.Errorf("%w: %d bytes, max %d", storage.ErrRecordTooLarge, len(payload), m.maxInline())
		}
		ref, err := m.ovf.write(payload)
		if err != nil {
			return 0, err
		}
		data, flags = encodeRef(ref), storage.SlotFlagOverflow
	}

	id := m.nextID
	loc, err := m.placeRecord(uint64(id), data, flags)
	if err != nil {
		return 0, err
	}

	m.nextID++
	m.locs[id] = loc
	return id, nil
}

// Get returns a copy of the record's payload, or ErrNotFound for deleted or
// never-issued ids.
func (m *Manager) Get(id RecordID) ([]byte, error) {
	if m.closed {
		return nil, ErrClosed
	}
	loc, ok := m.locs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	f, err := m.cache.page(loc.pageID)
	if err != nil {
		return nil, err
	}
	s, b, err := f.page.ReadRecord(loc.slot)
	if err != nil {
		return nil, err
	}
	if s.RecordID != uint64(id) {
		return nil, fmt.Errorf("%w: slot holds record %d, directory says %d", storage.ErrCorruptPage, s.RecordID, id)
	}

	if s.Flags&storage.SlotFlagOverflow != 0 {
		if m.ovf == nil {
			return nil, fmt.Errorf("%w: overflow record in a store without overflow", storage.ErrCorruptPage)
		}
		ref, err := decodeRef(b)
		if err != nil {
			return nil, err
		}
		return m.ovf.read(ref)
	}

	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Update replaces the record's payload. When the new payload fits the
// slot's current allocation it is overwritten in place; otherwise the
// record is relocated with remove-then-insert semantics, preserving the id.
func (m *Manager) Update(id RecordID, payload []byte) error {
	if m.closed {
		return ErrClosed
	}
	if len(payload) == 0 {
		return storage.ErrEmptyRecord
	}

	loc, ok := m.locs[id]
	if !ok {
		return storage.ErrNotFound
	}

	f, err := m.cache.page(loc.pageID)
	if err != nil {
		return err
	}
	s, b, err := f.page.ReadRecord(loc.slot)
	if err != nil {
		return err
	}

	wasOvf := s.Flags&storage.SlotFlagOverflow != 0
	newOvf := len(payload) > m.maxInline()
	if newOvf && m.ovf == nil {
		return fmt.Errorf("%w: %d bytes, max %d", storage.ErrRecordTooLarge, len(payload), m.maxInline())
	}

	// oversized stays oversized: the slot keeps its fixed-size ref, only
	// the chain is rewritten
	if wasOvf && newOvf {
		oldRef, err := decodeRef(b)
		if err != nil {
			return err
		}
		ref, err := m.ovf.rewrite(oldRef, payload)
		if err != nil {
			return err
		}
		if _, err := f.page.UpdateInPlace(loc.slot, encodeRef(ref)); err != nil {
			return err
		}
		f.dirty = true
		m.strat.RecordChanged(strategy.RecordResized, m.pageInfo(f.page))
		return nil
	}

	// inline and fitting the current allocation: overwrite in place
	if !wasOvf && !newOvf && len(payload) <= int(s.Length) {
		if _, err := f.page.UpdateInPlace(loc.slot, payload); err != nil {
			return err
		}
		f.dirty = true
		m.strat.RecordChanged(strategy.RecordResized, m.pageInfo(f.page))
		return nil
	}

	// relocation: tombstone the old slot, place the new payload, remap
	if _, err := f.page.DeleteRecord(loc.slot); err != nil {
		return err
	}
	f.dirty = true
	m.strat.RecordChanged(strategy.RecordRemoved, m.pageInfo(f.page))

	data, flags := payload, uint16(0)
	if newOvf {
		ref, err := m.ovf.write(payload)
		if err != nil {
			delete(m.locs, id)
			return err
		}
		data, flags = encodeRef(ref), storage.SlotFlagOverflow
	}

	newLoc, err := m.placeRecord(uint64(id), data, flags)
	if err != nil {
		// the old copy is already gone; surface the loss instead of
		// leaving a dangling directory entry
		delete(m.locs, id)
		return err
	}
	m.locs[id] = newLoc
	return nil
}

// Remove deletes the record. Removing an already-removed id reports
// ErrNotFound; pages are never reclaimed here (see Vacuum).
func (m *Manager) Remove(id RecordID) error {
	if m.closed {
		return ErrClosed
	}
	loc, ok := m.locs[id]
	if !ok {
		return storage.ErrNotFound
	}

	f, err := m.cache.page(loc.pageID)
	if err != nil {
		return err
	}
	if _, err := f.page.DeleteRecord(loc.slot); err != nil {
		return err
	}
	f.dirty = true
	delete(m.locs, id)
	m.strat.RecordChanged(strategy.RecordRemoved, m.pageInfo(f.page))
	return nil
}

// Contains reports whether id resolves to a live record.
func (m *Manager) Contains(id RecordID) bool {
	if m.closed {
		return false
	}
	_, ok := m.locs[id]
	return ok
}

// Scan visits every live record in page order. The payload slice passed to
// fn is a private copy.
func (m *Manager) Scan(fn func(id RecordID, payload []byte) error) error {
	if m.closed {
		return ErrClosed
	}

	for pageID := uint32(0); pageID < m.pageCount; pageID++ {
		f, err := m.cache.page(pageID)
		if err != nil {
			return err
		}
		for slot := 0; slot < f.page.NumSlots(); slot++ {
			s, err := f.page.GetSlot(slot)
			if err != nil {
				return err
			}
			if !s.Live() {
				continue
			}
			payload, err := m.Get(RecordID(s.RecordID))
			if err != nil {
				return err
			}
			if err := fn(RecordID(s.RecordID), payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// Vacuum truncates trailing pages that hold no live records. Interior empty
// pages stay where they are; they remain preferred targets for new inserts.
func (m *Manager) Vacuum() error {
	if m.closed {
		return ErrClosed
	}

	for m.pageCount > 0 {
		pageID := m.pageCount - 1
		f, err := m.cache.page(pageID)
		if err != nil {
			return err
		}
		if f.page.RecordCount() > 0 {
			break
		}
		m.cache.drop(pageID)
		m.strat.PageRemoved(pageID)
		m.pageCount--
	}
	return m.bf.Truncate(int(m.pageCount))
}

// Close flushes dirty pages, persists the directory and strategy sidecars
// and releases all files. It is idempotent and safe to call after a failed
// operation; the clean flag is only set when everything flushed.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error

	if err := m.cache.flushAll(); err != nil {
		errs = append(errs, err)
	}
	if err := m.cache.takeEvictErr(); err != nil {
		errs = append(errs, err)
	}
	if err := m.writeDirectorySidecar(); err != nil {
		errs = append(errs, err)
	}
	if err := m.writeStrategySidecar(); err != nil {
		errs = append(errs, err)
	}
	if err := m.strat.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		m.meta.Clean = true
		m.meta.PageCount = m.pageCount
		if err := m.writeMeta(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := m.bf.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := m.bf.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.ovfBF != nil {
		if err := m.ovfBF.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := m.ovfBF.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Stats returns a point-in-time summary of the open store.
func (m *Manager) Stats() Stats {
	return Stats{
		StoreID:  m.meta.StoreID,
		PageSize: m.opts.PageSize,
		Pages:    m.pageCount,
		Records:  len(m.locs),
		Strategy: m.opts.Strategy.Kind,
	}
}

// InsertValue serializes v with the injected codec and stores the result.
func (m *Manager) InsertValue(c Codec, v any) (RecordID, error) {
	b, err := c.Serialize(v)
	if err != nil {
		return 0, err
	}
	return m.Insert(b)
}

// GetValue reads the record and decodes it with the injected codec.
func (m *Manager) GetValue(c Codec, id RecordID) (any, error) {
	b, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return c.Deserialize(b)
}
