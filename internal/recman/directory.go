package recman

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tuannm99/novastore/internal/bx"
	"github.com/tuannm99/novastore/internal/strategy"
)

// storeMeta is the JSON meta file next to the data file. It records the
// construction-time configuration plus the clean-shutdown flag that decides
// whether the binary sidecars can be trusted on reopen.
type storeMeta struct {
	StoreID        string    `json:"store_id"`
	PageSize       int       `json:"page_size"`
	PageCount      uint32    `json:"page_count"`
	Strategy       string    `json:"strategy"`
	PercentageFree float64   `json:"percentage_free"`
	AllowOversized bool      `json:"allow_oversized"`
	Clean          bool      `json:"clean"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (m *Manager) dataPath() string {
	return filepath.Join(m.dir, m.base+".db")
}

func (m *Manager) metaPath() string {
	return filepath.Join(m.dir, m.base+".meta.json")
}

func (m *Manager) dirSidecarPath() string {
	return filepath.Join(m.dir, m.base+".dir")
}

func (m *Manager) strategySidecarPath() string {
	return filepath.Join(m.dir, m.base+".fsm")
}

func (m *Manager) overflowPath() string {
	return filepath.Join(m.dir, m.base+".ovf")
}

func (m *Manager) writeMeta() error {
	m.meta.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(m.meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.metaPath(), data, 0o644)
}

func readMeta(path string) (*storeMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta storeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Directory sidecar layout (little-endian):
//
//	[0..3]   uint32 magic "NVDR"
//	[4..5]   uint16 version
//	[6..7]   reserved
//	[8..23]  store UUID (16 bytes)
//	[24..31] uint64 next record id
//	[32..35] uint32 page count at write time
//	[36..39] uint32 entry count
//	[40..]   entries: recordID uint64, pageID uint32, slot uint32
const (
	dirMagic   = 0x4E564452 // "NVDR"
	dirVersion = 1

	dirHeaderSize = 40
	dirEntrySize  = 16
)

func (m *Manager) storeUUID() ([16]byte, error) {
	u, err := uuid.Parse(m.meta.StoreID)
	if err != nil {
		return [16]byte{}, fmt.Errorf("%w: bad store id %q", ErrBadSidecar, m.meta.StoreID)
	}
	return u, nil
}

func (m *Manager) writeDirectorySidecar() error {
	id, err := m.storeUUID()
	if err != nil {
		return err
	}

	buf := make([]byte, dirHeaderSize+len(m.locs)*dirEntrySize)
	bx.PutU32At(buf, 0, dirMagic)
	bx.PutU16At(buf, 4, dirVersion)
	copy(buf[8:24], id[:])
	bx.PutU64At(buf, 24, uint64(m.nextID))
	bx.PutU32At(buf, 32, m.pageCount)
	bx.PutU32At(buf, 36, uint32(len(m.locs)))

	off := dirHeaderSize
	for rid, loc := range m.locs {
		bx.PutU64At(buf, off, uint64(rid))
		bx.PutU32At(buf, off+8, loc.pageID)
		bx.PutU32At(buf, off+12, uint32(loc.slot))
		off += dirEntrySize
	}

	return os.WriteFile(m.dirSidecarPath(), buf, 0o644)
}

// loadDirectorySidecar restores the id directory and the id high-water mark.
// Any mismatch (magic, version, UUID, page count) reports ErrBadSidecar so
// the caller falls back to the rebuild scan.
func (m *Manager) loadDirectorySidecar() error {
	buf, err := os.ReadFile(m.dirSidecarPath())
	if err != nil {
		return err
	}
	if len(buf) < dirHeaderSize {
		return fmt.Errorf("%w: directory sidecar too short", ErrBadSidecar)
	}
	if bx.U32At(buf, 0) != dirMagic {
		return fmt.Errorf("%w: bad directory magic", ErrBadSidecar)
	}
	if v := bx.U16At(buf, 4); v != dirVersion {
		return fmt.Errorf("%w: unsupported directory version %d", ErrBadSidecar, v)
	}

	id, err := m.storeUUID()
	if err != nil {
		return err
	}
	if [16]byte(buf[8:24]) != id {
		return fmt.Errorf("%w: directory sidecar belongs to another store", ErrBadSidecar)
	}
	if got := bx.U32At(buf, 32); got != m.pageCount {
		return fmt.Errorf("%w: directory page count %d, store has %d", ErrBadSidecar, got, m.pageCount)
	}

	count := int(bx.U32At(buf, 36))
	if len(buf) != dirHeaderSize+count*dirEntrySize {
		return fmt.Errorf("%w: directory entry count mismatch", ErrBadSidecar)
	}

	locs := make(map[RecordID]location, count)
	off := dirHeaderSize
	for i := 0; i < count; i++ {
		rid := RecordID(bx.U64At(buf, off))
		locs[rid] = location{
			pageID: bx.U32At(buf, off+8),
			slot:   int(bx.U32At(buf, off+12)),
		}
		off += dirEntrySize
	}

	m.locs = locs
	m.nextID = RecordID(bx.U64At(buf, 24))
	return nil
}

// Strategy sidecar layout: a small header stamping the store UUID and page
// count around the strategy's own Snapshot blob.
//
//	[0..3]   uint32 magic "NVSS"
//	[4..5]   uint16 version
//	[6..7]   reserved
//	[8..23]  store UUID (16 bytes)
//	[24..27] uint32 page count at write time
//	[28..]   strategy snapshot blob
const (
	fsmMagic   = 0x4E565353 // "NVSS"
	fsmVersion = 1

	fsmHeaderSize = 28
)

func (m *Manager) writeStrategySidecar() error {
	id, err := m.storeUUID()
	if err != nil {
		return err
	}

	blob := m.strat.Snapshot()
	buf := make([]byte, fsmHeaderSize+len(blob))
	bx.PutU32At(buf, 0, fsmMagic)
	bx.PutU16At(buf, 4, fsmVersion)
	copy(buf[8:24], id[:])
	bx.PutU32At(buf, 24, m.pageCount)
	copy(buf[fsmHeaderSize:], blob)

	return os.WriteFile(m.strategySidecarPath(), buf, 0o644)
}

// loadStrategySidecar restores the placement strategy from its persisted
// snapshot. The restored variant must match the configured one; otherwise
// the snapshot is stale and a rebuild is required.
func (m *Manager) loadStrategySidecar() (strategy.Strategy, error) {
	buf, err := os.ReadFile(m.strategySidecarPath())
	if err != nil {
		return nil, err
	}
	if len(buf) < fsmHeaderSize {
		return nil, fmt.Errorf("%w: strategy sidecar too short", ErrBadSidecar)
	}
	if bx.U32At(buf, 0) != fsmMagic {
		return nil, fmt.Errorf("%w: bad strategy magic", ErrBadSidecar)
	}
	if v := bx.U16At(buf, 4); v != fsmVersion {
		return nil, fmt.Errorf("%w: unsupported strategy sidecar version %d", ErrBadSidecar, v)
	}

	id, err := m.storeUUID()
	if err != nil {
		return nil, err
	}
	if [16]byte(buf[8:24]) != id {
		return nil, fmt.Errorf("%w: strategy sidecar belongs to another store", ErrBadSidecar)
	}
	if got := bx.U32At(buf, 24); got != m.pageCount {
		return nil, fmt.Errorf("%w: strategy page count %d, store has %d", ErrBadSidecar, got, m.pageCount)
	}

	s, err := strategy.Restore(buf[fsmHeaderSize:])
	if err != nil {
		return nil, err
	}
	if s.Kind() != m.opts.Strategy.Kind {
		return nil, fmt.Errorf("%w: snapshot is %s, configured %s", ErrBadSidecar, s.Kind(), m.opts.Strategy.Kind)
	}
	return s, nil
}
