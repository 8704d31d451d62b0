package storage

import (
	"fmt"
	"sort"

	"github.com/tuannm99/novastore/internal/bx"
)

// Header offsets
const (
	offFlags       = 0
	offPageID      = 2
	offRecordCount = 6
	offLower       = 8
	offUpper       = 10
	offUsed        = 12
)

// Slot is one entry of the page's slot directory. RecordID carries the
// logical id of the record stored in the slot, so the id-to-location
// directory can always be rebuilt from a page scan.
type Slot struct {
	Offset   uint16
	Length   uint16
	Flags    uint16
	RecordID uint64
}

// Live reports whether the slot holds record bytes (inline or an overflow
// reference) as opposed to being a reusable tombstone.
func (s Slot) Live() bool {
	return s.Flags&SlotFlagEmpty == 0
}

// +------------------+ 0
// | header           |
// | slot directory   | <-- lower
// +------------------+
// |   free space     |
// +------------------+ <-- upper
// |  record bytes    |
// |  (grow down)     |
// +------------------+ pageSize
type Page struct {
	buf      []byte
	pageSize int
}

// NewPage initializes buf as an empty page with the given id.
func NewPage(buf []byte, pageID uint32, pageSize int) (*Page, error) {
	if !ValidPageSize(pageSize) {
		return nil, ErrBadPageSize
	}
	if len(buf) != pageSize {
		return nil, ErrWrongSize
	}
	p := &Page{buf: buf, pageSize: pageSize}
	p.init(pageID)
	return p, nil
}

// LoadPage decodes an existing page from buf. An all-zero buffer is treated
// as uninitialized and is formatted with the given pageID; anything else is
// validated and rejected with ErrCorruptPage when the header or directory
// breaks the layout invariants.
func LoadPage(buf []byte, pageID uint32, pageSize int) (*Page, error) {
	if !ValidPageSize(pageSize) {
		return nil, ErrBadPageSize
	}
	if len(buf) != pageSize {
		return nil, ErrWrongSize
	}
	p := &Page{buf: buf, pageSize: pageSize}
	if p.isUninitialized() {
		p.init(pageID)
		return p, nil
	}
	if p.PageID() != pageID {
		return nil, fmt.Errorf("%w: page id %d on disk, want %d", ErrCorruptPage, p.PageID(), pageID)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Page) init(pageID uint32) {
	for i := range p.buf {
		p.buf[i] = 0
	}
	p.setPageID(pageID)
	p.setLower(HeaderSize)
	p.setUpper(uint16(p.pageSize))
	p.setRecordCount(0)
	p.setUsed(0)
}

func (p *Page) isUninitialized() bool {
	return p.lower() == 0 && p.upper() == 0
}

// ---- low-level header getters/setters ----

func (p *Page) PageID() uint32       { return bx.U32At(p.buf, offPageID) }
func (p *Page) setPageID(v uint32)   { bx.PutU32At(p.buf, offPageID, v) }
func (p *Page) lower() uint16        { return bx.U16At(p.buf, offLower) }
func (p *Page) setLower(v uint16)    { bx.PutU16At(p.buf, offLower, v) }
func (p *Page) upper() uint16        { return bx.U16At(p.buf, offUpper) }
func (p *Page) setUpper(v uint16)    { bx.PutU16At(p.buf, offUpper, v) }
func (p *Page) used() uint16         { return bx.U16At(p.buf, offUsed) }
func (p *Page) setUsed(v uint16)     { bx.PutU16At(p.buf, offUsed, v) }
func (p *Page) recordCount() uint16  { return bx.U16At(p.buf, offRecordCount) }
func (p *Page) setRecordCount(v uint16) {
	bx.PutU16At(p.buf, offRecordCount, v)
}

// ---- public accessors ----

// Buf exposes the raw page buffer for block-level persistence.
func (p *Page) Buf() []byte { return p.buf }

// PageSize returns the configured page size.
func (p *Page) PageSize() int { return p.pageSize }

// RecordCount is the number of live records on the page.
func (p *Page) RecordCount() int { return int(p.recordCount()) }

// NumSlots is the total directory length, tombstones included.
func (p *Page) NumSlots() int {
	return (int(p.lower()) - HeaderSize) / SlotSize
}

// FreeSpace is the accounted free space: pageSize minus the header, the
// whole slot directory (tombstones included) and the bytes of live records.
// Holes left by deleted records count as free; they are recovered by
// compaction when contiguous space runs out.
func (p *Page) FreeSpace() int {
	return p.pageSize - HeaderSize - p.NumSlots()*SlotSize - int(p.used())
}

func (p *Page) contiguousFree() int {
	return int(p.upper()) - int(p.lower())
}

// ---- slots ----

func (p *Page) slotOff(idx int) int {
	return HeaderSize + idx*SlotSize
}

// GetSlot returns the directory entry at idx.
func (p *Page) GetSlot(idx int) (Slot, error) {
	if idx < 0 || idx >= p.NumSlots() {
		return Slot{}, ErrBadSlot
	}
	o := p.slotOff(idx)
	return Slot{
		Offset:   bx.U16At(p.buf, o),
		Length:   bx.U16At(p.buf, o+2),
		Flags:    bx.U16At(p.buf, o+4),
		RecordID: bx.U64At(p.buf, o+8),
	}, nil
}

func (p *Page) putSlot(idx int, s Slot) error {
	if idx < 0 || idx > p.NumSlots() {
		// writing one past the end is only allowed via appendSlot
		return ErrBadSlot
	}
	o := p.slotOff(idx)
	if idx == p.NumSlots() && o+SlotSize > int(p.upper()) {
		return ErrNoSpace
	}
	if o+SlotSize > len(p.buf) {
		return fmt.Errorf("%w: slot %d outside page bounds", ErrCorruptPage, idx)
	}
	bx.PutU16At(p.buf, o, s.Offset)
	bx.PutU16At(p.buf, o+2, s.Length)
	bx.PutU16At(p.buf, o+4, s.Flags)
	bx.PutU16At(p.buf, o+6, 0)
	bx.PutU64At(p.buf, o+8, s.RecordID)
	return nil
}

func (p *Page) appendSlot(s Slot) (int, error) {
	i := p.NumSlots()
	if err := p.putSlot(i, s); err != nil {
		return -1, err
	}
	p.setLower(p.lower() + SlotSize)
	return i, nil
}

// findEmptySlot returns the index of the first reusable tombstone, or -1.
func (p *Page) findEmptySlot() int {
	for i := 0; i < p.NumSlots(); i++ {
		s, err := p.GetSlot(i)
		if err != nil {
			return -1
		}
		if !s.Live() {
			return i
		}
	}
	return -1
}

// ---- records ----

// InsertRecord stores payload on the page under the given record id,
// reusing an empty slot before growing the directory. flags may add
// SlotFlagOverflow for payloads that are overflow references rather than
// inline record bytes.
func (p *Page) InsertRecord(recordID uint64, payload []byte, flags uint16) (int, error) {
	if len(payload) == 0 {
		return -1, ErrEmptyRecord
	}
	if len(payload) > MaxRecordSize(p.pageSize) {
		return -1, ErrRecordTooLarge
	}

	reuse := p.findEmptySlot()
	need := len(payload)
	if reuse < 0 {
		need += SlotSize
	}
	if p.FreeSpace() < need {
		return -1, ErrNoSpace
	}
	if p.contiguousFree() < need {
		if err := p.compact(); err != nil {
			return -1, err
		}
	}

	u := int(p.upper()) - len(payload)
	copy(p.buf[u:], payload)
	p.setUpper(uint16(u))

	s := Slot{
		Offset:   uint16(u),
		Length:   uint16(len(payload)),
		Flags:    flags &^ SlotFlagEmpty,
		RecordID: recordID,
	}

	var (
		idx int
		err error
	)
	if reuse >= 0 {
		idx, err = reuse, p.putSlot(reuse, s)
	} else {
		idx, err = p.appendSlot(s)
	}
	if err != nil {
		return -1, err
	}

	p.setRecordCount(p.recordCount() + 1)
	p.setUsed(p.used() + uint16(len(payload)))
	return idx, nil
}

// ReadRecord returns the slot entry and the payload bytes stored at idx.
// The returned slice aliases the page buffer; callers that hand the bytes
// out must copy them first.
func (p *Page) ReadRecord(idx int) (Slot, []byte, error) {
	s, err := p.GetSlot(idx)
	if err != nil {
		return Slot{}, nil, err
	}
	if !s.Live() {
		return Slot{}, nil, ErrNotFound
	}
	start, end := int(s.Offset), int(s.Offset)+int(s.Length)
	if s.Length == 0 || start < int(p.upper()) || end > p.pageSize {
		return Slot{}, nil, fmt.Errorf("%w: slot %d bounds [%d,%d)", ErrCorruptPage, idx, start, end)
	}
	return s, p.buf[start:end], nil
}

// UpdateInPlace overwrites the record at idx with payload, which must fit
// the slot's current allocation. It returns the (non-positive) size delta.
func (p *Page) UpdateInPlace(idx int, payload []byte) (int, error) {
	if len(payload) == 0 {
		return 0, ErrEmptyRecord
	}
	s, err := p.GetSlot(idx)
	if err != nil {
		return 0, err
	}
	if !s.Live() {
		return 0, ErrNotFound
	}
	if len(payload) > int(s.Length) {
		return 0, ErrNoSpace
	}

	delta := len(payload) - int(s.Length)
	copy(p.buf[int(s.Offset):], payload)
	s.Length = uint16(len(payload))
	if err := p.putSlot(idx, s); err != nil {
		return 0, err
	}
	p.setUsed(uint16(int(p.used()) + delta))
	return delta, nil
}

// DeleteRecord marks the slot at idx as a tombstone and returns the number
// of payload bytes freed. Deleting a tombstone reports ErrNotFound.
func (p *Page) DeleteRecord(idx int) (int, error) {
	s, err := p.GetSlot(idx)
	if err != nil {
		return 0, err
	}
	if !s.Live() {
		return 0, ErrNotFound
	}
	freed := int(s.Length)
	if err := p.putSlot(idx, Slot{Flags: SlotFlagEmpty}); err != nil {
		return 0, err
	}
	p.setRecordCount(p.recordCount() - 1)
	p.setUsed(uint16(int(p.used()) - freed))
	return freed, nil
}

// compact repacks live record bytes against the end of the page so that the
// accounted free space becomes contiguous again.
func (p *Page) compact() error {
	type liveSlot struct {
		idx     int
		s       Slot
		payload []byte
	}

	live := make([]liveSlot, 0, p.NumSlots())
	for i := 0; i < p.NumSlots(); i++ {
		s, err := p.GetSlot(i)
		if err != nil {
			return err
		}
		if !s.Live() {
			continue
		}
		// copy out, the tuple area is about to be rewritten
		payload := make([]byte, s.Length)
		copy(payload, p.buf[s.Offset:int(s.Offset)+int(s.Length)])
		live = append(live, liveSlot{idx: i, s: s, payload: payload})
	}

	// keep relative order stable for readability of on-disk layout
	sort.Slice(live, func(a, b int) bool {
		return live[a].s.Offset > live[b].s.Offset
	})

	u := p.pageSize
	for _, ls := range live {
		u -= len(ls.payload)
		if u < int(p.lower()) {
			return fmt.Errorf("%w: compaction exceeded directory bound", ErrPageOverflow)
		}
		copy(p.buf[u:], ls.payload)
		ls.s.Offset = uint16(u)
		if err := p.putSlot(ls.idx, ls.s); err != nil {
			return err
		}
	}
	p.setUpper(uint16(u))
	return nil
}

// validate cross-checks the decoded header and directory.
func (p *Page) validate() error {
	lower, upper := int(p.lower()), int(p.upper())
	if lower < HeaderSize || upper < lower || upper > p.pageSize {
		return fmt.Errorf("%w: header bounds lower=%d upper=%d", ErrCorruptPage, lower, upper)
	}
	if (lower-HeaderSize)%SlotSize != 0 {
		return fmt.Errorf("%w: directory size %d not slot-aligned", ErrCorruptPage, lower-HeaderSize)
	}

	liveCount, liveBytes := 0, 0
	for i := 0; i < p.NumSlots(); i++ {
		s, err := p.GetSlot(i)
		if err != nil {
			return err
		}
		if !s.Live() {
			continue
		}
		start, end := int(s.Offset), int(s.Offset)+int(s.Length)
		if s.Length == 0 || start < upper || end > p.pageSize {
			return fmt.Errorf("%w: slot %d bounds [%d,%d)", ErrCorruptPage, i, start, end)
		}
		liveCount++
		liveBytes += int(s.Length)
	}
	if liveCount != int(p.recordCount()) {
		return fmt.Errorf("%w: record count %d, directory has %d live slots", ErrCorruptPage, p.recordCount(), liveCount)
	}
	if liveBytes != int(p.used()) {
		return fmt.Errorf("%w: used bytes %d, directory sums to %d", ErrCorruptPage, p.used(), liveBytes)
	}
	return nil
}
