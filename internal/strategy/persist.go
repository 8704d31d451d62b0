package strategy

import (
	"fmt"

	"github.com/tuannm99/novastore/internal/bx"
)

// Snapshot layout (little-endian):
//
//	[0..3]   uint32  magic "NVFS"
//	[4..5]   uint16  version
//	[6]      uint8   kind
//	[7]      uint8   reserved
//	[8..15]  float64 slack (IEEE-754 bits)
//	[16..19] uint32  pageSize
//	[20..23] uint32  entry count
//	[24..]   entries: pageID uint32, bytesFree uint32, recordCount uint32
const (
	snapshotMagic   = 0x4E564653 // "NVFS"
	snapshotVersion = 1

	snapshotHeaderSize = 24
	snapshotEntrySize  = 12
)

func encodeSnapshot(kind Kind, slack float64, pageSize int, entries []PageInformation) []byte {
	buf := make([]byte, snapshotHeaderSize+len(entries)*snapshotEntrySize)
	bx.PutU32At(buf, 0, snapshotMagic)
	bx.PutU16At(buf, 4, snapshotVersion)
	buf[6] = byte(kind)
	bx.PutF64At(buf, 8, slack)
	bx.PutU32At(buf, 16, uint32(pageSize))
	bx.PutU32At(buf, 20, uint32(len(entries)))

	off := snapshotHeaderSize
	for _, pi := range entries {
		bx.PutU32At(buf, off, pi.PageID)
		bx.PutU32At(buf, off+4, uint32(pi.BytesFree))
		bx.PutU32At(buf, off+8, uint32(pi.RecordCount))
		off += snapshotEntrySize
	}
	return buf
}

// Restore rebuilds a strategy from a Snapshot blob, so reopening a store
// does not require a full page scan.
func Restore(blob []byte) (Strategy, error) {
	if len(blob) < snapshotHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrBadSnapshot, len(blob))
	}
	if bx.U32At(blob, 0) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadSnapshot)
	}
	if v := bx.U16At(blob, 4); v != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, v)
	}

	kind := Kind(blob[6])
	slack := bx.F64At(blob, 8)
	pageSize := int(bx.U32At(blob, 16))
	count := int(bx.U32At(blob, 20))

	if len(blob) != snapshotHeaderSize+count*snapshotEntrySize {
		return nil, fmt.Errorf("%w: %d entries do not match %d bytes", ErrBadSnapshot, count, len(blob))
	}

	entries := make([]PageInformation, 0, count)
	off := snapshotHeaderSize
	for i := 0; i < count; i++ {
		entries = append(entries, PageInformation{
			PageID:      bx.U32At(blob, off),
			BytesFree:   int(bx.U32At(blob, off+4)),
			RecordCount: int(bx.U32At(blob, off+8)),
		})
		off += snapshotEntrySize
	}

	s, err := New(Config{Kind: kind, PercentageFree: slack})
	if err != nil {
		return nil, err
	}
	if err := s.Init(entries, pageSize); err != nil {
		return nil, err
	}
	return s, nil
}
