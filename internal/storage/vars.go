package storage

import "errors"

const (
	OneB  = 1 << 0  // 1
	OneKB = 1 << 10 // 1,024
	OneMB = 1 << 20 // 1,048,576
	OneGB = 1 << 30 // 1,073,741,824

	// DefaultPageSize is 8 KiB, similar to PostgreSQL.
	DefaultPageSize = 1 << 13

	// MinPageSize must leave room for the header plus at least one slot and
	// a non-trivial payload. MaxPageSize is bounded by the uint16 offsets
	// used in the page header and slot directory.
	MinPageSize = 512
	MaxPageSize = 32 * OneKB

	// HeaderSize covers: flags u16, pageID u32, recordCount u16,
	// lower u16, upper u16, usedBytes u16, reserved u16.
	HeaderSize = 16

	// SlotSize covers: offset u16, length u16, flags u16, reserved u16,
	// recordID u64.
	SlotSize = 16
)

const (
	FileMode0644 = 0o644
	FileMode0664 = 0o664
	FileMode0755 = 0o755
)

// Slot flags
const (
	SlotFlagFull     uint16 = 0
	SlotFlagEmpty    uint16 = 1 << 0
	SlotFlagOverflow uint16 = 1 << 1
)

var (
	ErrNotFound       = errors.New("storage: record not found")
	ErrEmptyRecord    = errors.New("storage: empty record")
	ErrRecordTooLarge = errors.New("storage: record exceeds page capacity")
	ErrCorruptPage    = errors.New("storage: page is corrupted")
	ErrPageOverflow   = errors.New("storage: page overflow")
	ErrBadSlot        = errors.New("storage: invalid slot")
	ErrNoSpace        = errors.New("storage: not enough free space")
	ErrWrongSize      = errors.New("storage: buffer size mismatch")
	ErrBadPageSize    = errors.New("storage: invalid page size")
)

// MaxRecordSize is the largest payload a single fresh page of the given size
// can hold: everything minus the header and one slot directory entry.
func MaxRecordSize(pageSize int) int {
	return pageSize - HeaderSize - SlotSize
}

// ValidPageSize reports whether pageSize is inside the supported range.
func ValidPageSize(pageSize int) bool {
	return pageSize >= MinPageSize && pageSize <= MaxPageSize
}
