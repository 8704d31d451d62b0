// stand for bytes helper
package bx

import (
	"encoding/binary"
	"math"
)

var LE = binary.LittleEndian

// --- read ---
func U16(b []byte) uint16 { return LE.Uint16(b) }
func U32(b []byte) uint32 { return LE.Uint32(b) }
func U64(b []byte) uint64 { return LE.Uint64(b) }
func I32(b []byte) int32  { return int32(U32(b)) }
func I64(b []byte) int64  { return int64(U64(b)) }

// --- write ---
func PutU16(b []byte, v uint16) { LE.PutUint16(b, v) }
func PutU32(b []byte, v uint32) { LE.PutUint32(b, v) }
func PutU64(b []byte, v uint64) { LE.PutUint64(b, v) }

// --- At (offset) ---
func U16At(b []byte, off int) uint16       { return U16(b[off:]) }
func U32At(b []byte, off int) uint32       { return U32(b[off:]) }
func U64At(b []byte, off int) uint64       { return U64(b[off:]) }
func PutU16At(b []byte, off int, v uint16) { PutU16(b[off:], v) }
func PutU32At(b []byte, off int, v uint32) { PutU32(b[off:], v) }
func PutU64At(b []byte, off int, v uint64) { PutU64(b[off:], v) }

// --- float64 (stored as IEEE-754 bits, used by strategy snapshots) ---
func F64(b []byte) float64           { return math.Float64frombits(U64(b)) }
func PutF64(b []byte, v float64)     { PutU64(b, math.Float64bits(v)) }
func F64At(b []byte, off int) float64 { return F64(b[off:]) }
func PutF64At(b []byte, off int, v float64) { PutF64(b[off:], v) }
