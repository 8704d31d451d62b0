package recman

import (
	"fmt"
	"log/slog"

	"github.com/tuannm99/novastore/internal/bx"
	"github.com/tuannm99/novastore/internal/storage"
)

// overflowRef points to an overflow chain in the side file and is what
// actually sits in the slot of an oversized record (SlotFlagOverflow).
type overflowRef struct {
	first  uint32 // first block of the chain
	length uint32 // total logical bytes across the chain
}

const ovfRefSize = 8

func encodeRef(ref overflowRef) []byte {
	buf := make([]byte, ovfRefSize)
	bx.PutU32At(buf, 0, ref.first)
	bx.PutU32At(buf, 4, ref.length)
	return buf
}

func decodeRef(b []byte) (overflowRef, error) {
	if len(b) != ovfRefSize {
		return overflowRef{}, fmt.Errorf("%w: overflow ref is %d bytes", storage.ErrCorruptPage, len(b))
	}
	return overflowRef{
		first:  bx.U32At(b, 0),
		length: bx.U32At(b, 4),
	}, nil
}

// Overflow block layout (pageSize bytes total):
//
//	[0..3]  uint32 next block // 0 => end of chain
//	[4..5]  uint16 used       // payload bytes on this block
//	[6..]   payload
//
// Block 0 of the side file is reserved so that next==0 can mean "end".
const ovfHeaderSize = 6

// overflowChain stores records too large for a single page as linked
// chains of blocks in a dedicated side file. Rewrites reuse a chain's block
// span when the new payload fits it; removed chains are not reclaimed.
type overflowChain struct {
	bf       *storage.BlockFile
	pageSize int
}

func newOverflowChain(bf *storage.BlockFile) *overflowChain {
	return &overflowChain{bf: bf, pageSize: bf.PageSize()}
}

func (o *overflowChain) payloadPerBlock() int {
	return o.pageSize - ovfHeaderSize
}

// write appends data as a chain of blocks and returns its ref. Chain blocks
// are allocated contiguously, so every next pointer is known up front.
func (o *overflowChain) write(data []byte) (overflowRef, error) {
	if len(data) == 0 {
		return overflowRef{}, storage.ErrEmptyRecord
	}

	start := o.bf.BlockCount()
	if start == 0 {
		// burn block 0 so a zero next pointer terminates chains
		if err := o.bf.WriteBlock(0, make([]byte, o.pageSize)); err != nil {
			return overflowRef{}, err
		}
		start = 1
	}

	if err := o.writeChain(start, data); err != nil {
		return overflowRef{}, err
	}
	return overflowRef{first: uint32(start), length: uint32(len(data))}, nil
}

// rewrite overwrites ref's chain with data when it fits the chain's block
// span, reusing the blocks; a longer payload gets a fresh chain instead.
func (o *overflowChain) rewrite(ref overflowRef, data []byte) (overflowRef, error) {
	if len(data) == 0 {
		return overflowRef{}, storage.ErrEmptyRecord
	}
	if ref.first == 0 || o.blocksFor(len(data)) > o.blocksFor(int(ref.length)) {
		return o.write(data)
	}
	if err := o.writeChain(int(ref.first), data); err != nil {
		return overflowRef{}, err
	}
	return overflowRef{first: ref.first, length: uint32(len(data))}, nil
}

func (o *overflowChain) blocksFor(n int) int {
	per := o.payloadPerBlock()
	return (n + per - 1) / per
}

func (o *overflowChain) writeChain(start int, data []byte) error {
	slog.Debug("overflow: write chain", "len", len(data), "start_block", start)

	remaining := len(data)
	offset := 0
	cur := start
	for remaining > 0 {
		chunk := min(remaining, o.payloadPerBlock())

		buf := make([]byte, o.pageSize)
		next := uint32(0)
		if remaining > chunk {
			next = uint32(cur + 1)
		}
		bx.PutU32At(buf, 0, next)
		bx.PutU16At(buf, 4, uint16(chunk))
		copy(buf[ovfHeaderSize:], data[offset:offset+chunk])

		if err := o.bf.WriteBlock(cur, buf); err != nil {
			return err
		}

		cur++
		offset += chunk
		remaining -= chunk
	}
	return nil
}

// read loads the full logical payload of a chain.
func (o *overflowChain) read(ref overflowRef) ([]byte, error) {
	if ref.length == 0 || ref.first == 0 {
		return nil, fmt.Errorf("%w: zero-valued overflow ref", storage.ErrCorruptPage)
	}

	out := make([]byte, 0, ref.length)
	remaining := int(ref.length)
	block := int(ref.first)
	buf := make([]byte, o.pageSize)

	for remaining > 0 {
		if err := o.bf.ReadBlock(block, buf); err != nil {
			return nil, err
		}

		next := bx.U32At(buf, 0)
		used := int(bx.U16At(buf, 4))
		if used > o.payloadPerBlock() || used > remaining {
			return nil, fmt.Errorf("%w: overflow block %d used=%d", storage.ErrCorruptPage, block, used)
		}

		out = append(out, buf[ovfHeaderSize:ovfHeaderSize+used]...)
		remaining -= used

		if remaining > 0 {
			if next == 0 {
				return nil, fmt.Errorf("%w: truncated overflow chain, %d bytes missing", storage.ErrCorruptPage, remaining)
			}
			block = int(next)
		}
	}

	return out, nil
}
