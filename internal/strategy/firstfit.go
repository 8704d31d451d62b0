package strategy

// firstFit returns the first page in scan order with room for the record.
// Cheaper than bestFit on large page sets, at the cost of more fragmentation.
type firstFit struct {
	pageSet
}

func (f *firstFit) Kind() Kind { return FirstFit }

func (f *firstFit) PageForRecord(bytesRequired int) (uint32, bool) {
	if bytesRequired <= 0 {
		return 0, false
	}
	for _, id := range f.order {
		if f.pages[id].BytesFreeAfterReservation(bytesRequired) >= 0 {
			return id, true
		}
	}
	return 0, false
}

func (f *firstFit) Snapshot() []byte {
	return encodeSnapshot(FirstFit, 0, f.pageSize, f.entries())
}
