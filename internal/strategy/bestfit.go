package strategy

// bestFit picks the page whose free space most tightly accommodates the
// requested size. A slack threshold permits an early exit: once a page
// would be left with at most slack*pageSize free bytes, it is good enough
// and the scan stops.
type bestFit struct {
	pageSet
	slack float64
}

func (b *bestFit) Kind() Kind { return BestFit }

func (b *bestFit) PageForRecord(bytesRequired int) (uint32, bool) {
	if bytesRequired <= 0 {
		return 0, false
	}

	off := int(b.slack * float64(b.pageSize))

	var (
		bestID   uint32
		bestFree int
		found    bool
	)
	for _, id := range b.order {
		free := b.pages[id].BytesFreeAfterReservation(bytesRequired)
		if free < 0 {
			continue
		}
		if free <= off {
			// good enough, stop scanning
			return id, true
		}
		if !found || free < bestFree {
			bestID, bestFree, found = id, free, true
		}
	}
	return bestID, found
}

func (b *bestFit) Snapshot() []byte {
	return encodeSnapshot(BestFit, b.slack, b.pageSize, b.entries())
}
