package recman

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/tuannm99/novastore/internal/storage"
	"github.com/tuannm99/novastore/internal/strategy"
)

// pageScan is what one worker extracts from a single page.
type pageScan struct {
	info strategy.PageInformation
	recs map[RecordID]int // record id -> slot index
}

// rebuildState reconstructs the id directory and the per-page free-space
// summaries by decoding every page. Pages are independent, so the scan runs
// on an ants worker pool; results keep page order for the strategy's stable
// scan order.
func (m *Manager) rebuildState() error {
	n := int(m.pageCount)
	slog.Info("recman: rebuilding state from page scan", "pages", n)

	results := make([]*pageScan, n)

	if n > 0 {
		workers := min(runtime.NumCPU(), n)
		pool, err := ants.NewPool(workers)
		if err != nil {
			return fmt.Errorf("rebuild pool: %w", err)
		}
		defer pool.Release()

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			firstErr error
		)
		for i := 0; i < n; i++ {
			pageID := uint32(i)
			wg.Add(1)
			err := pool.Submit(func() {
				defer wg.Done()
				scan, err := m.scanPage(pageID)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				results[pageID] = scan
			})
			if err != nil {
				// already-submitted workers still read the block file;
				// wait for them before handing the error up
				wg.Done()
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("rebuild submit: %w", err)
				}
				mu.Unlock()
				break
			}
		}
		wg.Wait()

		if firstErr != nil {
			return firstErr
		}
	}

	locs := make(map[RecordID]location)
	pages := make([]strategy.PageInformation, 0, n)
	maxID := RecordID(0)
	for _, scan := range results {
		pages = append(pages, scan.info)
		for rid, slot := range scan.recs {
			locs[rid] = location{pageID: scan.info.PageID, slot: slot}
			if rid > maxID {
				maxID = rid
			}
		}
	}

	s, err := strategy.New(m.opts.Strategy)
	if err != nil {
		return err
	}
	if err := s.Init(pages, m.opts.PageSize); err != nil {
		return err
	}

	m.locs = locs
	m.nextID = maxID + 1
	m.strat = s
	m.rebuilt = true

	slog.Info("recman: rebuild done", "records", len(locs), "next_id", uint64(m.nextID))
	return nil
}

// scanPage decodes one page straight from the block file (the cache is not
// warm yet during open) and summarizes it.
func (m *Manager) scanPage(pageID uint32) (*pageScan, error) {
	buf := make([]byte, m.opts.PageSize)
	if err := m.bf.ReadBlock(int(pageID), buf); err != nil {
		return nil, err
	}
	p, err := storage.LoadPage(buf, pageID, m.opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", pageID, err)
	}

	recs := make(map[RecordID]int, p.RecordCount())
	for slot := 0; slot < p.NumSlots(); slot++ {
		s, err := p.GetSlot(slot)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pageID, err)
		}
		if !s.Live() {
			continue
		}
		recs[RecordID(s.RecordID)] = slot
	}

	return &pageScan{
		info: strategy.PageInformation{
			PageID:      pageID,
			BytesFree:   p.FreeSpace(),
			RecordCount: p.RecordCount(),
		},
		recs: recs,
	}, nil
}
