// Package strategy decides which page receives a new record and tracks
// per-page free-space summaries on behalf of the record manager.
package strategy

import (
	"errors"
	"fmt"
)

var (
	ErrBadConfig   = errors.New("strategy: invalid configuration")
	ErrBadSnapshot = errors.New("strategy: invalid snapshot")
)

// PageInformation is the strategy-visible summary of one page. It must be
// kept in exact sync with the true page contents: every structural change
// is pushed through a notification before the strategy is queried again.
type PageInformation struct {
	PageID      uint32
	BytesFree   int
	RecordCount int
}

// BytesFreeAfterReservation is the free space left if bytesRequired were
// placed on the page. Directory overhead for a possible new slot entry is
// the caller's concern; the record manager folds it into bytesRequired.
func (pi PageInformation) BytesFreeAfterReservation(bytesRequired int) int {
	return pi.BytesFree - bytesRequired
}

// ChangeKind tags record-level notifications. An explicit Removed kind
// replaces the ambiguous negative-length sentinel of older designs.
type ChangeKind uint8

const (
	RecordInserted ChangeKind = iota + 1
	RecordResized
	RecordRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case RecordInserted:
		return "inserted"
	case RecordResized:
		return "resized"
	case RecordRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Kind selects a placement variant. The set is closed: variants are picked
// at construction instead of injected as open-ended implementations.
type Kind uint8

const (
	BestFit Kind = iota + 1
	FirstFit
)

func (k Kind) String() string {
	switch k {
	case BestFit:
		return "best_fit"
	case FirstFit:
		return "first_fit"
	default:
		return "unknown"
	}
}

// ParseKind maps a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "best_fit", "":
		return BestFit, nil
	case "first_fit":
		return FirstFit, nil
	default:
		return 0, fmt.Errorf("%w: unknown strategy kind %q", ErrBadConfig, s)
	}
}

type Config struct {
	Kind Kind
	// PercentageFree is the best-fit slack fraction in [0,1). 0 forces a
	// strict minimal-waste search; larger values accept near-full pages
	// sooner, trading optimality for an early exit.
	PercentageFree float64
}

// Strategy is the placement policy contract. PageForRecord is a pure query;
// all state changes flow through the notification methods. Snapshot
// serializes the internal index so a reopen can resume without a page scan.
type Strategy interface {
	Init(pages []PageInformation, pageSize int) error
	PageForRecord(bytesRequired int) (uint32, bool)
	PageInserted(info PageInformation)
	PageRemoved(pageID uint32)
	RecordChanged(kind ChangeKind, info PageInformation)
	Kind() Kind
	Snapshot() []byte
	Close() error
}

// New constructs a strategy from the closed variant set.
func New(cfg Config) (Strategy, error) {
	if cfg.PercentageFree < 0 || cfg.PercentageFree >= 1 {
		return nil, fmt.Errorf("%w: percentage_free %v outside [0,1)", ErrBadConfig, cfg.PercentageFree)
	}
	switch cfg.Kind {
	case BestFit:
		return &bestFit{slack: cfg.PercentageFree}, nil
	case FirstFit:
		return &firstFit{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy kind %d", ErrBadConfig, cfg.Kind)
	}
}

// pageSet is the shared free-space index: a map for lookups plus a slice
// keeping the stable scan order that tie-breaking relies on.
type pageSet struct {
	pageSize int
	order    []uint32
	pages    map[uint32]*PageInformation
}

// Init (re)builds the index from a snapshot of page summaries. It may be
// called again on a live strategy; previous state is discarded.
func (ps *pageSet) Init(pages []PageInformation, pageSize int) error {
	if pageSize <= 0 {
		return fmt.Errorf("%w: page size %d", ErrBadConfig, pageSize)
	}
	ps.pageSize = pageSize
	ps.order = ps.order[:0]
	ps.pages = make(map[uint32]*PageInformation, len(pages))
	for _, pi := range pages {
		ps.PageInserted(pi)
	}
	return nil
}

func (ps *pageSet) PageInserted(info PageInformation) {
	if ps.pages == nil {
		ps.pages = make(map[uint32]*PageInformation)
	}
	if existing, ok := ps.pages[info.PageID]; ok {
		*existing = info
		return
	}
	pi := info
	ps.pages[pi.PageID] = &pi
	ps.order = append(ps.order, pi.PageID)
}

func (ps *pageSet) PageRemoved(pageID uint32) {
	if _, ok := ps.pages[pageID]; !ok {
		return
	}
	delete(ps.pages, pageID)
	for i, id := range ps.order {
		if id == pageID {
			ps.order = append(ps.order[:i], ps.order[i+1:]...)
			break
		}
	}
}

// RecordChanged replaces the page's summary with the authoritative one the
// manager computed after the mutation. The kind is informational here; both
// counters travel inside info, so no delta arithmetic can drift.
func (ps *pageSet) RecordChanged(kind ChangeKind, info PageInformation) {
	ps.PageInserted(info)
}

func (ps *pageSet) Close() error {
	ps.order = nil
	ps.pages = nil
	return nil
}

// entries returns the summaries in stable scan order.
func (ps *pageSet) entries() []PageInformation {
	out := make([]PageInformation, 0, len(ps.order))
	for _, id := range ps.order {
		out = append(out, *ps.pages[id])
	}
	return out
}
