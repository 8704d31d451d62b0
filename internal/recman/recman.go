// Package recman implements the external record manager: a CRUD façade over
// logical records stored in fixed-size slotted pages, with a pluggable
// placement strategy and a stable id-to-location directory.
package recman

import (
	"errors"

	"github.com/tuannm99/novastore/internal/storage"
	"github.com/tuannm99/novastore/internal/strategy"
)

var (
	ErrClosed           = errors.New("recman: record manager is closed")
	ErrPageSizeMismatch = errors.New("recman: page size does not match existing store")
	ErrBadSidecar       = errors.New("recman: invalid sidecar file")
)

// RecordID is the stable logical identifier handed to callers. It stays
// bound to the same record across in-page moves and page relocations; 0 is
// never issued.
type RecordID uint64

// location is the physical (page, slot) address behind a RecordID.
type location struct {
	pageID uint32
	slot   int
}

var (
	DefaultCachePages     = 128
	DefaultPercentageFree = 0.05
)

// Options configures a Manager at construction. Zero values fall back to
// the defaults, so Options{} opens a store with an 8 KiB page size, a
// 128-page cache and the best-fit strategy.
type Options struct {
	PageSize   int
	CachePages int
	// AllowOversized stores records larger than a page's capacity as
	// overflow chains in a side file instead of rejecting them.
	AllowOversized bool
	Strategy       strategy.Config
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = storage.DefaultPageSize
	}
	if o.CachePages <= 0 {
		o.CachePages = DefaultCachePages
	}
	if o.Strategy.Kind == 0 {
		o.Strategy.Kind = strategy.BestFit
		if o.Strategy.PercentageFree == 0 {
			o.Strategy.PercentageFree = DefaultPercentageFree
		}
	}
	return o
}

// Codec is the injected record serializer collaborator. The manager never
// interprets record contents; typed access goes through InsertValue and
// GetValue with a caller-provided Codec value.
type Codec interface {
	Serialize(v any) ([]byte, error)
	Deserialize(b []byte) (any, error)
}

// Stats is a point-in-time summary of an open store.
type Stats struct {
	StoreID  string
	PageSize int
	Pages    uint32
	Records  int
	Strategy strategy.Kind
}
