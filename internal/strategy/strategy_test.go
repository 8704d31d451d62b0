package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBestFit(t *testing.T, slack float64, pageSize int, free ...int) Strategy {
	t.Helper()

	s, err := New(Config{Kind: BestFit, PercentageFree: slack})
	require.NoError(t, err)

	pages := make([]PageInformation, 0, len(free))
	for i, f := range free {
		pages = append(pages, PageInformation{
			PageID:      uint32(i),
			BytesFree:   f,
			RecordCount: 1,
		})
	}
	require.NoError(t, s.Init(pages, pageSize))
	return s
}

func TestBestFitTightestPage(t *testing.T) {
	// free space [50, 200, 30, 500], no slack, requesting 40 bytes must
	// return the page with 50 free (tightest fit >= 40), not 200 or 500
	s := newBestFit(t, 0, 1000, 50, 200, 30, 500)

	id, ok := s.PageForRecord(40)
	require.True(t, ok)
	assert.Equal(t, uint32(0), id)
}

func TestBestFitEarlyExitSlack(t *testing.T) {
	// slack 0.1 on a 1000-byte page gives off=100: a page left with 95
	// free bytes after reservation is returned immediately even though a
	// tighter page follows in scan order.
	s := newBestFit(t, 0.1, 1000, 135, 42)

	id, ok := s.PageForRecord(40)
	require.True(t, ok)
	assert.Equal(t, uint32(0), id)
}

func TestBestFitTieBreakScanOrder(t *testing.T) {
	// equal minimal free space: the first-encountered page wins
	s := newBestFit(t, 0, 1000, 300, 120, 120)

	id, ok := s.PageForRecord(40)
	require.True(t, ok)
	assert.Equal(t, uint32(1), id)
}

func TestBestFitNoPageFits(t *testing.T) {
	s := newBestFit(t, 0, 1000, 10, 20, 30)

	_, ok := s.PageForRecord(40)
	assert.False(t, ok)
}

func TestBestFitEmptyPageSet(t *testing.T) {
	s := newBestFit(t, 0, 1000)

	_, ok := s.PageForRecord(1)
	assert.False(t, ok)
}

func TestBestFitExactFitWithZeroSlack(t *testing.T) {
	// a page left with exactly 0 free bytes hits the off=0 early exit
	s := newBestFit(t, 0, 1000, 500, 40)

	id, ok := s.PageForRecord(40)
	require.True(t, ok)
	assert.Equal(t, uint32(1), id)
}

func TestFirstFitScanOrder(t *testing.T) {
	s, err := New(Config{Kind: FirstFit})
	require.NoError(t, err)
	require.NoError(t, s.Init([]PageInformation{
		{PageID: 7, BytesFree: 10},
		{PageID: 8, BytesFree: 300},
		{PageID: 9, BytesFree: 90},
	}, 1000))

	id, ok := s.PageForRecord(50)
	require.True(t, ok)
	assert.Equal(t, uint32(8), id)

	_, ok = s.PageForRecord(1000)
	assert.False(t, ok)
}

func TestNotificationsKeepIndexInSync(t *testing.T) {
	s := newBestFit(t, 0, 1000, 100)

	// a fresh page shows up through PageInserted
	s.PageInserted(PageInformation{PageID: 1, BytesFree: 60, RecordCount: 0})
	id, ok := s.PageForRecord(55)
	require.True(t, ok)
	assert.Equal(t, uint32(1), id)

	// a removal flows through RecordChanged with the authoritative summary
	s.RecordChanged(RecordRemoved, PageInformation{PageID: 0, BytesFree: 1000, RecordCount: 0})
	id, ok = s.PageForRecord(500)
	require.True(t, ok)
	assert.Equal(t, uint32(0), id)

	// PageRemoved drops the page from consideration entirely
	s.PageRemoved(0)
	s.PageRemoved(1)
	_, ok = s.PageForRecord(1)
	assert.False(t, ok)
}

func TestInitIsIdempotent(t *testing.T) {
	s := newBestFit(t, 0, 1000, 100, 200)

	// re-init replaces all prior state
	require.NoError(t, s.Init([]PageInformation{
		{PageID: 42, BytesFree: 77, RecordCount: 3},
	}, 1000))

	id, ok := s.PageForRecord(70)
	require.True(t, ok)
	assert.Equal(t, uint32(42), id)

	_, ok = s.PageForRecord(78)
	assert.False(t, ok)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := newBestFit(t, 0.05, 8192, 120, 4000, 77)
	blob := s.Snapshot()

	restored, err := Restore(blob)
	require.NoError(t, err)
	assert.Equal(t, BestFit, restored.Kind())

	// restored index answers queries identically
	for _, need := range []int{10, 100, 1000, 5000} {
		wantID, wantOK := s.PageForRecord(need)
		gotID, gotOK := restored.PageForRecord(need)
		assert.Equal(t, wantOK, gotOK, "need=%d", need)
		assert.Equal(t, wantID, gotID, "need=%d", need)
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	_, err := Restore(nil)
	require.ErrorIs(t, err, ErrBadSnapshot)

	_, err = Restore(make([]byte, 40))
	require.ErrorIs(t, err, ErrBadSnapshot)

	s := newBestFit(t, 0, 1000, 10)
	blob := s.Snapshot()
	blob = blob[:len(blob)-1] // truncated entry
	_, err = Restore(blob)
	require.ErrorIs(t, err, ErrBadSnapshot)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{Kind: BestFit, PercentageFree: 1.0})
	require.ErrorIs(t, err, ErrBadConfig)

	_, err = New(Config{Kind: Kind(99)})
	require.ErrorIs(t, err, ErrBadConfig)

	k, err := ParseKind("first_fit")
	require.NoError(t, err)
	assert.Equal(t, FirstFit, k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, BestFit, k)

	_, err = ParseKind("worst_fit")
	require.ErrorIs(t, err, ErrBadConfig)
}
