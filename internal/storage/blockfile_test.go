package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlockFile(t *testing.T) (*BlockFile, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "store.db")
	bf, err := OpenBlockFile(path, DefaultPageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bf.Close() })

	return bf, path
}

func TestBlockFileReadWrite(t *testing.T) {
	bf, _ := newTestBlockFile(t)

	assert.Equal(t, 0, bf.BlockCount())

	src := make([]byte, DefaultPageSize)
	for i := range src {
		src[i] = byte(i % 251)
	}
	require.NoError(t, bf.WriteBlock(0, src))
	assert.Equal(t, 1, bf.BlockCount())

	dst := make([]byte, DefaultPageSize)
	require.NoError(t, bf.ReadBlock(0, dst))
	assert.Equal(t, src, dst)
}

func TestBlockFileZeroFillPastEOF(t *testing.T) {
	bf, _ := newTestBlockFile(t)

	dst := make([]byte, DefaultPageSize)
	for i := range dst {
		dst[i] = 0xFF
	}
	require.NoError(t, bf.ReadBlock(5, dst))
	for _, b := range dst {
		require.Equal(t, byte(0), b)
	}
}

func TestBlockFileGrowOnDemand(t *testing.T) {
	bf, path := newTestBlockFile(t)

	src := make([]byte, DefaultPageSize)
	src[0] = 0x42
	require.NoError(t, bf.WriteBlock(3, src))
	assert.Equal(t, 4, bf.BlockCount())

	// reopen derives the count from the file size
	require.NoError(t, bf.Close())
	bf2, err := OpenBlockFile(path, DefaultPageSize)
	require.NoError(t, err)
	defer bf2.Close()

	assert.Equal(t, 4, bf2.BlockCount())

	dst := make([]byte, DefaultPageSize)
	require.NoError(t, bf2.ReadBlock(3, dst))
	assert.Equal(t, byte(0x42), dst[0])
}

func TestBlockFileTruncate(t *testing.T) {
	bf, _ := newTestBlockFile(t)

	src := make([]byte, DefaultPageSize)
	for n := 0; n < 4; n++ {
		require.NoError(t, bf.WriteBlock(n, src))
	}
	require.Equal(t, 4, bf.BlockCount())

	require.NoError(t, bf.Truncate(2))
	assert.Equal(t, 2, bf.BlockCount())

	// truncating to a larger count is a no-op
	require.NoError(t, bf.Truncate(10))
	assert.Equal(t, 2, bf.BlockCount())
}

func TestBlockFileSizeChecks(t *testing.T) {
	bf, _ := newTestBlockFile(t)

	require.ErrorIs(t, bf.WriteBlock(0, make([]byte, 10)), ErrWrongSize)
	require.ErrorIs(t, bf.ReadBlock(0, make([]byte, 10)), ErrWrongSize)

	_, err := OpenBlockFile(filepath.Join(t.TempDir(), "x.db"), 17)
	require.ErrorIs(t, err, ErrBadPageSize)
}
