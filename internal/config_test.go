package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novastore/internal/strategy"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novastore.yaml")
	yaml := `
workdir: /tmp/novastore-data
store:
  base: users
  page_size: 8192
  cache_pages: 64
  allow_oversized: true
strategy:
  kind: best_fit
  percentage_free: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/novastore-data", cfg.Workdir)
	assert.Equal(t, "users", cfg.BaseName())
	assert.Equal(t, 8192, cfg.Store.PageSize)

	opts, err := cfg.ManagerOptions()
	require.NoError(t, err)
	assert.Equal(t, strategy.BestFit, opts.Strategy.Kind)
	assert.Equal(t, 0.1, opts.Strategy.PercentageFree)
	assert.Equal(t, 64, opts.CachePages)
	assert.True(t, opts.AllowOversized)
}

func TestLoadConfigBadStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novastore.yaml")
	yaml := `
workdir: /tmp/x
strategy:
  kind: worst_fit
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = cfg.ManagerOptions()
	require.ErrorIs(t, err, strategy.ErrBadConfig)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novastore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workdir: /tmp/x\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "store", cfg.BaseName())

	opts, err := cfg.ManagerOptions()
	require.NoError(t, err)
	// empty kind resolves to best fit; sizes stay zero for the manager
	assert.Equal(t, strategy.BestFit, opts.Strategy.Kind)
	assert.Zero(t, opts.PageSize)
}
