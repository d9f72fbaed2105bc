package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsmkv/internal/config"
	"lsmkv/internal/hash"
)

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test_config.yaml")

	contents := `
dir: ../../
max_level: 7
sst_size: 1048576
sst_num_per_level: 4
sst_data_block_size: 16384
sst_footer_size: 32
cache_size: 10
filter_strategy: murmur3
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := config.FromFile(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "../../", cfg.Dir)
	assert.Equal(t, 7, cfg.MaxLevel)
	assert.Equal(t, uint64(1048576), cfg.SSTSize)
	assert.Equal(t, uint64(4), cfg.SSTNumPerLevel)
	assert.Equal(t, uint64(16384), cfg.SSTDataBlockSize)
	assert.Equal(t, uint64(32), cfg.SSTFooterSize)
	assert.Equal(t, 10, cfg.CacheSize)
	assert.NotNil(t, cfg.Filter)
	assert.IsType(t, hash.Murmur3Strategy{}, cfg.Filter)
}

func TestFromFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dir: .\n"), 0o644))

	cfg, err := config.FromFile(path)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultMaxLevel, cfg.MaxLevel)
	assert.Equal(t, uint64(config.DefaultSSTSize), cfg.SSTSize)
	assert.Equal(t, uint64(config.DefaultMemtableByteBudget), cfg.MemtableByteBudget)
	assert.Equal(t, config.DefaultMemtableBranchingFactor, cfg.MemtableBranchingFactor)
	assert.Equal(t, config.DefaultFilterML, cfg.FilterML)
	assert.Equal(t, config.DefaultFilterK, cfg.FilterK)
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, config.DefaultDir, cfg.Dir)
	assert.Equal(t, config.DefaultMaxLevel, cfg.MaxLevel)
	assert.NotNil(t, cfg.Filter)
	assert.IsType(t, hash.SfHash64Strategy{}, cfg.Filter)
}

func TestFromFileMissing(t *testing.T) {
	cfg, err := config.FromFile("does-not-exist.yaml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestFromFileUnknownStrategy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("filter_strategy: nonexistent\n"), 0o644))

	cfg, err := config.FromFile(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}
