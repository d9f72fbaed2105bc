// Package config loads the engine's tuning parameters from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"lsmkv/internal/hash"
)

// Defaults for every tunable below.
const (
	DefaultDir                     = "./lsmkv-data"
	DefaultMaxLevel                = 7
	DefaultSSTSize                 = 1 << 20
	DefaultSSTNumPerLevel          = 4
	DefaultSSTDataBlockSize        = 4 << 20
	DefaultSSTFooterSize           = 16
	DefaultCacheSize               = 2048
	DefaultMemtableByteBudget      = 4 << 20
	DefaultMemtableBranchingFactor = 7
	DefaultFilterML                = 24
	DefaultFilterK                 = 2
	DefaultFilterStrategy          = "sfhash64"
)

// Config holds every tunable the engine reads at open time.
type Config struct {
	Dir      string `yaml:"dir"`
	MaxLevel int    `yaml:"max_level"`

	SSTSize          uint64 `yaml:"sst_size"`
	SSTNumPerLevel   uint64 `yaml:"sst_num_per_level"`
	SSTDataBlockSize uint64 `yaml:"sst_data_block_size"`
	SSTFooterSize    uint64 `yaml:"sst_footer_size"`

	CacheSize int `yaml:"cache_size"`

	MemtableByteBudget      uint64 `yaml:"memtable_byte_budget"`
	MemtableBranchingFactor int    `yaml:"memtable_branching_factor"`

	FilterML       int    `yaml:"filter_ml"`
	FilterK        int    `yaml:"filter_k"`
	FilterStrategy string `yaml:"filter_strategy"`

	// Filter is constructed from FilterStrategy by FromFile; it has no YAML
	// tag of its own and is built rather than unmarshaled directly.
	Filter hash.Strategy `yaml:"-"`
}

func (c *Config) applyDefaults() {
	if c.Dir == "" {
		c.Dir = DefaultDir
	}
	if c.MaxLevel == 0 {
		c.MaxLevel = DefaultMaxLevel
	}
	if c.SSTSize == 0 {
		c.SSTSize = DefaultSSTSize
	}
	if c.SSTNumPerLevel == 0 {
		c.SSTNumPerLevel = DefaultSSTNumPerLevel
	}
	if c.SSTDataBlockSize == 0 {
		c.SSTDataBlockSize = DefaultSSTDataBlockSize
	}
	if c.SSTFooterSize == 0 {
		c.SSTFooterSize = DefaultSSTFooterSize
	}
	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.MemtableByteBudget == 0 {
		c.MemtableByteBudget = DefaultMemtableByteBudget
	}
	if c.MemtableBranchingFactor == 0 {
		c.MemtableBranchingFactor = DefaultMemtableBranchingFactor
	}
	if c.FilterML == 0 {
		c.FilterML = DefaultFilterML
	}
	if c.FilterK == 0 {
		c.FilterK = DefaultFilterK
	}
	if c.FilterStrategy == "" {
		c.FilterStrategy = DefaultFilterStrategy
	}
}

func strategyByName(name string) (hash.Strategy, error) {
	switch name {
	case "sfhash64":
		return hash.SfHash64Strategy{}, nil
	case "siphash":
		return hash.SipHashStrategy{}, nil
	case "murmur3":
		return hash.Murmur3Strategy{}, nil
	default:
		return nil, fmt.Errorf("config: unknown filter strategy %q", name)
	}
}

// FromFile reads and parses the YAML config at path, filling in the
// documented defaults for any field left zero and constructing Filter from
// FilterStrategy.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()

	strategy, err := strategyByName(c.FilterStrategy)
	if err != nil {
		return nil, err
	}
	c.Filter = strategy

	return &c, nil
}

// Default returns a Config with every field set to its documented default,
// including a constructed Filter, for callers that have no YAML file to
// load (e.g. a first run with no config present yet).
func Default() *Config {
	var c Config
	c.applyDefaults()
	c.Filter, _ = strategyByName(c.FilterStrategy)
	return &c
}
