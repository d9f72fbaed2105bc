package sstable

import (
	"lsmkv/internal/cache"
	"lsmkv/internal/memtable"
)

// TwoTierCache is a Reader's point-lookup cache: a larger, high-confidence
// cache_read tier for records that were themselves the target of a prior
// lookup, and a smaller cache_lookaside tier warmed by read-ahead after a
// lookup finds its record in the data section. Both tiers are built on the
// same generic LRU implementation.
type TwoTierCache struct {
	read      *cache.LRUCache
	lookaside *cache.LRUCache
}

// NewTwoTierCache creates a cache using the engine-wide default tier sizes.
func NewTwoTierCache() *TwoTierCache {
	return &TwoTierCache{
		read:      cache.NewLRUCache(CacheReadCapacity),
		lookaside: cache.NewLRUCache(CacheLookasideCapacity),
	}
}

// Get probes cache_read, then cache_lookaside.
func (c *TwoTierCache) Get(key []byte) (memtable.Record, bool) {
	if v, ok := c.read.Get(string(key)); ok {
		return v.(memtable.Record), true
	}
	if v, ok := c.lookaside.Get(string(key)); ok {
		rec := v.(memtable.Record)
		c.read.Set(string(key), rec)
		return rec, true
	}
	return nil, false
}

// Set installs record into cache_read.
func (c *TwoTierCache) Set(key []byte, record memtable.Record) {
	c.read.Set(string(key), record)
}

// SetLookaside installs record into cache_lookaside only, used by
// read-ahead prefetch so it doesn't evict cache_read's working set.
func (c *TwoTierCache) SetLookaside(key []byte, record memtable.Record) {
	c.lookaside.Set(string(key), record)
}
