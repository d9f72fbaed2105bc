// Package lsm implements the engine coordinator: a mutable level-0
// memtable, a queue of frozen level-1 memtables, and a tier/run-indexed set
// of level-rest SSTables, wired to the transaction manager and driven by a
// background compaction goroutine.
package lsm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"lsmkv/internal/config"
	"lsmkv/internal/memtable"
	"lsmkv/internal/sstable"
	"lsmkv/internal/txn"
	"lsmkv/pkg/logger"
)

// ssLoc locates a sorted run by tier and run number. Smaller tier is newer;
// within a tier, a larger run number is newer.
type ssLoc struct {
	tier uint32
	run  uint32
}

// less reports whether a is newer than b under SSLoc's ordering.
func (a ssLoc) less(b ssLoc) bool {
	if a.tier != b.tier {
		return a.tier < b.tier
	}
	return a.run > b.run
}

// sortedRun pairs a run's location with its open reader.
type sortedRun struct {
	loc    ssLoc
	reader *sstable.Reader
}

// Engine is the LSM-tree coordinator. It exposes both a non-transactional
// (raw) API that bypasses the transaction manager entirely, and a
// transactional API that routes through the transaction manager against
// level-0 only.
type Engine struct {
	conf *config.Config
	dir  string

	lv0Mu sync.RWMutex
	lv0   *memtable.MemTable

	lv1Mu sync.RWMutex
	lv1   []*memtable.MemTable // index 0 is newest

	lvrestMu sync.RWMutex
	lvrest   []sortedRun // sorted newest-first by ssLoc.less

	nextRunMu sync.Mutex
	nextRun   map[uint32]uint32 // tier -> next run number to allocate

	trans *txn.Manager
	tsSeq atomic.Uint64

	memCompactCh  chan struct{}
	tierCompactCh chan uint32
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// Open prepares the data directory, reloads any sorted runs already on
// disk, and starts the background compaction goroutine.
func Open(conf *config.Config) (*Engine, error) {
	if err := os.MkdirAll(conf.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("lsm: create data directory: %w", err)
	}
	sstDir := filepath.Join(conf.Dir, "sstfile")
	if err := os.MkdirAll(sstDir, 0o755); err != nil {
		return nil, fmt.Errorf("lsm: create sst directory: %w", err)
	}

	e := &Engine{
		conf:          conf,
		dir:           conf.Dir,
		lv0:           memtable.NewMemTable(conf.MemtableBranchingFactor),
		nextRun:       make(map[uint32]uint32),
		trans:         txn.NewManager(),
		memCompactCh:  make(chan struct{}, 1),
		tierCompactCh: make(chan uint32, conf.MaxLevel+1),
		stopCh:        make(chan struct{}),
	}

	if err := e.loadSortedRuns(sstDir); err != nil {
		return nil, err
	}

	e.wg.Add(1)
	go e.compactLoop()

	logger.Info("lsm engine opened", "dir", conf.Dir, "runs", len(e.lvrest))
	return e, nil
}

func (e *Engine) sstPath(tier, run uint32) string {
	return filepath.Join(e.dir, "sstfile", fmt.Sprintf("%d_%d.sst", tier, run))
}

func (e *Engine) loadSortedRuns(sstDir string) error {
	entries, err := os.ReadDir(sstDir)
	if err != nil {
		return fmt.Errorf("lsm: read sst directory: %w", err)
	}

	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		var tier, run uint32
		if _, err := fmt.Sscanf(ent.Name(), "%d_%d.sst", &tier, &run); err != nil {
			continue
		}

		path := filepath.Join(sstDir, ent.Name())
		reader, err := sstable.Open(path, e.conf.FilterML, e.conf.FilterK, e.conf.Filter)
		if err != nil {
			return fmt.Errorf("lsm: open %s: %w", ent.Name(), err)
		}
		e.lvrest = append(e.lvrest, sortedRun{loc: ssLoc{tier: tier, run: run}, reader: reader})
		if run+1 > e.nextRun[tier] {
			e.nextRun[tier] = run + 1
		}
	}

	sort.Slice(e.lvrest, func(i, j int) bool { return e.lvrest[i].loc.less(e.lvrest[j].loc) })
	return nil
}

// Close stops the background compactor and releases every open run.
func (e *Engine) Close() error {
	close(e.stopCh)
	e.wg.Wait()

	e.lvrestMu.Lock()
	defer e.lvrestMu.Unlock()
	for _, r := range e.lvrest {
		if err := r.reader.Close(); err != nil {
			return fmt.Errorf("lsm: close run tier=%d run=%d: %w", r.loc.tier, r.loc.run, err)
		}
	}
	logger.Info("lsm engine closed", "dir", e.dir)
	return nil
}

func recordValue(rec memtable.Record) ([]byte, bool, error) {
	switch r := rec.(type) {
	case memtable.Tombstone:
		return nil, false, nil
	case memtable.Live:
		return r.Value, true, nil
	default:
		return nil, false, nil
	}
}

// Get performs a non-transactional point lookup: level-0, then level-1
// front-to-back, then level-rest newest-first, short-circuiting on the
// first tombstone or live value.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	if rec, ok := e.lookupLv0(key); ok {
		return recordValue(rec)
	}
	if rec, ok := e.lookupLv1(key); ok {
		return recordValue(rec)
	}
	return e.lookupLvrest(key)
}

func (e *Engine) lookupLv0(key []byte) (memtable.Record, bool) {
	e.lv0Mu.RLock()
	defer e.lv0Mu.RUnlock()
	entry, ok := e.lv0.Get(key)
	if !ok {
		return nil, false
	}
	entry.Lock()
	defer entry.Unlock()
	return entry.Record, true
}

func (e *Engine) lookupLv1(key []byte) (memtable.Record, bool) {
	e.lv1Mu.RLock()
	defer e.lv1Mu.RUnlock()
	for _, mt := range e.lv1 {
		entry, ok := mt.Get(key)
		if !ok {
			continue
		}
		entry.Lock()
		rec := entry.Record
		entry.Unlock()
		return rec, true
	}
	return nil, false
}

func (e *Engine) lookupLvrest(key []byte) ([]byte, bool, error) {
	e.lvrestMu.RLock()
	defer e.lvrestMu.RUnlock()
	for _, run := range e.lvrest {
		rec, ok, err := run.reader.Get(key)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		return recordValue(rec)
	}
	return nil, false, nil
}

// Put inserts or overwrites key's value directly in level-0, bypassing the
// transaction manager entirely and without timestamp bookkeeping.
func (e *Engine) Put(key, value []byte) error {
	return e.rawInsert(key, memtable.NewLive(value, false))
}

// Delete writes a tombstone for key directly in level-0.
func (e *Engine) Delete(key []byte) error {
	return e.rawInsert(key, memtable.NewTombstone(false))
}

func (e *Engine) rawInsert(key []byte, record memtable.Record) error {
	e.lv0Mu.Lock()
	e.lv0.Put(key, memtable.NewEntry(record))
	full := uint64(e.lv0.ByteSize()) >= e.conf.MemtableByteBudget
	e.lv0Mu.Unlock()

	if full {
		e.freeze()
	}
	return nil
}

// freeze moves the current level-0 memtable to the front of level-1,
// installs a fresh empty one, and wakes the background compactor.
func (e *Engine) freeze() {
	e.lv0Mu.Lock()
	old := e.lv0
	e.lv0 = memtable.NewMemTable(e.conf.MemtableBranchingFactor)
	e.lv0Mu.Unlock()

	e.lv1Mu.Lock()
	e.lv1 = append([]*memtable.MemTable{old}, e.lv1...)
	e.lv1Mu.Unlock()

	logger.Info("level-0 memtable frozen", "bytes", old.ByteSize(), "keys", old.Len())
	select {
	case e.memCompactCh <- struct{}{}:
	default:
	}
}

// Flush forces the current level-0 memtable to freeze regardless of its
// byte size, for callers that want an explicit flush point.
func (e *Engine) Flush() {
	e.freeze()
}

// Compact forces a tier-0 compaction attempt regardless of the configured
// run-count threshold.
func (e *Engine) Compact() {
	select {
	case e.tierCompactCh <- 0:
	default:
	}
}
