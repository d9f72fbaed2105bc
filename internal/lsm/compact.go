package lsm

import (
	"fmt"
	"os"
	"sort"

	"lsmkv/internal/memtable"
	"lsmkv/internal/merge"
	"lsmkv/internal/sstable"
	"lsmkv/pkg/logger"
)

// compactLoop is the background compactor: a select-loop over the memtable
// flush signal, tier-compaction requests, and shutdown.
func (e *Engine) compactLoop() {
	defer e.wg.Done()
	logger.Info("lsm compaction goroutine started")
	for {
		select {
		case <-e.stopCh:
			logger.Info("lsm compaction goroutine stopping")
			return
		case <-e.memCompactCh:
			e.flushOldestLv1()
		case tier := <-e.tierCompactCh:
			e.compactTier(tier)
		}
	}
}

func (e *Engine) nextRunNumber(tier uint32) uint32 {
	e.nextRunMu.Lock()
	defer e.nextRunMu.Unlock()
	run := e.nextRun[tier]
	e.nextRun[tier] = run + 1
	return run
}

// flushOldestLv1 drains level-1 back to front, writing each memtable out as
// a new tier-0 run, until the queue is empty. A memtable leaves level-1
// only after its run is installed in level-rest, so its keys stay readable
// throughout the flush.
func (e *Engine) flushOldestLv1() {
	for {
		e.lv1Mu.RLock()
		if len(e.lv1) == 0 {
			e.lv1Mu.RUnlock()
			return
		}
		oldest := e.lv1[len(e.lv1)-1]
		e.lv1Mu.RUnlock()

		if err := e.flushMemTable(oldest, 0); err != nil {
			logger.Error("failed to flush memtable to level 0", "error", err)
			return
		}

		e.lv1Mu.Lock()
		e.lv1 = e.lv1[:len(e.lv1)-1]
		e.lv1Mu.Unlock()
	}
}

// flushMemTable writes mt's live contents (skipping cache-provenance
// entries) into a new sorted run at tier, inserts it into
// level-rest, and checks whether tier now warrants compaction.
func (e *Engine) flushMemTable(mt *memtable.MemTable, tier uint32) error {
	run := e.nextRunNumber(tier)
	path := e.sstPath(tier, run)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := sstable.NewWriter(f, e.conf.FilterML, e.conf.FilterK, e.conf.Filter)
	src := asSSTableSource(newMemTableSource(mt))
	if err := w.Write(src); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	reader, err := sstable.Open(path, e.conf.FilterML, e.conf.FilterK, e.conf.Filter)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", path, err)
	}

	e.insertSortedRun(sortedRun{loc: ssLoc{tier: tier, run: run}, reader: reader})
	logger.Info("flushed run", "tier", tier, "run", run, "keys", mt.Len())

	e.tryTriggerTierCompact(tier)
	return nil
}

func (e *Engine) insertSortedRun(sr sortedRun) {
	e.lvrestMu.Lock()
	defer e.lvrestMu.Unlock()
	idx := sort.Search(len(e.lvrest), func(i int) bool { return sr.loc.less(e.lvrest[i].loc) })
	e.lvrest = append(e.lvrest, sortedRun{})
	copy(e.lvrest[idx+1:], e.lvrest[idx:len(e.lvrest)-1])
	e.lvrest[idx] = sr
}

func (e *Engine) tryTriggerTierCompact(tier uint32) {
	e.lvrestMu.RLock()
	count := 0
	for _, r := range e.lvrest {
		if r.loc.tier == tier {
			count++
		}
	}
	e.lvrestMu.RUnlock()

	if uint64(count) <= e.conf.SSTNumPerLevel {
		return
	}
	select {
	case e.tierCompactCh <- tier:
	default:
	}
}

// compactTier merges every run currently at tier into one new run at
// tier+1 via the merging iterator, installs the result, and discards the
// superseded inputs.
func (e *Engine) compactTier(tier uint32) {
	e.lvrestMu.Lock()
	var picked, kept []sortedRun
	for _, r := range e.lvrest {
		if r.loc.tier == tier {
			picked = append(picked, r)
		} else {
			kept = append(kept, r)
		}
	}
	e.lvrestMu.Unlock()

	if len(picked) < 2 {
		return
	}

	// picked inherits e.lvrest's newest-first order, so sources[0] already
	// has correct merge priority (lowest index wins a key collision).
	sources := make([]merge.Source[kvItem], len(picked))
	for i, r := range picked {
		sources[i] = &sstableIterSource{it: r.reader.Iter()}
	}
	it := merge.New(sources)

	nextTier := tier + 1
	run := e.nextRunNumber(nextTier)
	path := e.sstPath(nextTier, run)

	f, err := os.Create(path)
	if err != nil {
		logger.Error("compaction: create output failed", "error", err)
		return
	}
	w := sstable.NewWriter(f, e.conf.FilterML, e.conf.FilterK, e.conf.Filter)
	if err := w.Write(&mergeSource{it: it}); err != nil {
		f.Close()
		logger.Error("compaction: write failed", "error", err)
		return
	}
	if err := f.Close(); err != nil {
		logger.Error("compaction: close failed", "error", err)
		return
	}

	reader, err := sstable.Open(path, e.conf.FilterML, e.conf.FilterK, e.conf.Filter)
	if err != nil {
		logger.Error("compaction: reopen failed", "error", err)
		return
	}

	merged := sortedRun{loc: ssLoc{tier: nextTier, run: run}, reader: reader}
	e.lvrestMu.Lock()
	kept = append(kept, merged)
	sort.Slice(kept, func(i, j int) bool { return kept[i].loc.less(kept[j].loc) })
	e.lvrest = kept
	e.lvrestMu.Unlock()

	for _, r := range picked {
		if err := r.reader.Close(); err != nil {
			logger.Warn("compaction: failed to close superseded run", "error", err)
		}
		if err := os.Remove(e.sstPath(r.loc.tier, r.loc.run)); err != nil {
			logger.Warn("compaction: failed to remove superseded run file", "error", err)
		}
	}

	logger.Info("tier compaction completed", "tier", tier, "merged_into_tier", nextTier,
		"run", run, "inputs", len(picked))

	if int(nextTier) < e.conf.MaxLevel {
		e.tryTriggerTierCompact(nextTier)
	}
}
