package lsm

import (
	"sync"

	lsmerrors "lsmkv/pkg/errors"

	"lsmkv/internal/memtable"
	"lsmkv/internal/txn"
	"lsmkv/pkg/logger"
)

// Token is a handle to a single transaction, returned by BeginTxn. It holds
// the entries the transaction has locked so far, keyed by key.
type Token struct {
	engine *Engine
	t      *txn.Transaction

	mu      sync.Mutex
	entries map[string]*memtable.Entry
}

// BeginTxn assigns the next monotonic timestamp and registers a new
// transaction.
func (e *Engine) BeginTxn() *Token {
	ts := e.tsSeq.Add(1)
	return &Token{
		engine:  e,
		t:       e.trans.Begin(ts),
		entries: make(map[string]*memtable.Entry),
	}
}

// Ts returns the transaction's assigned timestamp.
func (tok *Token) Ts() uint64 { return tok.t.Ts() }

func (tok *Token) remember(key []byte, entry *memtable.Entry) {
	tok.mu.Lock()
	tok.entries[string(key)] = entry
	tok.mu.Unlock()
}

func (tok *Token) lookup(key []byte) (*memtable.Entry, bool) {
	tok.mu.Lock()
	defer tok.mu.Unlock()
	entry, ok := tok.entries[string(key)]
	return entry, ok
}

// TxnLockRO locks key as read-only for the transaction token identifies.
// If key does not yet exist in level-0, there is nothing to lock — that
// case is a safe no-op, since any such read must fall through to the
// higher levels anyway.
func (e *Engine) TxnLockRO(tok *Token, key []byte) error {
	e.lv0Mu.RLock()
	entry, ok := e.lv0.Get(key)
	e.lv0Mu.RUnlock()
	if !ok {
		return nil
	}
	if err := e.trans.ReadLock(tok.t, entry); err != nil {
		return err
	}
	tok.remember(key, entry)
	return nil
}

// TxnLockRW locks key as read-write. If key does not exist in level-0, a
// placeholder entry with an empty, non-cached value is created first so
// the MVCC metadata has somewhere to live.
func (e *Engine) TxnLockRW(tok *Token, key []byte) error {
	e.lv0Mu.Lock()
	entry, ok := e.lv0.Get(key)
	if !ok {
		entry = memtable.NewEntry(memtable.NewLive(nil, false))
		e.lv0.Put(key, entry)
	}
	e.lv0Mu.Unlock()

	if err := e.trans.ReadWriteLock(tok.t, entry); err != nil {
		return err
	}
	tok.remember(key, entry)
	return nil
}

// isPlaceholder reports whether rec is the empty, non-cached sentinel
// TxnLockRW installs for a key absent from level-0 at lock time.
func isPlaceholder(rec memtable.Record) bool {
	live, ok := rec.(memtable.Live)
	return ok && !live.Cached() && len(live.Value) == 0
}

// TxnGet reads key through the transaction's already-acquired lock. A
// placeholder (the key didn't exist in level-0 when locked) is
// materialized by walking level-1 and level-rest; a hit is cached back into
// level-0 with cached=true, so it is never written out by a future flush.
func (e *Engine) TxnGet(tok *Token, key []byte) ([]byte, bool, error) {
	entry, ok := tok.lookup(key)
	if !ok {
		return e.Get(key)
	}

	rec := e.trans.Read(entry)
	if !isPlaceholder(rec) {
		return recordValue(rec)
	}

	if higher, ok := e.lookupLv1(key); ok {
		return e.cacheMaterialized(entry, higher)
	}
	value, ok, err := e.lookupLvrest(key)
	if err != nil || !ok {
		return nil, false, err
	}
	return e.cacheMaterialized(entry, memtable.NewLive(value, false))
}

// cacheMaterialized installs rec into entry with cached=true and returns
// the value the caller should see.
func (e *Engine) cacheMaterialized(entry *memtable.Entry, rec memtable.Record) ([]byte, bool, error) {
	var cached memtable.Record
	switch r := rec.(type) {
	case memtable.Tombstone:
		cached = memtable.NewTombstone(true)
	case memtable.Live:
		cached = memtable.NewLive(r.Value, true)
	default:
		return nil, false, nil
	}

	entry.Lock()
	entry.Record = cached
	entry.Unlock()

	return recordValue(rec)
}

// TxnPut writes value for key through the transaction's already-acquired
// read-write lock.
func (e *Engine) TxnPut(tok *Token, key, value []byte) error {
	entry, ok := tok.lookup(key)
	if !ok {
		return lsmerrors.ErrTxnConflict
	}
	return e.trans.Write(tok.t, entry, memtable.NewLive(value, false))
}

// TxnDelete writes a tombstone for key through the transaction's
// already-acquired read-write lock.
func (e *Engine) TxnDelete(tok *Token, key []byte) error {
	entry, ok := tok.lookup(key)
	if !ok {
		return lsmerrors.ErrTxnConflict
	}
	return e.trans.Write(tok.t, entry, memtable.NewTombstone(false))
}

// TxnWait blocks until every dependency the transaction accumulated while
// locking has committed or aborted.
func (e *Engine) TxnWait(tok *Token) error {
	return e.trans.Wait(tok.t)
}

// TxnCommit commits the transaction.
func (e *Engine) TxnCommit(tok *Token) error {
	return e.trans.Commit(tok.t)
}

// TxnAbort aborts the transaction, cascading to every dependent waiter and
// undoing its redo log (see internal/txn).
func (e *Engine) TxnAbort(tok *Token) {
	logger.Warn("transaction aborted", "ts", tok.Ts())
	e.trans.Abort(tok.t)
}
