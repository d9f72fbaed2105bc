// Package txn implements the timestamp-based MVCC transaction manager
// coordinating concurrent reads and writes against the level-0 memtable.
package txn

import (
	"sync"

	lsmerrors "lsmkv/pkg/errors"

	"lsmkv/internal/memtable"
)

// State is a transaction's lifecycle stage.
type State int

const (
	Idle State = iota
	Waiting
	Committed
	Aborting
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Committed:
		return "committed"
	case Aborting:
		return "aborting"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// redoEntry is one reversal step in a transaction's redo log: the entry
// touched, its ts_write before this transaction touched it, and — for a
// plain write — the record it held before, or nil if only MVCC metadata
// changed (a read-write lock with no actual value replacement).
type redoEntry struct {
	entry       *memtable.Entry
	prevTsWrite uint64
	prevRecord  memtable.Record
}

// Transaction is a single unit of work against the engine: a monotonic
// timestamp, lifecycle state, redo log, and dependency set.
type Transaction struct {
	mu sync.Mutex

	ts    uint64
	state State

	redo         []redoEntry
	deps         []uint64
	awaitClients []uint64

	// finished guards finish against a double close, since a cascading
	// abort and the transaction's own later Abort call can race to finish
	// the same transaction.
	finished bool
	// finish is closed exactly once, on commit or abort, waking every
	// goroutine blocked in Wait on this transaction.
	finish chan struct{}
}

// Ts returns the transaction's assigned timestamp.
func (t *Transaction) Ts() uint64 { return t.ts }

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Manager assigns transactions monotonic timestamps and coordinates entry
// locking, waiting, commit, and abort (including cascading abort) across
// them. Transactions must be introduced via Begin in increasing ts order.
type Manager struct {
	mu           sync.Mutex
	transactions map[uint64]*Transaction
}

// NewManager creates an empty transaction manager.
func NewManager() *Manager {
	return &Manager{transactions: make(map[uint64]*Transaction)}
}

// Begin registers a new transaction at timestamp ts and returns it.
func (m *Manager) Begin(ts uint64) *Transaction {
	t := &Transaction{ts: ts, finish: make(chan struct{})}
	m.mu.Lock()
	m.transactions[ts] = t
	m.mu.Unlock()
	return t
}

// Lock order: ReadLock, Write and ReadWriteLock take the entry lock, then
// the transaction lock. Wait holds the manager lock while it takes
// transaction locks; Commit and Abort release a transaction's lock before
// taking the manager lock.

// ReadLock acquires a read-only lock on entry for t. It fails if a later
// write already exists (entry.TsWrite > t.ts), which would make this read
// violate serializability. On success it records entry.TsWrite as a
// dependency and raises entry.TsRead to at least t.ts.
func (m *Manager) ReadLock(t *Transaction, entry *memtable.Entry) error {
	entry.Lock()
	defer entry.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.TsWrite > t.ts {
		return lsmerrors.ErrTxnConflict
	}
	t.deps = append(t.deps, entry.TsWrite)
	if t.ts > entry.TsRead {
		entry.TsRead = t.ts
	}
	return nil
}

// Read returns entry's current record. The caller must already hold a
// read or read-write lock on entry via this transaction — the serializability
// check already happened at lock time, so Read itself needs no further
// validation beyond a momentary entry lock for memory safety.
func (m *Manager) Read(entry *memtable.Entry) memtable.Record {
	entry.Lock()
	defer entry.Unlock()
	return entry.Record
}

// Write installs newRecord into entry on behalf of t. It fails if a later
// transaction has already read the value (entry.TsRead > t.ts): that read
// already observed a different history, so overwriting it now would break
// serializability and the caller must abort. It silently no-ops — without
// error — if a later write already supersedes this one (entry.TsWrite >
// t.ts): this transaction never read the value, so dropping its stale write
// is safe. Otherwise it logs the prior (ts_write, record) for abort and
// installs the new record.
func (m *Manager) Write(t *Transaction, entry *memtable.Entry, newRecord memtable.Record) error {
	entry.Lock()
	defer entry.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.TsRead > t.ts {
		return lsmerrors.ErrTxnConflict
	}
	if entry.TsWrite > t.ts {
		return nil
	}

	t.redo = append(t.redo, redoEntry{entry: entry, prevTsWrite: entry.TsWrite, prevRecord: entry.Record})
	entry.Record = newRecord
	entry.TsWrite = t.ts
	return nil
}

// ReadWriteLock acquires a combined read-write lock, failing on either a
// later read or a later write. On success it records a dependency, logs the
// prior ts_write with no record (the value itself is unchanged by the lock
// alone), and raises both ts_read and ts_write to t.ts.
func (m *Manager) ReadWriteLock(t *Transaction, entry *memtable.Entry) error {
	entry.Lock()
	defer entry.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.TsRead > t.ts || entry.TsWrite > t.ts {
		return lsmerrors.ErrTxnConflict
	}

	t.deps = append(t.deps, entry.TsWrite)
	t.redo = append(t.redo, redoEntry{entry: entry, prevTsWrite: entry.TsWrite, prevRecord: nil})
	if t.ts > entry.TsRead {
		entry.TsRead = t.ts
	}
	entry.TsWrite = t.ts
	return nil
}

// Wait blocks t until every transaction it depends on has committed or
// aborted. If t was itself marked Aborting by a cascading abort while
// waiting, Wait returns ErrTxnConflict and the caller must call Abort.
func (m *Manager) Wait(t *Transaction) error {
	m.mu.Lock()
	handles := make([]chan struct{}, 0, len(t.deps))
	for _, depTs := range t.deps {
		dep, ok := m.transactions[depTs]
		if !ok {
			continue
		}
		dep.mu.Lock()
		if dep.state == Idle || dep.state == Waiting {
			dep.awaitClients = append(dep.awaitClients, t.ts)
		}
		handles = append(handles, dep.finish)
		dep.mu.Unlock()
	}

	t.mu.Lock()
	t.state = Waiting
	t.mu.Unlock()
	m.mu.Unlock()

	for _, h := range handles {
		<-h
	}

	t.mu.Lock()
	cascaded := t.state == Aborting || t.state == Aborted
	t.mu.Unlock()
	if cascaded {
		return lsmerrors.ErrTxnConflict
	}
	return nil
}

// Commit marks t Committed, wakes every waiter, and removes it from the
// manager's live transaction set. It fails with ErrTxnAborted if t was
// already cascade-aborted by a dependency it was waiting on.
func (m *Manager) Commit(t *Transaction) error {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return lsmerrors.ErrTxnAborted
	}
	t.finished = true
	t.state = Committed
	close(t.finish)
	t.mu.Unlock()

	m.mu.Lock()
	delete(m.transactions, t.ts)
	m.mu.Unlock()
	return nil
}

// Abort cascades first, then replays t's own redo log in reverse —
// restoring each touched entry's ts_write and, where one was captured, its
// prior record.
//
// Every transaction waiting on t is fully aborted recursively, and that
// recursive undo happens BEFORE t restores its own redo log. A client's
// writes to a shared entry necessarily postdate t's, so undoing in the
// opposite order (t's redo first, client's redo after) would let the
// client's now-stale snapshot — captured back when t's write still stood —
// clobber the value t just restored. Recursing into clients first enforces
// correct most-recent-write-first undo order regardless of cascade depth.
// The client's own later call to Abort, once its Wait unblocks, is then a
// harmless no-op (finished is already set).
//
// Abort is therefore idempotent: a transaction already marked finished
// (committed, or aborted directly or by cascade) is left untouched.
func (m *Manager) Abort(t *Transaction) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	clients := append([]uint64(nil), t.awaitClients...)
	t.mu.Unlock()

	for _, clientTs := range clients {
		m.mu.Lock()
		client, ok := m.transactions[clientTs]
		m.mu.Unlock()
		if !ok {
			continue
		}

		client.mu.Lock()
		shouldCascade := client.state == Waiting
		if shouldCascade {
			client.state = Aborting
		}
		client.mu.Unlock()

		if shouldCascade {
			m.Abort(client)
		}
	}

	for i := len(t.redo) - 1; i >= 0; i-- {
		r := t.redo[i]
		r.entry.Lock()
		r.entry.TsWrite = r.prevTsWrite
		if r.prevRecord != nil {
			r.entry.Record = r.prevRecord
		}
		r.entry.Unlock()
	}

	t.mu.Lock()
	t.finished = true
	t.state = Aborted
	close(t.finish)
	t.mu.Unlock()

	m.mu.Lock()
	delete(m.transactions, t.ts)
	m.mu.Unlock()
}
