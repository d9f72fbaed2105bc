package txn_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lsmerrors "lsmkv/pkg/errors"

	"lsmkv/internal/memtable"
	"lsmkv/internal/txn"
)

func newEntry() *memtable.Entry {
	return memtable.NewEntry(memtable.NewLive([]byte("initial"), false))
}

// TestWriteThenReadSeesWrite exercises a first MVCC scenario: t1 < t2
// both touch key k; t1 writes k then commits; t2's subsequent read sees t1's
// write.
func TestWriteThenReadSeesWrite(t *testing.T) {
	mgr := txn.NewManager()
	e := newEntry()

	t1 := mgr.Begin(100)
	require.NoError(t, mgr.Write(t1, e, memtable.NewLive([]byte("from-t1"), false)))
	require.NoError(t, mgr.Commit(t1))

	t2 := mgr.Begin(200)
	require.NoError(t, mgr.ReadLock(t2, e))
	rec := mgr.Read(e)
	live := rec.(memtable.Live)
	assert.Equal(t, "from-t1", string(live.Value))
	require.NoError(t, mgr.Commit(t2))
}

// TestReadThenWriteFails: t2 reads k, then t1 (an earlier timestamp) tries
// to write k; the write must fail since it would change history t2 already
// observed.
func TestReadThenWriteFails(t *testing.T) {
	mgr := txn.NewManager()
	e := newEntry()

	t2 := mgr.Begin(200)
	require.NoError(t, mgr.ReadLock(t2, e))

	t1 := mgr.Begin(100)
	err := mgr.Write(t1, e, memtable.NewLive([]byte("from-t1"), false))
	assert.ErrorIs(t, err, lsmerrors.ErrTxnConflict)
}

// TestStaleWriteSilentlyDropped: t1 writes k, and a later transaction t2
// already wrote k; t1's write is silently dropped, not an error.
func TestStaleWriteSilentlyDropped(t *testing.T) {
	mgr := txn.NewManager()
	e := newEntry()

	t2 := mgr.Begin(200)
	require.NoError(t, mgr.Write(t2, e, memtable.NewLive([]byte("from-t2"), false)))

	t1 := mgr.Begin(100)
	err := mgr.Write(t1, e, memtable.NewLive([]byte("from-t1"), false))
	assert.NoError(t, err)

	live := e.Record.(memtable.Live)
	assert.Equal(t, "from-t2", string(live.Value), "t1's stale write must not overwrite t2's")
}

// TestWriteAfterReadLockAborts exercises t1=100, t2=200; t2 read-locks k;
// t1 tries to write k → failure; t1 aborts; t2 commits successfully.
func TestWriteAfterReadLockAborts(t *testing.T) {
	mgr := txn.NewManager()
	e := newEntry()

	t2 := mgr.Begin(200)
	require.NoError(t, mgr.ReadLock(t2, e))

	t1 := mgr.Begin(100)
	err := mgr.Write(t1, e, memtable.NewLive([]byte("from-t1"), false))
	require.ErrorIs(t, err, lsmerrors.ErrTxnConflict)
	mgr.Abort(t1)

	require.NoError(t, mgr.Commit(t2))
	assert.Equal(t, txn.Committed, t2.State())
}

// TestCascadingAbort exercises t3=300 write-locks k, then
// before committing, t4=400 read-write-locks k (which succeeds: t3's write
// timestamp 300 does not postdate t4's 400) and must wait on t3 via its
// dependency. t3 aborts; t4's Wait returns conflict; t4 aborts. k's ts_write
// and record are restored to their pre-t3 values.
func TestCascadingAbort(t *testing.T) {
	mgr := txn.NewManager()
	e := newEntry()
	originalTsWrite := e.TsWrite
	originalRecord := e.Record

	t3 := mgr.Begin(300)
	require.NoError(t, mgr.Write(t3, e, memtable.NewLive([]byte("from-t3"), false)))

	t4 := mgr.Begin(400)
	require.NoError(t, mgr.ReadWriteLock(t4, e))

	waitErrCh := make(chan error, 1)
	go func() {
		waitErrCh <- mgr.Wait(t4)
	}()
	for t4.State() != txn.Waiting {
		runtime.Gosched()
	}

	mgr.Abort(t3)

	waitErr := <-waitErrCh
	assert.ErrorIs(t, waitErr, lsmerrors.ErrTxnConflict)
	mgr.Abort(t4)

	assert.Equal(t, originalTsWrite, e.TsWrite)
	assert.Equal(t, originalRecord, e.Record)
	assert.Equal(t, txn.Aborted, t3.State())
	assert.Equal(t, txn.Aborted, t4.State())
}

func TestReadLockFailsOnFutureWrite(t *testing.T) {
	mgr := txn.NewManager()
	e := newEntry()

	t2 := mgr.Begin(200)
	require.NoError(t, mgr.Write(t2, e, memtable.NewLive([]byte("from-t2"), false)))

	t1 := mgr.Begin(100)
	err := mgr.ReadLock(t1, e)
	assert.ErrorIs(t, err, lsmerrors.ErrTxnConflict)
}

func TestCommitAfterCascadeAbortFails(t *testing.T) {
	mgr := txn.NewManager()
	e := newEntry()

	t3 := mgr.Begin(300)
	require.NoError(t, mgr.Write(t3, e, memtable.NewLive([]byte("from-t3"), false)))

	t4 := mgr.Begin(400)
	require.NoError(t, mgr.ReadWriteLock(t4, e))

	waitErrCh := make(chan error, 1)
	go func() {
		waitErrCh <- mgr.Wait(t4)
	}()
	for t4.State() != txn.Waiting {
		runtime.Gosched()
	}

	mgr.Abort(t3)
	<-waitErrCh

	err := mgr.Commit(t4)
	assert.ErrorIs(t, err, lsmerrors.ErrTxnAborted)
}
