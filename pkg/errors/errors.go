package errors

import "errors"

var (
	// ErrCorruptSSTable is returned when a sorted run fails footer, header,
	// index, or Bloom filter validation on open.
	ErrCorruptSSTable = errors.New("sstable: corrupt run")

	// ErrKeyNotFound names the "no live value for the key" outcome (including
	// keys shadowed by a tombstone). The engine's point lookups (Get, TxnGet)
	// do not return it: they report that outcome as ok=false with a nil error.
	ErrKeyNotFound = errors.New("lsmkv: key not found")

	// ErrTxnConflict is returned when a lock acquisition would violate
	// serializability, or a transaction wakes from wait() to discover a
	// cascading abort. The caller decides whether to retry with a fresh
	// timestamp.
	ErrTxnConflict = errors.New("lsmkv: transaction conflict")

	// ErrTxnAborted is returned by Commit for a transaction that has already
	// been aborted (directly or by cascade) or committed. The lock, write and
	// wait operations do not check whether a transaction has finished.
	ErrTxnAborted = errors.New("lsmkv: transaction already finished")

	// ErrWriterOutOfOrder is returned when an SSTable writer receives a key
	// that does not strictly follow the previous key.
	ErrWriterOutOfOrder = errors.New("sstable: keys written out of order")

	// ErrReadOnlyIterator names an attempt to mutate through a read-only
	// iterator. Nothing in the module returns it: the merging iterator has no
	// method that hands out a mutable item.
	ErrReadOnlyIterator = errors.New("lsmkv: iterator is read-only")
)
