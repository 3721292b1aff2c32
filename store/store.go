// Package store defines the sorted byte-map abstraction the Temporal Data
// Matrix consumes (spec §6) and provides one in-process reference
// implementation, btreestore.
package store

import "errors"

// ErrNotFound is returned by Get, SeekFloor, and SeekCeiling when no
// matching entry exists. It is a plain sentinel, not part of core.Error's
// taxonomy: absence is an expected outcome at this layer, not an argument
// or storage failure.
var ErrNotFound = errors.New("store: not found")

// KV is a single key/value pair as seen by the byte-map.
type KV struct {
	Key   []byte
	Value []byte
}

// Op is one write in a Batch: Value nil means a delete of Key.
type Op struct {
	Key   []byte
	Value []byte // nil => remove
}

// Iterator walks a range of KV pairs in ascending key order. It is lazy,
// restartable from its starting position (a fresh Scan call), and pinned to
// the snapshot it was created from.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// SortedMap is the downstream dependency spec §6 names: an ordered mapping
// of bytes to bytes supporting point lookups, predecessor/successor seeks,
// range scans, and atomic multi-op batches. A SortedMap value is itself a
// read/write handle; Snapshot returns an independent read-only handle frozen
// at the point it was taken, used by the Temporal Index to hand out
// consistent iterators (spec §5).
type SortedMap interface {
	Put(key, value []byte) error
	Remove(key []byte) error
	// RemoveRange removes every key in [from, to]. Used by rollback to
	// truncate the timestamp-major secondary index (spec §4.3).
	RemoveRange(from, to []byte) error
	Get(key []byte) ([]byte, error) // ErrNotFound if absent

	// SeekFloor returns the greatest stored key <= target, or ErrNotFound.
	SeekFloor(target []byte) (KV, error)
	// SeekCeiling returns the least stored key >= target, or ErrNotFound.
	SeekCeiling(target []byte) (KV, error)

	// Scan returns an ascending iterator over [from, to]. A nil `to` means
	// unbounded above; a nil `from` means unbounded below.
	Scan(from, to []byte) Iterator

	// Batch applies every op atomically: either all ops are visible to
	// subsequent readers or none are (spec §4.3, "all writes in one put
	// are atomic w.r.t. readers").
	Batch(ops []Op) error

	// Snapshot returns a read-only handle pinned to the current state.
	// Writes made through the original SortedMap after Snapshot returns
	// are never visible through the snapshot handle.
	Snapshot() SortedMap

	// Len reports the number of stored keys.
	Len() int
}
