package core

// Iterator is the closeable, restartable-from-construction iteration
// primitive spec §4.1/§9 requires: lazy, safe under concurrent readers,
// and tied to a read lease that Close releases. T is the element type
// (a timestamp, a user key, an Entry, or a (user_key, ts) pair).
type Iterator[T any] interface {
	// Next advances to the next element, returning false when exhausted or
	// on error (check Err after a false return to distinguish the two).
	Next() bool
	// At returns the current element. Valid only after a Next call that
	// returned true, and only until the following Next call.
	At() T
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases the iterator's read lease. Safe to call multiple
	// times; not safe to call concurrently with Next/At.
	Close() error
}
