package matrix

import (
	"github.com/zpzjzj/chronos/core"
	"github.com/zpzjzj/chronos/store"
)

// Modification is one stored entry's address, as yielded by
// GetModificationsBetween: the pair spec §4.2 describes as
// `(user_key, ts)`.
type Modification struct {
	UserKey   string
	Timestamp int64
}

// entryIterator streams every entry that is the floor entry at tLimit for
// its user key, by making one forward pass over the user-key-major primary
// index and tracking, per contiguous run of the same user key, the entry
// with the greatest timestamp <= tLimit seen so far. Because the primary
// index orders entries (userKey, ts) ascending, the last such entry seen in
// a run is exactly that key's floor entry, and the run boundary (a
// different user key, or end of input) is where it becomes final and gets
// emitted. This directly implements the closeable snapshot iterator
// spec §4.2's all_entries_iterator and §9's iterator-lifetime discipline
// call for.
type entryIterator struct {
	inner  store.Iterator
	tLimit int64

	exhausted bool
	err       error
	cur       core.Entry

	groupKey     string
	groupHasAny  bool
	groupFloor   core.Entry
	groupHasRows bool
}

func newEntryIterator(s store.SortedMap, tLimit int64) *entryIterator {
	return &entryIterator{inner: s.Scan(nil, nil), tLimit: tLimit}
}

func (it *entryIterator) Next() bool {
	for {
		if it.exhausted {
			if it.groupHasFloorPending() {
				it.cur = it.groupFloor
				it.groupHasAny = false
				return true
			}
			return false
		}
		if !it.inner.Next() {
			it.exhausted = true
			if ierr := it.inner.Err(); ierr != nil {
				it.err = ierr
				return false
			}
			continue
		}
		key := it.inner.Key()
		if isMetaKey(key) {
			continue
		}
		userKey, ts, decErr := core.DecodeTemporalKey(key)
		if decErr != nil {
			it.err = decErr
			return false
		}

		if !it.groupHasRows || userKey != it.groupKey {
			var toEmit core.Entry
			emit := it.groupHasFloorPending()
			if emit {
				toEmit = it.groupFloor
			}
			it.groupKey = userKey
			it.groupHasRows = true
			it.groupHasAny = false
			if ts <= it.tLimit {
				entry, entErr := decodeEntry(userKey, ts, it.inner.Value())
				if entErr != nil {
					it.err = entErr
					return false
				}
				it.groupFloor = entry
				it.groupHasAny = true
			}
			if emit {
				it.cur = toEmit
				return true
			}
			continue
		}

		if ts <= it.tLimit {
			entry, entErr := decodeEntry(userKey, ts, it.inner.Value())
			if entErr != nil {
				it.err = entErr
				return false
			}
			it.groupFloor = entry
			it.groupHasAny = true
		}
	}
}

func (it *entryIterator) groupHasFloorPending() bool { return it.groupHasAny }

func (it *entryIterator) At() core.Entry { return it.cur }
func (it *entryIterator) Err() error     { return it.err }
func (it *entryIterator) Close() error   { return it.inner.Close() }

// historyIterator yields timestamps for one user key, descending, bounded
// by tMax (spec §4.2's history contract). It walks the primary index's
// key-prefix range in reverse by collecting then reversing, since
// store.Iterator only exposes ascending scans; histories are bounded by a
// single key's entry count, which is small relative to the whole matrix.
type historyIterator struct {
	timestamps []int64
	pos        int
	err        error
}

func newHistoryIterator(s store.SortedMap, userKey string, tMax int64) *historyIterator {
	prefix := core.EncodeUserKeyPrefix(userKey)
	upper := prefixUpperBound(prefix)
	it := s.Scan(prefix, upper)
	defer it.Close()

	var timestamps []int64
	for it.Next() {
		_, ts, err := core.DecodeTemporalKey(it.Key())
		if err != nil {
			return &historyIterator{err: err}
		}
		if ts <= tMax {
			timestamps = append(timestamps, ts)
		}
	}
	if err := it.Err(); err != nil {
		return &historyIterator{err: err}
	}
	for i, j := 0, len(timestamps)-1; i < j; i, j = i+1, j-1 {
		timestamps[i], timestamps[j] = timestamps[j], timestamps[i]
	}
	return &historyIterator{timestamps: timestamps}
}

// prefixUpperBound returns the least key strictly greater than every key
// having prefix as a byte prefix, by incrementing the last byte that is not
// already 0xFF (dropping trailing 0xFF bytes first). A nil result means
// "unbounded above" and should not occur for non-empty prefixes produced by
// EncodeUserKeyPrefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

func (it *historyIterator) Next() bool {
	if it.err != nil || it.pos >= len(it.timestamps) {
		return false
	}
	it.pos++
	return true
}

func (it *historyIterator) At() int64    { return it.timestamps[it.pos-1] }
func (it *historyIterator) Err() error   { return it.err }
func (it *historyIterator) Close() error { return nil }

// keysIterator yields user keys in lexicographic order, following a
// caller-supplied predicate that decides whether a given (userKey,
// floorIsTombstone) pair should be yielded. keys(t) uses
// this to filter to live values at t; all_keys() uses it to yield every key
// that ever had an entry.
type keysIterator struct {
	entries *entryIterator
	include func(userKey string, isTombstone bool) bool
	cur     string
	err     error
}

func newKeysIterator(s store.SortedMap, tLimit int64, include func(userKey string, isTombstone bool) bool) *keysIterator {
	return &keysIterator{entries: newEntryIterator(s, tLimit), include: include}
}

func (it *keysIterator) Next() bool {
	for it.entries.Next() {
		e := it.entries.At()
		if it.include(e.UserKey, e.IsTombstone()) {
			it.cur = e.UserKey
			return true
		}
	}
	it.err = it.entries.Err()
	return false
}

func (it *keysIterator) At() string   { return it.cur }
func (it *keysIterator) Err() error   { return it.err }
func (it *keysIterator) Close() error { return it.entries.Close() }

// modificationsIterator walks the timestamp-major secondary index over
// [tLo, tHi] inclusive, yielding (user_key, ts) pairs in ascending (ts,
// user_key) order (spec §4.2's recommended, deterministic order).
type modificationsIterator struct {
	inner store.Iterator
	err   error
	cur   Modification
}

func newModificationsIterator(secondary store.SortedMap, tLo, tHi int64) *modificationsIterator {
	from := core.TimestampPrefix(tLo)
	to := prefixUpperBound(core.TimestampPrefix(tHi))
	return &modificationsIterator{inner: secondary.Scan(from, to)}
}

func (it *modificationsIterator) Next() bool {
	for it.inner.Next() {
		ts, userKey, err := core.DecodeTimestampMajorKey(it.inner.Key())
		if err != nil {
			it.err = err
			return false
		}
		it.cur = Modification{UserKey: userKey, Timestamp: ts}
		return true
	}
	it.err = it.inner.Err()
	return false
}

func (it *modificationsIterator) At() Modification { return it.cur }
func (it *modificationsIterator) Err() error        { return it.err }
func (it *modificationsIterator) Close() error      { return it.inner.Close() }

// commitTimestampsIterator deduplicates consecutive equal timestamps out of
// a modificationsIterator, per spec §4.2's "derived by deduplication" note.
type commitTimestampsIterator struct {
	mods    *modificationsIterator
	cur     int64
	started bool
	err     error
}

func newCommitTimestampsIterator(secondary store.SortedMap, tLo, tHi int64) *commitTimestampsIterator {
	return &commitTimestampsIterator{mods: newModificationsIterator(secondary, tLo, tHi)}
}

func (it *commitTimestampsIterator) Next() bool {
	for it.mods.Next() {
		ts := it.mods.At().Timestamp
		if it.started && ts == it.cur {
			continue
		}
		it.cur = ts
		it.started = true
		return true
	}
	it.err = it.mods.Err()
	return false
}

func (it *commitTimestampsIterator) At() int64    { return it.cur }
func (it *commitTimestampsIterator) Err() error   { return it.err }
func (it *commitTimestampsIterator) Close() error { return it.mods.Close() }
