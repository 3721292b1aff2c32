// Package btreestore is the reference in-process implementation of
// store.SortedMap, backed by a copy-on-write B-tree
// (github.com/google/btree). Clone is O(log n) and shares nodes until a
// mutation forces a copy, which is exactly the "MVCC-style append-and-swap"
// primitive spec §5 asks the Temporal Index to build on.
package btreestore

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/zpzjzj/chronos/store"
)

const degree = 32

type kv struct {
	key   []byte
	value []byte
}

func less(a, b kv) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Store is a read/write SortedMap handle. The zero value is not usable; use
// New.
type Store struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[kv]
}

var _ store.SortedMap = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{tree: btree.NewG(degree, less)}
}

func (s *Store) Put(key, value []byte) error {
	return s.Batch([]store.Op{{Key: key, Value: value}})
}

func (s *Store) Remove(key []byte) error {
	return s.Batch([]store.Op{{Key: key, Value: nil}})
}

func (s *Store) RemoveRange(from, to []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.tree.Clone()
	var toDelete []kv
	working.AscendGreaterOrEqual(kv{key: from}, func(item kv) bool {
		if to != nil && bytes.Compare(item.key, to) > 0 {
			return false
		}
		toDelete = append(toDelete, item)
		return true
	})
	for _, item := range toDelete {
		working.Delete(item)
	}
	s.tree = working
	return nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.tree.Get(kv{key: key})
	if !ok {
		return nil, store.ErrNotFound
	}
	return item.value, nil
}

func (s *Store) SeekFloor(target []byte) (store.KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found kv
	hit := false
	s.tree.DescendLessOrEqual(kv{key: target}, func(item kv) bool {
		found = item
		hit = true
		return false
	})
	if !hit {
		return store.KV{}, store.ErrNotFound
	}
	return store.KV{Key: found.key, Value: found.value}, nil
}

func (s *Store) SeekCeiling(target []byte) (store.KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found kv
	hit := false
	s.tree.AscendGreaterOrEqual(kv{key: target}, func(item kv) bool {
		found = item
		hit = true
		return false
	})
	if !hit {
		return store.KV{}, store.ErrNotFound
	}
	return store.KV{Key: found.key, Value: found.value}, nil
}

func (s *Store) Scan(from, to []byte) store.Iterator {
	s.mu.RLock()
	snapshot := s.tree.Clone()
	s.mu.RUnlock()
	return newScanIterator(snapshot, from, to)
}

func (s *Store) Batch(ops []store.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.tree.Clone()
	for _, op := range ops {
		if op.Value == nil {
			working.Delete(kv{key: op.Key})
			continue
		}
		working.ReplaceOrInsert(kv{key: op.Key, value: op.Value})
	}
	s.tree = working
	return nil
}

// Snapshot returns a read-only handle frozen at the current state. Because
// BTreeG.Clone is copy-on-write, splitting into two independent clones here
// (one kept for future writes, one handed to the caller) means neither
// side's future mutations are visible to the other.
func (s *Store) Snapshot() store.SortedMap {
	s.mu.Lock()
	defer s.mu.Unlock()

	forCaller := s.tree.Clone()
	forFuture := s.tree.Clone()
	s.tree = forFuture
	return &readOnly{tree: forCaller}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// readOnly is the snapshot handle returned by Snapshot. Writes are rejected;
// the underlying tree can never change out from under a reader holding one.
type readOnly struct {
	tree *btree.BTreeG[kv]
}

var _ store.SortedMap = (*readOnly)(nil)

var errReadOnlySnapshot = &readOnlyError{}

type readOnlyError struct{}

func (*readOnlyError) Error() string { return "btreestore: snapshot handles are read-only" }

func (r *readOnly) Put([]byte, []byte) error         { return errReadOnlySnapshot }
func (r *readOnly) Remove([]byte) error              { return errReadOnlySnapshot }
func (r *readOnly) RemoveRange([]byte, []byte) error { return errReadOnlySnapshot }
func (r *readOnly) Batch([]store.Op) error           { return errReadOnlySnapshot }

func (r *readOnly) Get(key []byte) ([]byte, error) {
	item, ok := r.tree.Get(kv{key: key})
	if !ok {
		return nil, store.ErrNotFound
	}
	return item.value, nil
}

func (r *readOnly) SeekFloor(target []byte) (store.KV, error) {
	var found kv
	hit := false
	r.tree.DescendLessOrEqual(kv{key: target}, func(item kv) bool {
		found = item
		hit = true
		return false
	})
	if !hit {
		return store.KV{}, store.ErrNotFound
	}
	return store.KV{Key: found.key, Value: found.value}, nil
}

func (r *readOnly) SeekCeiling(target []byte) (store.KV, error) {
	var found kv
	hit := false
	r.tree.AscendGreaterOrEqual(kv{key: target}, func(item kv) bool {
		found = item
		hit = true
		return false
	})
	if !hit {
		return store.KV{}, store.ErrNotFound
	}
	return store.KV{Key: found.key, Value: found.value}, nil
}

func (r *readOnly) Scan(from, to []byte) store.Iterator {
	return newScanIterator(r.tree, from, to)
}

func (r *readOnly) Snapshot() store.SortedMap {
	return r
}

func (r *readOnly) Len() int {
	return r.tree.Len()
}

// scanIterator walks a pinned tree clone in ascending order over [from, to].
type scanIterator struct {
	tree      *btree.BTreeG[kv]
	from, to  []byte
	started   bool
	done      bool
	cur       kv
	buf       []kv
	bufIdx    int
	chunkSize int
}

func newScanIterator(tree *btree.BTreeG[kv], from, to []byte) *scanIterator {
	return &scanIterator{tree: tree, from: from, to: to, chunkSize: 256}
}

// Next advances to the next key in range. Implemented by pulling fixed-size
// chunks out of the tree via AscendGreaterOrEqual rather than
// holding an open callback across calls, since btree's iteration API is
// callback-shaped, not pull-shaped.
func (it *scanIterator) Next() bool {
	if it.done {
		return false
	}
	if it.bufIdx < len(it.buf) {
		it.cur = it.buf[it.bufIdx]
		it.bufIdx++
		return true
	}
	it.fillBuffer()
	if it.bufIdx >= len(it.buf) {
		it.done = true
		return false
	}
	it.cur = it.buf[it.bufIdx]
	it.bufIdx++
	return true
}

func (it *scanIterator) fillBuffer() {
	it.buf = it.buf[:0]
	it.bufIdx = 0

	var pivot kv
	if !it.started {
		pivot = kv{key: it.from}
		it.started = true
	} else {
		// resume strictly past the last key handed out
		pivot = kv{key: append(append([]byte{}, it.cur.key...), 0x00)}
	}

	count := 0
	it.tree.AscendGreaterOrEqual(pivot, func(item kv) bool {
		if it.to != nil && bytes.Compare(item.key, it.to) > 0 {
			return false
		}
		it.buf = append(it.buf, item)
		count++
		return count < it.chunkSize
	})
}

func (it *scanIterator) Key() []byte   { return it.cur.key }
func (it *scanIterator) Value() []byte { return it.cur.value }
func (it *scanIterator) Err() error    { return nil }
func (it *scanIterator) Close() error  { return nil }
