package matrix

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// keyTable interns user keys into dense uint64 IDs, following the teacher's
// string-to-ID mapping (indexer/string_store.go's StringStore) minus the
// on-disk log: the key-existence index is a pure in-memory cache, rebuilt
// from the Temporal Index on Open, and never part of the wire format.
//
// IDs are assigned in first-seen order, so they carry no relationship to the
// lexicographic order of the user keys themselves; keyTable exists purely as
// a membership accelerator, not an enumeration order.
type keyTable struct {
	mu         sync.RWMutex
	stringToID map[string]uint64
	idToString map[uint64]string
	nextID     atomic.Uint64
}

func newKeyTable() *keyTable {
	return &keyTable{
		stringToID: make(map[string]uint64),
		idToString: make(map[uint64]string),
	}
}

// intern returns userKey's ID, assigning a fresh one if this is the first
// time userKey has been seen by this table.
func (t *keyTable) intern(userKey string) uint64 {
	t.mu.RLock()
	if id, ok := t.stringToID[userKey]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.stringToID[userKey]; ok {
		return id
	}
	id := t.nextID.Add(1)
	t.stringToID[userKey] = id
	t.idToString[id] = userKey
	return id
}

func (t *keyTable) lookup(userKey string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.stringToID[userKey]
	return id, ok
}

// liveKeys is the frozen, per-version roaring bitmap of interned IDs for
// user keys currently present in the Temporal Index. It answers "has this
// user key ever been written" in O(1) without a tree seek, short-circuiting
// the negative path of last_commit_timestamp. Keys, AllKeys and History do
// not consult it.
type liveKeys struct {
	bits *roaring64.Bitmap
}

func newLiveKeys() *liveKeys {
	return &liveKeys{bits: roaring64.New()}
}

func (k *liveKeys) contains(id uint64) bool {
	if k == nil || k.bits == nil {
		return false
	}
	return k.bits.Contains(id)
}

// withAdded returns a copy of k with id added, leaving k itself untouched so
// concurrent readers holding the old version never observe the mutation.
func (k *liveKeys) withAdded(id uint64) *liveKeys {
	clone := k.bits.Clone()
	clone.Add(id)
	return &liveKeys{bits: clone}
}
