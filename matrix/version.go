package matrix

import "github.com/zpzjzj/chronos/store"

// version is the immutable snapshot a reader observes for the lifetime of
// one operation or iterator (spec §5: "a read started at wall time w
// observes a consistent snapshot"). Matrix holds the current one behind an
// atomic.Pointer; writers build a new version and swap the pointer in, the
// single "version bump" spec §5 requires.
//
// primary and secondary are themselves read-only snapshots obtained from the
// live backing stores at commit time (store.SortedMap.Snapshot()), so a
// version, once built, never changes underneath a reader even though the
// live stores keep accepting new writes.
type version struct {
	primary   store.SortedMap
	secondary store.SortedMap

	// lastCommit caches the greatest timestamp ever written per user key
	// (spec §9). Replaced wholesale on every write and on rollback, never
	// mutated in place, so older versions keep their own consistent copy.
	lastCommit map[string]int64

	live *liveKeys

	lastGlobalTimestamp int64
	creationTimestamp   int64
	name                string
}

// cloneLastCommit returns a mutable copy of v's last-commit cache, used by
// the write path to build the next version's cache without mutating a
// version any other goroutine might still be reading.
func (v *version) cloneLastCommit() map[string]int64 {
	clone := make(map[string]int64, len(v.lastCommit)+8)
	for k, ts := range v.lastCommit {
		clone[k] = ts
	}
	return clone
}
