package matrix

import (
	"bytes"
	"context"

	"github.com/zpzjzj/chronos/core"
	"github.com/zpzjzj/chronos/store"
	"go.opentelemetry.io/otel/attribute"
)

// Put writes one batch at timestamp t (spec §4.3). contents maps each
// touched user key to its new payload, or to nil for a tombstone — nil and
// an empty, non-nil []byte{} are distinct (spec §9: tombstones must not
// collide with valid empty payloads). An empty contents map is a no-op: no
// version bump, no monotonicity check. All writes in one Put become
// visible atomically.
func (m *Matrix) Put(ctx context.Context, t int64, contents map[string][]byte) (err error) {
	_, span := m.startSpan(ctx, "Put", attribute.Int64("t", t), attribute.Int("entry_count", len(contents)))
	defer finishSpan(span, &err)

	if err = m.checkOpenForWrite(); err != nil {
		return err
	}
	if len(contents) == 0 {
		return nil
	}
	for k := range contents {
		if k == "" {
			err = core.NewInvalidArgument("user key must not be empty")
			return err
		}
	}
	if t < 0 {
		err = core.NewInvalidArgument("t must be non-negative, got %d", t)
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	ver := m.snapshot()
	if t <= ver.lastGlobalTimestamp {
		err = core.NewMonotonicityViolation("t=%d does not exceed last global timestamp %d", t, ver.lastGlobalTimestamp)
		return err
	}

	primaryOps := make([]store.Op, 0, len(contents))
	secondaryOps := make([]store.Op, 0, len(contents))
	for k, v := range contents {
		encoded, encErr := m.encodeEntry(v, v == nil)
		if encErr != nil {
			err = encErr
			return err
		}
		primaryOps = append(primaryOps, store.Op{Key: core.EncodeTemporalKey(k, t), Value: encoded})
		secondaryOps = append(secondaryOps, store.Op{Key: core.EncodeTimestampMajorKey(t, k), Value: []byte{}})
	}

	if err = m.primaryLive.Batch(primaryOps); err != nil {
		err = core.NewStorageFailure(err, "applying put batch to primary index")
		return err
	}
	if err = m.secondaryLive.Batch(secondaryOps); err != nil {
		err = core.NewStorageFailure(err, "applying put batch to secondary index")
		return err
	}

	nextLastCommit := ver.cloneLastCommit()
	nextLive := ver.live
	for k := range contents {
		nextLastCommit[k] = t
		nextLive = nextLive.withAdded(m.keys.intern(k))
	}

	m.current.Store(&version{
		primary:             m.primaryLive.Snapshot(),
		secondary:           m.secondaryLive.Snapshot(),
		lastCommit:          nextLastCommit,
		live:                nextLive,
		lastGlobalTimestamp: t,
		creationTimestamp:   ver.creationTimestamp,
		name:                ver.name,
	})
	return nil
}

// InsertEntries bulk-loads entries spanning arbitrary timestamps (spec
// §4.3), used by replication/import. An entry whose (user_key, ts) already
// exists with an identical payload is a silent no-op for that entry; one
// with a different payload fails the whole call with Conflict, as does any
// entry with ts below the creation floor. An empty entries slice is a
// no-op.
func (m *Matrix) InsertEntries(ctx context.Context, entries []core.Entry) (err error) {
	_, span := m.startSpan(ctx, "InsertEntries", attribute.Int("entry_count", len(entries)))
	defer finishSpan(span, &err)

	if err = m.checkOpenForWrite(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.UserKey == "" {
			err = core.NewInvalidArgument("user key must not be empty")
			return err
		}
		if e.Timestamp < 0 {
			err = core.NewInvalidArgument("timestamp must be non-negative, got %d", e.Timestamp)
			return err
		}
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	ver := m.snapshot()

	primaryOps := make([]store.Op, 0, len(entries))
	secondaryOps := make([]store.Op, 0, len(entries))
	maxTouchedTS := make(map[string]int64, len(entries))
	maxGlobal := ver.lastGlobalTimestamp

	for _, e := range entries {
		if e.Timestamp < ver.creationTimestamp {
			err = core.NewConflict("entry (%q, %d) is below the creation floor %d", e.UserKey, e.Timestamp, ver.creationTimestamp)
			return err
		}
		encoded, encErr := m.encodeEntry(e.Payload, e.IsTombstone())
		if encErr != nil {
			err = encErr
			return err
		}
		key := core.EncodeTemporalKey(e.UserKey, e.Timestamp)
		existing, getErr := ver.primary.Get(key)
		if getErr != nil && getErr != store.ErrNotFound {
			err = core.NewStorageFailure(getErr, "checking for conflicting entry")
			return err
		}
		if getErr == nil && !bytes.Equal(existing, encoded) {
			err = core.NewConflict("entry (%q, %d) already exists with a different payload", e.UserKey, e.Timestamp)
			return err
		}

		primaryOps = append(primaryOps, store.Op{Key: key, Value: encoded})
		secondaryOps = append(secondaryOps, store.Op{Key: core.EncodeTimestampMajorKey(e.Timestamp, e.UserKey), Value: []byte{}})
		if cur, ok := maxTouchedTS[e.UserKey]; !ok || e.Timestamp > cur {
			maxTouchedTS[e.UserKey] = e.Timestamp
		}
		if e.Timestamp > maxGlobal {
			maxGlobal = e.Timestamp
		}
	}

	if err = m.primaryLive.Batch(primaryOps); err != nil {
		err = core.NewStorageFailure(err, "applying insert_entries batch to primary index")
		return err
	}
	if err = m.secondaryLive.Batch(secondaryOps); err != nil {
		err = core.NewStorageFailure(err, "applying insert_entries batch to secondary index")
		return err
	}

	nextLastCommit := ver.cloneLastCommit()
	nextLive := ver.live
	for userKey, ts := range maxTouchedTS {
		if cur, ok := nextLastCommit[userKey]; !ok || ts > cur {
			nextLastCommit[userKey] = ts
		}
		nextLive = nextLive.withAdded(m.keys.intern(userKey))
	}

	m.current.Store(&version{
		primary:             m.primaryLive.Snapshot(),
		secondary:           m.secondaryLive.Snapshot(),
		lastCommit:          nextLastCommit,
		live:                nextLive,
		lastGlobalTimestamp: maxGlobal,
		creationTimestamp:   ver.creationTimestamp,
		name:                ver.name,
	})
	return nil
}

// Rollback removes every entry with ts > T, clamping T up to the creation
// timestamp if necessary, and invalidates the last-commit and
// key-existence caches by rebuilding them from the truncated index (spec
// §4.3, §9). Permitted only while the matrix is Open (spec §4.4).
func (m *Matrix) Rollback(ctx context.Context, T int64) (err error) {
	_, span := m.startSpan(ctx, "Rollback", attribute.Int64("t", T))
	defer finishSpan(span, &err)

	if err = m.checkOpenForWrite(); err != nil {
		return err
	}
	if T < 0 {
		err = core.NewInvalidArgument("rollback target must be non-negative, got %d", T)
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	ver := m.snapshot()
	effectiveT := T
	if effectiveT < ver.creationTimestamp {
		effectiveT = ver.creationTimestamp
	}

	doomed, collectErr := collectEntriesAfter(m.secondaryLive, effectiveT)
	if collectErr != nil {
		err = core.NewStorageFailure(collectErr, "scanning secondary index for rollback")
		return err
	}

	if len(doomed) > 0 {
		primaryOps := make([]store.Op, 0, len(doomed))
		for _, mod := range doomed {
			primaryOps = append(primaryOps, store.Op{Key: core.EncodeTemporalKey(mod.UserKey, mod.Timestamp), Value: nil})
		}
		if err = m.primaryLive.Batch(primaryOps); err != nil {
			err = core.NewStorageFailure(err, "truncating primary index during rollback")
			return err
		}
	}
	if err = m.secondaryLive.RemoveRange(core.TimestampPrefix(effectiveT+1), nil); err != nil {
		err = core.NewStorageFailure(err, "truncating secondary index during rollback")
		return err
	}

	lastCommit, live, _, rebuildErr := rebuildCaches(ctx, m.primaryLive, m.keys, ver.creationTimestamp)
	if rebuildErr != nil {
		err = rebuildErr
		return err
	}

	m.current.Store(&version{
		primary:             m.primaryLive.Snapshot(),
		secondary:           m.secondaryLive.Snapshot(),
		lastCommit:          lastCommit,
		live:                live,
		lastGlobalTimestamp: effectiveT,
		creationTimestamp:   ver.creationTimestamp,
		name:                ver.name,
	})
	return nil
}

// collectEntriesAfter reads every (user_key, ts) pair with ts > threshold
// out of the secondary index, so Rollback knows which primary index rows to
// delete without scanning the whole user-key-major index.
func collectEntriesAfter(secondary store.SortedMap, threshold int64) ([]Modification, error) {
	it := secondary.Scan(core.TimestampPrefix(threshold+1), nil)
	defer it.Close()

	var mods []Modification
	for it.Next() {
		ts, userKey, err := core.DecodeTimestampMajorKey(it.Key())
		if err != nil {
			return nil, err
		}
		mods = append(mods, Modification{UserKey: userKey, Timestamp: ts})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return mods, nil
}
