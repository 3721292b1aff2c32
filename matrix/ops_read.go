package matrix

import (
	"context"
	"math"

	"github.com/zpzjzj/chronos/core"
	"github.com/zpzjzj/chronos/store"
	"go.opentelemetry.io/otel/attribute"
)

// PositiveInfinity stands in for "+∞" wherever spec §4.2 uses it as a
// validity-period or history upper bound.
const PositiveInfinity int64 = math.MaxInt64

// NoCommitTimestamp is the negative sentinel LastCommitTimestamp returns for
// a user key with no entry (spec §4.2).
const NoCommitTimestamp int64 = -1

// RangedResult is GetRanged's return value: the resolved payload (if any)
// together with the validity period it was valid over.
type RangedResult struct {
	Present bool
	Value   []byte
	Lo      int64
	Hi      int64
}

// Get returns k's effective value at timestamp t, or (nil, false) if absent
// or tombstoned (spec §4.2).
func (m *Matrix) Get(ctx context.Context, t int64, k string) (value []byte, present bool, err error) {
	_, span := m.startSpan(ctx, "Get", attribute.Int64("t", t))
	defer finishSpan(span, &err)

	if err = m.checkOpenForRead(); err != nil {
		return nil, false, err
	}
	if err = validateGetArgs(t, k); err != nil {
		return nil, false, err
	}

	ver := m.snapshot()
	entry, found, floorErr := floorEntryForKey(ver.primary, k, t)
	if floorErr != nil {
		err = core.NewStorageFailure(floorErr, "seeking floor entry for get")
		return nil, false, err
	}
	if !found || entry.IsTombstone() {
		return nil, false, nil
	}
	return entry.Payload, true, nil
}

// GetRanged is Get plus the validity period the result is valid over
// (spec §4.2).
func (m *Matrix) GetRanged(ctx context.Context, t int64, k string) (result RangedResult, err error) {
	_, span := m.startSpan(ctx, "GetRanged", attribute.Int64("t", t))
	defer finishSpan(span, &err)

	if err = m.checkOpenForRead(); err != nil {
		return RangedResult{}, err
	}
	if err = validateGetArgs(t, k); err != nil {
		return RangedResult{}, err
	}

	ver := m.snapshot()
	floor, found, floorErr := floorEntryForKey(ver.primary, k, t)
	if floorErr != nil {
		err = core.NewStorageFailure(floorErr, "seeking floor entry for get_ranged")
		return RangedResult{}, err
	}

	result.Lo = ver.creationTimestamp
	if found {
		result.Lo = floor.Timestamp
		if !floor.IsTombstone() {
			result.Present = true
			result.Value = floor.Payload
		}
	}

	ceiling, hasCeiling, ceilErr := ceilingEntryForKey(ver.primary, k, t+1)
	if ceilErr != nil {
		err = core.NewStorageFailure(ceilErr, "seeking ceiling entry for get_ranged")
		return RangedResult{}, err
	}
	if hasCeiling {
		result.Hi = ceiling.Timestamp
	} else {
		result.Hi = PositiveInfinity
	}
	return result, nil
}

// Keys returns every user key whose floor entry at t is a live value,
// lexicographic, lazy (spec §4.2).
func (m *Matrix) Keys(ctx context.Context, t int64) (core.Iterator[string], error) {
	_, span := m.startSpan(ctx, "Keys", attribute.Int64("t", t))
	var err error
	defer finishSpan(span, &err)

	if err = m.checkOpenForRead(); err != nil {
		return nil, err
	}
	if t < 0 {
		err = core.NewInvalidArgument("t must be non-negative, got %d", t)
		return nil, err
	}
	ver := m.snapshot()
	return newKeysIterator(ver.primary, t, func(_ string, isTombstone bool) bool {
		return !isTombstone
	}), nil
}

// AllKeys returns every user key that ever appeared, including keys whose
// only entries are tombstones, excluding rolled-back keys, lexicographic
// (spec §4.2).
func (m *Matrix) AllKeys(ctx context.Context) (core.Iterator[string], error) {
	_, span := m.startSpan(ctx, "AllKeys")
	var err error
	defer finishSpan(span, &err)

	if err = m.checkOpenForRead(); err != nil {
		return nil, err
	}
	ver := m.snapshot()
	return newKeysIterator(ver.primary, PositiveInfinity, func(_ string, _ bool) bool {
		return true
	}), nil
}

// History returns, descending, every timestamp at or before tMax at which k
// was written, values and tombstones alike (spec §4.2).
func (m *Matrix) History(ctx context.Context, tMax int64, k string) (core.Iterator[int64], error) {
	_, span := m.startSpan(ctx, "History", attribute.Int64("t_max", tMax))
	var err error
	defer finishSpan(span, &err)

	if err = m.checkOpenForRead(); err != nil {
		return nil, err
	}
	if err = validateGetArgs(tMax, k); err != nil {
		return nil, err
	}
	ver := m.snapshot()
	return newHistoryIterator(ver.primary, k, tMax), nil
}

// AllEntriesIterator streams the floor entry at t for every user key with
// at least one entry <= t, tombstones included (spec §4.2, resolving
// spec §9's open question in favor of yielding them). The caller must
// Close the returned iterator to release its read lease.
func (m *Matrix) AllEntriesIterator(ctx context.Context, t int64) (core.Iterator[core.Entry], error) {
	_, span := m.startSpan(ctx, "AllEntriesIterator", attribute.Int64("t", t))
	var err error
	defer finishSpan(span, &err)

	if err = m.checkOpenForRead(); err != nil {
		return nil, err
	}
	if t < 0 {
		err = core.NewInvalidArgument("t must be non-negative, got %d", t)
		return nil, err
	}
	ver := m.snapshot()
	return newEntryIterator(ver.primary, t), nil
}

// LastCommitTimestamp returns the greatest timestamp ever written for k, or
// NoCommitTimestamp if k has no entry (spec §4.2, §9).
func (m *Matrix) LastCommitTimestamp(ctx context.Context, k string) (ts int64, err error) {
	_, span := m.startSpan(ctx, "LastCommitTimestamp")
	defer finishSpan(span, &err)

	if err = m.checkOpenForRead(); err != nil {
		return NoCommitTimestamp, err
	}
	if k == "" {
		err = core.NewInvalidArgument("user key must not be empty")
		return NoCommitTimestamp, err
	}
	ver := m.snapshot()
	if id, ok := m.keys.lookup(k); ok && !ver.live.contains(id) {
		// interned but not live in this version (e.g. rolled back away)
		return NoCommitTimestamp, nil
	}
	if cached, ok := ver.lastCommit[k]; ok {
		return cached, nil
	}
	return NoCommitTimestamp, nil
}

// GetModificationsBetween returns every (user_key, ts) pair recording an
// entry with ts in [tLo, tHi], ascending (ts, user_key) (spec §4.2).
func (m *Matrix) GetModificationsBetween(ctx context.Context, tLo, tHi int64) (core.Iterator[Modification], error) {
	_, span := m.startSpan(ctx, "GetModificationsBetween", attribute.Int64("t_lo", tLo), attribute.Int64("t_hi", tHi))
	var err error
	defer finishSpan(span, &err)

	if err = m.checkOpenForRead(); err != nil {
		return nil, err
	}
	if err = validateRangeArgs(tLo, tHi); err != nil {
		return nil, err
	}
	ver := m.snapshot()
	return newModificationsIterator(ver.secondary, tLo, tHi), nil
}

// GetCommitTimestampsBetween returns the distinct timestamps in
// [tLo, tHi], ascending (spec §4.2).
func (m *Matrix) GetCommitTimestampsBetween(ctx context.Context, tLo, tHi int64) (core.Iterator[int64], error) {
	_, span := m.startSpan(ctx, "GetCommitTimestampsBetween", attribute.Int64("t_lo", tLo), attribute.Int64("t_hi", tHi))
	var err error
	defer finishSpan(span, &err)

	if err = m.checkOpenForRead(); err != nil {
		return nil, err
	}
	if err = validateRangeArgs(tLo, tHi); err != nil {
		return nil, err
	}
	ver := m.snapshot()
	return newCommitTimestampsIterator(ver.secondary, tLo, tHi), nil
}

func validateGetArgs(t int64, k string) error {
	if t < 0 {
		return core.NewInvalidArgument("t must be non-negative, got %d", t)
	}
	if k == "" {
		return core.NewInvalidArgument("user key must not be empty")
	}
	return nil
}

func validateRangeArgs(tLo, tHi int64) error {
	if tLo < 0 {
		return core.NewInvalidArgument("t_lo must be non-negative, got %d", tLo)
	}
	if tLo > tHi {
		return core.NewInvalidArgument("t_lo (%d) must not exceed t_hi (%d)", tLo, tHi)
	}
	return nil
}

// floorEntryForKey returns userKey's floor entry at t: the greatest entry
// with timestamp <= t, scoped to userKey (store.SortedMap.SeekFloor is a
// whole-map seek, so the result must be checked against userKey's prefix).
func floorEntryForKey(primary store.SortedMap, userKey string, t int64) (core.Entry, bool, error) {
	target := core.EncodeTemporalKey(userKey, t)
	kv, err := primary.SeekFloor(target)
	if err != nil {
		if err == store.ErrNotFound {
			return core.Entry{}, false, nil
		}
		return core.Entry{}, false, err
	}
	if isMetaKey(kv.Key) {
		return core.Entry{}, false, nil
	}
	gotKey, gotTs, decErr := core.DecodeTemporalKey(kv.Key)
	if decErr != nil {
		return core.Entry{}, false, decErr
	}
	if gotKey != userKey {
		return core.Entry{}, false, nil
	}
	entry, decErr := decodeEntry(gotKey, gotTs, kv.Value)
	if decErr != nil {
		return core.Entry{}, false, decErr
	}
	return entry, true, nil
}

// ceilingEntryForKey returns userKey's ceiling entry at or after t, scoped
// to userKey the same way floorEntryForKey is.
func ceilingEntryForKey(primary store.SortedMap, userKey string, t int64) (core.Entry, bool, error) {
	target := core.EncodeTemporalKey(userKey, t)
	kv, err := primary.SeekCeiling(target)
	if err != nil {
		if err == store.ErrNotFound {
			return core.Entry{}, false, nil
		}
		return core.Entry{}, false, err
	}
	gotKey, gotTs, decErr := core.DecodeTemporalKey(kv.Key)
	if decErr != nil {
		return core.Entry{}, false, decErr
	}
	if gotKey != userKey {
		return core.Entry{}, false, nil
	}
	entry, decErr := decodeEntry(gotKey, gotTs, kv.Value)
	if decErr != nil {
		return core.Entry{}, false, decErr
	}
	return entry, true, nil
}
