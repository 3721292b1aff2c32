package matrix

import (
	"context"
	"testing"

	"github.com/zpzjzj/chronos/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// putScenarioOne seeds a fresh matrix with the exact sequence the
// end-to-end scenarios build on: put(1, {a: V1}); put(3, {a: V3, b: V4});
// put(5, {b: absent}).
func putScenarioOne(t *testing.T, ctx context.Context, m *Matrix) {
	t.Helper()
	require.NoError(t, m.Put(ctx, 1, map[string][]byte{"a": []byte("V1")}))
	require.NoError(t, m.Put(ctx, 3, map[string][]byte{"a": []byte("V3"), "b": []byte("V4")}))
	require.NoError(t, m.Put(ctx, 5, map[string][]byte{"b": nil}))
}

func TestScenario1_InsertThenRead(t *testing.T) {
	ctx := context.Background()
	m := openTestMatrix(t, "default", 0)
	putScenarioOne(t, ctx, m)

	val, present, err := m.Get(ctx, 2, "a")
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, "V1", string(val))

	val, present, err = m.Get(ctx, 3, "a")
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, "V3", string(val))

	val, present, err = m.Get(ctx, 4, "b")
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, "V4", string(val))

	_, present, err = m.Get(ctx, 5, "b")
	require.NoError(t, err)
	assert.False(t, present)

	ranged, err := m.GetRanged(ctx, 2, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ranged.Lo)
	assert.Equal(t, int64(3), ranged.Hi)
}

func TestScenario2_History(t *testing.T) {
	ctx := context.Background()
	m := openTestMatrix(t, "default", 0)
	putScenarioOne(t, ctx, m)

	full, err := m.History(ctx, PositiveInfinity, "b")
	require.NoError(t, err)
	var got []int64
	for full.Next() {
		got = append(got, full.At())
	}
	require.NoError(t, full.Err())
	require.NoError(t, full.Close())
	assert.Equal(t, []int64{5, 3}, got)

	bounded, err := m.History(ctx, 4, "b")
	require.NoError(t, err)
	got = nil
	for bounded.Next() {
		got = append(got, bounded.At())
	}
	require.NoError(t, bounded.Err())
	require.NoError(t, bounded.Close())
	assert.Equal(t, []int64{3}, got)
}

func TestScenario3_Rollback(t *testing.T) {
	ctx := context.Background()
	m := openTestMatrix(t, "default", 0)
	putScenarioOne(t, ctx, m)

	require.NoError(t, m.Rollback(ctx, 3))

	val, present, err := m.Get(ctx, 5, "b")
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, "V4", string(val))

	ts, err := m.LastCommitTimestamp(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(3), ts)
}

func TestScenario4_ModificationsRange(t *testing.T) {
	ctx := context.Background()
	m := openTestMatrix(t, "default", 0)
	putScenarioOne(t, ctx, m)

	modsIt, err := m.GetModificationsBetween(ctx, 2, 4)
	require.NoError(t, err)
	var mods []Modification
	for modsIt.Next() {
		mods = append(mods, modsIt.At())
	}
	require.NoError(t, modsIt.Err())
	require.NoError(t, modsIt.Close())
	assert.ElementsMatch(t, []Modification{
		{UserKey: "a", Timestamp: 3},
		{UserKey: "b", Timestamp: 3},
	}, mods)

	tsIt, err := m.GetCommitTimestampsBetween(ctx, 2, 4)
	require.NoError(t, err)
	var timestamps []int64
	for tsIt.Next() {
		timestamps = append(timestamps, tsIt.At())
	}
	require.NoError(t, tsIt.Err())
	require.NoError(t, tsIt.Close())
	assert.Equal(t, []int64{3}, timestamps)
}

func TestScenario5_MonotonicityViolation(t *testing.T) {
	ctx := context.Background()
	m := openTestMatrix(t, "default", 0)
	putScenarioOne(t, ctx, m)

	err := m.Put(ctx, 5, map[string][]byte{"c": []byte("X")})
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindMonotonicityViolation, kind)
}

func TestScenario6_SnapshotIteration(t *testing.T) {
	ctx := context.Background()
	m := openTestMatrix(t, "default", 0)
	putScenarioOne(t, ctx, m)

	it, err := m.AllEntriesIterator(ctx, 4)
	require.NoError(t, err)
	got := map[string]core.Entry{}
	for it.Next() {
		e := it.At()
		got[e.UserKey] = e
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())

	require.Len(t, got, 2)
	require.Contains(t, got, "a")
	require.Contains(t, got, "b")
	assert.Equal(t, int64(3), got["a"].Timestamp)
	assert.Equal(t, "V3", string(got["a"].Payload))
	assert.Equal(t, int64(3), got["b"].Timestamp)
	assert.Equal(t, "V4", string(got["b"].Payload))
}

// TestInvariant_HistoryStrictlyMonotonic covers spec invariant 1: for every
// user key, history(+inf, k) in ascending order is strictly monotonic.
func TestInvariant_HistoryStrictlyMonotonic(t *testing.T) {
	ctx := context.Background()
	m := openTestMatrix(t, "default", 0)
	require.NoError(t, m.Put(ctx, 1, map[string][]byte{"a": []byte("v1")}))
	require.NoError(t, m.Put(ctx, 4, map[string][]byte{"a": []byte("v2")}))
	require.NoError(t, m.Put(ctx, 9, map[string][]byte{"a": nil}))

	it, err := m.History(ctx, PositiveInfinity, "a")
	require.NoError(t, err)
	var descending []int64
	for it.Next() {
		descending = append(descending, it.At())
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())

	for i := 1; i < len(descending); i++ {
		assert.Less(t, descending[i], descending[i-1], "history must be strictly monotonic")
	}
	ascending := make([]int64, len(descending))
	for i, ts := range descending {
		ascending[len(descending)-1-i] = ts
	}
	assert.Equal(t, []int64{1, 4, 9}, ascending)
}

// TestInvariant_GetAgreesWithGetRanged covers spec invariant 2: for every
// (t, k), get(t, k) == get_ranged(t, k).value, and t falls within the
// returned [lo, hi) period.
func TestInvariant_GetAgreesWithGetRanged(t *testing.T) {
	ctx := context.Background()
	m := openTestMatrix(t, "default", 0)
	require.NoError(t, m.Put(ctx, 2, map[string][]byte{"a": []byte("v1")}))
	require.NoError(t, m.Put(ctx, 7, map[string][]byte{"a": []byte("v2")}))

	for _, probe := range []int64{0, 2, 4, 7, 100} {
		val, present, err := m.Get(ctx, probe, "a")
		require.NoError(t, err)
		ranged, err := m.GetRanged(ctx, probe, "a")
		require.NoError(t, err)

		assert.Equal(t, present, ranged.Present, "probe=%d", probe)
		assert.Equal(t, val, ranged.Value, "probe=%d", probe)
		if present {
			assert.True(t, probe >= ranged.Lo && probe < ranged.Hi, "probe=%d not within [%d,%d)", probe, ranged.Lo, ranged.Hi)
		}
	}
}

// TestInvariant_RollbackPinsReadsAtTarget covers spec invariant 3: after
// rollback(T), for every k and every t > T: get(t, k) == get(T, k) and
// last_commit_timestamp(k) <= T.
func TestInvariant_RollbackPinsReadsAtTarget(t *testing.T) {
	ctx := context.Background()
	m := openTestMatrix(t, "default", 0)
	require.NoError(t, m.Put(ctx, 1, map[string][]byte{"a": []byte("v1")}))
	require.NoError(t, m.Put(ctx, 5, map[string][]byte{"a": []byte("v2")}))
	require.NoError(t, m.Put(ctx, 9, map[string][]byte{"a": []byte("v3")}))

	require.NoError(t, m.Rollback(ctx, 5))

	atTarget, _, err := m.Get(ctx, 5, "a")
	require.NoError(t, err)

	for _, probe := range []int64{6, 20, PositiveInfinity} {
		val, _, err := m.Get(ctx, probe, "a")
		require.NoError(t, err)
		assert.Equal(t, atTarget, val, "probe=%d", probe)
	}

	ts, err := m.LastCommitTimestamp(ctx, "a")
	require.NoError(t, err)
	assert.LessOrEqual(t, ts, int64(5))
}

// TestInvariant_RoundTripThroughInsertEntries covers spec invariant 5:
// replaying get_modifications_between(0, +inf) through insert_entries into a
// fresh matrix yields an observationally identical matrix.
func TestInvariant_RoundTripThroughInsertEntries(t *testing.T) {
	ctx := context.Background()
	source := openTestMatrix(t, "default", 0)
	require.NoError(t, source.Put(ctx, 1, map[string][]byte{"a": []byte("v1"), "b": []byte("v2")}))
	require.NoError(t, source.Put(ctx, 4, map[string][]byte{"a": []byte("v3")}))
	require.NoError(t, source.Put(ctx, 9, map[string][]byte{"b": nil}))

	mods, err := source.GetModificationsBetween(ctx, 0, PositiveInfinity)
	require.NoError(t, err)
	var entries []core.Entry
	for mods.Next() {
		mod := mods.At()
		val, present, getErr := source.Get(ctx, mod.Timestamp, mod.UserKey)
		require.NoError(t, getErr)
		if present {
			entries = append(entries, core.NewValueEntry(mod.UserKey, mod.Timestamp, val))
		} else {
			entries = append(entries, core.NewTombstoneEntry(mod.UserKey, mod.Timestamp))
		}
	}
	require.NoError(t, mods.Err())
	require.NoError(t, mods.Close())

	replica := openTestMatrix(t, "default", 0)
	require.NoError(t, replica.InsertEntries(ctx, entries))

	for _, k := range []string{"a", "b"} {
		for _, probe := range []int64{0, 1, 4, 9, PositiveInfinity} {
			wantVal, wantPresent, err := source.Get(ctx, probe, k)
			require.NoError(t, err)
			gotVal, gotPresent, err := replica.Get(ctx, probe, k)
			require.NoError(t, err)
			assert.Equal(t, wantPresent, gotPresent, "key=%s probe=%d", k, probe)
			assert.Equal(t, wantVal, gotVal, "key=%s probe=%d", k, probe)
		}
	}

	// a subsequent put must be held to the same monotonicity floor on both
	// matrices, proving insert_entries caught the replica's clock up.
	err = replica.Put(ctx, 9, map[string][]byte{"c": []byte("v4")})
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindMonotonicityViolation, kind)
	require.NoError(t, source.Put(ctx, 20, map[string][]byte{"c": []byte("v4")}))
	require.NoError(t, replica.Put(ctx, 20, map[string][]byte{"c": []byte("v4")}))
}

func TestBoundary_NegativeTimestampIsInvalidArgument(t *testing.T) {
	ctx := context.Background()
	m := openTestMatrix(t, "default", 0)

	_, _, err := m.Get(ctx, -1, "a")
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindInvalidArgument, kind)
}
