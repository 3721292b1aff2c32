package matrix

import (
	"context"
	"testing"

	"github.com/zpzjzj/chronos/core"
	"github.com/zpzjzj/chronos/store"
	"github.com/zpzjzj/chronos/store/btreestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func btreeStoreForTest() store.SortedMap {
	return btreestore.New()
}

func openTestMatrix(t *testing.T, name string, creationTimestamp int64) *Matrix {
	t.Helper()
	m, err := Open(context.Background(), name, creationTimestamp, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func TestOpen_RejectsInvalidArguments(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, "", 0, Options{})
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindInvalidArgument, kind)

	_, err = Open(ctx, "keyspace", -1, Options{})
	require.Error(t, err)
	kind, ok = core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindInvalidArgument, kind)
}

func TestOpen_ReopenAdoptsStoredMetadata(t *testing.T) {
	ctx := context.Background()
	primary := btreeStoreForTest()
	secondary := btreeStoreForTest()

	m1, err := Open(ctx, "orders", 100, Options{PrimaryStore: primary, SecondaryStore: secondary})
	require.NoError(t, err)
	require.NoError(t, m1.Put(ctx, 150, map[string][]byte{"a": []byte("v1")}))
	require.NoError(t, m1.Close(ctx))

	// Reopening against the same stores with a different creation_timestamp
	// argument must adopt the persisted one instead.
	m2, err := Open(ctx, "orders", 999, Options{PrimaryStore: primary, SecondaryStore: secondary})
	require.NoError(t, err)
	defer m2.Close(ctx)

	val, present, err := m2.Get(ctx, 150, "a")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, []byte("v1"), val)

	ts, err := m2.LastCommitTimestamp(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(150), ts)
}

func TestOpen_ReopenRejectsMismatchedName(t *testing.T) {
	ctx := context.Background()
	primary := btreeStoreForTest()
	secondary := btreeStoreForTest()

	m1, err := Open(ctx, "orders", 0, Options{PrimaryStore: primary, SecondaryStore: secondary})
	require.NoError(t, err)
	require.NoError(t, m1.Close(ctx))

	_, err = Open(ctx, "invoices", 0, Options{PrimaryStore: primary, SecondaryStore: secondary})
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindInvalidArgument, kind)
}

func TestClose_RejectsFurtherWritesAndReads(t *testing.T) {
	ctx := context.Background()
	m := openTestMatrix(t, "orders", 0)

	require.NoError(t, m.Put(ctx, 1, map[string][]byte{"a": []byte("v1")}))
	require.NoError(t, m.Close(ctx))

	err := m.Put(ctx, 2, map[string][]byte{"a": []byte("v2")})
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindMatrixClosed, kind)

	_, _, err = m.Get(ctx, 1, "a")
	require.Error(t, err)
	kind, ok = core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindMatrixClosed, kind)
}
