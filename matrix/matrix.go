// Package matrix implements the Temporal Data Matrix: a versioned mapping
// from user keys to their full write history, backed by the sorted byte-map
// abstraction in package store.
package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zpzjzj/chronos/core"
	"github.com/zpzjzj/chronos/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// state is the matrix's lifecycle state (spec §4.4): Open -> Closing ->
// Closed. Transitions only ever move forward.
type state int32

const (
	stateOpen state = iota
	stateClosing
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Matrix is a single keyspace's full write history. The zero value is not
// usable; construct with Open.
type Matrix struct {
	writeMu sync.Mutex // serializes Put/InsertEntries/Rollback among themselves

	primaryLive   store.SortedMap
	secondaryLive store.SortedMap

	current atomic.Pointer[version]
	state   atomic.Int32

	keys       *keyTable
	compressor core.Compressor
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Open constructs a new Matrix for keyspace name, with creationTimestamp as
// its floor (spec §3's I4). The store.SortedMap instances in opts are either
// caller-supplied (a real backend with its own persistence) or a fresh
// in-memory btreestore; Open treats whatever they already contain as the
// matrix's starting history, rebuilding the last-commit cache and
// key-existence index from it rather than trusting any external metadata.
func Open(ctx context.Context, name string, creationTimestamp int64, opts Options) (m *Matrix, err error) {
	if name == "" {
		return nil, core.NewInvalidArgument("keyspace name must not be empty")
	}
	if creationTimestamp < 0 {
		return nil, core.NewInvalidArgument("creation timestamp must be non-negative, got %d", creationTimestamp)
	}

	m = &Matrix{
		keys:       newKeyTable(),
		compressor: opts.compressor(),
		logger:     opts.logger().With("component", "Matrix", "keyspace", name),
		tracer:     opts.tracer(),
	}

	_, span := m.startSpan(ctx, "Open", attribute.String("keyspace", name))
	defer finishSpan(span, &err)

	primaryLive := opts.primaryStore()
	secondaryLive := opts.secondaryStore()

	meta, found, metaErr := loadMetadata(primaryLive)
	if metaErr != nil {
		err = core.NewStorageFailure(metaErr, "reading matrix metadata")
		return nil, err
	}
	if found {
		if meta.Name != name {
			err = core.NewInvalidArgument("store already holds metadata for keyspace %q, cannot open as %q", meta.Name, name)
			return nil, err
		}
		creationTimestamp = meta.CreationTimestamp
	} else if putErr := storeMetadata(primaryLive, core.Metadata{Name: name, CreationTimestamp: creationTimestamp}); putErr != nil {
		err = core.NewStorageFailure(putErr, "writing matrix metadata")
		return nil, err
	}

	lastCommit, live, lastGlobal, rebuildErr := rebuildCaches(ctx, primaryLive, m.keys, creationTimestamp)
	if rebuildErr != nil {
		err = rebuildErr
		return nil, err
	}

	m.primaryLive = primaryLive
	m.secondaryLive = secondaryLive
	m.current.Store(&version{
		primary:             primaryLive.Snapshot(),
		secondary:           secondaryLive.Snapshot(),
		lastCommit:          lastCommit,
		live:                live,
		lastGlobalTimestamp: lastGlobal,
		creationTimestamp:   creationTimestamp,
		name:                name,
	})

	span.SetAttributes(attribute.Int64("creation_timestamp", creationTimestamp))
	m.logger.Info("matrix opened", "last_global_timestamp", lastGlobal, "keys_loaded", len(lastCommit))
	return m, nil
}

func loadMetadata(s store.SortedMap) (core.Metadata, bool, error) {
	raw, err := s.Get(core.MetaKey())
	if err != nil {
		if err == store.ErrNotFound {
			return core.Metadata{}, false, nil
		}
		return core.Metadata{}, false, err
	}
	meta, err := core.DecodeMetadata(raw)
	if err != nil {
		return core.Metadata{}, false, err
	}
	return meta, true, nil
}

func storeMetadata(s store.SortedMap, meta core.Metadata) error {
	return s.Put(core.MetaKey(), core.EncodeMetadata(meta))
}

// rebuildCaches rebuilds the derived caches spec §9 describes, concurrently:
// the last-commit cache and the key-existence bitmap are each derived by an
// independent full scan of the primary index, run concurrently via
// errgroup since neither depends on the other's result.
func rebuildCaches(ctx context.Context, primary store.SortedMap, keys *keyTable, creationTimestamp int64) (map[string]int64, *liveKeys, int64, error) {
	var (
		lastCommit          = make(map[string]int64)
		lastCommitMu        sync.Mutex
		live                = newLiveKeys()
		liveMu              sync.Mutex
		lastGlobalTimestamp = creationTimestamp
		lastGlobalMu        sync.Mutex
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		it := primary.Scan(nil, nil)
		defer it.Close()
		for it.Next() {
			key := it.Key()
			if isMetaKey(key) {
				continue
			}
			userKey, ts, decodeErr := core.DecodeTemporalKey(key)
			if decodeErr != nil {
				return fmt.Errorf("matrix: corrupt primary index key during rebuild: %w", decodeErr)
			}
			lastCommitMu.Lock()
			if cur, ok := lastCommit[userKey]; !ok || ts > cur {
				lastCommit[userKey] = ts
			}
			lastCommitMu.Unlock()

			lastGlobalMu.Lock()
			if ts > lastGlobalTimestamp {
				lastGlobalTimestamp = ts
			}
			lastGlobalMu.Unlock()
		}
		return it.Err()
	})
	g.Go(func() error {
		it := primary.Scan(nil, nil)
		defer it.Close()
		for it.Next() {
			key := it.Key()
			if isMetaKey(key) {
				continue
			}
			userKey, extractErr := core.ExtractUserKey(key)
			if extractErr != nil {
				return fmt.Errorf("matrix: corrupt primary index key during rebuild: %w", extractErr)
			}
			id := keys.intern(userKey)
			liveMu.Lock()
			live = live.withAdded(id)
			liveMu.Unlock()
		}
		return it.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, nil, 0, core.NewStorageFailure(err, "rebuilding matrix caches")
	}
	return lastCommit, live, lastGlobalTimestamp, nil
}

func isMetaKey(key []byte) bool {
	meta := core.MetaKey()
	if len(key) != len(meta) {
		return false
	}
	for i := range key {
		if key[i] != meta[i] {
			return false
		}
	}
	return true
}

// Close transitions the matrix through Closing to Closed (spec §4.4). It
// does not block on outstanding iterators; callers that created iterators
// remain responsible for closing them, per spec §5's cancellation model.
func (m *Matrix) Close(ctx context.Context) (err error) {
	_, span := m.startSpan(ctx, "Close")
	defer finishSpan(span, &err)

	m.state.CompareAndSwap(int32(stateOpen), int32(stateClosing))
	m.state.Store(int32(stateClosed))
	m.logger.Info("matrix closed")
	return nil
}

func (m *Matrix) checkOpenForWrite() error {
	if s := state(m.state.Load()); s == stateClosing || s == stateClosed {
		return core.NewMatrixClosed("matrix is %s", s)
	}
	return nil
}

func (m *Matrix) checkOpenForRead() error {
	if state(m.state.Load()) == stateClosed {
		return core.NewMatrixClosed("matrix is closed")
	}
	return nil
}

func (m *Matrix) snapshot() *version {
	return m.current.Load()
}
