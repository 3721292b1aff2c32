package matrix

import (
	"log/slog"

	"github.com/zpzjzj/chronos/compressors"
	"github.com/zpzjzj/chronos/core"
	"github.com/zpzjzj/chronos/store"
	"github.com/zpzjzj/chronos/store/btreestore"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Options configures a Matrix at Open time. All fields are optional; zero
// values fall back to an in-memory no-op implementation of the concern they
// configure, mirroring the teacher's StorageEngineOptions (engine2/options.go).
type Options struct {
	// Compressor is applied to VALUE payloads before they reach the
	// Temporal Index and reversed on read. Nil means CompressionNone.
	Compressor core.Compressor

	// Logger receives structured diagnostics. Nil falls back to
	// slog.Default().
	Logger *slog.Logger

	// TracerProvider supplies the tracer used to wrap every public
	// operation. Nil falls back to noop.NewTracerProvider(), substituted
	// by tracer() below.
	TracerProvider trace.TracerProvider

	// Clock is accepted for configuration but is not read by any Matrix
	// operation: log timestamps come from the Logger, and ordering always
	// uses the caller-supplied timestamps (spec §3).
	Clock func() int64

	// PrimaryStore backs the user-key-major Temporal Index. Nil defaults
	// to a fresh btreestore.Store, the reference in-process backend; a
	// caller integrating a different byte-map adapter supplies its own.
	PrimaryStore store.SortedMap

	// SecondaryStore backs the timestamp-major index used to bound
	// get_modifications_between / scan_range. Nil defaults to a fresh
	// btreestore.Store.
	SecondaryStore store.SortedMap
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) compressor() core.Compressor {
	if o.Compressor != nil {
		return o.Compressor
	}
	return compressors.NoCompression{}
}

func (o Options) tracer() trace.Tracer {
	provider := o.TracerProvider
	if provider == nil {
		provider = noop.NewTracerProvider()
	}
	return provider.Tracer("github.com/zpzjzj/chronos/matrix")
}

func (o Options) primaryStore() store.SortedMap {
	if o.PrimaryStore != nil {
		return o.PrimaryStore
	}
	return btreestore.New()
}

func (o Options) secondaryStore() store.SortedMap {
	if o.SecondaryStore != nil {
		return o.SecondaryStore
	}
	return btreestore.New()
}
