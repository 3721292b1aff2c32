package core

import (
	"bytes"
	"sync"
)

// bufferPool is a sync.Pool of reusable byte buffers for hot-path key and
// value encoding, matching the teacher's BufferPool (core/pool.go) minus the
// hit/miss instrumentation, which this package has no caller for.
type bufferPool struct {
	pool sync.Pool
}

// DefaultBufferCapacity is the pre-allocated capacity for each new buffer
// returned by BufferPool when it has to create one.
const DefaultBufferCapacity = 256

var BufferPool = newBufferPool(DefaultBufferCapacity)

func newBufferPool(capacity int) *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, capacity))
			},
		},
	}
}

// Get retrieves a reset, ready-to-use buffer from the pool.
func (bp *bufferPool) Get() *bytes.Buffer {
	buf := bp.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool for reuse.
func (bp *bufferPool) Put(buf *bytes.Buffer) {
	bp.pool.Put(buf)
}
