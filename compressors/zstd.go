package compressors

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/zpzjzj/chronos/core"
)

// ZSTD implements core.Compressor using github.com/klauspost/compress/zstd,
// pooling encoders and decoders since both are expensive to construct.
type ZSTD struct {
	encoders sync.Pool
	decoders sync.Pool
}

type zstdReadCloser struct {
	*zstd.Decoder
	pool *sync.Pool
}

func (z *zstdReadCloser) Close() error {
	// Do not call the embedded Decoder.Close: that invalidates it for reuse.
	z.pool.Put(z.Decoder)
	return nil
}

var _ core.Compressor = (*ZSTD)(nil)

func NewZSTD() *ZSTD {
	z := &ZSTD{}
	z.encoders.New = func() any {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil
		}
		return enc
	}
	z.decoders.New = func() any {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(100*1024*1024))
		if err != nil {
			return nil
		}
		return dec
	}
	return z
}

func (z *ZSTD) Compress(data []byte) ([]byte, error) {
	enc, _ := z.encoders.Get().(*zstd.Encoder)
	if enc == nil {
		return nil, fmt.Errorf("compressors: zstd encoder unavailable")
	}
	defer z.encoders.Put(enc)

	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)

	enc.Reset(buf)
	if _, err := enc.Write(data); err != nil {
		return nil, fmt.Errorf("compressors: zstd compress write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("compressors: zstd compress close: %w", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (z *ZSTD) Decompress(data []byte) (io.ReadCloser, error) {
	dec, _ := z.decoders.Get().(*zstd.Decoder)
	if dec == nil {
		return nil, fmt.Errorf("compressors: zstd decoder unavailable")
	}
	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		z.decoders.Put(dec)
		return nil, fmt.Errorf("compressors: zstd decoder reset: %w", err)
	}
	return &zstdReadCloser{Decoder: dec, pool: &z.decoders}, nil
}

func (z *ZSTD) Type() core.CompressionType {
	return core.CompressionZSTD
}

func (z *ZSTD) CompressTo(dst *bytes.Buffer, src []byte) error {
	enc, _ := z.encoders.Get().(*zstd.Encoder)
	if enc == nil {
		return fmt.Errorf("compressors: zstd encoder unavailable")
	}
	defer z.encoders.Put(enc)

	dst.Reset()
	enc.Reset(dst)
	if _, err := enc.Write(src); err != nil {
		_ = enc.Close()
		return fmt.Errorf("compressors: zstd compress-to write: %w", err)
	}
	return enc.Close()
}
