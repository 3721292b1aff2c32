package compressors

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	lz4 "github.com/pierrec/lz4/v4"
	"github.com/zpzjzj/chronos/core"
)

// LZ4 implements core.Compressor using github.com/pierrec/lz4/v4's block API.
type LZ4 struct{}

type lz4ReadCloser struct {
	*bytes.Reader
}

func (l *lz4ReadCloser) Close() error { return nil }

var _ core.Compressor = LZ4{}

func NewLZ4() LZ4 { return LZ4{} }

func (LZ4) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("compressors: lz4 compress: %w", err)
	}
	if n == 0 && len(data) > 0 {
		return nil, fmt.Errorf("compressors: lz4 compression produced zero bytes for non-empty input")
	}
	return dst[:n], nil
}

func (LZ4) Decompress(data []byte) (io.ReadCloser, error) {
	if len(data) == 0 {
		return &lz4ReadCloser{Reader: bytes.NewReader(nil)}, nil
	}
	dstSize := len(data) * 3
	if dstSize < 1024 {
		dstSize = 1024
	}
	dst := make([]byte, dstSize)
	for {
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return &lz4ReadCloser{Reader: bytes.NewReader(dst[:n])}, nil
		}
		if errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			if len(dst) > 16*1024*1024 {
				return nil, fmt.Errorf("compressors: lz4 decompression buffer grew past 16MB")
			}
			dst = make([]byte, len(dst)*2)
			continue
		}
		return nil, fmt.Errorf("compressors: lz4 decompress: %w", err)
	}
}

func (LZ4) Type() core.CompressionType {
	return core.CompressionLZ4
}

func (LZ4) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	tmp := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, tmp, nil)
	if err != nil {
		return fmt.Errorf("compressors: lz4 compress-to: %w", err)
	}
	if n == 0 && len(src) > 0 {
		return fmt.Errorf("compressors: lz4 compression produced zero bytes for non-empty input")
	}
	dst.Write(tmp[:n])
	return nil
}
