package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/zpzjzj/chronos/core"
)

// Snappy implements core.Compressor using github.com/golang/snappy.
type Snappy struct{}

type snappyReadCloser struct {
	*bytes.Reader
}

func (s *snappyReadCloser) Close() error { return nil }

var _ core.Compressor = Snappy{}

func NewSnappy() Snappy { return Snappy{} }

func (Snappy) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (Snappy) Decompress(data []byte) (io.ReadCloser, error) {
	decompressed, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("compressors: snappy decompress: %w", err)
	}
	return &snappyReadCloser{Reader: bytes.NewReader(decompressed)}, nil
}

func (Snappy) Type() core.CompressionType {
	return core.CompressionSnappy
}

func (Snappy) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	dst.Write(snappy.Encode(nil, src))
	return nil
}
