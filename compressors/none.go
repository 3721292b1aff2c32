package compressors

import (
	"bytes"
	"io"

	"github.com/zpzjzj/chronos/core"
)

// NoCompression implements core.Compressor without performing compression.
// It is the compressor a Matrix uses when Options.Compressor is nil.
type NoCompression struct{}

type plainDecoder struct {
	*bytes.Reader
}

func (p *plainDecoder) Close() error { return nil }

var _ core.Compressor = NoCompression{}

func (NoCompression) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (NoCompression) Decompress(data []byte) (io.ReadCloser, error) {
	return &plainDecoder{Reader: bytes.NewReader(data)}, nil
}

func (NoCompression) Type() core.CompressionType {
	return core.CompressionNone
}

// CompressTo "compresses" src into dst by writing it unchanged, avoiding the
// allocation Compress performs.
func (NoCompression) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	_, err := dst.Write(src)
	return err
}
