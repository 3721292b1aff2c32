package core

import (
	"bytes"
	"fmt"
	"io"
)

// CompressionType identifies the compression algorithm used for a stored
// payload. Stored on disk alongside the tag byte so a reader always knows
// how to decode the bytes that follow, regardless of which Compressor the
// writer used.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
)

func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// Compressor compresses and decompresses entry payloads. Implementations
// live in the compressors package; core only depends on the interface.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	CompressTo(dst *bytes.Buffer, src []byte) error
	Decompress(data []byte) (io.ReadCloser, error)
	Type() CompressionType
}

// EncodeValue serializes a stored value as tag_byte ‖ compression_byte ‖
// payload_bytes (spec §4.1, extended with the compression byte SPEC_FULL
// adds). Tombstones always encode with CompressionNone and no payload
// bytes, since there is nothing to compress.
func EncodeValue(kind PayloadKind, ct CompressionType, payload []byte) []byte {
	if kind == Tombstone {
		return []byte{byte(Tombstone), byte(CompressionNone)}
	}
	buf := make([]byte, 2+len(payload))
	buf[0] = byte(Value)
	buf[1] = byte(ct)
	copy(buf[2:], payload)
	return buf
}

// DecodeValue parses a value encoded by EncodeValue.
func DecodeValue(b []byte) (kind PayloadKind, ct CompressionType, payload []byte, err error) {
	if len(b) < 2 {
		return 0, 0, nil, fmt.Errorf("core: malformed stored value: too short (%d bytes)", len(b))
	}
	kind = PayloadKind(b[0])
	ct = CompressionType(b[1])
	switch kind {
	case Tombstone:
		return Tombstone, CompressionNone, nil, nil
	case Value:
		return Value, ct, b[2:], nil
	default:
		return 0, 0, nil, fmt.Errorf("core: malformed stored value: unknown tag byte 0x%02x", b[0])
	}
}
