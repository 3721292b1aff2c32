package matrix

import (
	"fmt"
	"io"

	"github.com/zpzjzj/chronos/compressors"
	"github.com/zpzjzj/chronos/core"
)

// decompressors maps every CompressionType a payload could have been
// written with back to the Compressor that can read it, regardless of which
// Compressor a given Matrix is currently configured to write with: the
// compression byte stored alongside the payload (SPEC_FULL §4.1) is
// self-describing, so decode never depends on Options.Compressor.
var decompressors = map[core.CompressionType]core.Compressor{
	core.CompressionNone:   compressors.NoCompression{},
	core.CompressionSnappy: compressors.NewSnappy(),
	core.CompressionLZ4:    compressors.NewLZ4(),
	core.CompressionZSTD:   compressors.NewZSTD(),
}

// encodeEntry serializes a put/insert_entries value for storage: a
// tombstone encodes with no payload at all, a live value is compressed with
// m.compressor and tagged with its CompressionType.
func (m *Matrix) encodeEntry(payload []byte, isTombstone bool) ([]byte, error) {
	if isTombstone {
		return core.EncodeValue(core.Tombstone, core.CompressionNone, nil), nil
	}
	compressed, err := m.compressor.Compress(payload)
	if err != nil {
		return nil, fmt.Errorf("matrix: compressing payload: %w", err)
	}
	return core.EncodeValue(core.Value, m.compressor.Type(), compressed), nil
}

// decodeStoredValue parses a raw Temporal Index value and returns the
// logical payload (nil for a tombstone), decompressing with whichever
// Compressor matches the stored compression byte.
func decodeStoredValue(raw []byte) (kind core.PayloadKind, payload []byte, err error) {
	kind, ct, compressed, err := core.DecodeValue(raw)
	if err != nil {
		return 0, nil, err
	}
	if kind == core.Tombstone {
		return core.Tombstone, nil, nil
	}
	dec, ok := decompressors[ct]
	if !ok {
		return 0, nil, fmt.Errorf("matrix: stored value uses unknown compression type %d", ct)
	}
	rc, err := dec.Decompress(compressed)
	if err != nil {
		return 0, nil, fmt.Errorf("matrix: decompressing payload: %w", err)
	}
	defer rc.Close()
	payload, err = io.ReadAll(rc)
	if err != nil {
		return 0, nil, fmt.Errorf("matrix: reading decompressed payload: %w", err)
	}
	return core.Value, payload, nil
}

// decodeEntry decodes a full Entry from a raw Temporal Index (key, value)
// row already known to belong to userKey at timestamp ts.
func decodeEntry(userKey string, ts int64, rawValue []byte) (core.Entry, error) {
	kind, payload, err := decodeStoredValue(rawValue)
	if err != nil {
		return core.Entry{}, err
	}
	if kind == core.Tombstone {
		return core.NewTombstoneEntry(userKey, ts), nil
	}
	return core.NewValueEntry(userKey, ts, payload), nil
}
