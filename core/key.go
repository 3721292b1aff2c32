package core

import (
	"encoding/binary"
	"fmt"
)

// TimestampSize is the width in bytes of an encoded timestamp. Big-endian so
// that lexicographic byte order equals numeric order for non-negative values.
const TimestampSize = 8

// EncodeTimestamp writes ts into buf as an 8-byte big-endian unsigned value.
// buf must be at least TimestampSize bytes.
func EncodeTimestamp(buf []byte, ts int64) error {
	if len(buf) < TimestampSize {
		return fmt.Errorf("core: cannot encode timestamp, buffer too short: got %d bytes, want %d", len(buf), TimestampSize)
	}
	binary.BigEndian.PutUint64(buf, uint64(ts))
	return nil
}

// DecodeTimestamp reads a big-endian timestamp from the first TimestampSize
// bytes of b.
func DecodeTimestamp(b []byte) (int64, error) {
	if len(b) < TimestampSize {
		return 0, fmt.Errorf("core: cannot decode timestamp, buffer too short: got %d bytes, want %d", len(b), TimestampSize)
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// userKeyTerminator closes an escaped user key (see escapeUserKeyInto). It
// sorts before any continuation byte that could follow a real user key: a
// continuation is either a literal non-zero byte, or an escaped 0x00 (itself
// encoded as 0x00 0xFF) whose second byte 0xFF is greater than the
// terminator's second byte 0x00. So a user key that is a strict prefix of
// another always sorts first — exactly the order plain byte comparison of
// the two original strings would give.
var userKeyTerminator = [2]byte{0x00, 0x00}

// escapeUserKeyInto appends userKey's order-preserving escaped encoding to
// buf: every 0x00 byte becomes 0x00 0xFF, every other byte is copied
// unchanged. Doubling 0x00 this way, rather than length-prefixing userKey,
// keeps byte-lexicographic order over the encoded form identical to
// byte-lexicographic order over userKey itself — spec §4.1/§4.2 require
// "keys"/"all_keys"/"scan_all_keys" to enumerate lexicographically, and a
// length prefix cannot satisfy that (it sorts a short-but-later key before a
// long-but-earlier one, e.g. "b" before "apple").
func escapeUserKeyInto(buf []byte, userKey string) []byte {
	for i := 0; i < len(userKey); i++ {
		b := userKey[i]
		buf = append(buf, b)
		if b == 0x00 {
			buf = append(buf, 0xFF)
		}
	}
	return buf
}

// unescapeUserKey reads an escaped-and-terminated user key off the front of
// key (as written by escapeUserKeyInto + userKeyTerminator), returning the
// decoded user key and the number of bytes consumed, terminator included.
// Every embedded 0x00 in the escaped form is immediately followed by either
// 0xFF (an escaped literal 0x00) or 0x00 (the terminator) — no other byte can
// follow a 0x00 — so scanning for the terminator is unambiguous.
func unescapeUserKey(key []byte) (userKey string, consumed int, err error) {
	var out []byte
	i := 0
	for i < len(key) {
		b := key[i]
		if b != 0x00 {
			out = append(out, b)
			i++
			continue
		}
		if i+1 >= len(key) {
			return "", 0, fmt.Errorf("core: malformed escaped user key: truncated escape sequence")
		}
		switch key[i+1] {
		case 0xFF:
			out = append(out, 0x00)
			i += 2
		case 0x00:
			return string(out), i + 2, nil
		default:
			return "", 0, fmt.Errorf("core: malformed escaped user key: invalid escape byte 0x%02x", key[i+1])
		}
	}
	return "", 0, fmt.Errorf("core: malformed escaped user key: missing terminator")
}

// EncodeTemporalKeyToBuffer writes the on-disk Temporal Index key for
// (userKey, ts) into buf: escape(userKey) ‖ terminator ‖ be64(ts).
func EncodeTemporalKeyToBuffer(buf []byte, userKey string, ts int64) []byte {
	buf = escapeUserKeyInto(buf, userKey)
	buf = append(buf, userKeyTerminator[:]...)
	var tsBuf [TimestampSize]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(ts))
	buf = append(buf, tsBuf[:]...)
	return buf
}

// EncodeTemporalKey returns the encoded key for (userKey, ts) as a fresh
// slice. Use EncodeTemporalKeyToBuffer on a pooled buffer on hot paths.
func EncodeTemporalKey(userKey string, ts int64) []byte {
	return EncodeTemporalKeyToBuffer(nil, userKey, ts)
}

// EncodeUserKeyPrefix returns the escaped encoding of userKey alone, i.e. a
// Temporal Index key with the timestamp suffix omitted. Every key for
// userKey shares this exact byte sequence as a prefix, and no key for any
// other user key can share it: the terminator can only occur at the true end
// of an escaped string, since every embedded 0x00 is always doubled first.
func EncodeUserKeyPrefix(userKey string) []byte {
	buf := make([]byte, 0, len(userKey)+2)
	buf = escapeUserKeyInto(buf, userKey)
	buf = append(buf, userKeyTerminator[:]...)
	return buf
}

// DecodeTemporalKey splits an encoded Temporal Index key back into its user
// key and timestamp.
func DecodeTemporalKey(key []byte) (userKey string, ts int64, err error) {
	userKey, consumed, err := unescapeUserKey(key)
	if err != nil {
		return "", 0, err
	}
	ts, err = DecodeTimestamp(key[consumed:])
	if err != nil {
		return "", 0, err
	}
	return userKey, ts, nil
}

// ExtractUserKey returns just the user key portion of an encoded Temporal
// Index key.
func ExtractUserKey(key []byte) (string, error) {
	userKey, _, err := unescapeUserKey(key)
	return userKey, err
}

// EncodeTimestampMajorKey writes the secondary index key be64(ts) ‖
// escape(userKey) ‖ terminator, used to make get_modifications_between /
// scan_range bounded scans instead of full scans over the user-key-major
// primary index. Escaping userKey the same order-preserving way as the
// primary index (rather than length-prefixing it) makes entries within one
// timestamp sort in true user-key-lexicographic order too, not just by
// length.
func EncodeTimestampMajorKey(ts int64, userKey string) []byte {
	buf := make([]byte, 0, TimestampSize+len(userKey)+2)
	var tsBuf [TimestampSize]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(ts))
	buf = append(buf, tsBuf[:]...)
	buf = escapeUserKeyInto(buf, userKey)
	buf = append(buf, userKeyTerminator[:]...)
	return buf
}

// TimestampPrefix returns the be64(ts) prefix shared by every secondary
// index key at that timestamp, used to bound scan_range(t, t).
func TimestampPrefix(ts int64) []byte {
	var tsBuf [TimestampSize]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(ts))
	return tsBuf[:]
}

// DecodeTimestampMajorKey splits a secondary index key back into its
// timestamp and user key.
func DecodeTimestampMajorKey(key []byte) (ts int64, userKey string, err error) {
	if len(key) < TimestampSize {
		return 0, "", fmt.Errorf("core: malformed timestamp-major key: too short")
	}
	ts, err = DecodeTimestamp(key[:TimestampSize])
	if err != nil {
		return 0, "", err
	}
	userKey, _, err = unescapeUserKey(key[TimestampSize:])
	if err != nil {
		return 0, "", err
	}
	return ts, userKey, nil
}

// MetaKey is the reserved key, within the same sorted byte-map as the
// Temporal Index, that holds the matrix's own metadata record (spec §6).
// It can never collide with an encoded Temporal Index key: in an escaped user
// key a 0x00 byte is always followed by 0xFF or 0x00, never by 'M', and it
// sorts before every such key. Full scans of the primary index skip it with
// an exact isMetaKey byte comparison before decoding.
func MetaKey() []byte {
	return []byte{0x00, 'M', 'E', 'T', 'A'}
}

// Metadata is the matrix-level record stored at MetaKey(): keyspace name and
// creation timestamp (spec §3, §6).
type Metadata struct {
	Name              string
	CreationTimestamp int64
}

// EncodeMetadata serializes a Metadata record for storage at MetaKey().
func EncodeMetadata(m Metadata) []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(m.Name)))
	buf := make([]byte, 0, n+len(m.Name)+TimestampSize)
	buf = append(buf, lenBuf[:n]...)
	buf = append(buf, m.Name...)
	var tsBuf [TimestampSize]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(m.CreationTimestamp))
	buf = append(buf, tsBuf[:]...)
	return buf
}

// DecodeMetadata parses a record written by EncodeMetadata.
func DecodeMetadata(b []byte) (Metadata, error) {
	n, nRead := binary.Uvarint(b)
	if nRead <= 0 {
		return Metadata{}, fmt.Errorf("core: malformed metadata record: bad length prefix")
	}
	rest := b[nRead:]
	if uint64(len(rest)) < n+TimestampSize {
		return Metadata{}, fmt.Errorf("core: malformed metadata record: too short")
	}
	name := string(rest[:n])
	ts, err := DecodeTimestamp(rest[n : n+TimestampSize])
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Name: name, CreationTimestamp: ts}, nil
}
