package core

// PayloadKind tags a stored entry's value as either a live payload or a
// tombstone. It is the wire-level tag byte from spec §4.1: the two values
// are reserved permanently, future extensions must take new tag values.
type PayloadKind byte

const (
	// Tombstone marks a deletion. Carries no payload bytes.
	Tombstone PayloadKind = 0x00
	// Value marks a live payload.
	Value PayloadKind = 0x01
)

func (k PayloadKind) String() string {
	switch k {
	case Tombstone:
		return "tombstone"
	case Value:
		return "value"
	default:
		return "unknown"
	}
}

// Entry is a single stored (user_key, timestamp, payload|tombstone) triple.
type Entry struct {
	UserKey   string
	Timestamp int64
	Kind      PayloadKind
	Payload   []byte
}

// IsTombstone reports whether the entry represents a deletion.
func (e Entry) IsTombstone() bool {
	return e.Kind == Tombstone
}

// NewValueEntry builds a live-value entry.
func NewValueEntry(userKey string, ts int64, payload []byte) Entry {
	return Entry{UserKey: userKey, Timestamp: ts, Kind: Value, Payload: payload}
}

// NewTombstoneEntry builds a deletion entry.
func NewTombstoneEntry(userKey string, ts int64) Entry {
	return Entry{UserKey: userKey, Timestamp: ts, Kind: Tombstone}
}
