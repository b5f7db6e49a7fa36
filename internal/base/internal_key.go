package base

import "encoding/binary"

// KeyKind enumerates the kind of an entry: a deletion tombstone or a set
// value.
type KeyKind byte

const (
	KeyKindUnknown KeyKind = iota
	KeyKindDelete
	KeyKindSet

	// KeyKindMax is the kind used when building seek keys. Among entries
	// with an equal user key and sequence number it sorts before every
	// other kind under the descending trailer order.
	KeyKindMax = KeyKindSet
)

func (k KeyKind) String() string {
	switch k {
	case KeyKindDelete:
		return "DEL"
	case KeyKindSet:
		return "SET"
	default:
		return "UNKNOWN"
	}
}

// SeqNum is a sequence number defining precedence among entries of the same
// user key. A key with a higher sequence number takes precedence over an
// equal user key with a lower sequence number. Sequence numbers are never
// reused, which makes the internal key order injective on (user key, seq).
type SeqNum uint64

// MaxSeqNum is the largest representable sequence number: the trailer
// reserves the low byte for the kind.
const MaxSeqNum SeqNum = 1<<56 - 1

// InternalKeyTrailer packs [SeqNum (7 bytes) | KeyKind (1 byte)].
type InternalKeyTrailer uint64

const InternalKeyTrailerLen = 8

func MakeTrailer(num SeqNum, kind KeyKind) InternalKeyTrailer {
	return InternalKeyTrailer(uint64(num)<<8 | uint64(kind))
}

// InternalKey is a user key plus a trailer. Because the LSM never updates a
// key in place, every write produces a new internal key; the trailer
// disambiguates versions of the same user key.
//
//	+-------------+------------+----------+
//	| UserKey (N) | SeqNum (7) | Kind (1) |
//	+-------------+------------+----------+
type InternalKey struct {
	UserKey []byte
	Trailer InternalKeyTrailer
}

func MakeKey(userKey []byte, num SeqNum, kind KeyKind) InternalKey {
	return InternalKey{UserKey: userKey, Trailer: MakeTrailer(num, kind)}
}

// MakeSeekKey builds the key a reader positions at when it wants the newest
// entry of userKey visible at snapshot seq.
func MakeSeekKey(userKey []byte, seq SeqNum) InternalKey {
	return MakeKey(userKey, seq, KeyKindMax)
}

func (k InternalKey) SeqNum() SeqNum {
	return SeqNum(k.Trailer >> 8)
}

func (k InternalKey) Kind() KeyKind {
	return KeyKind(k.Trailer & 0xff)
}

func (k InternalKey) Size() int {
	return len(k.UserKey) + InternalKeyTrailerLen
}

// SerializeTo writes the key into buf. The caller must ensure buf holds at
// least k.Size() bytes.
func (k InternalKey) SerializeTo(buf []byte) {
	i := copy(buf, k.UserKey)
	binary.LittleEndian.PutUint64(buf[i:], uint64(k.Trailer))
}

func (k InternalKey) Serialize() []byte {
	buf := make([]byte, k.Size())
	k.SerializeTo(buf)
	return buf
}

// Clone copies the user key so the result stays valid after the buffer
// backing k is reused.
func (k InternalKey) Clone() InternalKey {
	return InternalKey{
		UserKey: append([]byte(nil), k.UserKey...),
		Trailer: k.Trailer,
	}
}

func DeserializeKey(key []byte) InternalKey {
	n := len(key) - InternalKeyTrailerLen
	if n < 0 {
		return InternalKey{Trailer: InternalKeyTrailer(KeyKindUnknown)}
	}
	return InternalKey{
		UserKey: key[:n:n],
		Trailer: InternalKeyTrailer(binary.LittleEndian.Uint64(key[n:])),
	}
}

// InternalKV is an internal key and its value. Deletion tombstones carry an
// empty value.
type InternalKV struct {
	K InternalKey
	V []byte
}
