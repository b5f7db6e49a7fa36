// Package encoding holds the primitive codecs shared by every on-disk
// structure: fixed-width little-endian integers, unsigned varints and
// length-prefixed byte strings.
package encoding

import "encoding/binary"

// PutFixed32 appends v to dst in little-endian order.
func PutFixed32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

// PutFixed64 appends v to dst in little-endian order.
func PutFixed64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func Fixed32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func Fixed64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// PutUvarint appends the varint encoding of v (7 bits per byte, high bit as
// the continuation marker) to dst.
func PutUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// Uvarint decodes a varint from the front of b. It returns the value and the
// number of bytes consumed; n <= 0 means b does not hold a complete varint.
func Uvarint(b []byte) (uint64, int) {
	return binary.Uvarint(b)
}

// PutBytes appends a length-prefixed copy of s to dst.
func PutBytes(dst, s []byte) []byte {
	dst = PutUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// GetBytes decodes a length-prefixed byte string from the front of b and
// returns it along with the remainder of b. ok is false when b is truncated.
func GetBytes(b []byte) (s, rest []byte, ok bool) {
	v, n := binary.Uvarint(b)
	if n <= 0 || uint64(len(b)-n) < v {
		return nil, b, false
	}
	return b[n : n+int(v) : n+int(v)], b[n+int(v):], true
}

// GetUvarint is the rest-returning variant of Uvarint used by record
// decoders that consume a buffer front to back.
func GetUvarint(b []byte) (v uint64, rest []byte, ok bool) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, b, false
	}
	return v, b[n:], true
}
