package base

import "hash/crc32"

// Checksum computes the checksum of block followed by one auxiliary byte.
// The auxiliary byte lets callers fold a type tag (compression kind, record
// type) into the sum without copying.
func Checksum(block []byte, auxiliary byte) uint32 {
	c := crc32.ChecksumIEEE(block)
	var aux [1]byte
	aux[0] = auxiliary
	return crc32.Update(c, crc32.IEEETable, aux[:])
}
