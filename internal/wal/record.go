// Package wal implements the append-only record log shared by the
// write-ahead log and the manifest.
//
// A log file is a sequence of 32 KiB physical blocks. Each record is stored
// as one or more chunks; a chunk never spans a block boundary. Chunk layout:
//
//	+----------------+---------------+-----------+----------------+
//	| checksum (4 B) | length (2 B)  | type (1B) | payload (len)  |
//	+----------------+---------------+-----------+----------------+
//
// The type tag says whether the chunk carries a whole record (Full) or the
// First, Middle or Last fragment of one. A block tail shorter than the
// 7-byte header is zero-padded and skipped by readers.
package wal

import "errors"

// RecordType tags a chunk's position within its logical record.
type RecordType byte

const (
	// zeroType marks header padding at the tail of a block.
	zeroType RecordType = iota
	FullType
	FirstType
	MiddleType
	LastType
)

const (
	// BlockSize is the physical block size of a log file.
	BlockSize = 32 * 1024
	// headerSize is checksum (4) + length (2) + type (1).
	headerSize = 7
)

var (
	// ErrDataTooLarge reports a single chunk payload exceeding a block,
	// which the framing cannot express.
	ErrDataTooLarge = errors.New("wal: data is too large")
)
