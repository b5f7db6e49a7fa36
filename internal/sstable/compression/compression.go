// Package compression provides the pluggable per-block compressors for
// table files. The compressed payload of a block is self-describing enough
// to be reversed given the one-byte type tag stored in the block trailer.
package compression

import "fmt"

// Type is the per-block compression algorithm. The value is persisted in
// every block trailer and must never be renumbered.
type Type byte

const (
	None Type = iota
	Snappy
	Zstd
)

// ICompression compresses and decompresses single blocks.
type ICompression interface {
	GetType() Type

	// Compress appends the compressed form of src to dst[:0] and returns
	// the result.
	Compress(dst, src []byte) []byte

	// DecompressedLen reports the decoded size of b.
	DecompressedLen(b []byte) (int, error)

	// Decompress fills buf (of exactly DecompressedLen) from compressed.
	Decompress(buf, compressed []byte) error
}

// ByType returns the compressor for a trailer tag.
func ByType(t Type) (ICompression, error) {
	switch t {
	case None:
		return noneCompressor{}, nil
	case Snappy:
		return snappyCompressor{}, nil
	case Zstd:
		return zstdCompressor{}, nil
	default:
		return nil, fmt.Errorf("compression: unknown type %d", t)
	}
}

type noneCompressor struct{}

func (noneCompressor) GetType() Type { return None }

func (noneCompressor) Compress(dst, src []byte) []byte {
	return append(dst[:0], src...)
}

func (noneCompressor) DecompressedLen(b []byte) (int, error) {
	return len(b), nil
}

func (noneCompressor) Decompress(buf, compressed []byte) error {
	copy(buf, compressed)
	return nil
}

var _ ICompression = noneCompressor{}
