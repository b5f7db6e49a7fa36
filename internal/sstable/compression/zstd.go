package compression

import (
	"encoding/binary"
	"fmt"

	"github.com/DataDog/zstd"
)

const zstdLevel = 3

// zstdCompressor prefixes the zstd frame with a uvarint of the decompressed
// length, so DecompressedLen never has to parse the frame header.
type zstdCompressor struct{}

func (zstdCompressor) GetType() Type { return Zstd }

func (zstdCompressor) Compress(dst, src []byte) []byte {
	dst = dst[:0]
	dst = binary.AppendUvarint(dst, uint64(len(src)))
	prefixLen := len(dst)

	bound := zstd.CompressBound(len(src))
	if cap(dst) < prefixLen+bound {
		grown := make([]byte, prefixLen, prefixLen+bound)
		copy(grown, dst)
		dst = grown
	}
	result, err := zstd.CompressLevel(dst[prefixLen:prefixLen+bound], src, zstdLevel)
	if err != nil {
		// CompressLevel only fails on unusable parameters; the level is a
		// constant, so surface loudly.
		panic(fmt.Sprintf("zstd compress: %v", err))
	}
	return dst[:prefixLen+len(result)]
}

func (zstdCompressor) DecompressedLen(b []byte) (int, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, fmt.Errorf("zstd: truncated length prefix")
	}
	return int(v), nil
}

func (zstdCompressor) Decompress(buf, compressed []byte) error {
	_, n := binary.Uvarint(compressed)
	if n <= 0 {
		return fmt.Errorf("zstd: truncated length prefix")
	}
	res, err := zstd.Decompress(buf, compressed[n:])
	if err != nil {
		return err
	}
	if len(res) != len(buf) {
		return fmt.Errorf("zstd: decompressed %d bytes, want %d", len(res), len(buf))
	}
	copy(buf, res)
	return nil
}

var _ ICompression = zstdCompressor{}
