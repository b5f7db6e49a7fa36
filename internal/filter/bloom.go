// Package filter provides the default filter policy: a blocked Bloom
// filter whose blocks each fit one CPU cache line, so a membership probe
// touches a single line.
package filter

import (
	"encoding/binary"

	"github.com/gravelhq/graveldb/internal/base"
)

const (
	defaultBitsPerKey = 10
	blockBytes        = 64
	blockBits         = 8 * blockBytes
)

type bloomPolicy struct {
	bitsPerKey int
}

// NewBloomPolicy returns a blocked Bloom filter policy. bitsPerKey <= 0
// selects the default of 10, roughly a 1% false positive rate.
func NewBloomPolicy(bitsPerKey int) base.IFilterPolicy {
	if bitsPerKey <= 0 {
		bitsPerKey = defaultBitsPerKey
	}
	return &bloomPolicy{bitsPerKey: bitsPerKey}
}

func (p *bloomPolicy) Name() string {
	return "graveldb.BlockedBloomFilter"
}

func (p *bloomPolicy) NewWriter() base.IFilterWriter {
	return &bloomWriter{bitsPerKey: p.bitsPerKey}
}

// MayContain probes the encoded filter. The encoding is
// [blocks...][nProbes (1)][nBlocks (4)].
func (p *bloomPolicy) MayContain(filter, key []byte) bool {
	if len(filter) <= 5 {
		return false
	}
	n := len(filter) - 5
	nProbes := filter[n]
	nBlocks := binary.LittleEndian.Uint32(filter[n+1:])
	if nBlocks == 0 || uint32(n) != nBlocks*blockBytes {
		// A filter we did not build; claim membership rather than risk a
		// false negative.
		return true
	}

	h := bloomHash(key)
	delta := h>>17 | h<<15
	blockStart := (h % nBlocks) * blockBits
	for j := byte(0); j < nProbes; j++ {
		bitPos := blockStart + h%blockBits
		if filter[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

type bloomWriter struct {
	bitsPerKey int
	hashes     []uint32
}

func (w *bloomWriter) Add(key []byte) {
	w.hashes = append(w.hashes, bloomHash(key))
}

func (w *bloomWriter) Build(b *[]byte) {
	// One block per cache line, rounded up; an odd block count lets more
	// hash bits participate in block selection.
	nBlocks := (len(w.hashes)*w.bitsPerKey + blockBits - 1) / blockBits
	if nBlocks < 1 {
		nBlocks = 1
	}
	if nBlocks%2 == 0 {
		nBlocks++
	}
	nBytes := nBlocks * blockBytes

	start := len(*b)
	*b = append(*b, make([]byte, nBytes+5)...)
	dst := (*b)[start:]

	nProbes := calculateProbes(w.bitsPerKey)
	for _, h := range w.hashes {
		delta := h>>17 | h<<15
		blockStart := (h % uint32(nBlocks)) * blockBits
		for j := byte(0); j < nProbes; j++ {
			bitPos := blockStart + h%blockBits
			dst[bitPos/8] |= 1 << (bitPos % 8)
			h += delta
		}
	}
	dst[nBytes] = nProbes
	binary.LittleEndian.PutUint32(dst[nBytes+1:], uint32(nBlocks))

	w.hashes = w.hashes[:0]
}

func calculateProbes(bitsPerKey int) byte {
	n := byte(float64(bitsPerKey) * 0.69) // ln(2)
	if n < 1 {
		n = 1
	}
	if n > 30 {
		n = 30
	}
	return n
}

// bloomHash is a murmur-style hash kept stable forever: filters persisted
// in table files are probed by future versions of the code.
func bloomHash(b []byte) uint32 {
	const (
		seed = 0xbc9f1d34
		m    = 0xc6a4a793
	)
	h := uint32(seed) ^ uint32(len(b))*m
	for ; len(b) >= 4; b = b[4:] {
		h += uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		h *= m
		h ^= h >> 16
	}
	switch len(b) {
	case 3:
		h += uint32(b[2]) << 16
		fallthrough
	case 2:
		h += uint32(b[1]) << 8
		fallthrough
	case 1:
		h += uint32(b[0])
		h *= m
		h ^= h >> 24
	}
	return h
}

var _ base.IFilterPolicy = (*bloomPolicy)(nil)
var _ base.IFilterWriter = (*bloomWriter)(nil)
