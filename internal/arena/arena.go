// Package arena provides a chunked bump allocator. Memory is handed out in
// append-only fashion and reclaimed in bulk when the arena is released,
// never per allocation. Exactly one goroutine may allocate; previously
// returned slices stay valid and immutable for concurrent readers.
package arena

const minChunkSize = 4096

// Arena is a bump allocator over a list of chunks.
type Arena struct {
	chunks    [][]byte
	cur       []byte
	chunkSize int
	size      int64
}

// New returns an arena that grows in chunks of at least chunkSize bytes.
func New(chunkSize int) *Arena {
	if chunkSize < minChunkSize {
		chunkSize = minChunkSize
	}
	return &Arena{chunkSize: chunkSize}
}

// Alloc returns an uninitialized slice of n bytes carved from the arena.
func (a *Arena) Alloc(n int) []byte {
	if n > len(a.cur) {
		a.grow(n)
	}
	b := a.cur[:n:n]
	a.cur = a.cur[n:]
	a.size += int64(n)
	return b
}

func (a *Arena) grow(n int) {
	sz := a.chunkSize
	if n > sz {
		// Oversized allocations get a dedicated chunk so the common chunk
		// size keeps serving small entries.
		sz = n
	}
	c := make([]byte, sz)
	a.chunks = append(a.chunks, c)
	a.cur = c
}

// Size returns the number of bytes handed out so far. Chunk slack is not
// counted; the memtable uses this as its flush trigger so the figure must
// track entry payload, not reservation.
func (a *Arena) Size() int64 {
	return a.size
}

// Release drops every chunk at once. The arena must not be used afterwards
// and no reader may still hold slices into it.
func (a *Arena) Release() {
	a.chunks = nil
	a.cur = nil
	a.size = 0
}
