package wal

import (
	"encoding/binary"
	"io"

	"go.uber.org/zap"

	"github.com/gravelhq/graveldb/internal/base"
)

// Reader scans a log file sequentially and reassembles logical records from
// their chunks, verifying every chunk checksum.
//
// In strict mode (normal recovery of the manifest) any framing or checksum
// violation fails the read with ErrCorruption. In lenient mode (best-effort
// WAL replay) the reader drops the damaged chunk, skips to the next block
// boundary and continues. Either way an incompletely written tail, the
// expected shape of a crash mid-write, ends the log without error.
type Reader struct {
	r      io.Reader
	strict bool

	block [BlockSize]byte
	// buf is the unconsumed portion of block.
	buf []byte
	// eof is set once the underlying reader is exhausted; a final partial
	// block is still consumed.
	eof     bool
	dropped int64
}

func NewReader(r io.Reader, strict bool) *Reader {
	return &Reader{r: r, strict: strict}
}

// Dropped returns the number of bytes discarded by lenient-mode recovery.
func (r *Reader) Dropped() int64 {
	return r.dropped
}

// ReadRecord returns the next logical record. It returns io.EOF at the end
// of valid data.
func (r *Reader) ReadRecord() ([]byte, error) {
	var record []byte
	inFragment := false
	for {
		rt, chunk, err := r.readChunk()
		if err == io.EOF {
			if inFragment {
				// A record whose trailing fragments never made it to disk:
				// the tail of a crashed write, not corruption.
				r.dropped += int64(len(record))
				zap.L().Warn("log ends inside a fragmented record",
					zap.Int("partial_bytes", len(record)))
			}
			return nil, io.EOF
		}
		if err != nil {
			if r.strict {
				return nil, err
			}
			// Lenient mode: resynchronize at the next block boundary.
			r.dropped += int64(len(r.buf)) + int64(len(record))
			r.buf = nil
			record = nil
			inFragment = false
			zap.L().Warn("skipping corrupted log chunk", zap.Error(err))
			continue
		}

		switch rt {
		case FullType:
			if inFragment {
				if r.strict {
					return nil, base.CorruptionErrorf("unexpected full chunk inside fragmented record")
				}
				r.dropped += int64(len(record))
				zap.L().Warn("dropping partial record before full chunk")
			}
			// The chunk aliases the block buffer which the next read
			// overwrites; hand back a stable copy.
			return append(record[:0], chunk...), nil
		case FirstType:
			if inFragment {
				if r.strict {
					return nil, base.CorruptionErrorf("unexpected first chunk inside fragmented record")
				}
				r.dropped += int64(len(record))
				zap.L().Warn("dropping partial record before first chunk")
			}
			record = append(record[:0], chunk...)
			inFragment = true
		case MiddleType, LastType:
			if !inFragment {
				if r.strict {
					return nil, base.CorruptionErrorf("orphan continuation chunk of type %d", rt)
				}
				r.dropped += int64(len(chunk))
				zap.L().Warn("dropping orphan continuation chunk")
				continue
			}
			record = append(record, chunk...)
			if rt == LastType {
				return record, nil
			}
		default:
			if r.strict {
				return nil, base.CorruptionErrorf("unknown chunk type %d", rt)
			}
			r.dropped += int64(len(chunk))
			zap.L().Warn("dropping chunk of unknown type", zap.Uint8("type", byte(rt)))
		}
	}
}

// readChunk returns the next chunk in the file. io.EOF means clean end of
// data; any other error is a framing/checksum violation scoped to the
// current block.
func (r *Reader) readChunk() (RecordType, []byte, error) {
	for len(r.buf) < headerSize {
		// The remainder of the block is padding (or a truncated tail).
		if r.eof {
			return 0, nil, io.EOF
		}
		if err := r.fillBlock(); err != nil {
			return 0, nil, err
		}
	}

	checksum := binary.LittleEndian.Uint32(r.buf[0:4])
	length := int(binary.LittleEndian.Uint16(r.buf[4:6]))
	rt := RecordType(r.buf[6])

	if rt == zeroType && length == 0 && checksum == 0 {
		// Block tail padding.
		r.buf = nil
		continueHere := r.eof
		if continueHere {
			return 0, nil, io.EOF
		}
		return r.readChunk()
	}

	if headerSize+length > len(r.buf) {
		if r.eof {
			// Header promised more payload than the file holds: a chunk cut
			// off by a crash.
			r.buf = nil
			return 0, nil, io.EOF
		}
		return 0, nil, base.CorruptionErrorf("chunk length %d overflows block", length)
	}

	payload := r.buf[headerSize : headerSize+length]
	if base.Checksum(payload, byte(rt)) != checksum {
		if r.eof && len(r.buf) == headerSize+length {
			// The final chunk of the file with a bad sum is the torn tail of
			// a crashed write.
			r.buf = nil
			return 0, nil, io.EOF
		}
		return 0, nil, base.CorruptionErrorf("chunk checksum mismatch")
	}

	r.buf = r.buf[headerSize+length:]
	return rt, payload, nil
}

func (r *Reader) fillBlock() error {
	n, err := io.ReadFull(r.r, r.block[:])
	switch err {
	case nil:
	case io.ErrUnexpectedEOF, io.EOF:
		r.eof = true
	default:
		return err
	}
	r.buf = r.block[:n]
	if n == 0 {
		return nil
	}
	return nil
}
