package wal

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravelhq/graveldb/internal/base"
)

func writeRecords(t *testing.T, records ...[]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	for _, rec := range records {
		require.NoError(t, w.AddRecord(rec))
	}
	return &buf
}

func readAll(r *Reader) ([][]byte, error) {
	var records [][]byte
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, append([]byte(nil), rec...))
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		records [][]byte
	}{
		{
			name:    "single small record",
			records: [][]byte{[]byte("hello")},
		},
		{
			name:    "several records",
			records: [][]byte{[]byte("one"), []byte("two"), []byte("three")},
		},
		{
			name:    "empty record",
			records: [][]byte{{}},
		},
		{
			name:    "record filling most of a block",
			records: [][]byte{bytes.Repeat([]byte("x"), BlockSize-headerSize)},
		},
		{
			name: "record spanning several blocks",
			records: [][]byte{
				bytes.Repeat([]byte("y"), 3*BlockSize+100),
				[]byte("after the big one"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := writeRecords(t, tt.records...)
			got, err := readAll(NewReader(bytes.NewReader(buf.Bytes()), true))
			require.NoError(t, err)
			require.Len(t, got, len(tt.records))
			for i := range tt.records {
				assert.Equal(t, tt.records[i], got[i], "record %d", i)
			}
		})
	}
}

func TestManyRecordsAcrossBlockBoundaries(t *testing.T) {
	var records [][]byte
	for i := 0; i < 50; i++ {
		records = append(records, bytes.Repeat([]byte{byte(i)}, 1000+i*37))
	}
	buf := writeRecords(t, records...)
	got, err := readAll(NewReader(bytes.NewReader(buf.Bytes()), true))
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestTruncatedTailIsCleanEOF(t *testing.T) {
	buf := writeRecords(t, []byte("complete"), bytes.Repeat([]byte("z"), 5000))
	raw := buf.Bytes()

	// Chop inside the second record's payload: the shape of a crash mid
	// write. Both modes treat it as end of log.
	for _, strict := range []bool{true, false} {
		truncated := raw[:len(raw)-3000]
		got, err := readAll(NewReader(bytes.NewReader(truncated), strict))
		require.NoError(t, err, "strict=%v", strict)
		require.Len(t, got, 1, "strict=%v", strict)
		assert.Equal(t, "complete", string(got[0]))
	}
}

func TestTrailingGarbageBytes(t *testing.T) {
	buf := writeRecords(t, []byte("alpha"), []byte("beta"))
	raw := append(buf.Bytes(), 0x01, 0x02, 0x03, 0x04, 0x05)

	// Five stray bytes cannot hold a chunk header; replay ends cleanly.
	got, err := readAll(NewReader(bytes.NewReader(raw), false))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", string(got[0]))
	assert.Equal(t, "beta", string(got[1]))
}

func TestCorruptChunkStrictVsLenient(t *testing.T) {
	buf := writeRecords(t, []byte("first"), []byte("second"))
	raw := buf.Bytes()
	// Flip a payload byte of the first record; its checksum no longer
	// matches and a second chunk follows, so this is not a torn tail.
	raw[headerSize] ^= 0xff

	_, err := readAll(NewReader(bytes.NewReader(raw), true))
	assert.ErrorIs(t, err, base.ErrCorruption)

	// Lenient mode drops the rest of the damaged block.
	r := NewReader(bytes.NewReader(raw), false)
	got, err := readAll(r)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Positive(t, r.Dropped())
}

func TestRecordAfterCorruptedBlock(t *testing.T) {
	// Block 0 carries a record that gets corrupted; a later record sits
	// entirely in block 1 and must survive lenient recovery.
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	require.NoError(t, w.AddRecord([]byte("victim")))
	require.NoError(t, w.AddRecord(bytes.Repeat([]byte("f"), BlockSize)))
	require.NoError(t, w.AddRecord([]byte("survivor")))

	raw := buf.Bytes()
	raw[headerSize] ^= 0xff

	r := NewReader(bytes.NewReader(raw), false)
	var got [][]byte
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, append([]byte(nil), rec...))
	}
	require.Len(t, got, 1)
	assert.Equal(t, "survivor", string(got[0]))
	assert.Positive(t, r.Dropped())
}

func TestWriterResumesMidBlock(t *testing.T) {
	buf := writeRecords(t, []byte("before reopen"))

	// Reopening for append hands the writer the current offset so block
	// accounting stays aligned.
	w := NewWriter(buf, int64(buf.Len()))
	require.NoError(t, w.AddRecord([]byte("after reopen")))

	got, err := readAll(NewReader(bytes.NewReader(buf.Bytes()), true))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "before reopen", string(got[0]))
	assert.Equal(t, "after reopen", string(got[1]))
}
