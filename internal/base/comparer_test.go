package base

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytewiseCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want int
	}{
		{name: "equal", a: []byte("key"), b: []byte("key"), want: 0},
		{name: "a < b", a: []byte("apple"), b: []byte("banana"), want: -1},
		{name: "a > b", a: []byte("zebra"), b: []byte("apple"), want: 1},
		{name: "prefix sorts first", a: []byte("foo"), b: []byte("foobar"), want: -1},
		{name: "empty keys", a: nil, b: nil, want: 0},
	}
	cmp := NewComparer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cmp.Compare(tt.a, tt.b))
			assert.Equal(t, bytes.Compare(tt.a, tt.b), cmp.Compare(tt.a, tt.b))
		})
	}
}

func TestBytewiseSeparator(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want []byte
	}{
		{name: "shortens shared prefix", a: []byte("black"), b: []byte("blue"), want: []byte("blb")},
		{name: "no shared prefix", a: []byte("green"), b: []byte("yellow"), want: []byte("h")},
		{name: "a is prefix of b", a: []byte("blue"), b: []byte("bluesky"), want: []byte("blue")},
		{name: "equal keys", a: []byte("same"), b: []byte("same"), want: []byte("same")},
		{name: "adjacent bytes", a: []byte("b"), b: []byte("c"), want: []byte("b")},
	}
	cmp := NewComparer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sep := cmp.Separator(nil, tt.a, tt.b)
			assert.Equal(t, tt.want, sep)
			// The contract matters more than the exact bytes.
			assert.LessOrEqual(t, cmp.Compare(tt.a, sep), 0)
			if cmp.Compare(tt.a, tt.b) < 0 {
				assert.Negative(t, cmp.Compare(sep, tt.b))
			}
		})
	}
}

func TestBytewiseSuccessor(t *testing.T) {
	cmp := NewComparer()

	succ := cmp.Successor(nil, []byte("apple"))
	assert.Equal(t, []byte("b"), succ)

	allFF := []byte{0xff, 0xff}
	succ = cmp.Successor(nil, allFF)
	assert.Equal(t, allFF, succ)

	succ = cmp.Successor(nil, []byte{0xff, 0x01, 0xff})
	assert.Equal(t, []byte{0xff, 0x02}, succ)
	assert.GreaterOrEqual(t, cmp.Compare(succ, []byte{0xff, 0x01, 0xff}), 0)
}

func TestInternalKeyTrailer(t *testing.T) {
	k := MakeKey([]byte("user"), 42, KeyKindSet)
	assert.Equal(t, SeqNum(42), k.SeqNum())
	assert.Equal(t, KeyKindSet, k.Kind())
	assert.Equal(t, 12, k.Size())
}

func TestInternalKeySerializeRoundTrip(t *testing.T) {
	k := MakeKey([]byte("roundtrip"), MaxSeqNum, KeyKindDelete)
	got := DeserializeKey(k.Serialize())
	assert.Equal(t, k.UserKey, got.UserKey)
	assert.Equal(t, k.Trailer, got.Trailer)
}

func TestDeserializeKeyTooShort(t *testing.T) {
	got := DeserializeKey([]byte("short"))
	assert.Equal(t, KeyKindUnknown, got.Kind())
	assert.Empty(t, got.UserKey)
}

func TestInternalCompareOrdering(t *testing.T) {
	icmp := NewInternalComparer(NewComparer())
	tests := []struct {
		name string
		a, b InternalKey
		want int
	}{
		{
			name: "user key dominates",
			a:    MakeKey([]byte("a"), 1, KeyKindSet),
			b:    MakeKey([]byte("b"), 100, KeyKindSet),
			want: -1,
		},
		{
			name: "newer sequence sorts first",
			a:    MakeKey([]byte("k"), 9, KeyKindSet),
			b:    MakeKey([]byte("k"), 3, KeyKindSet),
			want: -1,
		},
		{
			name: "older sequence sorts last",
			a:    MakeKey([]byte("k"), 3, KeyKindSet),
			b:    MakeKey([]byte("k"), 9, KeyKindDelete),
			want: 1,
		},
		{
			name: "identical",
			a:    MakeKey([]byte("k"), 5, KeyKindSet),
			b:    MakeKey([]byte("k"), 5, KeyKindSet),
			want: 0,
		},
		{
			name: "set sorts before delete at equal sequence",
			a:    MakeKey([]byte("k"), 5, KeyKindSet),
			b:    MakeKey([]byte("k"), 5, KeyKindDelete),
			want: -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, icmp.CompareKey(tt.a, tt.b))
			assert.Equal(t, tt.want, icmp.Compare(tt.a.Serialize(), tt.b.Serialize()))
		})
	}
}

func TestSeekKeySortsBeforeVisibleEntries(t *testing.T) {
	icmp := NewInternalComparer(NewComparer())
	seek := MakeSeekKey([]byte("k"), 10)

	// Entries at or below the snapshot follow the seek key.
	require.Negative(t, icmp.CompareKey(seek, MakeKey([]byte("k"), 9, KeyKindSet)))
	require.Negative(t, icmp.CompareKey(seek, MakeKey([]byte("k"), 10, KeyKindDelete)))
	// Entries above the snapshot precede it.
	require.Positive(t, icmp.CompareKey(seek, MakeKey([]byte("k"), 11, KeyKindSet)))
}

func TestInternalSeparatorKeepsOrdering(t *testing.T) {
	icmp := NewInternalComparer(NewComparer())
	a := MakeKey([]byte("black"), 7, KeyKindSet)
	b := MakeKey([]byte("blue"), 3, KeyKindSet)

	sep := icmp.Separator(a, b)
	assert.LessOrEqual(t, icmp.CompareKey(a, sep), 0)
	assert.Negative(t, icmp.CompareKey(sep, b))
	// A shortened separator must still sort before every later entry of
	// its own user key.
	assert.Equal(t, MaxSeqNum, sep.SeqNum())
}
