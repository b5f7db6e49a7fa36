package base

import "bytes"

// IComparer defines a total ordering over the space of []byte user keys.
type IComparer interface {
	// Compare returns -1, 0, or +1 depending on whether a is 'less than',
	// 'equal to' or 'greater than' b.
	Compare(a, b []byte) int

	// Separator appends a sequence of bytes x to dst such that a <= x && x < b,
	// where 'less than' is consistent with Compare. Used by the table builder
	// to shorten index keys.
	Separator(dst, a, b []byte) []byte

	// Successor appends a sequence of bytes x to dst such that x >= b, where
	// 'less than' is consistent with Compare.
	Successor(dst, b []byte) []byte

	// Name identifies the comparer. A database persists the name in its
	// manifest and refuses to reopen under a comparer with a different name.
	Name() string
}

type bytewiseComparer struct{}

func (c bytewiseComparer) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

func (c bytewiseComparer) Separator(dst, a, b []byte) []byte {
	var prefixLen int
	n := min(len(a), len(b))
	for prefixLen = 0; prefixLen < n && a[prefixLen] == b[prefixLen]; prefixLen++ {
	}
	if prefixLen >= n || a[prefixLen] >= b[prefixLen] {
		// One key is a prefix of the other, or b is smaller; keep a intact.
		return append(dst, a...)
	}
	if a[prefixLen]+1 < b[prefixLen] {
		dst = append(dst, a[:prefixLen+1]...)
		dst[len(dst)-1]++
		return dst
	}
	// a[prefixLen]+1 == b[prefixLen], so bumping the first later byte that
	// is not 0xff still yields a key < b.
	for prefixLen++; prefixLen < len(a); prefixLen++ {
		if a[prefixLen] != 0xff {
			dst = append(dst, a[:prefixLen+1]...)
			dst[len(dst)-1]++
			return dst
		}
	}
	return append(dst, a...)
}

func (c bytewiseComparer) Successor(dst, b []byte) []byte {
	for i, v := range b {
		if v < 0xff {
			dst = append(dst, b[:i+1]...)
			dst[len(dst)-1]++
			return dst
		}
	}
	// b is all 0xff bytes; no shorter successor exists.
	return append(dst, b...)
}

func (c bytewiseComparer) Name() string {
	return "graveldb.BytewiseComparer"
}

// NewComparer returns the default bytewise comparer.
func NewComparer() IComparer {
	return bytewiseComparer{}
}

var _ IComparer = bytewiseComparer{}

// InternalComparer orders serialized internal keys: by user key ascending
// per the wrapped comparer, ties broken by descending trailer so the newest
// write of a user key sorts first.
type InternalComparer struct {
	UserCmp IComparer
}

func NewInternalComparer(ucmp IComparer) *InternalComparer {
	return &InternalComparer{UserCmp: ucmp}
}

func (c *InternalComparer) CompareKey(a, b InternalKey) int {
	if v := c.UserCmp.Compare(a.UserKey, b.UserKey); v != 0 {
		return v
	}
	switch {
	case a.Trailer > b.Trailer:
		return -1
	case a.Trailer < b.Trailer:
		return 1
	default:
		return 0
	}
}

// Compare orders two serialized internal keys.
func (c *InternalComparer) Compare(a, b []byte) int {
	return c.CompareKey(DeserializeKey(a), DeserializeKey(b))
}

// Separator computes an index key x with a <= x < b. When the user keys can
// be shortened the result carries the maximal trailer, which keeps x below
// every real entry of the shortened user key.
func (c *InternalComparer) Separator(a, b InternalKey) InternalKey {
	sep := c.UserCmp.Separator(nil, a.UserKey, b.UserKey)
	if len(sep) < len(a.UserKey) && c.UserCmp.Compare(a.UserKey, sep) < 0 {
		return MakeKey(sep, MaxSeqNum, KeyKindMax)
	}
	return InternalKey{UserKey: sep, Trailer: a.Trailer}
}

// Successor computes an index key x >= a used for the final index entry.
func (c *InternalComparer) Successor(a InternalKey) InternalKey {
	succ := c.UserCmp.Successor(nil, a.UserKey)
	if len(succ) < len(a.UserKey) && c.UserCmp.Compare(a.UserKey, succ) < 0 {
		return MakeKey(succ, MaxSeqNum, KeyKindMax)
	}
	return InternalKey{UserKey: succ, Trailer: a.Trailer}
}
