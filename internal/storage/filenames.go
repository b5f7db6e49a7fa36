package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Filename layout inside a database directory:
//
//	CURRENT            -> name of the live manifest, newline terminated
//	MANIFEST-000007    -> version edit log
//	000012.log         -> write-ahead log
//	000013.gtb         -> table file
//	LOCK               -> advisory lock
//	000014.tmp         -> scratch used for atomic CURRENT updates

const (
	tableExt = ".gtb"
	walExt   = ".log"
	tempExt  = ".tmp"
)

// FileName renders a descriptor to its on-disk name.
func FileName(fd FileDesc) string {
	switch fd.Type {
	case TypeManifest:
		return fmt.Sprintf("MANIFEST-%06d", fd.Num)
	case TypeWAL:
		return fmt.Sprintf("%06d%s", fd.Num, walExt)
	case TypeTable:
		return fmt.Sprintf("%06d%s", fd.Num, tableExt)
	case TypeCurrent:
		return "CURRENT"
	case TypeLock:
		return "LOCK"
	case TypeTemp:
		return fmt.Sprintf("%06d%s", fd.Num, tempExt)
	default:
		panic(fmt.Sprintf("storage: filename for unknown type %d", fd.Type))
	}
}

// ParseFileName inverts FileName. ok is false for names the engine does not
// own.
func ParseFileName(name string) (fd FileDesc, ok bool) {
	switch {
	case name == "CURRENT":
		return FileDesc{Type: TypeCurrent}, true
	case name == "LOCK":
		return FileDesc{Type: TypeLock}, true
	case strings.HasPrefix(name, "MANIFEST-"):
		n, err := strconv.ParseUint(name[len("MANIFEST-"):], 10, 64)
		if err != nil {
			return FileDesc{}, false
		}
		return FileDesc{Type: TypeManifest, Num: n}, true
	}
	for _, c := range []struct {
		ext string
		typ ObjectType
	}{
		{walExt, TypeWAL},
		{tableExt, TypeTable},
		{tempExt, TypeTemp},
	} {
		if strings.HasSuffix(name, c.ext) {
			n, err := strconv.ParseUint(strings.TrimSuffix(name, c.ext), 10, 64)
			if err != nil {
				return FileDesc{}, false
			}
			return FileDesc{Type: c.typ, Num: n}, true
		}
	}
	return FileDesc{}, false
}
