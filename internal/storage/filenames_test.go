package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileNameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		fd   FileDesc
		want string
	}{
		{name: "manifest", fd: FileDesc{Type: TypeManifest, Num: 7}, want: "MANIFEST-000007"},
		{name: "wal", fd: FileDesc{Type: TypeWAL, Num: 12}, want: "000012.log"},
		{name: "table", fd: FileDesc{Type: TypeTable, Num: 13}, want: "000013.gtb"},
		{name: "current", fd: FileDesc{Type: TypeCurrent}, want: "CURRENT"},
		{name: "lock", fd: FileDesc{Type: TypeLock}, want: "LOCK"},
		{name: "temp", fd: FileDesc{Type: TypeTemp, Num: 14}, want: "000014.tmp"},
		{name: "wide number", fd: FileDesc{Type: TypeTable, Num: 12345678}, want: "12345678.gtb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := FileName(tt.fd)
			assert.Equal(t, tt.want, name)

			fd, ok := ParseFileName(name)
			require.True(t, ok)
			assert.Equal(t, tt.fd, fd)
		})
	}
}

func TestParseFileNameRejectsForeign(t *testing.T) {
	for _, name := range []string{
		"",
		"README.md",
		"000012.sst",
		"notanumber.log",
		"MANIFEST-",
		"MANIFEST-xyz",
		"current",
	} {
		t.Run(name, func(t *testing.T) {
			_, ok := ParseFileName(name)
			assert.False(t, ok)
		})
	}
}
