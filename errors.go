package graveldb

import "github.com/gravelhq/graveldb/internal/base"

// Errors returned by the public API. Classify with errors.Is.
var (
	ErrNotFound        = base.ErrNotFound
	ErrCorruption      = base.ErrCorruption
	ErrInvalidArgument = base.ErrInvalidArgument
	ErrNotSupported    = base.ErrNotSupported
	ErrClosed          = base.ErrClosed
	ErrReadOnly        = base.ErrReadOnly
	ErrExists          = base.ErrExists
)
