package base

import (
	"errors"
	"fmt"
)

// The engine-wide error taxonomy. Callers classify with errors.Is; wrapped
// context is added with fmt.Errorf("%w: ...").
var (
	// ErrNotFound reports a lookup miss. It is a valid result, not a
	// failure.
	ErrNotFound = errors.New("graveldb: not found")

	// ErrCorruption reports a checksum or format violation in a log or
	// table. It is fatal to the affected read and never silently masked.
	ErrCorruption = errors.New("graveldb: corruption")

	// ErrInvalidArgument reports caller misuse, e.g. reopening a database
	// under a different comparer.
	ErrInvalidArgument = errors.New("graveldb: invalid argument")

	// ErrNotSupported reports an operation outside the engine's contract.
	ErrNotSupported = errors.New("graveldb: not supported")

	// ErrClosed reports use of a closed database or iterator.
	ErrClosed = errors.New("graveldb: closed")

	// ErrReadOnly reports a write rejected because a background flush or
	// compaction failed; losing the flush silently would break durability,
	// so the database refuses further writes until reopened.
	ErrReadOnly = errors.New("graveldb: background error, database is read-only")

	// ErrExists reports an Open with ErrorIfExists on an existing database.
	ErrExists = errors.New("graveldb: database already exists")
)

// CorruptionErrorf builds an ErrCorruption with formatted context.
func CorruptionErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruption, fmt.Sprintf(format, args...))
}
