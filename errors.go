package openhash

import (
	"github.com/cockroachdb/errors"
)

// Error kinds surfaced by this package. Callers test them with errors.Is;
// every returned error wraps exactly one of these.
var (
	// ErrIO reports a file open, create or stat failure.
	ErrIO = errors.New("i/o failure")

	// ErrMapping reports a failed memory mapping call. It is distinct from
	// ErrIO so mapping failure can be injected and tested independently.
	ErrMapping = errors.New("memory map failed")

	// ErrReadOnly reports a mutating call on a mapped table.
	ErrReadOnly = errors.New("table is mapped read only")

	// ErrKeyNotFound reports an indexed read of an absent or erased key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidCopy reports an attempt to clone a mapped table, which
	// would alias the mapping.
	ErrInvalidCopy = errors.New("cannot copy a mapped table")
)

func ioError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrIO)
}

func mappingError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrMapping)
}
