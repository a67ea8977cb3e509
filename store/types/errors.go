package types

import "fmt"

type errorType string

func (e errorType) Error() string {
	return string(e)
}

// ErrNotOpenForWrite is returned when writing to a store that is not open in
// write or append mode.
const ErrNotOpenForWrite = errorType("store not open for writing")

// ErrNotOpenForRead is returned when reading or scanning a store that is not
// open in read mode.
const ErrNotOpenForRead = errorType("store not open for reading")

// ErrMalformedStream indicates that a length prefix declared more bytes than
// remain in the file.
const ErrMalformedStream = errorType("malformed stream: entry truncated")

// ErrOutOfBounds indicates that a read offset is at or past the end of the
// data file.
const ErrOutOfBounds = errorType("offset is out of bounds")

// ErrInvalidMode is returned when a store is opened with an unknown mode.
type ErrInvalidMode struct {
	Mode string
}

func (e ErrInvalidMode) Error() string {
	return fmt.Sprintf("invalid mode %q: must be 'r' for reading, 'w' for writing, or 'a' for appending", e.Mode)
}

// ErrIOFailure wraps a file-system failure with the operation and file that
// caused it.
type ErrIOFailure struct {
	Op   string
	Path string
	Err  error
}

func (e *ErrIOFailure) Error() string {
	return fmt.Sprintf("cannot %s %s: %s", e.Op, e.Path, e.Err)
}

func (e *ErrIOFailure) Unwrap() error {
	return e.Err
}

// ErrTooLarge is returned when a key or record is longer than its 4-byte
// length prefix can describe.
const ErrTooLarge = errorType("key or record too large for 32-bit length prefix")
