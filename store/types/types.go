package types

// Position indicates a position in a file
type Position uint64

// Size is the length of a record or key, as stored in its length prefix.
type Size uint32

// Work is a count of bytes written to a buffer but not yet flushed to a file.
type Work uint64

const (
	// SizeBytesLen is the number of bytes used for a length prefix.
	SizeBytesLen = 4
	// OffBytesLen is the number of bytes used for a data offset in an index
	// entry.
	OffBytesLen = 8
)
