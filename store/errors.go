package store

import "github.com/ipld/go-binarykv/store/types"

const (
	ErrNotOpenForWrite = types.ErrNotOpenForWrite
	ErrNotOpenForRead  = types.ErrNotOpenForRead
	ErrMalformedStream = types.ErrMalformedStream
	ErrOutOfBounds     = types.ErrOutOfBounds
	ErrTooLarge        = types.ErrTooLarge
)

type ErrInvalidMode = types.ErrInvalidMode

type ErrIOFailure = types.ErrIOFailure
