package store

import (
	"os"
)

const (
	// defaultBufferSize is the size of the write buffers. It has the same size
	// as the linux pipe size.
	defaultBufferSize = 16 * 4096
	defaultFileMode   = os.FileMode(0o644)
)

type config struct {
	bufferSize  int
	fileMode    os.FileMode
	syncOnClose bool
}

type Option func(*config)

// apply applies the given options to this config.
func (c *config) apply(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// BufferSize is the number of bytes buffered in front of each file while the
// store is open for writing. A size of 0 or less selects the default.
func BufferSize(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// FileMode sets the permissions used when write or append mode creates the
// data and index files.
func FileMode(mode os.FileMode) Option {
	return func(c *config) {
		c.fileMode = mode
	}
}

// SyncOnClose commits both files to stable storage before they are closed.
func SyncOnClose(sync bool) Option {
	return func(c *config) {
		c.syncOnClose = sync
	}
}
