package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ipld/go-binarykv/store/types"
)

// readBufferSize is the size of the read buffer used by iterators.
const readBufferSize = 32 * 4096

// NamedReaderAt is a file that entries can be read from, such as an *os.File.
type NamedReaderAt interface {
	io.ReaderAt
	Name() string
}

// entryReader reads consecutive length-prefixed entries from a section of a
// file, keeping track of the position of the next entry.
type entryReader struct {
	reader *bufio.Reader
	name   string
	// pos is the position of the next unread byte.
	pos int64
	// size is the number of bytes in the file when iteration started.
	size int64
	// err is the first error other than io.EOF. Once set, every read returns it.
	err error
}

func newEntryReader(file NamedReaderAt, size int64) entryReader {
	return entryReader{
		reader: bufio.NewReaderSize(io.NewSectionReader(file, 0, size), readBufferSize),
		name:   file.Name(),
		size:   size,
	}
}

// readFull fills buf. Running out of bytes before buf is full is a malformed
// stream.
func (r *entryReader) readFull(buf []byte) error {
	n, err := io.ReadFull(r.reader, buf)
	r.pos += int64(n)
	if err == nil {
		return nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		r.err = types.ErrMalformedStream
	} else {
		r.err = &types.ErrIOFailure{Op: "read", Path: r.name, Err: err}
	}
	return r.err
}

// readSize reads a size prefix. It returns io.EOF if there are no more bytes,
// which is the end of the stream, and the earlier error if a previous read
// failed.
func (r *entryReader) readSize() (types.Size, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.pos == r.size {
		return 0, io.EOF
	}
	sizeBuf := make([]byte, SizePrefix)
	if err := r.readFull(sizeBuf); err != nil {
		return 0, err
	}
	return types.Size(binary.LittleEndian.Uint32(sizeBuf)), nil
}

// readBytes reads size bytes, failing without allocating if the file does not
// have that many bytes left.
func (r *entryReader) readBytes(size types.Size) ([]byte, error) {
	if int64(size) > r.size-r.pos {
		r.err = types.ErrMalformedStream
		return nil, r.err
	}
	buf := make([]byte, size)
	if err := r.readFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// IndexIterator iterates over the entries of an index file.
type IndexIterator struct {
	r entryReader
}

// NewIndexIterator returns an iterator over the first size bytes of an index
// file.
func NewIndexIterator(file NamedReaderAt, size int64) *IndexIterator {
	return &IndexIterator{r: newEntryReader(file, size)}
}

// Next returns the key and data offset of the next entry. The key is nil for
// an entry written without a key. Next returns io.EOF when there are no more
// entries.
func (iter *IndexIterator) Next() ([]byte, types.Position, error) {
	start := iter.r.pos
	keySize, err := iter.r.readSize()
	if err != nil {
		if err == io.EOF {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("cannot read key size of index entry at %d: %w", start, err)
	}

	var key []byte
	if keySize != 0 {
		key, err = iter.r.readBytes(keySize)
		if err != nil {
			return nil, 0, fmt.Errorf("cannot read %d byte key of index entry at %d: %w", keySize, start, err)
		}
	}

	offBuf := make([]byte, OffsetSize)
	if err = iter.r.readFull(offBuf); err != nil {
		return nil, 0, fmt.Errorf("cannot read data offset of index entry at %d: %w", start, err)
	}
	return key, types.Position(binary.LittleEndian.Uint64(offBuf)), nil
}

// DataIterator iterates over the records of a data file.
type DataIterator struct {
	r entryReader
}

// NewDataIterator returns an iterator over the first size bytes of a data
// file.
func NewDataIterator(file NamedReaderAt, size int64) *DataIterator {
	return &DataIterator{r: newEntryReader(file, size)}
}

// Next returns the offset and content of the next record. Next returns io.EOF
// when there are no more records.
func (iter *DataIterator) Next() (types.Position, []byte, error) {
	offset := iter.r.pos
	size, err := iter.r.readSize()
	if err != nil {
		if err == io.EOF {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("cannot read size of record at %d: %w", offset, err)
	}
	record, err := iter.r.readBytes(size)
	if err != nil {
		return 0, nil, fmt.Errorf("cannot read %d byte record at %d: %w", size, offset, err)
	}
	return types.Position(offset), record, nil
}
