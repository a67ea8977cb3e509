package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/ipld/go-binarykv/store/types"
	"go.uber.org/multierr"
)

/* A pair of append-only files sharing a filename stem.

The data file, `<stem>.bin`, is a sequence of records:

```text
    |                Repeated               |
    |                                       |
    |      4 bytes      |  Variable size | … |
    | Size of the record |     Record     | … |
```

The index file, `<stem>.idx`, is a sequence of entries, one per Write:

```text
    |                          Repeated                          |
    |                                                            |
    |     4 bytes    |  Variable size |          8 bytes      | … |
    | Size of the key |      Key       | Offset of the record | … |
```

All integers are little-endian. A key size of 0 means the entry has no key. The
offset is the position of the record's size prefix in the data file. Neither
file has a header.
*/

const (
	// DataFileSuffix is appended to the stem to name the data file.
	DataFileSuffix = ".bin"
	// IndexFileSuffix is appended to the stem to name the index file.
	IndexFileSuffix = ".idx"

	// SizePrefix is the number of bytes used for the size prefix of a key or
	// a record.
	SizePrefix = types.SizeBytesLen
	// OffsetSize is the number of bytes used for the data offset of an index
	// entry.
	OffsetSize = types.OffBytesLen
)

var log = logging.Logger("binarykv/store")

// Mode selects how the data and index files are opened.
type Mode uint8

const (
	// ModeWrite creates both files, truncating existing content.
	ModeWrite Mode = iota + 1
	// ModeAppend opens both files for writing after their existing content.
	ModeAppend
	// ModeRead opens both files read-only.
	ModeRead
)

func (m Mode) String() string {
	switch m {
	case ModeWrite:
		return "w"
	case ModeAppend:
		return "a"
	case ModeRead:
		return "r"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

func (m Mode) canWrite() bool {
	return m == ModeWrite || m == ModeAppend
}

func (m Mode) canRead() bool {
	return m == ModeRead
}

// ParseMode converts a mode name to a Mode. Both the short names "w", "a", "r"
// and the long names "write", "append", "read" are accepted.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "w", "write":
		return ModeWrite, nil
	case "a", "append":
		return ModeAppend, nil
	case "r", "read":
		return ModeRead, nil
	}
	return 0, types.ErrInvalidMode{Mode: s}
}

// Store is a data file of length-prefixed records and an index file of
// optional keys paired with record offsets.
type Store struct {
	dataPath  string
	indexPath string
	cfg       config

	stateLk sync.RWMutex
	// mode is zero while the store is not open.
	mode        Mode
	dataFile    *os.File
	indexFile   *os.File
	dataWriter  *bufio.Writer
	indexWriter *bufio.Writer

	// length is the size of the data file including buffered writes. It is
	// the offset of the next record.
	length types.Position
}

// New returns an unopened store for the files named by stem.
func New(stem string, options ...Option) *Store {
	c := config{
		bufferSize: defaultBufferSize,
		fileMode:   defaultFileMode,
	}
	c.apply(options)
	if c.bufferSize <= 0 {
		c.bufferSize = defaultBufferSize
	}

	return &Store{
		dataPath:  stem + DataFileSuffix,
		indexPath: stem + IndexFileSuffix,
		cfg:       c,
	}
}

// Open returns a store for the files named by stem, opened in the given mode.
func Open(stem string, mode Mode, options ...Option) (*Store, error) {
	s := New(stem, options...)
	if err := s.Open(mode); err != nil {
		return nil, err
	}
	return s, nil
}

// DataPath returns the path of the data file.
func (s *Store) DataPath() string {
	return s.dataPath
}

// IndexPath returns the path of the index file.
func (s *Store) IndexPath() string {
	return s.indexPath
}

// Mode returns the mode the store is open in, and false if it is not open.
func (s *Store) Mode() (Mode, bool) {
	s.stateLk.RLock()
	defer s.stateLk.RUnlock()
	return s.mode, s.mode != 0
}

// Open opens both files in the given mode. If the store is already open, its
// files are closed first. If either file cannot be opened the store is left
// unopened.
func (s *Store) Open(mode Mode) error {
	var flag int
	switch mode {
	case ModeWrite:
		// Truncated once both files are open.
		flag = os.O_WRONLY | os.O_CREATE
	case ModeAppend:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case ModeRead:
		flag = os.O_RDONLY
	default:
		return types.ErrInvalidMode{Mode: mode.String()}
	}

	s.stateLk.Lock()
	defer s.stateLk.Unlock()

	if s.mode != 0 {
		if err := s.closeFiles(); err != nil {
			return err
		}
	}

	dataFile, err := os.OpenFile(s.dataPath, flag, s.cfg.fileMode)
	if err != nil {
		return &types.ErrIOFailure{Op: "open", Path: s.dataPath, Err: err}
	}
	indexFile, err := os.OpenFile(s.indexPath, flag, s.cfg.fileMode)
	if err != nil {
		dataFile.Close()
		return &types.ErrIOFailure{Op: "open", Path: s.indexPath, Err: err}
	}

	var length int64
	if mode == ModeWrite {
		if err = truncate(dataFile, indexFile); err != nil {
			dataFile.Close()
			indexFile.Close()
			return err
		}
	} else {
		length, err = dataFile.Seek(0, io.SeekEnd)
		if err != nil {
			dataFile.Close()
			indexFile.Close()
			return &types.ErrIOFailure{Op: "seek", Path: s.dataPath, Err: err}
		}
	}

	s.mode = mode
	s.dataFile = dataFile
	s.indexFile = indexFile
	s.length = types.Position(length)
	if mode.canWrite() {
		s.dataWriter = bufio.NewWriterSize(dataFile, s.cfg.bufferSize)
		s.indexWriter = bufio.NewWriterSize(indexFile, s.cfg.bufferSize)
	}

	log.Debugw("Opened store", "data", s.dataPath, "index", s.indexPath, "mode", mode, "length", length)
	return nil
}

// truncate empties the given files.
func truncate(files ...*os.File) error {
	for _, file := range files {
		if err := file.Truncate(0); err != nil {
			return &types.ErrIOFailure{Op: "truncate", Path: file.Name(), Err: err}
		}
	}
	return nil
}

// Write appends an index entry for key and then appends record to the data
// file. The entry stores the offset at which record begins. A nil or empty key
// is stored as an entry without a key.
func (s *Store) Write(key, record []byte) error {
	if uint64(len(key)) > math.MaxUint32 || uint64(len(record)) > math.MaxUint32 {
		return types.ErrTooLarge
	}

	s.stateLk.Lock()
	defer s.stateLk.Unlock()

	if !s.mode.canWrite() {
		return types.ErrNotOpenForWrite
	}

	pos := s.length

	sizeBuf := make([]byte, SizePrefix)
	offBuf := make([]byte, OffsetSize)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(types.Size(len(key))))
	binary.LittleEndian.PutUint64(offBuf, uint64(pos))

	if _, err := s.indexWriter.Write(sizeBuf); err != nil {
		return &types.ErrIOFailure{Op: "write", Path: s.indexPath, Err: err}
	}
	if _, err := s.indexWriter.Write(key); err != nil {
		return &types.ErrIOFailure{Op: "write", Path: s.indexPath, Err: err}
	}
	if _, err := s.indexWriter.Write(offBuf); err != nil {
		return &types.ErrIOFailure{Op: "write", Path: s.indexPath, Err: err}
	}

	binary.LittleEndian.PutUint32(sizeBuf, uint32(types.Size(len(record))))
	if _, err := s.dataWriter.Write(sizeBuf); err != nil {
		return &types.ErrIOFailure{Op: "write", Path: s.dataPath, Err: err}
	}
	if _, err := s.dataWriter.Write(record); err != nil {
		return &types.ErrIOFailure{Op: "write", Path: s.dataPath, Err: err}
	}

	s.length += types.Position(SizePrefix + len(record))
	return nil
}

// Read returns the record whose size prefix is at offset. The offset must be
// one recorded in the index.
func (s *Store) Read(offset types.Position) ([]byte, error) {
	s.stateLk.RLock()
	defer s.stateLk.RUnlock()

	if !s.mode.canRead() {
		return nil, types.ErrNotOpenForRead
	}
	if offset >= s.length {
		return nil, fmt.Errorf("cannot read record at offset %d of %d: %w", offset, s.length, types.ErrOutOfBounds)
	}

	sizeBuf := make([]byte, SizePrefix)
	if err := readAt(s.dataFile, sizeBuf, offset); err != nil {
		return nil, fmt.Errorf("cannot read size of record at offset %d: %w", offset, err)
	}
	size := types.Size(binary.LittleEndian.Uint32(sizeBuf))
	if offset+SizePrefix+types.Position(size) > s.length {
		return nil, fmt.Errorf("record at offset %d declares %d bytes past end of data file: %w", offset, size, types.ErrMalformedStream)
	}

	record := make([]byte, size)
	if err := readAt(s.dataFile, record, offset+SizePrefix); err != nil {
		return nil, fmt.Errorf("cannot read record at offset %d: %w", offset, err)
	}
	return record, nil
}

func readAt(file *os.File, buf []byte, pos types.Position) error {
	n, err := file.ReadAt(buf, int64(pos))
	if n == len(buf) {
		return nil
	}
	if err == io.EOF {
		return types.ErrMalformedStream
	}
	return &types.ErrIOFailure{Op: "read", Path: file.Name(), Err: err}
}

// ScanIndex returns an iterator over the index entries, starting from the
// first entry. Every call returns a new, independent iterator.
func (s *Store) ScanIndex() (*IndexIterator, error) {
	s.stateLk.RLock()
	defer s.stateLk.RUnlock()

	if !s.mode.canRead() {
		return nil, types.ErrNotOpenForRead
	}
	size, err := fileSize(s.indexFile)
	if err != nil {
		return nil, err
	}
	return NewIndexIterator(s.indexFile, size), nil
}

// ScanData returns an iterator over the data records, starting from the first
// record. Every call returns a new, independent iterator.
func (s *Store) ScanData() (*DataIterator, error) {
	s.stateLk.RLock()
	defer s.stateLk.RUnlock()

	if !s.mode.canRead() {
		return nil, types.ErrNotOpenForRead
	}
	return NewDataIterator(s.dataFile, int64(s.length)), nil
}

func fileSize(file *os.File) (int64, error) {
	fi, err := file.Stat()
	if err != nil {
		return 0, &types.ErrIOFailure{Op: "stat", Path: file.Name(), Err: err}
	}
	return fi.Size(), nil
}

// Flush writes buffered entries and records to their files. It does nothing
// unless the store is open for writing.
func (s *Store) Flush() error {
	s.stateLk.Lock()
	defer s.stateLk.Unlock()
	return s.flush()
}

func (s *Store) flush() error {
	if !s.mode.canWrite() {
		return nil
	}
	// The index is flushed first, matching the order of Write.
	if err := s.indexWriter.Flush(); err != nil {
		return &types.ErrIOFailure{Op: "flush", Path: s.indexPath, Err: err}
	}
	if err := s.dataWriter.Flush(); err != nil {
		return &types.ErrIOFailure{Op: "flush", Path: s.dataPath, Err: err}
	}
	return nil
}

// Sync flushes buffered data and commits both files to stable storage.
func (s *Store) Sync() error {
	s.stateLk.Lock()
	defer s.stateLk.Unlock()
	return s.sync()
}

func (s *Store) sync() error {
	if !s.mode.canWrite() {
		return nil
	}
	if err := s.flush(); err != nil {
		return err
	}
	if err := s.indexFile.Sync(); err != nil {
		return &types.ErrIOFailure{Op: "sync", Path: s.indexPath, Err: err}
	}
	if err := s.dataFile.Sync(); err != nil {
		return &types.ErrIOFailure{Op: "sync", Path: s.dataPath, Err: err}
	}
	return nil
}

// OutstandingWork returns the number of bytes written to the store but not yet
// flushed to its files.
func (s *Store) OutstandingWork() types.Work {
	s.stateLk.RLock()
	defer s.stateLk.RUnlock()
	if !s.mode.canWrite() {
		return 0
	}
	return types.Work(s.dataWriter.Buffered() + s.indexWriter.Buffered())
}

// Close flushes buffered data and closes both files. Closing a store that is
// not open does nothing.
func (s *Store) Close() error {
	s.stateLk.Lock()
	defer s.stateLk.Unlock()

	if s.mode == 0 {
		return nil
	}
	return s.closeFiles()
}

// closeFiles closes both files even if flushing or closing one of them fails.
// The store is left unopened.
func (s *Store) closeFiles() error {
	var err error
	if s.cfg.syncOnClose {
		err = s.sync()
	} else {
		err = s.flush()
	}

	if cerr := s.indexFile.Close(); cerr != nil {
		err = multierr.Append(err, &types.ErrIOFailure{Op: "close", Path: s.indexPath, Err: cerr})
	}
	if cerr := s.dataFile.Close(); cerr != nil {
		err = multierr.Append(err, &types.ErrIOFailure{Op: "close", Path: s.dataPath, Err: cerr})
	}

	mode := s.mode
	s.mode = 0
	s.dataFile = nil
	s.indexFile = nil
	s.dataWriter = nil
	s.indexWriter = nil
	s.length = 0

	if err != nil {
		log.Errorw("Error closing store", "data", s.dataPath, "index", s.indexPath, "mode", mode, "err", err)
		return err
	}
	log.Debugw("Closed store", "data", s.dataPath, "index", s.indexPath, "mode", mode)
	return nil
}

// DataSize returns the number of bytes in the data file. Buffered writes are
// flushed first.
func (s *Store) DataSize() (int64, error) {
	return s.storageSize(s.dataPath)
}

// IndexSize returns the number of bytes in the index file. Buffered writes are
// flushed first.
func (s *Store) IndexSize() (int64, error) {
	return s.storageSize(s.indexPath)
}

// StorageSize returns bytes of storage used by the data and index files.
func (s *Store) StorageSize() (int64, error) {
	dsize, err := s.DataSize()
	if err != nil {
		return 0, err
	}
	isize, err := s.IndexSize()
	if err != nil {
		return 0, err
	}
	return dsize + isize, nil
}

func (s *Store) storageSize(path string) (int64, error) {
	s.stateLk.Lock()
	err := s.flush()
	s.stateLk.Unlock()
	if err != nil {
		return 0, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &types.ErrIOFailure{Op: "stat", Path: path, Err: err}
	}
	return fi.Size(), nil
}
