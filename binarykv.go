package binarykv

import (
	"context"
	"fmt"
	"io"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	bstore "github.com/ipfs/go-ipfs-blockstore"
	logging "github.com/ipfs/go-log/v2"
	"github.com/ipld/go-binarykv/store"
	"github.com/ipld/go-binarykv/store/types"
)

var log = logging.Logger("binarykv")

type errorType string

func (e errorType) Error() string {
	return string(e)
}

// ErrNotSupported indicates an operation that needs a lookup by key or a
// deletion, neither of which a block log can do.
const ErrNotSupported = errorType("Operation not supported")

// BlockLog is an append-only log of blocks kept in a record store. Each block
// is written as one record whose key is the block's CID.
type BlockLog struct {
	store      *store.Store
	hashOnRead bool
}

// OpenBlockLog opens the record store named by stem in the given mode and
// returns a BlockLog over it.
func OpenBlockLog(stem string, mode store.Mode, options ...store.Option) (*BlockLog, error) {
	s, err := store.Open(stem, mode, options...)
	if err != nil {
		return nil, err
	}
	return &BlockLog{store: s}, nil
}

// Store returns the record store that holds the blocks.
func (bl *BlockLog) Store() *store.Store {
	return bl.store
}

// DeleteBlock is not supported for this store
func (bl *BlockLog) DeleteBlock(ctx context.Context, c cid.Cid) error {
	return ErrNotSupported
}

// Has is not supported for this store
func (bl *BlockLog) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return false, ErrNotSupported
}

// Get is not supported for this store. Use ForEach to read blocks.
func (bl *BlockLog) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	return nil, ErrNotSupported
}

// GetSize is not supported for this store
func (bl *BlockLog) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	return 0, ErrNotSupported
}

// Put appends a block to the log.
func (bl *BlockLog) Put(ctx context.Context, blk blocks.Block) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return bl.store.Write(blk.Cid().Bytes(), blk.RawData())
}

// PutMany appends blocks to the log in order.
func (bl *BlockLog) PutMany(ctx context.Context, blks []blocks.Block) error {
	for _, blk := range blks {
		if err := bl.Put(ctx, blk); err != nil {
			return err
		}
	}
	return nil
}

// AllKeysChan returns a channel from which the CIDs in the log can be read, in
// the order they were written. The channel is closed at the end of the log,
// on error, or when ctx is done.
func (bl *BlockLog) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	iter, err := bl.store.ScanIndex()
	if err != nil {
		return nil, err
	}

	ch := make(chan cid.Cid)
	go func() {
		defer close(ch)
		for {
			key, offset, err := iter.Next()
			if err != nil {
				if err != io.EOF {
					log.Errorw("Error scanning index", "err", err)
				}
				return
			}
			c, err := keyCid(key, offset)
			if err != nil {
				log.Warnw("Skipping index entry", "offset", offset, "err", err)
				continue
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// HashOnRead specifies if every block read by ForEach should be rehashed to
// make sure it matches its CID.
func (bl *BlockLog) HashOnRead(enabled bool) {
	bl.hashOnRead = enabled
}

// ForEach calls fn with every block in the log, in the order they were
// written. Iteration stops at the first error returned by fn.
func (bl *BlockLog) ForEach(ctx context.Context, fn func(blocks.Block) error) error {
	iter, err := bl.store.ScanIndex()
	if err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		key, offset, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		c, err := keyCid(key, offset)
		if err != nil {
			return err
		}
		value, err := bl.store.Read(offset)
		if err != nil {
			return err
		}
		blk, err := bl.newBlock(value, c)
		if err != nil {
			return fmt.Errorf("block %s at offset %d: %w", c, offset, err)
		}
		if err = fn(blk); err != nil {
			return err
		}
	}
}

func (bl *BlockLog) newBlock(value []byte, c cid.Cid) (blocks.Block, error) {
	// if hash on read is enabled, rehash and compare blocks
	if bl.hashOnRead {
		newCid, err := c.Prefix().Sum(value)
		if err != nil {
			return nil, err
		}
		if !newCid.Equals(c) {
			return nil, blocks.ErrWrongHash
		}
	}
	return blocks.NewBlockWithCid(value, c)
}

func keyCid(key []byte, offset types.Position) (cid.Cid, error) {
	if key == nil {
		return cid.Undef, fmt.Errorf("index entry for offset %d has no key", offset)
	}
	c, err := cid.Cast(key)
	if err != nil {
		return cid.Undef, fmt.Errorf("index entry for offset %d has invalid cid key: %w", offset, err)
	}
	return c, nil
}

// CopyInto puts every block in the log into dst and returns the number of
// blocks copied.
func (bl *BlockLog) CopyInto(ctx context.Context, dst bstore.Blockstore) (int, error) {
	var count int
	err := bl.ForEach(ctx, func(blk blocks.Block) error {
		if err := dst.Put(ctx, blk); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	log.Infow("Copied blocks", "count", count, "data", bl.store.DataPath())
	return count, nil
}

// Flush writes buffered blocks to the store files.
func (bl *BlockLog) Flush() error {
	return bl.store.Flush()
}

// Close flushes and closes the store.
func (bl *BlockLog) Close() error {
	return bl.store.Close()
}

var _ bstore.Blockstore = &BlockLog{}

const ErrNotOpenForWrite = types.ErrNotOpenForWrite

const ErrNotOpenForRead = types.ErrNotOpenForRead

// ErrMalformedStream indicates a data or index file that ends in the middle of
// a record or entry.
const ErrMalformedStream = types.ErrMalformedStream

const ErrOutOfBounds = types.ErrOutOfBounds

type ErrInvalidMode = types.ErrInvalidMode

type ErrIOFailure = types.ErrIOFailure
