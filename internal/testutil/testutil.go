package testutil

import (
	"bytes"
	"fmt"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blocksutil "github.com/ipfs/go-ipfs-blocksutil"
	util "github.com/ipfs/go-ipfs-util"
	"github.com/jbenet/go-random"
)

var blockGenerator = blocksutil.NewBlockGenerator()
var seedSeq int64

// KeyRecord is a key and record pair to write to a store.
type KeyRecord struct {
	Key    []byte
	Record []byte
}

// RandomBytes returns a byte array of the given size with random values.
func RandomBytes(n int64) []byte {
	data := new(bytes.Buffer)
	_ = random.WritePseudoRandomBytes(n, data, seedSeq)
	seedSeq++
	return data.Bytes()
}

// GenerateRecords returns n pairs of the form key_i -> Record_i.
func GenerateRecords(n int) []KeyRecord {
	recs := make([]KeyRecord, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, KeyRecord{
			Key:    []byte(fmt.Sprintf("key_%d", i)),
			Record: []byte(fmt.Sprintf("Record_%d", i)),
		})
	}
	return recs
}

// GenerateRandomRecords returns n pairs with random keys and records of up to
// maxSize bytes. Every 7th pair has no key and every 5th has an empty record.
func GenerateRandomRecords(n int, maxSize int64) []KeyRecord {
	recs := make([]KeyRecord, 0, n)
	for i := 0; i < n; i++ {
		var rec KeyRecord
		if i%7 != 0 {
			rec.Key = RandomBytes(1 + int64(i)%32)
		}
		if i%5 != 0 {
			rec.Record = RandomBytes(1 + int64(i*31)%maxSize)
		} else {
			rec.Record = []byte{}
		}
		recs = append(recs, rec)
	}
	return recs
}

// GenerateBlocksOfSize generates a series of blocks of the given byte size
func GenerateBlocksOfSize(n int, size int64) []blocks.Block {
	generatedBlocks := make([]blocks.Block, 0, n)
	for i := 0; i < n; i++ {
		data := RandomBytes(size)
		mhash := util.Hash(data)
		c := cid.NewCidV1(cid.Raw, mhash)
		b, _ := blocks.NewBlockWithCid(data, c)
		generatedBlocks = append(generatedBlocks, b)

	}
	return generatedBlocks
}

// GenerateBlocks produces n small blocks with sequential content.
func GenerateBlocks(n int) []blocks.Block {
	blks := make([]blocks.Block, 0, n)
	for i := 0; i < n; i++ {
		blks = append(blks, blockGenerator.Next())
	}
	return blks
}
