package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/ipld/go-binarykv"
	"github.com/ipld/go-binarykv/store"
	"github.com/multiformats/go-multihash"
)

var log = logging.Logger("binarykv/cmd")

func main() {
	var (
		stem     string
		carPath  string
		appendTo bool
		logLevel string
	)
	flag.StringVar(&stem, "stem", "", "store filename stem, without .bin or .idx suffix")
	flag.StringVar(&carPath, "car", "", "CAR file for import-car and export-car")
	flag.BoolVar(&appendTo, "append", false, "import-car appends to the store instead of truncating it")
	flag.StringVar(&logLevel, "log-level", "info", "log level {debug, info, warn, error}")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: binarykv -stem <path> [flags] {dump-index|dump-data|stat|import-car|export-car|verify}")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := logging.SetLogLevel("*", logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "invalid log level:", err)
		os.Exit(1)
	}
	if stem == "" {
		fmt.Fprintln(os.Stderr, "missing stem")
		os.Exit(1)
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	var err error
	switch cmd := flag.Arg(0); cmd {
	case "dump-index":
		err = dumpIndex(os.Stdout, stem)
	case "dump-data":
		err = dumpData(os.Stdout, stem)
	case "stat":
		err = stat(os.Stdout, stem)
	case "import-car", "export-car":
		if carPath == "" {
			fmt.Fprintln(os.Stderr, "missing car")
			os.Exit(1)
		}
		if cmd == "import-car" {
			mode := store.ModeWrite
			if appendTo {
				mode = store.ModeAppend
			}
			_, err = importCar(ctx, carPath, stem, mode)
		} else {
			_, err = exportCar(ctx, stem, carPath)
		}
	case "verify":
		_, err = verify(ctx, stem)
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// describeKey renders an index key as a CID with its hash function, or as hex
// when it is not a CID.
func describeKey(key []byte) string {
	if key == nil {
		return "<none>"
	}
	c, err := cid.Cast(key)
	if err != nil {
		return hex.EncodeToString(key)
	}
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return c.String()
	}
	return fmt.Sprintf("%s (%s)", c, decoded.Name)
}

func dumpIndex(w io.Writer, stem string) error {
	s, err := store.Open(stem, store.ModeRead)
	if err != nil {
		return err
	}
	defer s.Close()

	iter, err := s.ScanIndex()
	if err != nil {
		return err
	}
	for {
		key, offset, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		fmt.Fprintf(w, "%d %s\n", offset, describeKey(key))
	}
}

func dumpData(w io.Writer, stem string) error {
	s, err := store.Open(stem, store.ModeRead)
	if err != nil {
		return err
	}
	defer s.Close()

	iter, err := s.ScanData()
	if err != nil {
		return err
	}
	for {
		offset, record, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		fmt.Fprintf(w, "%d %d\n", offset, len(record))
	}
}

func stat(w io.Writer, stem string) error {
	s, err := store.Open(stem, store.ModeRead)
	if err != nil {
		return err
	}
	defer s.Close()

	var entries, keyless int
	iter, err := s.ScanIndex()
	if err != nil {
		return err
	}
	for {
		key, _, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("cannot scan index: %w", err)
		}
		entries++
		if key == nil {
			keyless++
		}
	}

	var records int
	var recordBytes uint64
	dataIter, err := s.ScanData()
	if err != nil {
		return err
	}
	for {
		_, record, err := dataIter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("cannot scan data: %w", err)
		}
		records++
		recordBytes += uint64(len(record))
	}

	dataSize, err := s.DataSize()
	if err != nil {
		return err
	}
	indexSize, err := s.IndexSize()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "index:   %s, %d entries (%d without key)\n", humanize.Bytes(uint64(indexSize)), entries, keyless)
	fmt.Fprintf(w, "data:    %s, %d records (%s payload)\n", humanize.Bytes(uint64(dataSize)), records, humanize.Bytes(recordBytes))
	return nil
}

func verify(ctx context.Context, stem string) (int, error) {
	bl, err := binarykv.OpenBlockLog(stem, store.ModeRead)
	if err != nil {
		return 0, err
	}
	defer bl.Close()
	bl.HashOnRead(true)

	var count int
	err = bl.ForEach(ctx, func(_ blocks.Block) error {
		count++
		if count&1023 == 0 {
			log.Infow("Verified blocks", "count", count)
		}
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("verification failed after %d blocks: %w", count, err)
	}
	log.Infow("All blocks verified", "count", count)
	return count, nil
}
