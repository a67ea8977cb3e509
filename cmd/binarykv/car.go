package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/ipld/go-binarykv"
	"github.com/ipld/go-binarykv/store"
	"github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
)

// importCar writes every block of a CARv1 file to the store, in file order.
func importCar(ctx context.Context, carPath, stem string, mode store.Mode) (int, error) {
	inFile, err := os.Open(carPath)
	if err != nil {
		return 0, fmt.Errorf("cannot open car file: %w", err)
	}
	defer inFile.Close()

	cr, err := car.NewCarReader(bufio.NewReader(inFile))
	if err != nil {
		return 0, fmt.Errorf("cannot read car header: %w", err)
	}

	bl, err := binarykv.OpenBlockLog(stem, mode)
	if err != nil {
		return 0, err
	}

	var count int
	for {
		blk, err := cr.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			bl.Close()
			return count, fmt.Errorf("cannot read block %d from car: %w", count, err)
		}
		if err = bl.Put(ctx, blk); err != nil {
			bl.Close()
			return count, err
		}
		count++
		if count&1023 == 0 {
			log.Infow("Imported blocks", "count", count)
		}
	}
	if err = bl.Close(); err != nil {
		return count, err
	}
	log.Infow("Imported car", "car", carPath, "blocks", count, "roots", len(cr.Header.Roots))
	return count, nil
}

// exportCar writes every block in the store to a CARv1 file. The first block
// in the store is the root of the CAR.
func exportCar(ctx context.Context, stem, carPath string) (int, error) {
	bl, err := binarykv.OpenBlockLog(stem, store.ModeRead)
	if err != nil {
		return 0, err
	}
	defer bl.Close()

	root, err := firstCid(ctx, bl)
	if err != nil {
		return 0, err
	}

	outFile, err := os.Create(carPath)
	if err != nil {
		return 0, fmt.Errorf("cannot create car file: %w", err)
	}
	defer outFile.Close()

	writer := bufio.NewWriter(outFile)
	header := &car.CarHeader{
		Roots:   []cid.Cid{root},
		Version: 1,
	}
	if err = car.WriteHeader(header, writer); err != nil {
		return 0, fmt.Errorf("cannot write car header: %w", err)
	}

	var count int
	err = bl.ForEach(ctx, func(blk blocks.Block) error {
		count++
		return carutil.LdWrite(writer, blk.Cid().Bytes(), blk.RawData())
	})
	if err != nil {
		return count, fmt.Errorf("cannot export block %d: %w", count, err)
	}
	if err = writer.Flush(); err != nil {
		return count, fmt.Errorf("cannot write car file: %w", err)
	}
	if err = outFile.Close(); err != nil {
		return count, err
	}
	log.Infow("Exported car", "car", carPath, "blocks", count)
	return count, nil
}

func firstCid(ctx context.Context, bl *binarykv.BlockLog) (cid.Cid, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := bl.AllKeysChan(ctx)
	if err != nil {
		return cid.Undef, err
	}
	c, ok := <-ch
	if !ok {
		return cid.Undef, errors.New("store has no blocks to export")
	}
	return c, nil
}
