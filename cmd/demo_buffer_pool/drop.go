package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/urfave/cli/v2"

	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/manager"
)

var DropCmd = cli.Command{
	Action:    drop,
	Name:      "drop",
	Usage:     "warms the pool with pages of a tablespace, then invalidates and drops the tablespace",
	ArgsUsage: "<space id>",
	Flags: []cli.Flag{
		&warmFlag,
		&keepFlag,
	},
}

var InfoCmd = cli.Command{
	Action: info,
	Name:   "info",
	Usage:  "prints the effective buffer pool configuration and the known tablespaces",
}

var (
	warmFlag = cli.IntFlag{
		Name:  "warm",
		Usage: "number of pages loaded before the drop",
		Value: 1000,
	}
	keepFlag = cli.BoolFlag{
		Name:  "keep",
		Usage: "write back dirty pages instead of discarding the tablespace",
	}
)

func drop(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("missing space id")
	}
	var spaceID uint32
	if _, err := fmt.Sscanf(ctx.Args().Get(0), "%d", &spaceID); err != nil {
		return errors.Annotatef(err, "parse space id %q", ctx.Args().Get(0))
	}

	cfg, mc, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	store, err := openStore(cfg.InnodbDataDir, mc.Pool.PageSize)
	if err != nil {
		return err
	}
	defer store.Close()

	// 只做一次性操作，不需要后台刷脏
	mc.FlushInterval = 0
	bpm, err := manager.NewBufferPoolManager(mc, store)
	if err != nil {
		return err
	}
	defer bpm.Close()
	bp := bpm.BufferPool()

	warm := ctx.Int(warmFlag.Name)
	if warm > mc.Pool.PoolSize {
		warm = mc.Pool.PoolSize
	}
	for pageNo := 0; pageNo < warm; pageNo++ {
		pp, err := bpm.GetPage(spaceID, uint32(pageNo))
		if err != nil {
			return err
		}
		pp.Release()
	}
	before := bp.Stats()

	start := time.Now()
	mode := buffer_pool.BUF_REMOVE_ALL_NO_WRITE
	if ctx.Bool(keepFlag.Name) {
		mode = buffer_pool.BUF_REMOVE_FLUSH_WRITE
		err = bp.InvalidateSpace(spaceID, mode)
	} else {
		err = bpm.DropSpace(spaceID)
	}
	if err != nil {
		return err
	}
	after := bp.Stats()

	fmt.Printf("Invalidated space %d with %v in %v\n", spaceID, mode, time.Since(start).Round(time.Microsecond))
	fmt.Printf("\tLRU pages:  %s -> %s\n", humanize.Comma(int64(before.LRUPages)), humanize.Comma(int64(after.LRUPages)))
	fmt.Printf("\tFree pages: %s -> %s\n", humanize.Comma(int64(before.FreePages)), humanize.Comma(int64(after.FreePages)))
	if mode == buffer_pool.BUF_REMOVE_ALL_NO_WRITE {
		fmt.Printf("Dropped space %d from %s\n", spaceID, cfg.InnodbDataDir)
	}
	return bp.Validate()
}

func info(ctx *cli.Context) error {
	cfg, mc, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	bc := mc.Pool
	fmt.Printf("Buffer pool configuration:\n")
	fmt.Printf("\tFrames:           %s x %s = %s\n", humanize.Comma(int64(bc.PoolSize)),
		humanize.IBytes(uint64(bc.PageSize)), humanize.IBytes(uint64(bc.PoolSize*bc.PageSize)))
	fmt.Printf("\tOld blocks:       %.1f%%, promote after %v\n", bc.OldBlocksPct, bc.OldBlocksTime)
	fmt.Printf("\tCompressed pool:  %s (%s)\n", humanize.IBytes(uint64(bc.ZipPoolSize)), bc.Compression)
	fmt.Printf("\tRead ahead:       %d pages, %d workers\n", bc.ReadAheadPages, bc.ReadAheadWorkers)
	if bc.AutoTuneWindow > 0 {
		fmt.Printf("\tAuto tuning:      every %v\n", bc.AutoTuneWindow)
	}

	fmt.Printf("\tPage cleaner:     every %v, %.0f%% dirty limit, %d pages per round\n",
		mc.FlushInterval, mc.MaxDirtyRatio*100, mc.FlushBatch)

	store, err := openStore(cfg.InnodbDataDir, bc.PageSize)
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Printf("Tablespaces in %s:\n", cfg.InnodbDataDir)
	for _, spaceID := range []uint32{plainSpace, zipSpace} {
		pages, err := store.SpacePages(spaceID)
		if errors.IsNotFound(err) {
			fmt.Printf("\tspace %d: absent\n", spaceID)
			continue
		} else if err != nil {
			return err
		}
		zip := store.ZipSize(spaceID)
		if zip == 0 {
			fmt.Printf("\tspace %d: %s pages, uncompressed\n", spaceID, humanize.Comma(int64(pages)))
		} else {
			fmt.Printf("\tspace %d: %s pages, %s compressed\n", spaceID, humanize.Comma(int64(pages)), humanize.IBytes(uint64(zip)))
		}
	}
	return nil
}
