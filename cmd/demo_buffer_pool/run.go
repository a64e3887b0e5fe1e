package main

import (
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/common"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/fil"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/manager"
)

var RunCmd = cli.Command{
	Action: run,
	Name:   "run",
	Usage:  "runs a skewed page access workload against two tablespaces",
	Flags: []cli.Flag{
		&opsFlag,
		&pagesFlag,
		&zipSizeFlag,
		&dirtyFlag,
		&seedFlag,
		&metricsAddrFlag,
	},
}

var (
	opsFlag = cli.IntFlag{
		Name:  "ops",
		Usage: "number of page accesses",
		Value: 100000,
	}
	pagesFlag = cli.IntFlag{
		Name:  "pages",
		Usage: "pages per tablespace",
		Value: 20000,
	}
	zipSizeFlag = cli.IntFlag{
		Name:  "zip-size",
		Usage: "compressed page size of tablespace 2, 0 disables compression",
		Value: 8192,
	}
	dirtyFlag = cli.Float64Flag{
		Name:  "dirty",
		Usage: "fraction of accesses that modify the page",
		Value: 0.1,
	}
	seedFlag = cli.Int64Flag{
		Name:  "seed",
		Usage: "random seed of the workload",
		Value: 1,
	}
	metricsAddrFlag = cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "serves prometheus metrics on this address while running, disabled if empty",
	}
)

const (
	plainSpace uint32 = 1
	zipSpace   uint32 = 2
)

func openStore(dir string, pageSize int) (*fil.LevelDBFileIO, error) {
	store, err := fil.OpenLevelDB(dir, pageSize)
	if err != nil {
		return nil, errors.Annotatef(err, "open %s", dir)
	}
	return store, nil
}

func ensureSpace(bpm *manager.BufferPoolManager, spaceID uint32, zipSize int) error {
	err := bpm.CreateSpace(spaceID, zipSize)
	if errors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

func run(ctx *cli.Context) error {
	cfg, mc, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	bc := mc.Pool
	store, err := openStore(cfg.InnodbDataDir, bc.PageSize)
	if err != nil {
		return err
	}
	defer store.Close()

	bpm, err := manager.NewBufferPoolManager(mc, store)
	if err != nil {
		return err
	}
	defer bpm.Close()
	if err := ensureSpace(bpm, plainSpace, 0); err != nil {
		return err
	}
	if err := ensureSpace(bpm, zipSpace, ctx.Int(zipSizeFlag.Name)); err != nil {
		return err
	}
	bp := bpm.BufferPool()
	bp.StartStatTicker(bc.StatTickInterval)

	if addr := ctx.String(metricsAddrFlag.Name); addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(buffer_pool.NewCollector(bp, prometheus.Labels{"pool": "demo"}))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	ops := ctx.Int(opsFlag.Name)
	pages := uint64(ctx.Int(pagesFlag.Name))
	if pages == 0 {
		return fmt.Errorf("pages must be positive")
	}
	dirty := ctx.Float64(dirtyFlag.Name)
	rnd := rand.New(rand.NewSource(ctx.Int64(seedFlag.Name)))
	zipf := rand.NewZipf(rnd, 1.1, 4, pages-1)

	start := time.Now()
	var lsn common.LSNT
	for i := 0; i < ops; i++ {
		spaceID := plainSpace
		if i%4 == 3 {
			spaceID = zipSpace
		}

		// 偶尔做一次顺序扫描，触发预读
		if i%5000 == 4999 {
			first := uint32(rnd.Int63n(int64(pages)))
			if err := bp.RangePageLoad(spaceID, first, first+uint32(bc.ReadAheadPages)); err != nil {
				return err
			}
			continue
		}

		pp, err := bpm.GetPage(spaceID, uint32(zipf.Uint64()))
		if err != nil {
			return err
		}
		if rnd.Float64() < dirty {
			lsn++
			frame := pp.Frame()
			frame[0], frame[1] = byte(lsn>>8), byte(lsn)
			bpm.MarkDirty(pp, lsn)
		}
		pp.Release()
	}
	flushed, err := bpm.FlushAllPages()
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := bp.Validate(); err != nil {
		return err
	}
	printStats(bp.Stats(), store.Stats())
	fmt.Printf("\tPage cleaner:      %v pages in %v rounds\n", bpm.GetStats()["cleaner_pages"], bpm.GetStats()["cleaner_rounds"])
	fmt.Printf("\nFlushed at exit:   %s pages\n", humanize.Comma(int64(flushed)))
	fmt.Printf("Elapsed:           %v (%s ops/s)\n", elapsed.Round(time.Millisecond),
		humanize.Comma(int64(float64(ops)/elapsed.Seconds())))
	return nil
}

func printStats(s buffer_pool.BufferPoolStats, io fil.IOStats) {
	hitRate := 0.0
	if s.PageRequests > 0 {
		hitRate = float64(s.PageHits) / float64(s.PageRequests) * 100
	}
	fmt.Printf("--- Buffer Pool ---\n")
	fmt.Printf("\tFrames:            %s (free %d, lru %d, old %d, unzip %d)\n",
		humanize.Comma(int64(s.PoolSize)), s.FreePages, s.LRUPages, s.OldPages, s.UnzipPages)
	fmt.Printf("\tCompressed only:   %d (%s of %s)\n", s.ZipOnlyPages,
		humanize.IBytes(uint64(s.ZipUsedBytes)), humanize.IBytes(uint64(s.ZipArenaBytes)))
	fmt.Printf("\tRequests:          %s, hit rate %.2f%%\n", humanize.Comma(s.PageRequests), hitRate)
	fmt.Printf("\tYoung/not young:   %s / %s\n", humanize.Comma(s.MadeYoung), humanize.Comma(s.NotMadeYoung))
	fmt.Printf("\tEvictions:         lru %s, unzip %s, relocated %s\n",
		humanize.Comma(s.LRUEvictions), humanize.Comma(s.UnzipEvictions), humanize.Comma(s.ZipRelocations))
	fmt.Printf("\tRead ahead:        %s pages, %s evicted unused\n",
		humanize.Comma(s.ReadAheadPages), humanize.Comma(s.ReadAheadEvicted))
	fmt.Printf("\tDecompressions:    %s\n", humanize.Comma(s.Decompressions))
	fmt.Printf("\tFree block waits:  %d (stalls %d)\n", s.FreeBlockWaits, s.FreeBlockStalls)
	fmt.Printf("--- Storage ---\n")
	fmt.Printf("\tReads / writes:    %s / %s\n", humanize.Comma(int64(io.Reads)), humanize.Comma(int64(io.Writes)))
}
