package buffer_pool

import (
	"sync/atomic"
	"time"

	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

// poolCounters 运行期累计计数，全部原子更新
type poolCounters struct {
	// 命中率统计
	pageRequests int64
	pageHits     int64
	pageMisses   int64

	// IO统计
	pageReads         int64
	pageWrites        int64
	readLatencyTotal  int64 // 纳秒
	writeLatencyTotal int64 // 纳秒

	// 访问策略
	madeYoung    int64
	notMadeYoung int64

	// 淘汰统计
	lruEvictions     int64 // 整页淘汰
	unzipEvictions   int64 // 只回收解压帧
	zipRelocations   int64 // LRU 扫描中保留压缩副本的淘汰
	readAheadPages   int64
	readAheadEvicted int64 // 预读进来后从未访问就被淘汰
	decompressions   int64

	// get_free_block 和压缩副本分配
	freeBlockWaits  int64
	freeBlockStalls int64

	// 刷新统计
	flushRequests  int64
	flushSuccesses int64
	flushFailures  int64

	invalidations int64
	startTime     time.Time
}

// recordPageRequest 记录页面请求
func (c *poolCounters) recordPageRequest(hit bool) {
	atomic.AddInt64(&c.pageRequests, 1)
	if hit {
		atomic.AddInt64(&c.pageHits, 1)
	} else {
		atomic.AddInt64(&c.pageMisses, 1)
	}
}

// recordPageIO 记录页面IO
func (c *poolCounters) recordPageIO(isRead bool, latency time.Duration) {
	if isRead {
		atomic.AddInt64(&c.pageReads, 1)
		atomic.AddInt64(&c.readLatencyTotal, int64(latency))
	} else {
		atomic.AddInt64(&c.pageWrites, 1)
		atomic.AddInt64(&c.writeLatencyTotal, int64(latency))
	}
}

// recordFlush 记录刷新统计
func (c *poolCounters) recordFlush(success bool) {
	atomic.AddInt64(&c.flushRequests, 1)
	if success {
		atomic.AddInt64(&c.flushSuccesses, 1)
	} else {
		atomic.AddInt64(&c.flushFailures, 1)
	}
}

// BufferPoolStats 缓冲池统计快照
type BufferPoolStats struct {
	// 页面统计
	PoolSize      int
	FreePages     int
	LRUPages      int
	OldPages      int
	UnzipPages    int
	DirtyPages    int
	HashedPages   int
	ZipOnlyPages  int
	OldestLSN     uint64
	ZipUsedBytes  int
	ZipArenaBytes int

	// 命中率统计
	PageRequests int64
	PageHits     int64
	PageMisses   int64

	// IO统计
	PageReads      int64
	PageWrites     int64
	Decompressions int64

	MadeYoung    int64
	NotMadeYoung int64

	LRUEvictions     int64
	UnzipEvictions   int64
	ZipRelocations   int64
	ReadAheadPages   int64
	ReadAheadEvicted int64

	FreeBlockWaits  int64
	FreeBlockStalls int64

	FlushRequests  int64
	FlushSuccesses int64
	FlushFailures  int64
	Invalidations  int64

	AvgReadLatency  time.Duration
	AvgWriteLatency time.Duration
	LRUStat         LRUStatSnapshot
	MonitorOn       bool
	Uptime          time.Duration
}

// HitRatio 获取命中率
func (s BufferPoolStats) HitRatio() float64 {
	if s.PageRequests == 0 {
		return 0
	}
	return float64(s.PageHits) / float64(s.PageRequests)
}

// Stats 返回统计快照。列表长度在 LRU 锁下读取
func (bp *BufferPool) Stats() BufferPoolStats {
	c := &bp.counters
	s := BufferPoolStats{
		PoolSize:         bp.config.PoolSize,
		FreePages:        bp.free.len(),
		PageRequests:     atomic.LoadInt64(&c.pageRequests),
		PageHits:         atomic.LoadInt64(&c.pageHits),
		PageMisses:       atomic.LoadInt64(&c.pageMisses),
		PageReads:        atomic.LoadInt64(&c.pageReads),
		PageWrites:       atomic.LoadInt64(&c.pageWrites),
		Decompressions:   atomic.LoadInt64(&c.decompressions),
		MadeYoung:        atomic.LoadInt64(&c.madeYoung),
		NotMadeYoung:     atomic.LoadInt64(&c.notMadeYoung),
		LRUEvictions:     atomic.LoadInt64(&c.lruEvictions),
		UnzipEvictions:   atomic.LoadInt64(&c.unzipEvictions),
		ZipRelocations:   atomic.LoadInt64(&c.zipRelocations),
		ReadAheadPages:   atomic.LoadInt64(&c.readAheadPages),
		ReadAheadEvicted: atomic.LoadInt64(&c.readAheadEvicted),
		FreeBlockWaits:   atomic.LoadInt64(&c.freeBlockWaits),
		FreeBlockStalls:  atomic.LoadInt64(&c.freeBlockStalls),
		FlushRequests:    atomic.LoadInt64(&c.flushRequests),
		FlushSuccesses:   atomic.LoadInt64(&c.flushSuccesses),
		FlushFailures:    atomic.LoadInt64(&c.flushFailures),
		Invalidations:    atomic.LoadInt64(&c.invalidations),
		LRUStat:          bp.stat.Snapshot(),
		MonitorOn:        atomic.LoadInt32(&bp.monitorOn) == 1,
		Uptime:           time.Since(bp.counters.startTime),
	}
	if s.PageReads > 0 {
		s.AvgReadLatency = time.Duration(atomic.LoadInt64(&c.readLatencyTotal) / s.PageReads)
	}
	if s.PageWrites > 0 {
		s.AvgWriteLatency = time.Duration(atomic.LoadInt64(&c.writeLatencyTotal) / s.PageWrites)
	}

	h := bp.listMu.Lock(latch.Free)
	s.LRUPages = bp.lru.len
	s.OldPages = bp.lru.oldLen
	s.UnzipPages = bp.unzip.len
	s.ZipOnlyPages = bp.a.zipInUse()
	bp.hash.mu.RLock(h)
	s.HashedPages = bp.hash.len()
	bp.hash.mu.RUnlock()
	bp.flush.mu.Lock(h)
	s.DirtyPages = bp.flush.len
	s.OldestLSN = bp.flush.oldestLSN()
	bp.flush.mu.Unlock()
	bp.listMu.Unlock()

	if bp.zipAlloc != nil {
		zs := bp.zipAlloc.Stats()
		s.ZipUsedBytes = zs.UsedBytes
		s.ZipArenaBytes = zs.ArenaSize
	}
	return s
}

// ResetCounters 重置累计计数，列表长度不受影响
func (bp *BufferPool) ResetCounters() {
	c := &bp.counters
	for _, p := range []*int64{
		&c.pageRequests, &c.pageHits, &c.pageMisses,
		&c.pageReads, &c.pageWrites, &c.readLatencyTotal, &c.writeLatencyTotal,
		&c.madeYoung, &c.notMadeYoung,
		&c.lruEvictions, &c.unzipEvictions, &c.zipRelocations,
		&c.readAheadPages, &c.readAheadEvicted, &c.decompressions,
		&c.freeBlockWaits, &c.freeBlockStalls,
		&c.flushRequests, &c.flushSuccesses, &c.flushFailures,
		&c.invalidations,
	} {
		atomic.StoreInt64(p, 0)
	}
}
