package buffer_pool

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/buddy"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

// evictMode 决定 tryFreePage 对带压缩副本页面的处理方式
type evictMode int

const (
	// evictFrame unzip LRU 路径，只回收解压帧，压缩副本原地保留
	evictFrame evictMode = iota
	// evictPage LRU 路径，未压缩的干净页整页释放，压缩页保留压缩副本
	evictPage
	// evictZip 为新的压缩副本腾空间，只整页释放带压缩副本的干净页
	evictZip
)

const (
	// zipEvictMaxDepth 为压缩副本腾空间时 LRU 扫描深度的上限
	zipEvictMaxDepth = 8
	// zipFlushBatch 没有干净的压缩页可淘汰时，一轮写回的压缩脏页数
	zipFlushBatch = 4
)

/*
TryEvictOne 即 buf_LRU_search_and_free_block。

先根据 LRUStat 判断是否从 unzip LRU 回收解压帧，
找不到再从 LRU 尾部扫描。depth 越大扫描越深。返回是否释放了一个页面
*/
func (bp *BufferPool) TryEvictOne(depth int) bool {
	h := bp.listMu.Lock(latch.Free)
	blk, freed := bp.evictLocked(h, depth)
	bp.listMu.Unlock()

	if blk != nil {
		bp.finishFree(blk)
	}
	if freed {
		bp.stat.markEvictionStarted()
	}
	return freed
}

func (bp *BufferPool) evictLocked(h latch.Held, depth int) (*BufferBlock, bool) {
	if bp.evictFromUnzipLRU() {
		if blk, ok := bp.freeFromUnzipLRU(h, depth); ok {
			return blk, true
		}
	}
	return bp.freeFromCommonLRU(h, depth)
}

// evictFromUnzipLRU 即 buf_LRU_evict_from_unzip_LRU
func (bp *BufferPool) evictFromUnzipLRU() bool {
	if bp.unzip.len == 0 {
		return false
	}
	// unzip LRU 太短时解压帧所剩无几，直接走 LRU
	if bp.unzip.len <= bp.lru.len*bp.config.UnzipLRUMinPct/100 {
		return false
	}
	// 还没发生过淘汰，没有统计可用
	if !bp.stat.EvictionStarted() {
		return true
	}
	// 解压多说明 CPU bound，保留更多压缩页，回收解压帧
	ioAvg, unzipAvg := bp.stat.averages()
	return unzipAvg <= ioAvg*uint64(bp.config.IOToUnzipFactor)
}

// freeFromUnzipLRU 即 buf_LRU_free_from_unzip_LRU_list
func (bp *BufferPool) freeFromUnzipLRU(h latch.Held, depth int) (*BufferBlock, bool) {
	distance := bp.config.LRUScanBase + depth*bp.unzip.len/bp.config.UnzipScanDivisor
	for ref := bp.unzip.tail; ref != nilRef && distance > 0; distance-- {
		prev := bp.unzip.prev(ref)
		if _, ok := bp.tryFreePage(h, ref, evictFrame); ok {
			atomic.AddInt64(&bp.counters.unzipEvictions, 1)
			// 解压帧回到 Free List，控制体已经换成压缩控制体
			return bp.a.block(ref), true
		}
		ref = prev
	}
	return nil, false
}

// freeFromCommonLRU 即 buf_LRU_free_from_common_LRU_list
func (bp *BufferPool) freeFromCommonLRU(h latch.Held, depth int) (*BufferBlock, bool) {
	distance := bp.config.LRUScanBase + depth*bp.lru.len/bp.config.LRUScanDivisor
	for ref := bp.lru.tail; ref != nilRef && distance > 0; distance-- {
		p := bp.a.page(ref)
		prev := p.lruPrev
		// accessTime 只在持有 LRU 锁时写入
		accessed := p.isAccessed()
		if blk, ok := bp.tryFreePage(h, ref, evictPage); ok {
			if !accessed {
				atomic.AddInt64(&bp.counters.readAheadEvicted, 1)
			}
			return blk, true
		}
		ref = prev
	}
	return nil, false
}

/*
tryFreePage 即 buf_LRU_free_page。调用方持有 LRU 锁。

成功时返回 true；如果有解压帧需要回到 Free List，同时返回该帧，
调用方放锁之后交给 finishFree。被 pin、正在 IO 或者是脏页(保留压缩副本的情况除外)时跳过
*/
func (bp *BufferPool) tryFreePage(h latch.Held, ref pageRef, mode evictMode) (*BufferBlock, bool) {
	p := bp.a.page(ref)

	h2 := bp.hash.mu.Lock(h)
	defer bp.hash.mu.Unlock()
	h3 := p.mu.Lock(h2)
	defer p.mu.Unlock()

	if !p.canRelocate() {
		return nil, false
	}

	switch p.state {
	case BUF_BLOCK_FILE_PAGE:
		blk := bp.a.block(ref)
		if p.zip == nil {
			if mode != evictPage || p.isDirty() {
				return nil, false
			}
			bp.removeHashedLocked(h3, p)
			atomic.AddInt64(&bp.counters.lruEvictions, 1)
			return blk, true
		}
		if mode == evictZip {
			if p.isDirty() {
				return nil, false
			}
			bp.removeHashedLocked(h3, p)
			atomic.AddInt64(&bp.counters.lruEvictions, 1)
			return blk, true
		}
		if bp.relocateToZip(h3, blk) {
			if mode == evictPage {
				atomic.AddInt64(&bp.counters.zipRelocations, 1)
			}
			return blk, true
		}
		// 压缩控制体用完了，干净页退化为整页释放
		if mode == evictPage && !p.isDirty() {
			bp.removeHashedLocked(h3, p)
			atomic.AddInt64(&bp.counters.lruEvictions, 1)
			return blk, true
		}
		return nil, false

	case BUF_BLOCK_ZIP_PAGE:
		if mode == evictFrame {
			return nil, false
		}
		bp.removeHashedLocked(h3, p)
		bp.a.freeZipSlot(ref)
		atomic.AddInt64(&bp.counters.lruEvictions, 1)
		return nil, true

	case BUF_BLOCK_ZIP_DIRTY:
		return nil, false

	default:
		bp.invariantViolation("page %d:%d in LRU with state %s", p.spaceId, p.pageNo, p.state)
		return nil, false
	}
}

/*
relocateToZip 回收解压帧，压缩副本换到一个压缩控制体上，
在 LRU、page hash、flush list 中顶替原控制体的位置。
调用方持有 LRU 锁、page hash 写锁和 blk 的锁
*/
func (bp *BufferPool) relocateToZip(h latch.Held, blk *BufferBlock) bool {
	if blk.zipStale {
		// 帧上的修改还没有压缩进副本
		if err := bp.codec.Encode(blk.frame, blk.zip); err != nil {
			return false
		}
		blk.zipStale = false
	}

	zref := bp.a.allocZipSlot()
	if zref == nilRef {
		return false
	}
	z := bp.a.page(zref)
	z.copyFrom(&blk.BufferPage)
	if blk.isDirty() {
		z.state = BUF_BLOCK_ZIP_DIRTY
	} else {
		z.state = BUF_BLOCK_ZIP_PAGE
	}

	src := blk.ref
	bp.lru.replace(src, zref)
	if !bp.hash.replace(src, zref) {
		bp.invariantViolation("page %d:%d missing from page hash during relocation", blk.spaceId, blk.pageNo)
	}
	if z.isDirty() {
		bp.flush.mu.Lock(h)
		bp.flush.relocate(src, zref)
		bp.flush.mu.Unlock()
	}
	if blk.inUnzipLRU {
		bp.unzip.remove(src)
	}

	bp.lru.freedPageClock++
	blk.zip = nil
	blk.oldestModification = 0
	blk.newestModification = 0
	blk.clearLinks()
	blk.state = BUF_BLOCK_REMOVE_HASH
	return true
}

/*
removeHashedLocked 即 buf_LRU_block_remove_hashed，整页移除。
从 LRU、unzip LRU、flush list、page hash 中摘除，压缩副本还给伙伴系统。
调用方持有 LRU 锁、page hash 写锁和页面锁
*/
func (bp *BufferPool) removeHashedLocked(h latch.Held, p *BufferPage) {
	ref := p.ref
	if p.inLRU {
		bp.lru.remove(ref)
	}
	if blk := bp.a.block(ref); blk != nil && blk.inUnzipLRU {
		bp.unzip.remove(ref)
	}
	if p.inFlushList {
		bp.flush.mu.Lock(h)
		bp.flush.remove(ref)
		bp.flush.mu.Unlock()
	}
	p.oldestModification = 0
	p.newestModification = 0

	if !bp.hash.remove(ref) {
		bp.invariantViolation("page %d:%d not found in page hash", p.spaceId, p.pageNo)
	}
	bp.lru.freedPageClock++

	if p.zip != nil {
		if err := bp.zipAlloc.Free(p.zip); err != nil {
			bp.invariantViolation("free zip of page %d:%d: %v", p.spaceId, p.pageNo, err)
		}
		p.zip = nil
	}
	if bp.a.isBlock(ref) {
		bp.a.block(ref).zipStale = false
		p.state = BUF_BLOCK_REMOVE_HASH
	}
}

/*
allocZip 为压缩副本分配空间，和 GetFreeBlock 一样阻塞到成功为止。

伙伴系统满时先整页淘汰带压缩副本的干净页，没有干净页就写回 flush list
尾部的压缩脏页再淘汰，都不行就等待页面释放。缓冲池耗尽时由 checkCapacity 终止进程
*/
func (bp *BufferPool) allocZip(size int) ([]byte, error) {
	if bp.zipAlloc == nil {
		return nil, ErrZipPoolExhausted
	}
	n := 0
	stalled := false
	for {
		buf, err := bp.zipAlloc.Alloc(size)
		if err == nil {
			if stalled {
				logger.Infof("buffer pool: found space for a compressed page after %d search iterations", n)
			}
			return buf, nil
		}
		if !errors.Is(err, buddy.ErrNoSpace) {
			return nil, err
		}
		bp.checkCapacity()

		freed := bp.frameFreed.Wait()
		released := bp.pageEvent.Wait()

		depth := n
		if depth > zipEvictMaxDepth {
			depth = zipEvictMaxDepth
		}
		if bp.evictForZip(depth) {
			continue
		}
		if bp.flushForZip(zipFlushBatch) > 0 && bp.evictForZip(depth) {
			continue
		}
		n++

		if n > freeBlockStallRounds && !stalled {
			stalled = true
			atomic.AddInt64(&bp.counters.freeBlockStalls, 1)
			logger.WithFields(bp.stallFields(n)).Warnf(
				"difficult to find space for compressed pages (%d search iterations)! "+
					"Consider increasing the compressed page pool size", n)
		}
		if n <= freeBlockSpinRounds {
			runtime.Gosched()
			continue
		}

		atomic.AddInt64(&bp.counters.freeBlockWaits, 1)
		timer := time.NewTimer(bp.config.FreeBlockWait)
		select {
		case <-freed:
		case <-released:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// flushForZip 即 buf_flush_single_page_from_LRU 的压缩页版本，
// 从 flush list 尾部写回最多 limit 个带压缩副本的脏页，写完的页面移到 LRU 尾部
func (bp *BufferPool) flushForZip(limit int) int {
	keys := bp.flushSnapshot(func(p *BufferPage) bool { return p.zip != nil })
	n := 0
	for _, k := range keys {
		if n >= limit {
			break
		}
		err := bp.FlushPage(k.spaceID, k.pageNo)
		switch {
		case err == nil:
			n++
		case IsNotFound(err) || IsLocked(err):
		default:
			logger.Warnf("buffer pool: flush for compressed page space: %v", err)
		}
	}
	return n
}

// evictForZip 从 LRU 尾部整页释放一个带压缩副本的干净页
func (bp *BufferPool) evictForZip(depth int) bool {
	h := bp.listMu.Lock(latch.Free)
	var (
		blk   *BufferBlock
		freed bool
	)
	distance := bp.config.LRUScanBase + depth*bp.lru.len/bp.config.LRUScanDivisor
	for ref := bp.lru.tail; ref != nilRef && distance > 0; distance-- {
		p := bp.a.page(ref)
		prev := p.lruPrev
		if p.zip != nil {
			if blk, freed = bp.tryFreePage(h, ref, evictZip); freed {
				break
			}
		}
		ref = prev
	}
	bp.listMu.Unlock()

	if blk != nil {
		bp.finishFree(blk)
	}
	if freed {
		bp.stat.markEvictionStarted()
	}
	return freed
}
