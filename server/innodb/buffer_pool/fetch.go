package buffer_pool

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

// errRetry 页面状态在放锁期间发生了变化，重新查找
var errRetry = errors.New("retry page lookup")

// PinnedPage 被 pin 住的页面，使用完必须调用 Release
type PinnedPage struct {
	bp       *BufferPool
	blk      *BufferBlock
	released int32
}

// Frame 页面内容，只在 Release 之前有效
func (pp *PinnedPage) Frame() []byte {
	return pp.blk.frame
}

func (pp *PinnedPage) SpaceID() uint32 {
	return pp.blk.spaceId
}

func (pp *PinnedPage) PageNo() uint32 {
	return pp.blk.pageNo
}

func (pp *PinnedPage) Block() *BufferBlock {
	return pp.blk
}

// MarkHashIndexed 自适应哈希索引在这个帧上建了索引项
func (pp *PinnedPage) MarkHashIndexed() {
	pp.blk.mu.Lock(latch.Free)
	pp.blk.hashIndexed = true
	pp.blk.mu.Unlock()
}

// Release 释放 pin，重复调用无效
func (pp *PinnedPage) Release() {
	if !atomic.CompareAndSwapInt32(&pp.released, 0, 1) {
		return
	}
	blk := pp.blk
	blk.mu.Lock(latch.Free)
	if blk.fixCount == 0 {
		blk.mu.Unlock()
		pp.bp.invariantViolation("release of unpinned page %d:%d", blk.spaceId, blk.pageNo)
		return
	}
	blk.fixCount--
	n := blk.fixCount
	blk.mu.Unlock()
	if n == 0 {
		pp.bp.pageEvent.Broadcast()
	}
}

type lookupResult int

const (
	lookupMiss lookupResult = iota
	lookupHit
	lookupZipOnly
	lookupWait
)

/*
FetchPage 即 buf_page_get_gen。

页面在缓冲池中时直接 pin 住；只有压缩副本时分配一个帧解压；
不在缓冲池中时从 FileIO 读入，冷插入 LRU 的 old 子链表
*/
func (bp *BufferPool) FetchPage(spaceID, pageNo uint32) (*PinnedPage, error) {
	for {
		pp, res, wait := bp.lookupAndPin(spaceID, pageNo)
		switch res {
		case lookupHit:
			bp.counters.recordPageRequest(true)
			bp.afterAccess(pp.blk.ref)
			return pp, nil

		case lookupWait:
			bp.waitPageEvent(wait)

		case lookupZipOnly:
			pp, err := bp.unzipPage(spaceID, pageNo)
			if errors.Is(err, errRetry) {
				continue
			}
			if err != nil {
				return nil, err
			}
			bp.counters.recordPageRequest(true)
			return pp, nil

		case lookupMiss:
			pp, err := bp.readPage(spaceID, pageNo, true)
			if errors.Is(err, errPageExists) {
				continue
			}
			if err != nil {
				return nil, err
			}
			bp.counters.recordPageRequest(false)
			bp.afterAccess(pp.blk.ref)
			return pp, nil
		}
	}
}

// lookupAndPin 在 page hash 读锁下查找并 pin 住带帧的页面
func (bp *BufferPool) lookupAndPin(spaceID, pageNo uint32) (*PinnedPage, lookupResult, <-chan struct{}) {
	h := bp.hash.mu.RLock(latch.Free)
	defer bp.hash.mu.RUnlock()

	ref := bp.hash.lookup(spaceID, pageNo)
	if ref == nilRef {
		return nil, lookupMiss, nil
	}
	p := bp.a.page(ref)
	p.mu.Lock(h)
	defer p.mu.Unlock()

	switch {
	case p.ioFix == BUF_IO_READ:
		// 读入完成时会广播，在放锁之前登记
		return nil, lookupWait, bp.pageEvent.Wait()
	case !bp.a.isBlock(ref):
		return nil, lookupZipOnly, nil
	}
	p.fixCount++
	return &PinnedPage{bp: bp, blk: bp.a.block(ref)}, lookupHit, nil
}

func (bp *BufferPool) waitPageEvent(ch <-chan struct{}) {
	bp.waitPageEventFor(ch, bp.config.FreeBlockWait)
}

// waitPageEventFor 等待广播，最多等 d。广播可能在登记之后、等待之前就发生了
func (bp *BufferPool) waitPageEventFor(ch <-chan struct{}, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	}
}

// IsResident 页面是否在缓冲池中(带帧或只有压缩副本)
func (bp *BufferPool) IsResident(spaceID, pageNo uint32) bool {
	bp.hash.mu.RLock(latch.Free)
	defer bp.hash.mu.RUnlock()
	return bp.hash.lookup(spaceID, pageNo) != nilRef
}

/*
afterAccess 即 buf_page_set_accessed + buf_page_make_young_if_needed。
调用方持有 pin，页面不会被淘汰或重定位
*/
func (bp *BufferPool) afterAccess(ref pageRef) {
	bp.listMu.Lock(latch.Free)
	defer bp.listMu.Unlock()

	p := bp.a.page(ref)
	now := bp.now()
	if p.accessTime.IsZero() {
		p.accessTime = now
	}
	if !bp.peekIfTooOld(p, now) {
		return
	}
	if bp.lru.makeYoung(ref) {
		atomic.AddInt64(&bp.counters.madeYoung, 1)
	}
	if blk := bp.a.block(ref); blk != nil && blk.inUnzipLRU {
		bp.unzip.remove(ref)
		bp.unzip.insert(ref, false)
	}
}

/*
peekIfTooOld 即 buf_page_peek_if_too_old，判断访问之后是否需要移到 LRU 头部。

old 子链表里的页面在第一次访问之后过了 OldBlocksTime 才提升，
否则记一次 not made young。其余页面只有漂到 new 子链表最后四分之一时才移动
*/
func (bp *BufferPool) peekIfTooOld(p *BufferPage, now time.Time) bool {
	if threshold := bp.config.OldBlocksTime; threshold > 0 && p.old {
		if now.Sub(p.accessTime) >= threshold {
			return true
		}
		atomic.AddInt64(&bp.counters.notMadeYoung, 1)
		return false
	}
	return !bp.peekIfYoung(p)
}

// peekIfYoung 即 buf_page_peek_if_young
func (bp *BufferPool) peekIfYoung(p *BufferPage) bool {
	ratio := uint64(bp.lru.params.oldRatio)
	window := uint64(bp.config.PoolSize) * (BUF_LRU_OLD_RATIO_DIV - ratio) / (BUF_LRU_OLD_RATIO_DIV * 4)
	return bp.lru.freedPageClock < p.freedPageClock+window
}

/*
readPage 即 buf_page_init_for_read + buf_read_page_low。

分配帧(压缩表空间还要分配压缩副本)，插入 page hash 和 LRU 并置 io READ，
放锁之后读盘。pin 为 false 时用于预读，页面不会被标记为访问过
*/
func (bp *BufferPool) readPage(spaceID, pageNo uint32, pin bool) (*PinnedPage, error) {
	var zip []byte
	if zipSize := bp.fileIO.ZipSize(spaceID); zipSize > 0 {
		buf, err := bp.allocZip(zipSize)
		if err != nil {
			return nil, NewError("read", spaceID, pageNo, err)
		}
		zip = buf
	}
	blk := bp.GetFreeBlock()

	h := bp.listMu.Lock(latch.Free)
	h2 := bp.hash.mu.Lock(h)
	if bp.hash.lookup(spaceID, pageNo) != nilRef {
		bp.hash.mu.Unlock()
		bp.listMu.Unlock()
		if zip != nil {
			bp.freeZip(zip)
		}
		bp.FreeBlock(blk)
		return nil, errPageExists
	}
	blk.mu.Lock(h2)
	blk.setIdentity(spaceID, pageNo)
	blk.state = BUF_BLOCK_FILE_PAGE
	blk.ioFix = BUF_IO_READ
	if pin {
		blk.fixCount = 1
	}
	blk.zip = zip
	bp.hash.insert(blk.ref)
	bp.lru.insert(blk.ref, true)
	if zip != nil {
		bp.unzip.insert(blk.ref, true)
	}
	blk.mu.Unlock()
	bp.hash.mu.Unlock()
	bp.listMu.Unlock()

	start := time.Now()
	var err error
	if zip != nil {
		if err = bp.fileIO.ReadPage(spaceID, pageNo, zip); err == nil {
			if derr := bp.codec.Decode(zip, blk.frame); derr != nil {
				err = NewError("decompress", spaceID, pageNo, errors.Join(ErrPageCorrupted, derr))
			}
		} else {
			err = NewError("read", spaceID, pageNo, &ioError{err: err})
		}
	} else if err = bp.fileIO.ReadPage(spaceID, pageNo, blk.frame); err != nil {
		err = NewError("read", spaceID, pageNo, &ioError{err: err})
	}
	if err != nil {
		logger.Errorf("buffer pool: read of page %d:%d failed: %v", spaceID, pageNo, err)
		bp.abortRead(blk)
		return nil, err
	}
	bp.stat.RecordIO()
	bp.counters.recordPageIO(true, time.Since(start))

	blk.mu.Lock(latch.Free)
	blk.ioFix = BUF_IO_NONE
	blk.mu.Unlock()
	bp.pageEvent.Broadcast()

	if !pin {
		return nil, nil
	}
	return &PinnedPage{bp: bp, blk: blk}, nil
}

// abortRead 即 buf_read_page_handle_error，读失败的页面整页移除
func (bp *BufferPool) abortRead(blk *BufferBlock) {
	h := bp.listMu.Lock(latch.Free)
	h2 := bp.hash.mu.Lock(h)
	h3 := blk.mu.Lock(h2)
	blk.ioFix = BUF_IO_NONE
	blk.fixCount = 0
	bp.removeHashedLocked(h3, &blk.BufferPage)
	blk.mu.Unlock()
	bp.hash.mu.Unlock()
	bp.listMu.Unlock()

	bp.pageEvent.Broadcast()
	bp.finishFree(blk)
}

func (bp *BufferPool) freeZip(zip []byte) {
	if err := bp.zipAlloc.Free(zip); err != nil {
		bp.invariantViolation("free zip: %v", err)
	}
}

/*
unzipPage 只有压缩副本的页面被访问时，分配一个帧解压，
解压后的控制体在 LRU、page hash、flush list 中顶替压缩控制体，并加入 unzip LRU 头部
*/
func (bp *BufferPool) unzipPage(spaceID, pageNo uint32) (*PinnedPage, error) {
	blk := bp.GetFreeBlock()

	h := bp.listMu.Lock(latch.Free)
	h2 := bp.hash.mu.Lock(h)
	ref := bp.hash.lookup(spaceID, pageNo)
	if ref == nilRef || bp.a.isBlock(ref) {
		// 放锁期间被别人解压或者被淘汰了
		bp.hash.mu.Unlock()
		bp.listMu.Unlock()
		bp.FreeBlock(blk)
		return nil, errRetry
	}
	z := bp.a.page(ref)
	h3 := z.mu.Lock(h2)
	if !z.canRelocate() {
		wait := bp.pageEvent.Wait()
		z.mu.Unlock()
		bp.hash.mu.Unlock()
		bp.listMu.Unlock()
		bp.FreeBlock(blk)
		bp.waitPageEvent(wait)
		return nil, errRetry
	}

	// blk 刚从 Free List 取出，其他线程拿不到，不需要加锁
	blk.copyFrom(z)
	blk.state = BUF_BLOCK_FILE_PAGE
	blk.ioFix = BUF_IO_READ
	blk.fixCount = 1
	blk.zipStale = false
	bp.lru.replace(ref, blk.ref)
	if !bp.hash.replace(ref, blk.ref) {
		bp.invariantViolation("page %d:%d missing from page hash during decompression", spaceID, pageNo)
	}
	if blk.isDirty() {
		bp.flush.mu.Lock(h3)
		bp.flush.relocate(ref, blk.ref)
		bp.flush.mu.Unlock()
	}
	bp.unzip.insert(blk.ref, false)
	z.zip = nil
	bp.a.freeZipSlot(ref)
	z.mu.Unlock()
	bp.hash.mu.Unlock()
	bp.listMu.Unlock()

	if err := bp.codec.Decode(blk.zip, blk.frame); err != nil {
		logger.Errorf("buffer pool: compressed page %d:%d is corrupted: %v", spaceID, pageNo, err)
		bp.abortRead(blk)
		return nil, NewError("decompress", spaceID, pageNo, errors.Join(ErrPageCorrupted, err))
	}
	bp.stat.RecordDecompress()
	atomic.AddInt64(&bp.counters.decompressions, 1)

	blk.mu.Lock(latch.Free)
	blk.ioFix = BUF_IO_NONE
	blk.mu.Unlock()
	bp.pageEvent.Broadcast()

	bp.afterAccess(blk.ref)
	return &PinnedPage{bp: bp, blk: blk}, nil
}

// ReadAhead 即 buf_read_ahead_*，把不在缓冲池中的页面读入 LRU 的 old 子链表，
// 不 pin 也不标记访问。返回实际读入的页数
func (bp *BufferPool) ReadAhead(spaceID uint32, pageNos []uint32) int {
	n := 0
	for _, pageNo := range pageNos {
		if bp.IsResident(spaceID, pageNo) {
			continue
		}
		if _, err := bp.readPage(spaceID, pageNo, false); err != nil {
			if !errors.Is(err, errPageExists) {
				logger.Debugf("buffer pool: read ahead of page %d:%d: %v", spaceID, pageNo, err)
			}
			continue
		}
		n++
	}
	atomic.AddInt64(&bp.counters.readAheadPages, int64(n))
	return n
}
