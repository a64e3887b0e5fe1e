package buffer_pool

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/exp/slices"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/common"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

/*
InvalidateSpace 即 buf_LRU_flush_or_remove_pages，表空间 drop / discard 时调用。

  - BUF_REMOVE_ALL_NO_WRITE: 先放锁批量删除自适应哈希索引，再移除该表空间的全部页面，脏页不写回
  - BUF_REMOVE_FLUSH_NO_WRITE: 只把脏页从 flush list 摘除，页面留在 LRU 中自然淘汰
  - BUF_REMOVE_FLUSH_WRITE: 写回该表空间的全部脏页，不淘汰

被 pin 或正在 IO 的页面会等待之后重试，直到全部处理完
*/
func (bp *BufferPool) InvalidateSpace(spaceID uint32, mode RemoveMode) error {
	switch mode {
	case BUF_REMOVE_ALL_NO_WRITE:
		bp.dropPageHashForSpace(spaceID)
		bp.removeAllPages(spaceID)
	case BUF_REMOVE_FLUSH_NO_WRITE:
		bp.removeDirtyPages(spaceID)
	case BUF_REMOVE_FLUSH_WRITE:
		if err := bp.flushDirtyPagesOf(spaceID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidRemoveMode, mode)
	}
	atomic.AddInt64(&bp.counters.invalidations, 1)
	logger.Debugf("buffer pool: invalidated space %d (%s)", spaceID, mode)
	return nil
}

/*
dropPageHashForSpace 即 buf_LRU_drop_page_hash_for_tablespace。

从 LRU 尾部收集建有哈希索引的页号，攒满一批后放掉 LRU 锁交给 AdaptiveHashIndex。
放锁之前钉住下一个要访问的页面；钉不住时记下它的身份，重新加锁后对不上就从头扫描。
已经提交过的页号不再重复提交
*/
func (bp *BufferPool) dropPageHashForSpace(spaceID uint32) {
	zipSize := bp.fileIO.ZipSize(spaceID)
	batch := make([]uint32, 0, bp.config.DropSearchSize)
	seen := make(map[uint32]struct{})

	for restart := true; restart; {
		restart = false
		h := bp.listMu.Lock(latch.Free)
		for ref := bp.lru.tail; ref != nilRef; {
			p := bp.a.page(ref)
			prev := p.lruPrev
			if p.spaceId != spaceID || !bp.canDropHash(h, ref) {
				ref = prev
				continue
			}
			if _, dup := seen[p.pageNo]; dup {
				ref = prev
				continue
			}
			seen[p.pageNo] = struct{}{}
			batch = append(batch, p.pageNo)
			if len(batch) < bp.config.DropSearchSize || prev == nilRef {
				ref = prev
				continue
			}

			prevKey := pageKey{spaceID: bp.a.page(prev).spaceId, pageNo: bp.a.page(prev).pageNo}
			sticky := bp.setSticky(h, prev)
			bp.listMu.Unlock()

			bp.dropBatch(spaceID, zipSize, batch)
			batch = batch[:0]

			h = bp.listMu.Lock(latch.Free)
			if sticky {
				bp.unsetSticky(h, prev)
			}
			q := bp.a.page(prev)
			if !sticky && (!q.inLRU || q.spaceId != prevKey.spaceID || q.pageNo != prevKey.pageNo) {
				// 放锁期间 LRU 被改动过
				restart = true
				break
			}
			ref = prev
		}
		bp.listMu.Unlock()
	}

	if len(batch) > 0 {
		bp.dropBatch(spaceID, zipSize, batch)
	}
}

// canDropHash 页面带帧且建有哈希索引，没有 pin 也没有 IO
func (bp *BufferPool) canDropHash(h latch.Held, ref pageRef) bool {
	blk := bp.a.block(ref)
	if blk == nil {
		return false
	}
	blk.mu.Lock(h)
	defer blk.mu.Unlock()
	return blk.state == BUF_BLOCK_FILE_PAGE && blk.canRelocate() && blk.hashIndexed
}

func (bp *BufferPool) dropBatch(spaceID uint32, zipSize int, batch []uint32) {
	pageNos := slices.Clone(batch)
	slices.Sort(pageNos)
	bp.ahi.DropPageHashBatch(spaceID, zipSize, pageNos)
}

/*
removeAllPages 即 buf_LRU_remove_all_pages。

一遍扫描移除该表空间全部可以移除的页面，脏页直接从 flush list 摘除。
有页面被 pin 或正在 IO 时，等它们释放之后再扫一遍
*/
func (bp *BufferPool) removeAllPages(spaceID uint32) {
	for pass := 1; ; pass++ {
		var freed []*BufferBlock
		remaining := 0

		h := bp.listMu.Lock(latch.Free)
		wait := bp.pageEvent.Wait()
		for ref := bp.lru.tail; ref != nilRef; {
			p := bp.a.page(ref)
			prev := p.lruPrev
			if p.spaceId != spaceID {
				ref = prev
				continue
			}

			h2 := bp.hash.mu.Lock(h)
			h3 := p.mu.Lock(h2)
			if p.canRelocate() {
				bp.removeHashedLocked(h3, p)
				if blk := bp.a.block(ref); blk != nil {
					freed = append(freed, blk)
				} else {
					bp.a.freeZipSlot(ref)
				}
			} else {
				remaining++
			}
			p.mu.Unlock()
			bp.hash.mu.Unlock()
			ref = prev
		}
		bp.listMu.Unlock()

		for _, blk := range freed {
			bp.finishFree(blk)
		}
		if remaining == 0 {
			return
		}
		logger.Debugf("buffer pool: space %d pass %d removed %d pages, %d pinned or io-fixed", spaceID, pass, len(freed), remaining)
		bp.waitPageEventFor(wait, bp.config.InvalidateRetryWait)
	}
}

/*
removeDirtyPages 即 buf_LRU_remove_dirty_pages_for_tablespace。

按 flush list 快照逐页摘除，不写盘；每处理 DropSearchSize 个页面放一次 LRU 锁。
正在 IO 的页面留到下一轮
*/
func (bp *BufferPool) removeDirtyPages(spaceID uint32) {
	for pass := 1; ; pass++ {
		keys := bp.flushSnapshot(func(p *BufferPage) bool { return p.spaceId == spaceID })
		if len(keys) == 0 {
			return
		}
		remaining := 0
		for start := 0; start < len(keys); start += bp.config.DropSearchSize {
			end := start + bp.config.DropSearchSize
			if end > len(keys) {
				end = len(keys)
			}
			remaining += bp.removeDirtyBatch(keys[start:end])
			runtime.Gosched()
		}
		if remaining == 0 {
			return
		}
		logger.Debugf("buffer pool: space %d pass %d left %d io-fixed dirty pages", spaceID, pass, remaining)
		bp.waitPageEventFor(bp.pageEvent.Wait(), bp.config.FlushRetryWait)
	}
}

// removeDirtyBatch 返回因为正在 IO 而没能摘除的页数
func (bp *BufferPool) removeDirtyBatch(keys []pageKey) int {
	remaining := 0
	h := bp.listMu.Lock(latch.Free)
	defer bp.listMu.Unlock()
	for _, k := range keys {
		h2 := bp.hash.mu.RLock(h)
		ref := bp.hash.lookup(k.spaceID, k.pageNo)
		if ref == nilRef {
			bp.hash.mu.RUnlock()
			continue
		}
		p := bp.a.page(ref)
		h3 := p.mu.Lock(h2)
		switch {
		case !p.isDirty():
		case p.ioFix != BUF_IO_NONE:
			remaining++
		default:
			bp.flush.mu.Lock(h3)
			bp.flush.remove(ref)
			bp.flush.mu.Unlock()
			p.oldestModification = common.LSN_CLEAN
			if p.state == BUF_BLOCK_ZIP_DIRTY {
				p.state = BUF_BLOCK_ZIP_PAGE
			}
		}
		p.mu.Unlock()
		bp.hash.mu.RUnlock()
	}
	return remaining
}

// flushDirtyPagesOf 写回表空间的全部脏页。写盘失败直接返回
func (bp *BufferPool) flushDirtyPagesOf(spaceID uint32) error {
	for pass := 1; ; pass++ {
		keys := bp.flushSnapshot(func(p *BufferPage) bool { return p.spaceId == spaceID })
		if len(keys) == 0 {
			return nil
		}
		if pass > 1 {
			logger.Debugf("buffer pool: space %d flush pass %d, %d dirty pages left", spaceID, pass, len(keys))
			bp.waitPageEventFor(bp.pageEvent.Wait(), bp.config.FlushRetryWait)
		}
		for _, k := range keys {
			if err := bp.FlushPage(k.spaceID, k.pageNo); err != nil && !IsLocked(err) && !IsNotFound(err) {
				return err
			}
		}
	}
}
