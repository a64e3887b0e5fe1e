package buffer_pool

import (
	"errors"
	"time"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/common"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

// pageKey flush list 快照里记录的页面身份
type pageKey struct {
	spaceID uint32
	pageNo  uint32
}

/*
MarkDirty 即 buf_flush_note_modification。

第一次修改时按 lsn 有序插入 flush list；之后只更新 newestModification。
带压缩副本的页面标记副本过期，淘汰解压帧之前要重新压缩
*/
func (bp *BufferPool) MarkDirty(pp *PinnedPage, lsn common.LSNT) {
	if lsn == common.LSN_CLEAN {
		logger.Warnf("buffer pool: ignoring modification of page %d:%d with lsn 0", pp.SpaceID(), pp.PageNo())
		return
	}
	blk := pp.blk
	h := blk.mu.Lock(latch.Free)
	defer blk.mu.Unlock()

	if blk.oldestModification == common.LSN_CLEAN {
		blk.oldestModification = lsn
		bp.flush.mu.Lock(h)
		bp.flush.insert(blk.ref)
		bp.flush.mu.Unlock()
	}
	if lsn > blk.newestModification {
		blk.newestModification = lsn
	}
	if blk.zip != nil {
		blk.zipStale = true
	}
}

/*
FlushPage 把一个脏页写回 FileIO。

写盘期间置 io WRITE，页面不能被淘汰；带压缩副本的页面重新压缩后写压缩镜像。
写完之后如果期间没有新的修改，从 flush list 摘除并移到 LRU 尾部
*/
func (bp *BufferPool) FlushPage(spaceID, pageNo uint32) error {
	h := bp.hash.mu.RLock(latch.Free)
	ref := bp.hash.lookup(spaceID, pageNo)
	if ref == nilRef {
		bp.hash.mu.RUnlock()
		return NewError("flush", spaceID, pageNo, ErrPageNotFound)
	}
	p := bp.a.page(ref)
	p.mu.Lock(h)
	if !p.isDirty() {
		p.mu.Unlock()
		bp.hash.mu.RUnlock()
		return nil
	}
	if p.ioFix != BUF_IO_NONE {
		p.mu.Unlock()
		bp.hash.mu.RUnlock()
		return NewError("flush", spaceID, pageNo, ErrPageLocked)
	}
	p.ioFix = BUF_IO_WRITE
	lsn := p.newestModification

	// io WRITE 期间页面不会重定位，ref 保持有效
	blk := bp.a.block(ref)
	var img []byte
	var err error
	switch {
	case blk == nil:
		img = append([]byte(nil), p.zip...)
	case p.zip != nil:
		img = make([]byte, len(p.zip))
		err = bp.codec.Encode(blk.frame, img)
	default:
		img = append([]byte(nil), blk.frame...)
	}
	p.mu.Unlock()
	bp.hash.mu.RUnlock()

	start := time.Now()
	if err == nil {
		if werr := bp.fileIO.WritePage(spaceID, pageNo, img); werr != nil {
			err = &ioError{err: werr}
		} else {
			bp.counters.recordPageIO(false, time.Since(start))
		}
	}
	bp.completeWrite(p, lsn, img, err == nil)
	bp.counters.recordFlush(err == nil)

	if err != nil {
		logger.Errorf("buffer pool: flush of page %d:%d failed: %v", spaceID, pageNo, err)
		return NewError("flush", spaceID, pageNo, errors.Join(ErrFlushFailed, err))
	}
	return nil
}

// completeWrite 即 buf_flush_write_complete
func (bp *BufferPool) completeWrite(p *BufferPage, lsn common.LSNT, img []byte, ok bool) {
	h := bp.listMu.Lock(latch.Free)
	h2 := p.mu.Lock(h)
	p.ioFix = BUF_IO_NONE
	// 写盘期间又被修改过的页面仍然是脏页
	if ok && p.newestModification == lsn {
		bp.flush.mu.Lock(h2)
		bp.flush.remove(p.ref)
		bp.flush.mu.Unlock()
		p.oldestModification = common.LSN_CLEAN

		switch p.state {
		case BUF_BLOCK_ZIP_DIRTY:
			p.state = BUF_BLOCK_ZIP_PAGE
		case BUF_BLOCK_FILE_PAGE:
			if p.zip != nil {
				copy(p.zip, img)
				bp.a.block(p.ref).zipStale = false
			}
		}
		bp.lru.makeOld(p.ref)
	}
	p.mu.Unlock()
	bp.listMu.Unlock()
	bp.pageEvent.Broadcast()
}

// FlushDirtyPages 从 flush list 尾部(最旧的修改)开始写回最多 limit 个脏页，
// limit <= 0 表示全部。返回成功写回的页数
func (bp *BufferPool) FlushDirtyPages(limit int) (int, error) {
	keys := bp.flushSnapshot(func(*BufferPage) bool { return true })
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	n := 0
	var firstErr error
	for _, k := range keys {
		err := bp.FlushPage(k.spaceID, k.pageNo)
		switch {
		case err == nil:
			n++
		case IsNotFound(err) || IsLocked(err):
		case firstErr == nil:
			firstErr = err
		}
	}
	return n, firstErr
}

// flushSnapshot 在 LRU 锁和 flush list 锁下从尾部收集满足条件的脏页身份
func (bp *BufferPool) flushSnapshot(match func(p *BufferPage) bool) []pageKey {
	h := bp.listMu.Lock(latch.Free)
	bp.flush.mu.Lock(h)
	keys := make([]pageKey, 0, bp.flush.len)
	for ref := bp.flush.tail; ref != nilRef; ref = bp.a.page(ref).flushPrev {
		if p := bp.a.page(ref); match(p) {
			keys = append(keys, pageKey{spaceID: p.spaceId, pageNo: p.pageNo})
		}
	}
	bp.flush.mu.Unlock()
	bp.listMu.Unlock()
	return keys
}

// setSticky 即 buf_page_set_sticky，长扫描放锁之前钉住下一个要访问的页面。
// 页面正在 IO 时返回 false
func (bp *BufferPool) setSticky(h latch.Held, ref pageRef) bool {
	p := bp.a.page(ref)
	p.mu.Lock(h)
	defer p.mu.Unlock()
	if p.ioFix != BUF_IO_NONE {
		return false
	}
	p.ioFix = BUF_IO_PIN
	return true
}

// unsetSticky 即 buf_page_unset_sticky
func (bp *BufferPool) unsetSticky(h latch.Held, ref pageRef) {
	p := bp.a.page(ref)
	p.mu.Lock(h)
	if p.ioFix != BUF_IO_PIN {
		state := p.ioFix
		p.mu.Unlock()
		bp.invariantViolation("unset sticky on page %d:%d with io fix %s", p.spaceId, p.pageNo, state)
		return
	}
	p.ioFix = BUF_IO_NONE
	p.mu.Unlock()
	bp.pageEvent.Broadcast()
}

// pendingIO 正在做 io 类型 IO 的页面数，仅用于诊断
func (bp *BufferPool) pendingIO(io buffer_io_fix) int {
	n := 0
	for i := 1; i <= bp.a.size(); i++ {
		p := bp.a.page(pageRef(i))
		p.mu.RLock(latch.Free)
		if p.ioFix == io {
			n++
		}
		p.mu.RUnlock()
	}
	return n
}
