package buffer_pool

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

const (
	// freeBlockSpinRounds 前 10 轮失败只让出 CPU
	freeBlockSpinRounds = 10
	// freeBlockStallRounds 超过 30 轮打印一次诊断信息
	freeBlockStallRounds = 30
)

/*
GetFreeBlock 即 buf_LRU_get_free_block。

从 Free List 取一个空闲帧，没有就不断淘汰，直到拿到为止。没有超时:
持有者释放 pin 之后总能拿到。缓冲池几乎全部被占用且不在恢复中时，
调用 abort 处理函数终止进程
*/
func (bp *BufferPool) GetFreeBlock() *BufferBlock {
	n := 0
	stalled := false
	for {
		bp.checkCapacity()

		if blk := bp.takeFree(); blk != nil {
			if stalled {
				logger.Infof("buffer pool: found a free block after %d search iterations", n)
			}
			return blk
		}

		// 先登记等待，淘汰期间发生的释放不会丢失
		freed := bp.frameFreed.Wait()
		released := bp.pageEvent.Wait()

		if bp.TryEvictOne(n) {
			continue
		}
		n++

		if n > freeBlockStallRounds && !stalled {
			stalled = true
			atomic.AddInt64(&bp.counters.freeBlockStalls, 1)
			logger.WithFields(bp.stallFields(n)).Warnf(
				"difficult to find free blocks in the buffer pool (%d search iterations)! "+
					"Consider increasing the buffer pool size. It is also possible that pages are pinned and never released", n)
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

// takeFree 从 Free List 弹出一个帧，状态改为 READY_FOR_USE
func (bp *BufferPool) takeFree() *BufferBlock {
	ref := bp.free.pop()
	if ref == nilRef {
		return nil
	}
	blk := bp.a.block(ref)
	blk.mu.Lock(latch.Free)
	state := blk.state
	if state == BUF_BLOCK_NOT_USED {
		blk.state = BUF_BLOCK_READY_FOR_USE
	}
	blk.mu.Unlock()
	if state != BUF_BLOCK_NOT_USED {
		bp.invariantViolation("block %d on free list in state %s", ref, state)
	}
	return blk
}

// FreeBlock 即 buf_LRU_block_free_non_file_page，帧回到 Free List。
// 只接受 GetFreeBlock 取出或淘汰时摘下的帧，重复释放是程序错误
func (bp *BufferPool) FreeBlock(blk *BufferBlock) {
	blk.mu.Lock(latch.Free)
	state := blk.state
	if state != BUF_BLOCK_READY_FOR_USE && state != BUF_BLOCK_REMOVE_HASH {
		blk.mu.Unlock()
		bp.invariantViolation("free block %d in state %s", blk.ref, state)
		return
	}
	// 链表指针在摘除时已经清空
	blk.setIdentity(0, 0)
	blk.hashIndexed = false
	blk.zipStale = false
	blk.state = BUF_BLOCK_NOT_USED
	blk.mu.Unlock()

	bp.free.push(blk.ref)
	bp.frameFreed.Broadcast()
}

// finishFree 淘汰下来的帧在放锁之后删除自适应哈希索引，再放回 Free List
func (bp *BufferPool) finishFree(blk *BufferBlock) {
	if blk.hashIndexed {
		bp.ahi.DropPageHash(blk)
		blk.hashIndexed = false
	}
	bp.FreeBlock(blk)
}

/*
checkCapacity 即 buf_LRU_check_size_of_non_data_objects。

可用帧 = Free List + LRU 中占着帧的页面，只有压缩副本的页面不占帧。
恢复期间只豁免 1/20 的终止检查，监控开关照常按可用帧数切换
*/
func (bp *BufferPool) checkCapacity() {
	size := bp.config.PoolSize
	bp.listMu.RLock(latch.Free)
	avail := bp.free.len() + bp.lru.len - bp.a.zipInUse()
	bp.listMu.RUnlock()

	switch {
	case avail < size/20 && !bp.inRecovery():
		logger.WithFields(bp.DumpState()).Errorf(
			"over 95 percent of the buffer pool is occupied by pinned or non-data pages: "+
				"%d of %d frames available, check for a pin leak or increase the buffer pool size", avail, size)
		bp.abort("buffer pool exhausted: %d of %d frames available", avail, size)
		panic(fmt.Errorf("%w: %d of %d frames available", ErrPoolExhausted, avail, size))

	case avail < size/3:
		if atomic.CompareAndSwapInt32(&bp.monitorOn, 0, 1) {
			logger.WithFields(logger.Fields{
				"available": avail,
				"pool_size": size,
				"pool_mem":  humanize.IBytes(uint64(size * bp.config.PageSize)),
			}).Warn("over 67 percent of the buffer pool is occupied by pinned or non-data pages, switching on the buffer pool monitor")
		}

	default:
		if atomic.CompareAndSwapInt32(&bp.monitorOn, 1, 0) {
			logger.Debugf("buffer pool: %d of %d frames available, switching off the buffer pool monitor", avail, size)
		}
	}
}

// stallFields 淘汰卡住时的诊断信息
func (bp *BufferPool) stallFields(n int) logger.Fields {
	fields := bp.DumpState()
	fields["iterations"] = n
	fields["waits"] = atomic.LoadInt64(&bp.counters.freeBlockWaits)
	fields["pending_reads"] = bp.pendingIO(BUF_IO_READ)
	fields["pending_writes"] = bp.pendingIO(BUF_IO_WRITE)
	return fields
}
