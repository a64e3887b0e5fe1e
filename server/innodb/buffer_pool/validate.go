package buffer_pool

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

/*
Validate 即 buf_LRU_validate + buf_flush_validate，检查各链表和 page hash 是否一致。
只在没有并发修改的时候调用，返回发现的全部问题
*/
func (bp *BufferPool) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	h := bp.listMu.Lock(latch.Free)
	defer bp.listMu.Unlock()
	h2 := bp.hash.mu.Lock(h)
	defer bp.hash.mu.Unlock()

	// LRU
	n, oldSeen, dirty, zipOnly := 0, 0, 0, 0
	inOld := false
	var prev pageRef
	for ref := bp.lru.head; ref != nilRef; ref = bp.a.page(ref).lruNext {
		p := bp.a.page(ref)
		n++
		if n > bp.a.size() {
			fail("lru: cycle detected")
			break
		}
		p.mu.RLock(h2)
		state, isDirty, inFlush := p.state, p.isDirty(), p.inFlushList
		p.mu.RUnlock()

		if p.lruPrev != prev {
			fail("lru: page %d:%d prev link %d, want %d", p.spaceId, p.pageNo, p.lruPrev, prev)
		}
		if !p.inLRU {
			fail("lru: page %d:%d not flagged in LRU", p.spaceId, p.pageNo)
		}
		if !state.inPageHash() {
			fail("lru: page %d:%d in state %s", p.spaceId, p.pageNo, state)
		}
		if bp.hash.lookup(p.spaceId, p.pageNo) != ref {
			fail("lru: page %d:%d not indexed by page hash", p.spaceId, p.pageNo)
		}
		if ref == bp.lru.oldRef {
			inOld = true
		}
		if p.old != inOld {
			fail("lru: page %d:%d old flag %v, divider says %v", p.spaceId, p.pageNo, p.old, inOld)
		}
		if p.old {
			oldSeen++
		}
		if isDirty {
			dirty++
			if !inFlush {
				fail("lru: dirty page %d:%d not on flush list", p.spaceId, p.pageNo)
			}
		}
		if state.compressedOnly() {
			zipOnly++
		}
		prev = ref
	}
	if prev != bp.lru.tail {
		fail("lru: tail %d, last page %d", bp.lru.tail, prev)
	}
	if n != bp.lru.len {
		fail("lru: length %d, counted %d", bp.lru.len, n)
	}
	if oldSeen != bp.lru.oldLen {
		fail("lru: old length %d, counted %d", bp.lru.oldLen, oldSeen)
	}
	if bp.lru.len >= bp.lru.params.oldMinLen {
		target := bp.lru.oldTarget()
		if bp.lru.oldRef == nilRef {
			fail("lru: no divider with %d pages", bp.lru.len)
		} else if d := bp.lru.oldLen - target; d > bp.lru.params.tolerance || -d > bp.lru.params.tolerance {
			fail("lru: old length %d outside %d±%d", bp.lru.oldLen, target, bp.lru.params.tolerance)
		}
	} else if bp.lru.oldRef != nilRef || bp.lru.oldLen != 0 {
		fail("lru: divider set with only %d pages", bp.lru.len)
	}

	// page hash
	if bp.hash.len() != bp.lru.len {
		fail("page hash: %d entries, lru has %d", bp.hash.len(), bp.lru.len)
	}
	bp.hash.forEach(func(ref pageRef) {
		if p := bp.a.page(ref); !p.inLRU {
			fail("page hash: page %d:%d not in LRU", p.spaceId, p.pageNo)
		}
	})

	// unzip LRU
	n = 0
	for ref := bp.unzip.head; ref != nilRef; ref = bp.a.block(ref).unzipNext {
		b := bp.a.block(ref)
		n++
		if n > len(bp.a.blocks) {
			fail("unzip lru: cycle detected")
			break
		}
		if b.state != BUF_BLOCK_FILE_PAGE || b.zip == nil || !b.inLRU {
			fail("unzip lru: %s zip=%d inLRU=%v", b, len(b.zip), b.inLRU)
		}
	}
	if n != bp.unzip.len {
		fail("unzip lru: length %d, counted %d", bp.unzip.len, n)
	}

	// flush list
	bp.flush.mu.Lock(h2)
	n = 0
	var lastLSN uint64
	for ref := bp.flush.head; ref != nilRef; ref = bp.a.page(ref).flushNext {
		p := bp.a.page(ref)
		n++
		if n > bp.a.size() {
			fail("flush list: cycle detected")
			break
		}
		lsn := uint64(p.oldestModification)
		if lsn == 0 || !p.inFlushList {
			fail("flush list: page %d:%d is clean", p.spaceId, p.pageNo)
		}
		if n > 1 && lsn > lastLSN {
			fail("flush list: page %d:%d lsn %d after %d", p.spaceId, p.pageNo, lsn, lastLSN)
		}
		lastLSN = lsn
	}
	if n != bp.flush.len {
		fail("flush list: length %d, counted %d", bp.flush.len, n)
	}
	bp.flush.mu.Unlock()
	if dirty != bp.flush.len {
		fail("flush list: %d dirty pages in LRU, %d on flush list", dirty, bp.flush.len)
	}

	// free list
	seen := make(map[pageRef]struct{})
	for _, ref := range bp.free.snapshot() {
		if _, dup := seen[ref]; dup {
			fail("free list: block %d listed twice", ref)
		}
		seen[ref] = struct{}{}
		b := bp.a.block(ref)
		if b == nil || b.state != BUF_BLOCK_NOT_USED || b.inLRU {
			fail("free list: block %d not free", ref)
		}
	}
	if used := bp.a.zipInUse(); used != zipOnly {
		fail("zip slots: %d in use, %d compressed-only pages in LRU", used, zipOnly)
	}

	return errors.Join(errs...)
}

// DumpState 缓冲池状态，用于诊断日志
func (bp *BufferPool) DumpState() logger.Fields {
	h := bp.listMu.Lock(latch.Free)
	fields := bp.dumpStateUnlocked()
	states := make(map[string]int)
	for i := 1; i <= bp.a.size(); i++ {
		p := bp.a.page(pageRef(i))
		p.mu.RLock(h)
		if p.state != BUF_BLOCK_NOT_USED || bp.a.isBlock(p.ref) {
			states[p.state.String()]++
		}
		p.mu.RUnlock()
	}
	bp.listMu.Unlock()

	fields["states"] = formatCounts(states)
	return fields
}

// dumpStateUnlocked 不加锁读取，数值可能不一致。持有任意锁时都可以调用
func (bp *BufferPool) dumpStateUnlocked() logger.Fields {
	fields := logger.Fields{
		"pool_size":      bp.config.PoolSize,
		"pool_mem":       humanize.IBytes(uint64(bp.config.PoolSize * bp.config.PageSize)),
		"free":           bp.free.len(),
		"lru_len":        bp.lru.len,
		"lru_old_len":    bp.lru.oldLen,
		"unzip_lru_len":  bp.unzip.len,
		"flush_list_len": bp.flush.len,
		"page_hash_len":  bp.hash.len(),
		"zip_slots_used": len(bp.a.zipPages) - len(bp.a.zipFree),
		"recovery":       bp.inRecovery(),
		"monitor":        atomic.LoadInt32(&bp.monitorOn) == 1,
	}
	if bp.zipAlloc != nil {
		zs := bp.zipAlloc.Stats()
		fields["zip_mem_used"] = humanize.IBytes(uint64(zs.UsedBytes))
		fields["zip_mem"] = humanize.IBytes(uint64(zs.ArenaSize))
	}
	return fields
}

// formatCounts 按名称排序输出 name=count
func formatCounts(counts map[string]int) string {
	names := maps.Keys(counts)
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, counts[name]))
	}
	return strings.Join(parts, " ")
}
