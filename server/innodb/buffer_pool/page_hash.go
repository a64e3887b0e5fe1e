package buffer_pool

import (
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-bufferpool/util"
)

// pageHash 即 buf_pool->page_hash，(spaceId, pageNo) -> 控制体
// 链地址法，链表通过 BufferPage.hashNext 串联。结构修改需持有写锁
type pageHash struct {
	mu      *latch.Latch
	a       *arena
	buckets []pageRef
	mask    uint64
	count   int
}

func newPageHash(a *arena, capacity int) *pageHash {
	n := 1
	for n < 2*capacity {
		n <<= 1
	}
	return &pageHash{
		mu:      latch.NewLatch(latch.LevelHash, "page_hash"),
		a:       a,
		buckets: make([]pageRef, n),
		mask:    uint64(n - 1),
	}
}

func (h *pageHash) bucket(spaceID, pageNo uint32) uint64 {
	return util.PageFold(spaceID, pageNo) & h.mask
}

// lookup 调用方持有读锁或写锁
func (h *pageHash) lookup(spaceID, pageNo uint32) pageRef {
	for ref := h.buckets[h.bucket(spaceID, pageNo)]; ref != nilRef; {
		p := h.a.page(ref)
		if p.spaceId == spaceID && p.pageNo == pageNo {
			return ref
		}
		ref = p.hashNext
	}
	return nilRef
}

// insert 插入控制体，键已存在时返回 false
func (h *pageHash) insert(ref pageRef) bool {
	p := h.a.page(ref)
	if p.inHash || h.lookup(p.spaceId, p.pageNo) != nilRef {
		return false
	}
	b := h.bucket(p.spaceId, p.pageNo)
	p.hashNext = h.buckets[b]
	p.inHash = true
	h.buckets[b] = ref
	h.count++
	return true
}

// remove 删除控制体，不在表中时返回 false
func (h *pageHash) remove(ref pageRef) bool {
	p := h.a.page(ref)
	if !p.inHash {
		return false
	}
	slot := &h.buckets[h.bucket(p.spaceId, p.pageNo)]
	for *slot != nilRef {
		if *slot == ref {
			*slot = p.hashNext
			p.hashNext = nilRef
			p.inHash = false
			h.count--
			return true
		}
		slot = &h.a.page(*slot).hashNext
	}
	return false
}

// replace 重定位：dst 已经复制了 src 的内容，用 dst 顶替 src 在链上的位置
func (h *pageHash) replace(src, dst pageRef) bool {
	p := h.a.page(src)
	if !p.inHash {
		return false
	}
	slot := &h.buckets[h.bucket(p.spaceId, p.pageNo)]
	for *slot != nilRef {
		if *slot == src {
			*slot = dst
			d := h.a.page(dst)
			d.hashNext = p.hashNext
			d.inHash = true
			p.hashNext = nilRef
			p.inHash = false
			return true
		}
		slot = &h.a.page(*slot).hashNext
	}
	return false
}

func (h *pageHash) len() int {
	return h.count
}

// forEach 遍历全部控制体，Validate 使用
func (h *pageHash) forEach(fn func(ref pageRef)) {
	for _, head := range h.buckets {
		for ref := head; ref != nilRef; ref = h.a.page(ref).hashNext {
			fn(ref)
		}
	}
}
