package buffer_pool

// LRU 链表的 old/new 划分常量，见 buf0lru
const (
	// BUF_LRU_OLD_MIN_LEN LRU 长度达到该值才划分 old 子链表
	BUF_LRU_OLD_MIN_LEN = 512
	// BUF_LRU_OLD_TOLERANCE old 子链表长度允许偏离目标值的幅度
	BUF_LRU_OLD_TOLERANCE = 20
	// BUF_LRU_NON_OLD_MIN_LEN new 子链表的最小长度
	BUF_LRU_NON_OLD_MIN_LEN = 5
	// BUF_LRU_OLD_RATIO_DIV old 比例的分母
	BUF_LRU_OLD_RATIO_DIV = 1024
	// BUF_LRU_OLD_RATIO_MIN / MAX innodb_old_blocks_pct 的取值范围 5%..95%
	BUF_LRU_OLD_RATIO_MIN = 51
	BUF_LRU_OLD_RATIO_MAX = 1024
	// BUF_LRU_OLD_RATIO_DEFAULT 默认 3/8
	BUF_LRU_OLD_RATIO_DEFAULT = 3 * BUF_LRU_OLD_RATIO_DIV / 8
)

type lruParams struct {
	oldRatio     int
	oldMinLen    int
	tolerance    int
	nonOldMinLen int
}

/*
lruList 即 buf_pool->LRU，带中点插入的 LRU 链表。

	head ... [new 子链表] ... oldRef -> [old 子链表] ... tail

oldRef 指向 old 子链表的第一个页面(LRU_old)。新读入的页面插在 oldRef 之后，
只有在 old 子链表里存活足够久的页面才会被提升到头部。
所有方法调用方都必须持有 LRU 锁。
*/
type lruList struct {
	a      *arena
	params lruParams

	head, tail pageRef
	len        int

	oldRef pageRef
	oldLen int

	// freedPageClock 每从 LRU 释放一个页面加一
	freedPageClock uint64
}

func newLRUList(a *arena, params lruParams) *lruList {
	return &lruList{a: a, params: params}
}

func (l *lruList) page(ref pageRef) *BufferPage {
	return l.a.page(ref)
}

// oldTarget old 子链表的目标长度
func (l *lruList) oldTarget() int {
	target := l.len * l.params.oldRatio / BUF_LRU_OLD_RATIO_DIV
	if limit := l.len - (l.params.tolerance + l.params.nonOldMinLen); limit < target {
		target = limit
	}
	return target
}

// rebalanceDivider 把 oldRef 移动一格，返回是否还需要继续移动
func (l *lruList) rebalanceDivider() bool {
	if l.oldRef == nilRef {
		return false
	}
	target := l.oldTarget()
	switch {
	case l.oldLen+l.params.tolerance < target:
		// old 子链表太短，向头部扩展一格
		prev := l.page(l.oldRef).lruPrev
		if prev == nilRef {
			return false
		}
		l.oldRef = prev
		l.page(prev).old = true
		l.oldLen++
		return true
	case l.oldLen > target+l.params.tolerance:
		// old 子链表太长，原 oldRef 归入 new 子链表
		cur := l.page(l.oldRef)
		if cur.lruNext == nilRef {
			return false
		}
		cur.old = false
		l.oldRef = cur.lruNext
		l.oldLen--
		return true
	default:
		return false
	}
}

// adjustOldLen 即 buf_LRU_old_adjust_len
func (l *lruList) adjustOldLen() {
	for l.rebalanceDivider() {
	}
}

// oldInit 长度刚好到达阈值时，整条链表标记为 old 再调整到目标比例
func (l *lruList) oldInit() {
	for ref := l.tail; ref != nilRef; {
		p := l.page(ref)
		p.old = true
		ref = p.lruPrev
	}
	l.oldRef = l.head
	l.oldLen = l.len
	l.adjustOldLen()
}

func (l *lruList) linkFirst(ref pageRef) {
	p := l.page(ref)
	p.lruPrev = nilRef
	p.lruNext = l.head
	if l.head != nilRef {
		l.page(l.head).lruPrev = ref
	} else {
		l.tail = ref
	}
	l.head = ref
	p.inLRU = true
	l.len++
}

func (l *lruList) linkLast(ref pageRef) {
	p := l.page(ref)
	p.lruNext = nilRef
	p.lruPrev = l.tail
	if l.tail != nilRef {
		l.page(l.tail).lruNext = ref
	} else {
		l.head = ref
	}
	l.tail = ref
	p.inLRU = true
	l.len++
}

func (l *lruList) linkAfter(after, ref pageRef) {
	a := l.page(after)
	p := l.page(ref)
	p.lruPrev = after
	p.lruNext = a.lruNext
	if a.lruNext != nilRef {
		l.page(a.lruNext).lruPrev = ref
	} else {
		l.tail = ref
	}
	a.lruNext = ref
	p.inLRU = true
	l.len++
}

func (l *lruList) unlink(ref pageRef) {
	p := l.page(ref)
	if p.lruPrev != nilRef {
		l.page(p.lruPrev).lruNext = p.lruNext
	} else {
		l.head = p.lruNext
	}
	if p.lruNext != nilRef {
		l.page(p.lruNext).lruPrev = p.lruPrev
	} else {
		l.tail = p.lruPrev
	}
	p.lruPrev, p.lruNext = nilRef, nilRef
	p.inLRU = false
	l.len--
}

// insert 即 buf_LRU_add_block_low。old 为 true 时插在 oldRef 之后(冷插入)
func (l *lruList) insert(ref pageRef, old bool) {
	p := l.page(ref)
	if !old || l.len < l.params.oldMinLen {
		l.linkFirst(ref)
		p.freedPageClock = l.freedPageClock
	} else {
		l.linkAfter(l.oldRef, ref)
		l.oldLen++
	}

	switch {
	case l.len > l.params.oldMinLen:
		p.old = old
		l.adjustOldLen()
	case l.len == l.params.oldMinLen:
		l.oldInit()
	default:
		p.old = l.oldRef != nilRef
	}
}

// remove 即 buf_LRU_remove_block
func (l *lruList) remove(ref pageRef) {
	p := l.page(ref)
	if ref == l.oldRef {
		// oldRef 前移一格，被移动到的页面变成 old
		prev := p.lruPrev
		l.oldRef = prev
		if prev != nilRef {
			l.page(prev).old = true
			l.oldLen++
		}
	}
	l.unlink(ref)

	if l.len < l.params.oldMinLen {
		for cur := l.head; cur != nilRef; {
			c := l.page(cur)
			c.old = false
			cur = c.lruNext
		}
		l.oldRef = nilRef
		l.oldLen = 0
		p.old = false
		return
	}

	if p.old {
		l.oldLen--
	}
	p.old = false
	l.adjustOldLen()
}

// makeYoung 移到头部，返回该页面之前是否在 old 子链表
func (l *lruList) makeYoung(ref pageRef) bool {
	wasOld := l.page(ref).old
	l.remove(ref)
	l.insert(ref, false)
	return wasOld
}

// makeOld 即 buf_LRU_make_block_old，移到链表尾部
func (l *lruList) makeOld(ref pageRef) {
	l.remove(ref)
	p := l.page(ref)
	l.linkLast(ref)
	switch {
	case l.len > l.params.oldMinLen:
		p.old = true
		l.oldLen++
		l.adjustOldLen()
	case l.len == l.params.oldMinLen:
		l.oldInit()
	default:
		p.old = false
	}
}

// replace 重定位：dst 已经复制了 src 的内容，用 dst 顶替 src 的位置
func (l *lruList) replace(src, dst pageRef) {
	d := l.page(dst)
	if d.lruPrev != nilRef {
		l.page(d.lruPrev).lruNext = dst
	} else {
		l.head = dst
	}
	if d.lruNext != nilRef {
		l.page(d.lruNext).lruPrev = dst
	} else {
		l.tail = dst
	}
	if l.oldRef == src {
		l.oldRef = dst
	}
	s := l.page(src)
	s.lruPrev, s.lruNext, s.inLRU, s.old = nilRef, nilRef, false, false
}

// countOld 数一遍 old 标记，仅用于校验
func (l *lruList) countOld() int {
	n := 0
	for ref := l.head; ref != nilRef; ref = l.page(ref).lruNext {
		if l.page(ref).old {
			n++
		}
	}
	return n
}

// setOldRatio 运行期修改 old 比例，对应 innodb_old_blocks_pct
func (l *lruList) setOldRatio(ratio int) {
	l.params.oldRatio = ratio
	if l.len >= l.params.oldMinLen {
		l.adjustOldLen()
	}
}
