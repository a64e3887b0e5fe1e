package buffer_pool

import (
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

// flushList 即 buf_pool->flush_list，脏页按 oldestModification 排序
// 头部最新，尾部最旧。受自己的锁保护，加锁顺序在控制体锁之后
type flushList struct {
	mu         *latch.Latch
	a          *arena
	head, tail pageRef
	len        int
}

func newFlushList(a *arena) *flushList {
	return &flushList{
		mu: latch.NewLatch(latch.LevelFlush, "flush_list"),
		a:  a,
	}
}

// insert 有序插入。LSN 单调递增时直接放在头部
func (f *flushList) insert(ref pageRef) {
	p := f.a.page(ref)
	lsn := p.oldestModification

	var prev pageRef
	cur := f.head
	for cur != nilRef && f.a.page(cur).oldestModification > lsn {
		prev = cur
		cur = f.a.page(cur).flushNext
	}

	p.flushPrev = prev
	p.flushNext = cur
	if prev != nilRef {
		f.a.page(prev).flushNext = ref
	} else {
		f.head = ref
	}
	if cur != nilRef {
		f.a.page(cur).flushPrev = ref
	} else {
		f.tail = ref
	}
	p.inFlushList = true
	f.len++
}

func (f *flushList) remove(ref pageRef) {
	p := f.a.page(ref)
	if p.flushPrev != nilRef {
		f.a.page(p.flushPrev).flushNext = p.flushNext
	} else {
		f.head = p.flushNext
	}
	if p.flushNext != nilRef {
		f.a.page(p.flushNext).flushPrev = p.flushPrev
	} else {
		f.tail = p.flushPrev
	}
	p.flushPrev, p.flushNext = nilRef, nilRef
	p.inFlushList = false
	f.len--
}

// relocate 即 buf_flush_relocate_on_flush_list，调用方持有 flush 锁。
// 邻居的指针随时可能被 insert 改写，链表位置必须在锁内从 src 读取
func (f *flushList) relocate(src, dst pageRef) {
	s := f.a.page(src)
	if !s.inFlushList {
		return
	}
	d := f.a.page(dst)
	d.flushPrev, d.flushNext, d.inFlushList = s.flushPrev, s.flushNext, true
	if d.flushPrev != nilRef {
		f.a.page(d.flushPrev).flushNext = dst
	} else {
		f.head = dst
	}
	if d.flushNext != nilRef {
		f.a.page(d.flushNext).flushPrev = dst
	} else {
		f.tail = dst
	}
	s.flushPrev, s.flushNext, s.inFlushList = nilRef, nilRef, false
}

// oldestLSN 最旧的修改，flush list 为空时返回 0
func (f *flushList) oldestLSN() uint64 {
	if f.tail == nilRef {
		return 0
	}
	return uint64(f.a.page(f.tail).oldestModification)
}
