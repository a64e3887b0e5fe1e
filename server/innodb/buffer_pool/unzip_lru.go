package buffer_pool

// unzipList 即 buf_pool->unzip_LRU
// 只包含同时有压缩副本和解压帧的 FILE_PAGE，是 LRU 的子集。
// 两个链表由淘汰逻辑同步维护，互不调用。调用方持有 LRU 锁
type unzipList struct {
	a          *arena
	head, tail pageRef
	len        int
}

func newUnzipList(a *arena) *unzipList {
	return &unzipList{a: a}
}

// insert old 为 true 时放在尾部，优先被淘汰
func (u *unzipList) insert(ref pageRef, old bool) {
	b := u.a.block(ref)
	if old {
		b.unzipNext = nilRef
		b.unzipPrev = u.tail
		if u.tail != nilRef {
			u.a.block(u.tail).unzipNext = ref
		} else {
			u.head = ref
		}
		u.tail = ref
	} else {
		b.unzipPrev = nilRef
		b.unzipNext = u.head
		if u.head != nilRef {
			u.a.block(u.head).unzipPrev = ref
		} else {
			u.tail = ref
		}
		u.head = ref
	}
	b.inUnzipLRU = true
	u.len++
}

func (u *unzipList) remove(ref pageRef) {
	b := u.a.block(ref)
	if b.unzipPrev != nilRef {
		u.a.block(b.unzipPrev).unzipNext = b.unzipNext
	} else {
		u.head = b.unzipNext
	}
	if b.unzipNext != nilRef {
		u.a.block(b.unzipNext).unzipPrev = b.unzipPrev
	} else {
		u.tail = b.unzipPrev
	}
	b.unzipPrev, b.unzipNext = nilRef, nilRef
	b.inUnzipLRU = false
	u.len--
}

func (u *unzipList) prev(ref pageRef) pageRef {
	return u.a.block(ref).unzipPrev
}
