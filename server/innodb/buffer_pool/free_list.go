package buffer_pool

import "sync"

// freeList 即 buf_pool->free，空闲帧栈。自带互斥锁，是叶子锁
type freeList struct {
	mu   sync.Mutex
	refs []pageRef
}

func newFreeList(capacity int) *freeList {
	return &freeList{refs: make([]pageRef, 0, capacity)}
}

func (f *freeList) push(ref pageRef) {
	f.mu.Lock()
	f.refs = append(f.refs, ref)
	f.mu.Unlock()
}

// pop 没有空闲帧时返回 nilRef
func (f *freeList) pop() pageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.refs)
	if n == 0 {
		return nilRef
	}
	ref := f.refs[n-1]
	f.refs = f.refs[:n-1]
	return ref
}

func (f *freeList) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refs)
}

func (f *freeList) snapshot() []pageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pageRef, len(f.refs))
	copy(out, f.refs)
	return out
}
