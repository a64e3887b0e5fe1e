package buffer_pool

import (
	"fmt"

	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

/**
BufferBlock 即 buf_block_t，带解压帧的控制体。第一字段是 BufferPage，
压缩页解压后帧挂在这里，同时通过 unzip LRU 链表串起来。
**/
type BufferBlock struct {
	BufferPage

	frame []byte

	unzipPrev, unzipNext pageRef
	inUnzipLRU           bool

	// hashIndexed 帧上建有自适应哈希索引，帧复用之前必须先删除
	hashIndexed bool
	// zipStale 帧被修改过，压缩副本还没有更新
	zipStale bool
}

// GetFrame 返回解压帧。只有持有 pin 时才能读写
func (bb *BufferBlock) GetFrame() []byte {
	return bb.frame
}

func (bb *BufferBlock) String() string {
	return fmt.Sprintf("block#%d(%d:%d %s)", bb.ref, bb.spaceId, bb.pageNo, bb.state)
}

// arena 所有控制体的存储。下标稳定，重定位只改链表中的下标
type arena struct {
	blocks   []BufferBlock
	zipPages []BufferPage
	// zipFree 空闲的压缩控制体槽位，受 LRU 锁保护
	zipFree []pageRef
}

func newArena(nBlocks, nZipSlots, pageSize int) *arena {
	a := &arena{
		blocks:   make([]BufferBlock, nBlocks),
		zipPages: make([]BufferPage, nZipSlots),
		zipFree:  make([]pageRef, 0, nZipSlots),
	}
	// 帧按 chunk 一次性分配
	chunk := make([]byte, nBlocks*pageSize)
	for i := range a.blocks {
		b := &a.blocks[i]
		b.ref = pageRef(i + 1)
		b.mu = latch.NewLatch(latch.LevelBlock, "block")
		b.state = BUF_BLOCK_NOT_USED
		b.frame = chunk[i*pageSize : (i+1)*pageSize : (i+1)*pageSize]
	}
	for i := len(a.zipPages) - 1; i >= 0; i-- {
		z := &a.zipPages[i]
		z.ref = pageRef(nBlocks + i + 1)
		z.mu = latch.NewLatch(latch.LevelBlock, "zip_page")
		z.state = BUF_BLOCK_NOT_USED
		a.zipFree = append(a.zipFree, z.ref)
	}
	return a
}

func (a *arena) isBlock(ref pageRef) bool {
	return ref != nilRef && int(ref) <= len(a.blocks)
}

func (a *arena) page(ref pageRef) *BufferPage {
	if ref == nilRef {
		return nil
	}
	if a.isBlock(ref) {
		return &a.blocks[ref-1].BufferPage
	}
	return &a.zipPages[int(ref)-len(a.blocks)-1]
}

// block 返回带帧的控制体，压缩控制体返回 nil
func (a *arena) block(ref pageRef) *BufferBlock {
	if !a.isBlock(ref) {
		return nil
	}
	return &a.blocks[ref-1]
}

// allocZipSlot 调用方持有 LRU 锁
func (a *arena) allocZipSlot() pageRef {
	n := len(a.zipFree)
	if n == 0 {
		return nilRef
	}
	ref := a.zipFree[n-1]
	a.zipFree = a.zipFree[:n-1]
	return ref
}

// freeZipSlot 调用方持有 LRU 锁
func (a *arena) freeZipSlot(ref pageRef) {
	z := a.page(ref)
	z.setIdentity(0, 0)
	z.clearLinks()
	z.state = BUF_BLOCK_NOT_USED
	a.zipFree = append(a.zipFree, ref)
}

// zipInUse 只有压缩副本的页面数，调用方持有 LRU 锁
func (a *arena) zipInUse() int {
	return len(a.zipPages) - len(a.zipFree)
}

func (a *arena) size() int {
	return len(a.blocks) + len(a.zipPages)
}
