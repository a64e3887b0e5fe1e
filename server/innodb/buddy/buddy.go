package buddy

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrNoSpace      = errors.New("buddy allocator: no free block of requested size")
	ErrInvalidSize  = errors.New("buddy allocator: invalid size")
	ErrInvalidFree  = errors.New("buddy allocator: block was not allocated")
	ErrInvalidArena = errors.New("buddy allocator: invalid arena geometry")
)

// Stats 伙伴系统统计
type Stats struct {
	ArenaSize int
	UsedBytes int
	Allocs    uint64
	Frees     uint64
	Splits    uint64
	Merges    uint64
	// FreeBlocks 每个尺寸级别上的空闲块数，下标 0 为最小尺寸
	FreeBlocks []int
}

// Allocator 固定区域上的二进制伙伴分配器，压缩页的 payload 从这里分配
//
// Alloc 返回的切片 cap 延伸到区域末尾，Free 通过 cap 反推出偏移，
// 调用方不能 append 这个切片。
type Allocator struct {
	mu       sync.Mutex
	arena    []byte
	minShift uint
	maxShift uint

	free      []map[int]struct{} // order -> 空闲块偏移
	allocated map[int]uint       // 偏移 -> order
	used      int

	allocs, frees, splits, merges uint64
}

// New 创建分配器。minSize 和 maxSize 必须是 2 的幂，arenaSize 必须是 maxSize 的整数倍
func New(arenaSize, minSize, maxSize int) (*Allocator, error) {
	if !isPow2(minSize) || !isPow2(maxSize) || minSize > maxSize || arenaSize <= 0 || arenaSize%maxSize != 0 {
		return nil, errors.Wrapf(ErrInvalidArena, "arena=%d min=%d max=%d", arenaSize, minSize, maxSize)
	}
	a := &Allocator{
		arena:     make([]byte, arenaSize),
		minShift:  uint(bits.TrailingZeros(uint(minSize))),
		maxShift:  uint(bits.TrailingZeros(uint(maxSize))),
		allocated: make(map[int]uint),
	}
	a.free = make([]map[int]struct{}, a.maxShift-a.minShift+1)
	for i := range a.free {
		a.free[i] = make(map[int]struct{})
	}
	top := a.maxOrder()
	for off := 0; off < arenaSize; off += maxSize {
		a.free[top][off] = struct{}{}
	}
	return a, nil
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func (a *Allocator) maxOrder() uint {
	return a.maxShift - a.minShift
}

func (a *Allocator) blockSize(order uint) int {
	return 1 << (a.minShift + order)
}

// orderFor 返回能容纳 size 的最小级别
func (a *Allocator) orderFor(size int) (uint, error) {
	if size <= 0 || size > 1<<a.maxShift {
		return 0, errors.Wrapf(ErrInvalidSize, "size %d", size)
	}
	var order uint
	for a.blockSize(order) < size {
		order++
	}
	return order, nil
}

// Alloc 分配 size 字节，返回的块按尺寸级别对齐
func (a *Allocator) Alloc(size int) ([]byte, error) {
	order, err := a.orderFor(size)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	k := order
	for ; k <= a.maxOrder(); k++ {
		if len(a.free[k]) > 0 {
			break
		}
	}
	if k > a.maxOrder() {
		return nil, ErrNoSpace
	}

	var off int
	for o := range a.free[k] {
		off = o
		break
	}
	delete(a.free[k], off)

	// 逐级拆分，高半部分挂回空闲表
	for k > order {
		k--
		a.free[k][off+a.blockSize(k)] = struct{}{}
		a.splits++
	}

	a.allocated[off] = order
	a.used += a.blockSize(order)
	a.allocs++
	buf := a.arena[off:]
	return buf[:size], nil
}

// Free 归还 Alloc 返回的块，并与空闲的伙伴合并
func (a *Allocator) Free(buf []byte) error {
	off := len(a.arena) - cap(buf)
	if off < 0 || off >= len(a.arena) {
		return errors.Wrapf(ErrInvalidFree, "buffer does not belong to arena")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	order, ok := a.allocated[off]
	if !ok {
		return errors.Wrapf(ErrInvalidFree, "offset %d", off)
	}
	delete(a.allocated, off)
	a.used -= a.blockSize(order)
	a.frees++

	for order < a.maxOrder() {
		buddy := off ^ a.blockSize(order)
		if _, free := a.free[order][buddy]; !free {
			break
		}
		delete(a.free[order], buddy)
		if buddy < off {
			off = buddy
		}
		order++
		a.merges++
	}
	a.free[order][off] = struct{}{}
	return nil
}

// Stats 返回统计快照
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{
		ArenaSize:  len(a.arena),
		UsedBytes:  a.used,
		Allocs:     a.allocs,
		Frees:      a.frees,
		Splits:     a.splits,
		Merges:     a.merges,
		FreeBlocks: make([]int, len(a.free)),
	}
	for i := range a.free {
		s.FreeBlocks[i] = len(a.free[i])
	}
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("arena=%d used=%d allocs=%d frees=%d splits=%d merges=%d free=%v",
		s.ArenaSize, s.UsedBytes, s.Allocs, s.Frees, s.Splits, s.Merges, s.FreeBlocks)
}
