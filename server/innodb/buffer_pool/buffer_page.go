package buffer_pool

import (
	"time"

	"github.com/zhukovaskychina/xmysql-bufferpool/server/common"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

// pageRef 控制体在 arena 中的下标，0 表示空
// 1..N 是带帧的 BufferBlock，N+1..N+M 是只有压缩副本的控制体槽位
type pageRef uint32

const nilRef pageRef = 0

/*
BufferPage 即 buf_page_t，页面控制体。
记录 space_id, page_no, 页面状态, oldest/newest modification, 访问时间,
以及压缩页信息。压缩页的数据在伙伴系统分配的内存上，解压后的帧在 BufferBlock 里。

LRU / flush list / page hash 都是侵入式链表，用 pageRef 串联，重定位时只改下标。
*/
type BufferPage struct {
	mu  *latch.Latch // 保护 state, ioFix, fixCount, 修改 LSN
	ref pageRef

	spaceId uint32
	pageNo  uint32
	state   BufferPageState
	ioFix   buffer_io_fix

	// fixCount 持有者个数，非 0 时不能淘汰和重定位
	fixCount uint32

	// oldestModification 非 0 表示脏页，同时是 flush list 的排序键
	oldestModification common.LSNT
	newestModification common.LSNT

	// zip 压缩副本，nil 表示未压缩页
	zip []byte

	// old 是否在 LRU old 子链表
	old bool
	// accessTime 第一次被访问的时间，零值表示预读进来后从未访问
	accessTime time.Time
	// freedPageClock 插入 LRU 头部时的 buf_pool.freed_page_clock
	freedPageClock uint64

	lruPrev, lruNext pageRef
	inLRU            bool

	flushPrev, flushNext pageRef
	inFlushList          bool

	hashNext pageRef
	inHash   bool
}

func (bp *BufferPage) GetSpaceID() uint32 {
	return bp.spaceId
}

func (bp *BufferPage) GetPageNo() uint32 {
	return bp.pageNo
}

func (bp *BufferPage) GetState() BufferPageState {
	return bp.state
}

// IsOld 是否在 old 子链表，调用方需持有 LRU 锁
func (bp *BufferPage) IsOld() bool {
	return bp.old
}

// ZipSize 压缩副本大小，0 表示未压缩
func (bp *BufferPage) ZipSize() int {
	return len(bp.zip)
}

func (bp *BufferPage) isDirty() bool {
	return bp.oldestModification != common.LSN_CLEAN
}

// canRelocate 没有持有者也没有 IO 时才能淘汰或重定位
func (bp *BufferPage) canRelocate() bool {
	return bp.fixCount == 0 && bp.ioFix == BUF_IO_NONE
}

func (bp *BufferPage) isAccessed() bool {
	return !bp.accessTime.IsZero()
}

// setIdentity 绑定页面身份并清除上一次使用留下的状态
func (bp *BufferPage) setIdentity(spaceID, pageNo uint32) {
	bp.spaceId = spaceID
	bp.pageNo = pageNo
	bp.ioFix = BUF_IO_NONE
	bp.fixCount = 0
	bp.oldestModification = common.LSN_CLEAN
	bp.newestModification = common.LSN_CLEAN
	bp.zip = nil
	bp.old = false
	bp.accessTime = time.Time{}
	bp.freedPageClock = 0
}

// copyFrom 重定位时复制控制体内容，包括 LRU 和 page hash 的链表位置，不复制锁和下标。
// flush list 位置由 flushList.relocate 在 flush 锁下复制
func (bp *BufferPage) copyFrom(src *BufferPage) {
	bp.spaceId = src.spaceId
	bp.pageNo = src.pageNo
	bp.state = src.state
	bp.ioFix = src.ioFix
	bp.fixCount = src.fixCount
	bp.oldestModification = src.oldestModification
	bp.newestModification = src.newestModification
	bp.zip = src.zip
	bp.old = src.old
	bp.accessTime = src.accessTime
	bp.freedPageClock = src.freedPageClock
	bp.lruPrev, bp.lruNext, bp.inLRU = src.lruPrev, src.lruNext, src.inLRU
	bp.flushPrev, bp.flushNext, bp.inFlushList = nilRef, nilRef, false
	bp.hashNext, bp.inHash = src.hashNext, src.inHash
}

// clearLinks 控制体离开所有链表后调用
func (bp *BufferPage) clearLinks() {
	bp.lruPrev, bp.lruNext, bp.inLRU = nilRef, nilRef, false
	bp.flushPrev, bp.flushNext, bp.inFlushList = nilRef, nilRef, false
	bp.hashNext, bp.inHash = nilRef, false
}
