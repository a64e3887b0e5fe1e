package buffer_pool

import (
	"bytes"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-bufferpool/server/common"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/common/ticker"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/fil"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

const (
	testSpace    uint32 = 1
	testZipSpace uint32 = 2
	testZipSize         = 2048
)

func testConfig(frames int) *Config {
	cfg := DefaultConfig()
	cfg.PoolSize = frames
	cfg.PageSize = 4096
	cfg.ZipPoolSize = 64 << 10
	cfg.ReadAheadWorkers = 0
	cfg.OldBlocksTime = 0
	cfg.FreeBlockWait = time.Millisecond
	cfg.InvalidateRetryWait = time.Millisecond
	cfg.FlushRetryWait = time.Millisecond
	return cfg
}

// newTestPool 表空间 1 不压缩，表空间 2 压缩页大小 2048
func newTestPool(t *testing.T, cfg *Config, opts ...Option) (*BufferPool, *fil.MemoryFileIO) {
	t.Helper()
	fio := fil.NewMemoryFileIO(cfg.PageSize)
	require.NoError(t, fio.CreateSpace(testSpace, 0))
	require.NoError(t, fio.CreateSpace(testZipSpace, testZipSize))
	bp, err := NewBufferPool(cfg, fio, opts...)
	require.NoError(t, err)
	t.Cleanup(bp.Close)
	return bp, fio
}

func fetch(t *testing.T, bp *BufferPool, spaceID, pageNo uint32) *PinnedPage {
	t.Helper()
	pp, err := bp.FetchPage(spaceID, pageNo)
	require.NoError(t, err)
	require.NotNil(t, pp)
	return pp
}

func fetchAndRelease(t *testing.T, bp *BufferPool, spaceID uint32, pageNos ...uint32) {
	t.Helper()
	for _, pageNo := range pageNos {
		fetch(t, bp, spaceID, pageNo).Release()
	}
}

func lruKeys(bp *BufferPool) []pageKey {
	bp.listMu.Lock(latch.Free)
	defer bp.listMu.Unlock()
	var keys []pageKey
	for ref := bp.lru.head; ref != nilRef; ref = bp.a.page(ref).lruNext {
		p := bp.a.page(ref)
		keys = append(keys, pageKey{spaceID: p.spaceId, pageNo: p.pageNo})
	}
	return keys
}

func refOf(bp *BufferPool, spaceID, pageNo uint32) pageRef {
	bp.hash.mu.RLock(latch.Free)
	defer bp.hash.mu.RUnlock()
	return bp.hash.lookup(spaceID, pageNo)
}

// stateOf 不在缓冲池中时返回 NOT_USED
func stateOf(bp *BufferPool, spaceID, pageNo uint32) BufferPageState {
	h := bp.hash.mu.RLock(latch.Free)
	defer bp.hash.mu.RUnlock()
	ref := bp.hash.lookup(spaceID, pageNo)
	if ref == nilRef {
		return BUF_BLOCK_NOT_USED
	}
	p := bp.a.page(ref)
	p.mu.RLock(h)
	defer p.mu.RUnlock()
	return p.state
}

func recoverError(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = errors.New("non-error panic")
		}
	}()
	fn()
	return nil
}

func TestNewBufferPoolValidation(t *testing.T) {
	fio := fil.NewMemoryFileIO(4096)

	cfg := testConfig(0)
	_, err := NewBufferPool(cfg, fio)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig(8)
	cfg.ZipPoolSize = 5000
	_, err = NewBufferPool(cfg, fio)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig(8)
	cfg.Compression = "brotli"
	_, err = NewBufferPool(cfg, fio)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewBufferPool(testConfig(8), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bp, err := NewBufferPool(testConfig(8), fio)
	require.NoError(t, err)
	defer bp.Close()
	s := bp.Stats()
	assert.Equal(t, 8, s.FreePages)
	assert.Equal(t, 0, s.LRUPages)
	assert.Equal(t, 64<<10, s.ZipArenaBytes)
	assert.NoError(t, bp.Validate())
}

func TestFetchPage(t *testing.T) {
	bp, fio := newTestPool(t, testConfig(8))

	page := make([]byte, 4096)
	page[0], page[4095] = 0x11, 0x22
	require.NoError(t, fio.WritePage(testSpace, 3, page))

	pp := fetch(t, bp, testSpace, 3)
	assert.Equal(t, page, pp.Frame())
	assert.Equal(t, testSpace, pp.SpaceID())
	assert.Equal(t, uint32(3), pp.PageNo())
	assert.Equal(t, BUF_BLOCK_FILE_PAGE, pp.Block().GetState())

	// 第二次命中，同一个帧
	pp2 := fetch(t, bp, testSpace, 3)
	assert.Same(t, pp.Block(), pp2.Block())
	assert.Equal(t, uint32(2), pp.Block().fixCount)
	pp.Release()
	pp.Release() // 重复调用无效
	assert.Equal(t, uint32(1), pp.Block().fixCount)
	pp2.Release()
	assert.Equal(t, uint32(0), pp.Block().fixCount)

	s := bp.Stats()
	assert.Equal(t, int64(2), s.PageRequests)
	assert.Equal(t, int64(1), s.PageHits)
	assert.Equal(t, int64(1), s.PageMisses)
	assert.Equal(t, int64(1), s.PageReads)
	assert.InDelta(t, 0.5, s.HitRatio(), 1e-9)
	assert.Equal(t, 7, s.FreePages)
	assert.Equal(t, 1, s.LRUPages)
	assert.Equal(t, uint64(1), fio.Stats().Reads)
	assert.NoError(t, bp.Validate())
}

func TestFetchPageReadError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockIO := NewMockFileIO(ctrl)
	mockIO.EXPECT().ZipSize(testSpace).Return(0).AnyTimes()
	mockIO.EXPECT().ReadPage(testSpace, uint32(5), gomock.Any()).Return(errors.New("disk gone"))

	bp, err := NewBufferPool(testConfig(8), mockIO)
	require.NoError(t, err)
	defer bp.Close()

	pp, err := bp.FetchPage(testSpace, 5)
	assert.Nil(t, pp)
	assert.True(t, IsIOError(err))
	var bpe *BufferPoolError
	require.ErrorAs(t, err, &bpe)
	assert.Equal(t, "read", bpe.Op)
	assert.Contains(t, err.Error(), "disk gone")

	// 读失败的帧回到 Free List
	assert.False(t, bp.IsResident(testSpace, 5))
	assert.Equal(t, 8, bp.Stats().FreePages)
	assert.NoError(t, bp.Validate())

	// 再次读取成功
	mockIO.EXPECT().ReadPage(testSpace, uint32(5), gomock.Any()).DoAndReturn(
		func(spaceID, pageNo uint32, buf []byte) error {
			buf[0] = 9
			return nil
		})
	pp = fetch(t, bp, testSpace, 5)
	assert.Equal(t, byte(9), pp.Frame()[0])
	pp.Release()
}

func TestFetchCorruptedZipPage(t *testing.T) {
	bp, fio := newTestPool(t, testConfig(8))
	require.NoError(t, fio.WritePage(testZipSpace, 7, bytes.Repeat([]byte{0xFF}, testZipSize)))

	_, err := bp.FetchPage(testZipSpace, 7)
	assert.True(t, IsCorrupted(err))
	assert.False(t, IsIOError(err))
	assert.False(t, bp.IsResident(testZipSpace, 7))

	s := bp.Stats()
	assert.Equal(t, 8, s.FreePages)
	assert.Equal(t, 0, s.ZipUsedBytes)
	assert.Equal(t, 0, s.UnzipPages)
	assert.NoError(t, bp.Validate())
}

// 干净的未压缩页整页释放，脏页和被 pin 的页面跳过
func TestEvictUncompressed(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(8))
	fetchAndRelease(t, bp, testSpace, 1, 2, 3)
	assert.Equal(t, []pageKey{{1, 3}, {1, 2}, {1, 1}}, lruKeys(bp))

	pp := fetch(t, bp, testSpace, 1)
	bp.MarkDirty(pp, 100)
	pp.Release()

	require.True(t, bp.TryEvictOne(0))
	assert.True(t, bp.IsResident(testSpace, 1))
	assert.False(t, bp.IsResident(testSpace, 2))

	pinned := fetch(t, bp, testSpace, 3)
	assert.False(t, bp.TryEvictOne(0))
	pinned.Release()
	require.True(t, bp.TryEvictOne(0))
	assert.False(t, bp.IsResident(testSpace, 3))

	s := bp.Stats()
	assert.Equal(t, int64(2), s.LRUEvictions)
	assert.Equal(t, 7, s.FreePages)
	assert.Equal(t, 1, s.DirtyPages)
	assert.True(t, s.LRUStat.Intervals > 0)
	assert.True(t, bp.LRUStat().EvictionStarted())
	assert.NoError(t, bp.Validate())
}

func TestEvictSkipsStickyPage(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(8))
	fetchAndRelease(t, bp, testSpace, 1, 2)

	ref := refOf(bp, testSpace, 1)
	h := bp.listMu.Lock(latch.Free)
	require.True(t, bp.setSticky(h, ref))
	bp.listMu.Unlock()

	require.True(t, bp.TryEvictOne(0))
	assert.True(t, bp.IsResident(testSpace, 1))
	assert.False(t, bp.IsResident(testSpace, 2))
	assert.False(t, bp.TryEvictOne(0))

	h = bp.listMu.Lock(latch.Free)
	bp.unsetSticky(h, ref)
	bp.listMu.Unlock()
	assert.True(t, bp.TryEvictOne(0))
}

// 淘汰解压帧后压缩副本留在原来的 LRU 位置，再次访问时解压
func TestEvictCompressedKeepsZip(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(8))
	fetchAndRelease(t, bp, testZipSpace, 0, 1, 2)
	before := lruKeys(bp)
	assert.Equal(t, 3, bp.Stats().UnzipPages)

	require.True(t, bp.TryEvictOne(0))
	assert.Equal(t, before, lruKeys(bp))
	// unzip LRU 尾部是最后读入的页面
	assert.Equal(t, BUF_BLOCK_ZIP_PAGE, stateOf(bp, testZipSpace, 2))
	assert.Equal(t, BUF_BLOCK_FILE_PAGE, stateOf(bp, testZipSpace, 1))

	s := bp.Stats()
	assert.Equal(t, int64(1), s.UnzipEvictions)
	assert.Equal(t, int64(0), s.LRUEvictions)
	assert.Equal(t, 1, s.ZipOnlyPages)
	assert.Equal(t, 2, s.UnzipPages)
	assert.Equal(t, 6, s.FreePages)
	assert.Equal(t, 3, s.HashedPages)
	assert.NoError(t, bp.Validate())

	pp := fetch(t, bp, testZipSpace, 2)
	assert.Equal(t, BUF_BLOCK_FILE_PAGE, pp.Block().GetState())
	assert.Equal(t, testZipSize, pp.Block().ZipSize())
	pp.Release()
	s = bp.Stats()
	assert.Equal(t, int64(1), s.Decompressions)
	assert.Equal(t, 0, s.ZipOnlyPages)
	assert.Equal(t, int64(3), s.PageReads)
	assert.NoError(t, bp.Validate())
}

// 脏的压缩页淘汰解压帧时先重新压缩，修改不会丢失
func TestEvictDirtyCompressedPage(t *testing.T) {
	bp, fio := newTestPool(t, testConfig(8))

	pp := fetch(t, bp, testZipSpace, 0)
	pp.Frame()[100] = 0xAB
	bp.MarkDirty(pp, 42)
	pp.Release()

	require.True(t, bp.TryEvictOne(0))
	assert.Equal(t, BUF_BLOCK_ZIP_DIRTY, stateOf(bp, testZipSpace, 0))
	s := bp.Stats()
	assert.Equal(t, 1, s.DirtyPages)
	assert.Equal(t, uint64(42), s.OldestLSN)
	assert.Equal(t, 1, s.ZipOnlyPages)
	assert.NoError(t, bp.Validate())

	// 只有压缩副本的脏页可以直接写回
	require.NoError(t, bp.FlushPage(testZipSpace, 0))
	assert.Equal(t, BUF_BLOCK_ZIP_PAGE, stateOf(bp, testZipSpace, 0))
	img := make([]byte, testZipSize)
	require.NoError(t, fio.ReadPage(testZipSpace, 0, img))
	frame := make([]byte, 4096)
	require.NoError(t, bp.codec.Decode(img, frame))
	assert.Equal(t, byte(0xAB), frame[100])

	pp = fetch(t, bp, testZipSpace, 0)
	assert.Equal(t, byte(0xAB), pp.Frame()[100])
	pp.Release()
	assert.NoError(t, bp.Validate())
}

// 带解压帧的脏压缩页写回时重新压缩
func TestFlushCompressedFrame(t *testing.T) {
	bp, fio := newTestPool(t, testConfig(8))

	pp := fetch(t, bp, testZipSpace, 3)
	copy(pp.Frame()[200:], "hello buffer pool")
	bp.MarkDirty(pp, 7)
	pp.Release()

	require.NoError(t, bp.FlushPage(testZipSpace, 3))
	assert.Equal(t, 0, bp.Stats().DirtyPages)

	img := make([]byte, testZipSize)
	require.NoError(t, fio.ReadPage(testZipSpace, 3, img))
	frame := make([]byte, 4096)
	require.NoError(t, bp.codec.Decode(img, frame))
	assert.Equal(t, "hello buffer pool", string(frame[200:217]))

	// 干净页淘汰解压帧之后再读，内容来自压缩副本
	require.True(t, bp.TryEvictOne(0))
	pp = fetch(t, bp, testZipSpace, 3)
	assert.Equal(t, "hello buffer pool", string(pp.Frame()[200:217]))
	pp.Release()
}

func TestReadAheadEvictedUnaccessed(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(8))

	assert.Equal(t, 2, bp.ReadAhead(testSpace, []uint32{10, 11}))
	// 已经在缓冲池中的页面跳过
	assert.Equal(t, 0, bp.ReadAhead(testSpace, []uint32{10}))

	require.True(t, bp.TryEvictOne(0))
	assert.False(t, bp.IsResident(testSpace, 10))

	fetchAndRelease(t, bp, testSpace, 11)
	require.True(t, bp.TryEvictOne(0))

	s := bp.Stats()
	assert.Equal(t, int64(2), s.ReadAheadPages)
	assert.Equal(t, int64(1), s.ReadAheadEvicted)
	assert.Equal(t, int64(2), s.LRUEvictions)
}

func TestGetFreeBlockWaitsForRelease(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(4))

	pins := make([]*PinnedPage, 0, 3)
	for pageNo := uint32(0); pageNo < 3; pageNo++ {
		pins = append(pins, fetch(t, bp, testSpace, pageNo))
	}
	fetchAndRelease(t, bp, testSpace, 3)
	assert.Equal(t, 0, bp.Stats().FreePages)

	b1 := bp.GetFreeBlock()
	require.NotNil(t, b1)
	assert.Equal(t, BUF_BLOCK_READY_FOR_USE, b1.GetState())
	assert.False(t, bp.IsResident(testSpace, 3))

	got := make(chan *BufferBlock, 1)
	go func() {
		got <- bp.GetFreeBlock()
	}()
	select {
	case <-got:
		t.Fatal("GetFreeBlock returned while every page is pinned")
	case <-time.After(50 * time.Millisecond):
	}

	pins[0].Release()
	var b2 *BufferBlock
	select {
	case b2 = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("GetFreeBlock did not wake up after release")
	}
	assert.NotSame(t, b1, b2)
	assert.False(t, bp.IsResident(testSpace, 0))
	assert.True(t, bp.Stats().FreeBlockWaits > 0)

	bp.FreeBlock(b1)
	bp.FreeBlock(b2)
	for _, pp := range pins[1:] {
		pp.Release()
	}
	assert.Equal(t, 2, bp.Stats().FreePages)
	assert.NoError(t, bp.Validate())
}

func TestFreeBlockTwicePanics(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(8))
	blk := bp.GetFreeBlock()
	bp.FreeBlock(blk)

	err := recoverError(func() { bp.FreeBlock(blk) })
	var ie *InvariantError
	assert.ErrorAs(t, err, &ie)
}

func TestPoolExhaustedAborts(t *testing.T) {
	var aborted int32
	bp, _ := newTestPool(t, testConfig(20), WithAbortFunc(func(string, ...interface{}) {
		atomic.StoreInt32(&aborted, 1)
	}))

	for i := 0; i < 20; i++ {
		require.NotNil(t, bp.GetFreeBlock())
	}
	err := recoverError(func() { bp.GetFreeBlock() })
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, int32(1), atomic.LoadInt32(&aborted))
}

func TestBufferPoolMonitor(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(30))

	var taken []*BufferBlock
	for i := 0; i < 21; i++ {
		taken = append(taken, bp.GetFreeBlock())
	}
	assert.False(t, bp.Stats().MonitorOn)

	// 可用帧不到三分之一
	taken = append(taken, bp.GetFreeBlock())
	assert.True(t, bp.Stats().MonitorOn)

	for _, blk := range taken {
		bp.FreeBlock(blk)
	}
	bp.FreeBlock(bp.GetFreeBlock())
	assert.False(t, bp.Stats().MonitorOn)
}

func TestOldBlocksTime(t *testing.T) {
	cfg := testConfig(64)
	cfg.LRUOldMinLen = 40
	cfg.OldBlocksTime = time.Second

	var mu sync.Mutex
	now := time.Unix(1000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	bp, _ := newTestPool(t, cfg, WithClock(clock))

	for pageNo := uint32(0); pageNo < 50; pageNo++ {
		fetchAndRelease(t, bp, testSpace, pageNo)
	}
	require.NoError(t, bp.Validate())
	s := bp.Stats()
	require.True(t, s.OldPages > 0)

	keys := lruKeys(bp)
	tail := keys[len(keys)-1]
	notYoung := s.NotMadeYoung

	// OldBlocksTime 之内再次访问不提升
	fetchAndRelease(t, bp, tail.spaceID, tail.pageNo)
	s = bp.Stats()
	assert.Equal(t, notYoung+1, s.NotMadeYoung)
	assert.Equal(t, int64(0), s.MadeYoung)
	keys = lruKeys(bp)
	assert.Equal(t, tail, keys[len(keys)-1])

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()
	fetchAndRelease(t, bp, tail.spaceID, tail.pageNo)
	s = bp.Stats()
	assert.Equal(t, int64(1), s.MadeYoung)
	assert.Equal(t, tail, lruKeys(bp)[0])
	assert.NoError(t, bp.Validate())
}

func TestSetOldBlocksPct(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(8))
	assert.ErrorIs(t, bp.SetOldBlocksPct(2), ErrInvalidConfig)
	assert.ErrorIs(t, bp.SetOldBlocksPct(96), ErrInvalidConfig)
	require.NoError(t, bp.SetOldBlocksPct(50))
	assert.Equal(t, 50.0, bp.OldBlocksPct())
	assert.Equal(t, 512, bp.lru.params.oldRatio)
}

func TestMarkDirtyAndFlush(t *testing.T) {
	bp, fio := newTestPool(t, testConfig(8))

	for i, lsn := range []common.LSNT{30, 10, 20} {
		pp := fetch(t, bp, testSpace, uint32(i+1))
		pp.Frame()[0] = byte(i + 1)
		bp.MarkDirty(pp, lsn)
		pp.Release()
	}
	// 再次修改只推进 newest
	pp := fetch(t, bp, testSpace, 2)
	bp.MarkDirty(pp, 40)
	bp.MarkDirty(pp, common.LSN_CLEAN)
	assert.Equal(t, common.LSNT(10), pp.Block().oldestModification)
	assert.Equal(t, common.LSNT(40), pp.Block().newestModification)
	pp.Release()

	s := bp.Stats()
	assert.Equal(t, 3, s.DirtyPages)
	assert.Equal(t, uint64(10), s.OldestLSN)
	require.NoError(t, bp.Validate())

	// 从最旧的修改开始写
	n, err := bp.FlushDirtyPages(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s = bp.Stats()
	assert.Equal(t, 2, s.DirtyPages)
	assert.Equal(t, uint64(20), s.OldestLSN)
	// 写完的页面移到 LRU 尾部
	keys := lruKeys(bp)
	assert.Equal(t, pageKey{testSpace, 2}, keys[len(keys)-1])

	n, err = bp.FlushDirtyPages(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	s = bp.Stats()
	assert.Equal(t, 0, s.DirtyPages)
	assert.Equal(t, uint64(0), s.OldestLSN)
	assert.Equal(t, int64(3), s.FlushSuccesses)
	assert.Equal(t, int64(3), s.PageWrites)
	assert.Equal(t, uint64(3), fio.Stats().Writes)

	buf := make([]byte, 4096)
	require.NoError(t, fio.ReadPage(testSpace, 3, buf))
	assert.Equal(t, byte(3), buf[0])

	// 干净页不需要写
	require.NoError(t, bp.FlushPage(testSpace, 3))
	assert.Equal(t, uint64(3), fio.Stats().Writes)
	assert.NoError(t, bp.Validate())
}

func TestFlushPageErrors(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(8))

	assert.True(t, IsNotFound(bp.FlushPage(testSpace, 99)))

	pp := fetch(t, bp, testSpace, 1)
	bp.MarkDirty(pp, 5)
	pp.Release()

	ref := refOf(bp, testSpace, 1)
	h := bp.listMu.Lock(latch.Free)
	require.True(t, bp.setSticky(h, ref))
	bp.listMu.Unlock()
	assert.True(t, IsLocked(bp.FlushPage(testSpace, 1)))

	h = bp.listMu.Lock(latch.Free)
	bp.unsetSticky(h, ref)
	bp.listMu.Unlock()
	assert.NoError(t, bp.FlushPage(testSpace, 1))
}

func TestFlushPageWriteError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockIO := NewMockFileIO(ctrl)
	mockIO.EXPECT().ZipSize(testSpace).Return(0).AnyTimes()
	mockIO.EXPECT().ReadPage(testSpace, uint32(1), gomock.Any()).Return(nil)
	mockIO.EXPECT().WritePage(testSpace, uint32(1), gomock.Any()).Return(errors.New("disk full"))

	bp, err := NewBufferPool(testConfig(8), mockIO)
	require.NoError(t, err)
	defer bp.Close()

	pp := fetch(t, bp, testSpace, 1)
	bp.MarkDirty(pp, 5)
	pp.Release()

	err = bp.FlushPage(testSpace, 1)
	assert.ErrorIs(t, err, ErrFlushFailed)
	assert.True(t, IsIOError(err))

	// 写失败的页面仍然是脏页
	s := bp.Stats()
	assert.Equal(t, 1, s.DirtyPages)
	assert.Equal(t, int64(1), s.FlushFailures)
	assert.NoError(t, bp.Validate())
}

func TestInvalidateSpaceRemoveAll(t *testing.T) {
	bp, fio := newTestPool(t, testConfig(16))
	require.NoError(t, fio.CreateSpace(3, 0))

	for pageNo := uint32(0); pageNo < 5; pageNo++ {
		pp := fetch(t, bp, testSpace, pageNo)
		if pageNo%2 == 0 {
			bp.MarkDirty(pp, common.LSNT(10+pageNo))
		}
		pp.Release()
	}
	for pageNo := uint32(0); pageNo < 3; pageNo++ {
		pp := fetch(t, bp, 3, pageNo)
		if pageNo == 1 {
			bp.MarkDirty(pp, 50)
		}
		pp.Release()
	}
	require.Equal(t, 4, bp.Stats().DirtyPages)

	require.NoError(t, bp.InvalidateSpace(testSpace, BUF_REMOVE_ALL_NO_WRITE))
	for pageNo := uint32(0); pageNo < 5; pageNo++ {
		assert.False(t, bp.IsResident(testSpace, pageNo))
	}
	for pageNo := uint32(0); pageNo < 3; pageNo++ {
		assert.True(t, bp.IsResident(3, pageNo))
	}
	s := bp.Stats()
	assert.Equal(t, 1, s.DirtyPages)
	assert.Equal(t, uint64(50), s.OldestLSN)
	assert.Equal(t, 13, s.FreePages)
	assert.Equal(t, uint64(0), fio.Stats().Writes)
	assert.NoError(t, bp.Validate())

	// 重复调用没有副作用
	require.NoError(t, bp.InvalidateSpace(testSpace, BUF_REMOVE_ALL_NO_WRITE))
	s = bp.Stats()
	assert.Equal(t, 13, s.FreePages)
	assert.Equal(t, int64(2), s.Invalidations)
	assert.NoError(t, bp.Validate())
}

func TestInvalidateCompressedSpace(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(8))

	fetchAndRelease(t, bp, testZipSpace, 0, 1, 2)
	pp := fetch(t, bp, testZipSpace, 3)
	bp.MarkDirty(pp, 9)
	pp.Release()
	require.True(t, bp.TryEvictOne(0))
	require.True(t, bp.TryEvictOne(0))
	require.Equal(t, 2, bp.Stats().ZipOnlyPages)

	require.NoError(t, bp.InvalidateSpace(testZipSpace, BUF_REMOVE_ALL_NO_WRITE))
	s := bp.Stats()
	assert.Equal(t, 0, s.LRUPages)
	assert.Equal(t, 0, s.ZipOnlyPages)
	assert.Equal(t, 0, s.UnzipPages)
	assert.Equal(t, 0, s.DirtyPages)
	assert.Equal(t, 0, s.ZipUsedBytes)
	assert.Equal(t, 8, s.FreePages)
	assert.NoError(t, bp.Validate())
}

func TestInvalidateWaitsForPinnedPage(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(8))
	fetchAndRelease(t, bp, testSpace, 1, 2)
	pp := fetch(t, bp, testSpace, 0)

	done := make(chan error, 1)
	go func() {
		done <- bp.InvalidateSpace(testSpace, BUF_REMOVE_ALL_NO_WRITE)
	}()
	select {
	case <-done:
		t.Fatal("InvalidateSpace returned while a page is pinned")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, bp.IsResident(testSpace, 1))
	assert.True(t, bp.IsResident(testSpace, 0))

	pp.Release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("InvalidateSpace did not finish after release")
	}
	assert.False(t, bp.IsResident(testSpace, 0))
	assert.Equal(t, 8, bp.Stats().FreePages)
}

func TestInvalidateDropsHashIndexInBatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := testConfig(16)
	cfg.DropSearchSize = 4
	ahi := NewMockAdaptiveHashIndex(ctrl)
	bp, _ := newTestPool(t, cfg, WithAdaptiveHashIndex(ahi))

	for pageNo := uint32(0); pageNo < 10; pageNo++ {
		pp := fetch(t, bp, testSpace, pageNo)
		pp.MarkHashIndexed()
		pp.Release()
	}
	// 没有哈希索引的页面不提交
	fetchAndRelease(t, bp, testSpace, 10)

	var (
		mu      sync.Mutex
		batches [][]uint32
	)
	ahi.EXPECT().DropPageHashBatch(testSpace, 0, gomock.Any()).Times(3).Do(
		func(spaceID uint32, zipSize int, pageNos []uint32) {
			mu.Lock()
			batches = append(batches, append([]uint32(nil), pageNos...))
			mu.Unlock()
		})
	// 帧复用之前还要逐个删除
	ahi.EXPECT().DropPageHash(gomock.Any()).Times(10)

	require.NoError(t, bp.InvalidateSpace(testSpace, BUF_REMOVE_ALL_NO_WRITE))

	var all []uint32
	for _, b := range batches {
		assert.True(t, len(b) <= 4)
		assert.IsIncreasing(t, b)
		all = append(all, b...)
	}
	assert.ElementsMatch(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, all)
	assert.Equal(t, 16, bp.Stats().FreePages)
}

func TestInvalidateFlushModes(t *testing.T) {
	setup := func(t *testing.T) (*BufferPool, *fil.MemoryFileIO) {
		bp, fio := newTestPool(t, testConfig(8))
		for pageNo := uint32(0); pageNo < 4; pageNo++ {
			pp := fetch(t, bp, testSpace, pageNo)
			if pageNo > 0 {
				pp.Frame()[0] = byte(pageNo)
				bp.MarkDirty(pp, common.LSNT(pageNo))
			}
			pp.Release()
		}
		pp := fetch(t, bp, testZipSpace, 0)
		bp.MarkDirty(pp, 100)
		pp.Release()
		return bp, fio
	}

	t.Run("flush no write", func(t *testing.T) {
		bp, fio := setup(t)
		require.NoError(t, bp.InvalidateSpace(testSpace, BUF_REMOVE_FLUSH_NO_WRITE))
		s := bp.Stats()
		assert.Equal(t, 1, s.DirtyPages)
		assert.Equal(t, uint64(100), s.OldestLSN)
		assert.Equal(t, 5, s.LRUPages)
		assert.Equal(t, uint64(0), fio.Stats().Writes)
		for pageNo := uint32(0); pageNo < 4; pageNo++ {
			assert.True(t, bp.IsResident(testSpace, pageNo))
		}
		assert.NoError(t, bp.Validate())
	})

	t.Run("flush write", func(t *testing.T) {
		bp, fio := setup(t)
		require.NoError(t, bp.InvalidateSpace(testSpace, BUF_REMOVE_FLUSH_WRITE))
		s := bp.Stats()
		assert.Equal(t, 1, s.DirtyPages)
		assert.Equal(t, 5, s.LRUPages)
		assert.Equal(t, uint64(3), fio.Stats().Writes)
		buf := make([]byte, 4096)
		require.NoError(t, fio.ReadPage(testSpace, 2, buf))
		assert.Equal(t, byte(2), buf[0])
		assert.NoError(t, bp.Validate())
	})

	t.Run("invalid mode", func(t *testing.T) {
		bp, _ := setup(t)
		assert.ErrorIs(t, bp.InvalidateSpace(testSpace, RemoveMode(9)), ErrInvalidRemoveMode)
		assert.Equal(t, 4, bp.Stats().DirtyPages)
	})
}

func TestValidateDetectsCorruption(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(8))
	fetchAndRelease(t, bp, testSpace, 1, 2, 3)
	require.NoError(t, bp.Validate())

	bp.lru.len++
	err := bp.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lru: length")
	bp.lru.len--

	bp.a.page(refOf(bp, testSpace, 2)).oldestModification = 8
	err = bp.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not on flush list")
	bp.a.page(refOf(bp, testSpace, 2)).oldestModification = 0
	assert.NoError(t, bp.Validate())

	fields := bp.DumpState()
	assert.Equal(t, "FILE_PAGE=3 NOT_USED=5", fields["states"])
	assert.Equal(t, 3, fields["lru_len"])
}

// manualTicker 返回一个由测试手动发送 tick 的 ticker，intervals 记录创建时的间隔
func manualTicker(t *testing.T) (ticker.Factory, chan time.Time, chan time.Duration) {
	ctrl := gomock.NewController(t)
	ticks := make(chan time.Time)
	intervals := make(chan time.Duration, 4)
	factory := func(d time.Duration) ticker.Ticker {
		intervals <- d
		tk := ticker.NewMockTicker(ctrl)
		tk.EXPECT().C().Return((<-chan time.Time)(ticks)).AnyTimes()
		tk.EXPECT().Stop()
		return tk
	}
	return factory, ticks, intervals
}

func TestStatTicker(t *testing.T) {
	factory, ticks, intervals := manualTicker(t)
	bp, _ := newTestPool(t, testConfig(8), WithTicker(factory))
	bp.stat.markEvictionStarted()
	bp.stat.RecordIO()

	bp.StartStatTicker(5 * time.Millisecond)
	bp.StartStatTicker(5 * time.Millisecond) // 已经启动时无效
	assert.Equal(t, 5*time.Millisecond, <-intervals)

	// 第二个 tick 被接收时第一个已经处理完
	ticks <- time.Now()
	ticks <- time.Now()
	assert.Equal(t, uint64(1), bp.LRUStat().Snapshot().SumIO)

	// 监控打开时每个 tick 打印一次状态
	atomic.StoreInt32(&bp.monitorOn, 1)
	ticks <- time.Now()
	bp.StopStatTicker()
	bp.StopStatTicker()
	assert.Empty(t, intervals)

	// 间隔为 0 时使用配置
	bp.StartStatTicker(0)
	assert.Equal(t, bp.config.StatTickInterval, <-intervals)
	bp.StopStatTicker()
}

func TestConcurrentAccess(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(32))

	var (
		wg  sync.WaitGroup
		lsn int64
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 400; i++ {
				spaceID, pageNo := testSpace, uint32(r.Intn(60))
				if r.Intn(4) == 0 {
					spaceID, pageNo = testZipSpace, uint32(r.Intn(20))
				}
				pp, err := bp.FetchPage(spaceID, pageNo)
				if !assert.NoError(t, err) {
					return
				}
				dirty := r.Intn(5) == 0
				if dirty {
					pp.Frame()[r.Intn(64)] = byte(i)
					bp.MarkDirty(pp, common.LSNT(atomic.AddInt64(&lsn, 1)))
				}
				pp.Release()
				if dirty {
					err := bp.FlushPage(spaceID, pageNo)
					// 别的线程可能已经写回并淘汰了这个页面
					assert.True(t, err == nil || IsLocked(err) || IsNotFound(err), "flush: %v", err)
				}
				if r.Intn(50) == 0 {
					bp.ReadAhead(testSpace, []uint32{uint32(r.Intn(60)), uint32(r.Intn(60))})
				}
			}
		}(int64(g))
	}
	wg.Wait()

	_, err := bp.FlushDirtyPages(0)
	require.NoError(t, err)
	require.NoError(t, bp.Validate())
	s := bp.Stats()
	assert.Equal(t, 0, s.DirtyPages)
	assert.Equal(t, s.PageRequests, s.PageHits+s.PageMisses)

	require.NoError(t, bp.InvalidateSpace(testSpace, BUF_REMOVE_ALL_NO_WRITE))
	require.NoError(t, bp.InvalidateSpace(testZipSpace, BUF_REMOVE_ALL_NO_WRITE))
	assert.Equal(t, 32, bp.Stats().FreePages)
	assert.NoError(t, bp.Validate())
}

// 空闲帧用完、只有一个可淘汰页面时，两个并发的 GetFreeBlock 拿到不同的帧
func TestConcurrentGetFreeBlockSingleVictim(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(4))

	pins := make([]*PinnedPage, 0, 3)
	for pageNo := uint32(0); pageNo < 3; pageNo++ {
		pins = append(pins, fetch(t, bp, testSpace, pageNo))
	}
	fetchAndRelease(t, bp, testSpace, 3)
	require.Equal(t, 0, bp.Stats().FreePages)

	got := make(chan *BufferBlock, 2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			got <- bp.GetFreeBlock()
		}()
	}
	close(start)

	var first *BufferBlock
	select {
	case first = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("neither GetFreeBlock call got the evictable page")
	}
	select {
	case <-got:
		t.Fatal("both GetFreeBlock calls returned with a single evictable page")
	case <-time.After(50 * time.Millisecond):
	}

	pins[0].Release()
	var second *BufferBlock
	select {
	case second = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("second GetFreeBlock did not wake up after release")
	}
	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.ref, second.ref)
	assert.Equal(t, BUF_BLOCK_READY_FOR_USE, first.GetState())
	assert.Equal(t, BUF_BLOCK_READY_FOR_USE, second.GetState())

	bp.FreeBlock(first)
	bp.FreeBlock(second)
	for _, pp := range pins[1:] {
		pp.Release()
	}
	assert.NoError(t, bp.Validate())
}

// 脏压缩页重定位和其他页面的 MarkDirty 并发，flush list 不丢页
func TestRelocateDirtyZipWithConcurrentMarkDirty(t *testing.T) {
	cfg := testConfig(32)
	cfg.UnzipLRUMinPct = 0
	bp, fio := newTestPool(t, cfg)

	var (
		wg      sync.WaitGroup
		lsn     int64
		mu      sync.Mutex
		written = map[uint32]byte{}
	)
	nextLSN := func() common.LSNT { return common.LSNT(atomic.AddInt64(&lsn, 1)) }

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 600; i++ {
			pp, err := bp.FetchPage(testZipSpace, uint32(i%16))
			if !assert.NoError(t, err) {
				return
			}
			bp.MarkDirty(pp, nextLSN())
			pp.Release()
			// unzip LRU 优先，脏的压缩页只回收解压帧
			bp.TryEvictOne(0)
		}
	}()
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				// 未压缩的脏页不能淘汰，总数控制在帧数一半以内
				pageNo := uint32(g*4 + i%4)
				pp, err := bp.FetchPage(testSpace, pageNo)
				if !assert.NoError(t, err) {
					return
				}
				mark := byte(i)
				pp.Frame()[0] = mark
				bp.MarkDirty(pp, nextLSN())
				pp.Release()

				mu.Lock()
				written[pageNo] = mark
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	require.NoError(t, bp.Validate())
	s := bp.Stats()
	assert.True(t, s.ZipRelocations+s.UnzipEvictions > 0)

	_, err := bp.FlushDirtyPages(0)
	require.NoError(t, err)
	assert.Equal(t, 0, bp.Stats().DirtyPages)
	require.NoError(t, bp.Validate())

	frame := make([]byte, 4096)
	for pageNo, mark := range written {
		require.NoError(t, fio.ReadPage(testSpace, pageNo, frame))
		assert.Equal(t, mark, frame[0], "page %d", pageNo)
	}
}

// 伙伴系统被压缩脏页占满时，写回最旧的脏页腾出空间
func TestZipArenaFullOfDirtyPages(t *testing.T) {
	bp, fio := newTestPool(t, testConfig(64))

	for pageNo := uint32(0); pageNo < 32; pageNo++ {
		pp := fetch(t, bp, testZipSpace, pageNo)
		pp.Frame()[10] = byte(pageNo + 1)
		bp.MarkDirty(pp, common.LSNT(pageNo+1))
		pp.Release()
	}
	s := bp.Stats()
	require.Equal(t, 32, s.DirtyPages)
	require.Equal(t, s.ZipArenaBytes, s.ZipUsedBytes)

	pp := fetch(t, bp, testZipSpace, 40)
	pp.Release()

	// 最旧的一批修改写回之后，其中一个页面被整页淘汰
	s = bp.Stats()
	assert.Equal(t, 32-zipFlushBatch, s.DirtyPages)
	assert.Equal(t, int64(1), s.LRUEvictions)
	assert.True(t, bp.IsResident(testZipSpace, 40))
	resident := 0
	for pageNo := uint32(0); pageNo < 32; pageNo++ {
		if bp.IsResident(testZipSpace, pageNo) {
			resident++
		}
	}
	assert.Equal(t, 31, resident)

	img := make([]byte, testZipSize)
	frame := make([]byte, 4096)
	for pageNo := uint32(0); pageNo < zipFlushBatch; pageNo++ {
		require.NoError(t, fio.ReadPage(testZipSpace, pageNo, img))
		require.NoError(t, bp.codec.Decode(img, frame))
		assert.Equal(t, byte(pageNo+1), frame[10])
	}
	assert.NoError(t, bp.Validate())
}

// 压缩副本全部被 pin 住时分配阻塞，直到有页面释放
func TestZipArenaWaitsForRelease(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(64))

	pins := make([]*PinnedPage, 0, 32)
	for pageNo := uint32(0); pageNo < 32; pageNo++ {
		pp := fetch(t, bp, testZipSpace, pageNo)
		bp.MarkDirty(pp, common.LSNT(pageNo+1))
		pins = append(pins, pp)
	}

	got := make(chan error, 1)
	go func() {
		pp, err := bp.FetchPage(testZipSpace, 40)
		if err == nil {
			pp.Release()
		}
		got <- err
	}()
	select {
	case err := <-got:
		t.Fatalf("FetchPage returned while every compressed page is pinned: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	pins[0].Release()
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("FetchPage did not wake up after release")
	}
	assert.False(t, bp.IsResident(testZipSpace, 0))
	assert.True(t, bp.Stats().FreeBlockWaits > 0)

	for _, pp := range pins[1:] {
		pp.Release()
	}
	assert.NoError(t, bp.Validate())
}

// 只有压缩副本的页面不占帧，不算作可用帧
func TestMonitorIgnoresZipOnlyPages(t *testing.T) {
	cfg := testConfig(40)
	cfg.UnzipLRUMinPct = 0
	bp, _ := newTestPool(t, cfg)

	for pageNo := uint32(0); pageNo < 28; pageNo++ {
		fetchAndRelease(t, bp, testZipSpace, pageNo)
	}
	for i := 0; i < 28; i++ {
		require.True(t, bp.TryEvictOne(0))
	}
	s := bp.Stats()
	require.Equal(t, 28, s.ZipOnlyPages)
	require.Equal(t, 28, s.LRUPages)
	require.Equal(t, 40, s.FreePages)

	var taken []*BufferBlock
	for i := 0; i < 28; i++ {
		taken = append(taken, bp.GetFreeBlock())
	}
	assert.False(t, bp.Stats().MonitorOn)

	// 12 个空闲帧，不到三分之一
	taken = append(taken, bp.GetFreeBlock())
	assert.True(t, bp.Stats().MonitorOn)
	assert.Equal(t, 28, bp.Stats().ZipOnlyPages)

	for _, blk := range taken {
		bp.FreeBlock(blk)
	}
	assert.NoError(t, bp.Validate())
}

// 恢复期间只豁免终止，监控照常打开
func TestRecoveryKeepsMonitor(t *testing.T) {
	var aborted int32
	bp, _ := newTestPool(t, testConfig(20), WithAbortFunc(func(string, ...interface{}) {
		atomic.StoreInt32(&aborted, 1)
	}))
	bp.SetRecovery(true)

	var taken []*BufferBlock
	for i := 0; i < 20; i++ {
		taken = append(taken, bp.GetFreeBlock())
	}
	assert.True(t, bp.Stats().MonitorOn)

	// 没有可用帧也不终止
	assert.NoError(t, recoverError(bp.checkCapacity))
	assert.True(t, bp.Stats().MonitorOn)
	assert.Equal(t, int32(0), atomic.LoadInt32(&aborted))

	bp.SetRecovery(false)
	assert.ErrorIs(t, recoverError(bp.checkCapacity), ErrPoolExhausted)
	assert.Equal(t, int32(1), atomic.LoadInt32(&aborted))

	for _, blk := range taken {
		bp.FreeBlock(blk)
	}
	bp.checkCapacity()
	assert.False(t, bp.Stats().MonitorOn)
}
