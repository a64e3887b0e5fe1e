package buffer_pool

import (
	"sync"
	"sync/atomic"
)

// BUF_LRU_STAT_N_INTERVAL 统计窗口的区间数
const BUF_LRU_STAT_N_INTERVAL = 50

// lruStatInterval 一个统计区间内的 IO 次数和解压次数
type lruStatInterval struct {
	io    uint64
	unzip uint64
}

/*
LRUStat 即 buf_LRU_stat_*，短窗口的 IO / 解压计数。
淘汰时用它决定先从 unzip LRU 回收解压帧，还是从 LRU 尾部整页淘汰:
IO 多说明是 IO bound，应保留解压帧；解压多说明是 CPU bound，应保留更多压缩页。
*/
type LRUStat struct {
	cur lruStatInterval // 原子更新

	mu  sync.Mutex
	arr []lruStatInterval
	ind int
	sum lruStatInterval

	// started 第一次淘汰发生之前 Tick 不累计
	started int32
}

func NewLRUStat(intervals int) *LRUStat {
	if intervals <= 0 {
		intervals = BUF_LRU_STAT_N_INTERVAL
	}
	return &LRUStat{arr: make([]lruStatInterval, intervals)}
}

// RecordIO 记录一次页面读写
func (s *LRUStat) RecordIO() {
	atomic.AddUint64(&s.cur.io, 1)
}

// RecordDecompress 记录一次解压
func (s *LRUStat) RecordDecompress() {
	atomic.AddUint64(&s.cur.unzip, 1)
}

func (s *LRUStat) markEvictionStarted() {
	atomic.StoreInt32(&s.started, 1)
}

// EvictionStarted 是否已经发生过淘汰
func (s *LRUStat) EvictionStarted() bool {
	return atomic.LoadInt32(&s.started) == 1
}

// Tick 即 buf_LRU_stat_update，由定时器每秒调用一次。
// 当前区间滚入环形数组并更新累计值；淘汰开始之前丢弃当前区间
func (s *LRUStat) Tick() {
	cur := lruStatInterval{
		io:    atomic.SwapUint64(&s.cur.io, 0),
		unzip: atomic.SwapUint64(&s.cur.unzip, 0),
	}
	if !s.EvictionStarted() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	item := &s.arr[s.ind]
	s.ind = (s.ind + 1) % len(s.arr)
	s.sum.io += cur.io - item.io
	s.sum.unzip += cur.unzip - item.unzip
	*item = cur
}

// averages 窗口平均值加上当前区间的值
func (s *LRUStat) averages() (ioAvg, unzipAvg uint64) {
	s.mu.Lock()
	n := uint64(len(s.arr))
	ioAvg = s.sum.io / n
	unzipAvg = s.sum.unzip / n
	s.mu.Unlock()
	ioAvg += atomic.LoadUint64(&s.cur.io)
	unzipAvg += atomic.LoadUint64(&s.cur.unzip)
	return ioAvg, unzipAvg
}

// LRUStatSnapshot 统计快照
type LRUStatSnapshot struct {
	CurIO, CurUnzip uint64
	SumIO, SumUnzip uint64
	Intervals       int
}

func (s *LRUStat) Snapshot() LRUStatSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LRUStatSnapshot{
		CurIO:     atomic.LoadUint64(&s.cur.io),
		CurUnzip:  atomic.LoadUint64(&s.cur.unzip),
		SumIO:     s.sum.io,
		SumUnzip:  s.sum.unzip,
		Intervals: len(s.arr),
	}
}
