package buffer_pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/common"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/common/ticker"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/buddy"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/compression"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

// prefetchQueueSize 预读请求队列长度
const prefetchQueueSize = 1024

// AbortFunc 缓冲池耗尽时调用，默认 logger.Fatalf 退出进程
type AbortFunc func(format string, args ...interface{})

/*
BufferPool represents the InnoDB buffer pool.

加锁顺序: LRU 锁 -> page hash 锁 -> 控制体锁 -> flush list 锁。
Free List 和伙伴系统各自的锁是叶子锁。
*/
type BufferPool struct {
	config *Config
	a      *arena

	// listMu 保护 LRU、unzip LRU 和压缩控制体槽位
	listMu *latch.Latch
	lru    *lruList
	unzip  *unzipList
	hash   *pageHash
	flush  *flushList
	free   *freeList

	zipAlloc *buddy.Allocator
	codec    *compression.PageCodec
	fileIO   FileIO
	ahi      AdaptiveHashIndex
	stat     *LRUStat
	counters poolCounters

	// frameFreed 有帧回到 Free List
	frameFreed *latch.Signal
	// pageEvent 某个页面的 IO 完成、pin 释放或 sticky 解除
	pageEvent *latch.Signal

	recovery  int32
	monitorOn int32
	abort     AbortFunc
	now       func() time.Time
	newTicker ticker.Factory

	prefetch *PrefetchManager
	tuner    *AutoTuner

	tickerMu     sync.Mutex
	tickerCancel context.CancelFunc
	tickerDone   chan struct{}
}

// Option 构造选项
type Option func(bp *BufferPool)

// WithAdaptiveHashIndex 设置自适应哈希索引维护方
func WithAdaptiveHashIndex(ahi AdaptiveHashIndex) Option {
	return func(bp *BufferPool) { bp.ahi = ahi }
}

// WithAbortFunc 替换耗尽时的退出处理，测试使用
func WithAbortFunc(fn AbortFunc) Option {
	return func(bp *BufferPool) { bp.abort = fn }
}

// WithClock 替换时钟，测试 old_blocks_time 使用
func WithClock(now func() time.Time) Option {
	return func(bp *BufferPool) { bp.now = now }
}

// WithTicker 替换统计定时器和自动调优使用的 ticker
func WithTicker(factory ticker.Factory) Option {
	return func(bp *BufferPool) { bp.newTicker = factory }
}

// WithPageCodec 指定压缩页编解码器
func WithPageCodec(codec *compression.PageCodec) Option {
	return func(bp *BufferPool) { bp.codec = codec }
}

// NewBufferPool creates a new buffer pool
func NewBufferPool(config *Config, fileIO FileIO, opts ...Option) (*BufferPool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if fileIO == nil {
		return nil, fmt.Errorf("%w: nil file io", ErrInvalidConfig)
	}

	a := newArena(config.PoolSize, config.zipSlots(), config.PageSize)
	bp := &BufferPool{
		config:     config,
		a:          a,
		listMu:     latch.NewLatch(latch.LevelList, "lru"),
		lru:        newLRUList(a, config.lruParams()),
		unzip:      newUnzipList(a),
		hash:       newPageHash(a, a.size()),
		flush:      newFlushList(a),
		free:       newFreeList(config.PoolSize),
		fileIO:     fileIO,
		ahi:        noopHashIndex{},
		stat:       NewLRUStat(config.LRUStatIntervals),
		frameFreed: latch.NewSignal(),
		pageEvent:  latch.NewSignal(),
		abort:      logger.Fatalf,
		now:        time.Now,
		newTicker:  ticker.NewTimeFactory(),
	}
	bp.counters.startTime = time.Now()
	for _, opt := range opts {
		opt(bp)
	}

	if config.ZipPoolSize > 0 {
		alloc, err := buddy.New(config.ZipPoolSize, common.UNIV_ZIP_SIZE_MIN, config.PageSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		bp.zipAlloc = alloc
	}
	if bp.codec == nil {
		codec, err := compression.NewCodec(config.Compression)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		bp.codec = compression.NewPageCodec(codec)
	}

	// 所有帧初始都在 Free List
	for i := len(a.blocks) - 1; i >= 0; i-- {
		bp.free.push(a.blocks[i].ref)
	}

	if config.ReadAheadWorkers > 0 && config.ReadAheadPages > 0 {
		bp.prefetch = NewPrefetchManager(bp, config.ReadAheadPages, prefetchQueueSize, config.ReadAheadWorkers)
		bp.prefetch.Start()
	}
	if config.AutoTuneWindow > 0 {
		bp.tuner = NewAutoTuner(bp, config.AutoTuneWindow)
		bp.tuner.Start()
	}

	logger.WithFields(logger.Fields{
		"frames":      config.PoolSize,
		"page_size":   config.PageSize,
		"zip_pool":    config.ZipPoolSize,
		"old_ratio":   config.oldRatio(),
		"compression": bp.codec.Codec().Name(),
	}).Info("buffer pool initialized")
	return bp, nil
}

// Close 停止后台任务
func (bp *BufferPool) Close() {
	if bp.tuner != nil {
		bp.tuner.Stop()
	}
	bp.StopStatTicker()
	if bp.prefetch != nil {
		bp.prefetch.Stop()
	}
}

// Config 返回配置
func (bp *BufferPool) Config() *Config {
	return bp.config
}

// LRUStat 返回淘汰统计
func (bp *BufferPool) LRUStat() *LRUStat {
	return bp.stat
}

// Prefetch 返回预读管理器，未开启时为 nil
func (bp *BufferPool) Prefetch() *PrefetchManager {
	return bp.prefetch
}

// SetRecovery 崩溃恢复期间豁免 1/20 的耗尽检查
func (bp *BufferPool) SetRecovery(on bool) {
	var v int32
	if on {
		v = 1
	}
	atomic.StoreInt32(&bp.recovery, v)
}

func (bp *BufferPool) inRecovery() bool {
	return atomic.LoadInt32(&bp.recovery) == 1
}

// SetOldBlocksPct 运行期修改 innodb_old_blocks_pct
func (bp *BufferPool) SetOldBlocksPct(pct float64) error {
	if pct < 5 || pct > 95 {
		return fmt.Errorf("%w: old blocks pct %.1f not in [5, 95]", ErrInvalidConfig, pct)
	}
	bp.listMu.Lock(latch.Free)
	defer bp.listMu.Unlock()
	bp.config.OldBlocksPct = pct
	bp.lru.setOldRatio(bp.config.oldRatio())
	return nil
}

// StartStatTicker 每个区间调用一次 LRUStat.Tick，缓冲池告急时顺便打印状态
func (bp *BufferPool) StartStatTicker(interval time.Duration) {
	if interval <= 0 {
		interval = bp.config.StatTickInterval
	}
	bp.tickerMu.Lock()
	defer bp.tickerMu.Unlock()
	if bp.tickerCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	bp.tickerCancel, bp.tickerDone = cancel, done

	go func() {
		defer close(done)
		tk := bp.newTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C():
				bp.stat.Tick()
				if atomic.LoadInt32(&bp.monitorOn) == 1 {
					logger.WithFields(bp.DumpState()).Warn("buffer pool monitor")
				}
			}
		}
	}()
}

// StopStatTicker 停止统计定时器
func (bp *BufferPool) StopStatTicker() {
	bp.tickerMu.Lock()
	cancel, done := bp.tickerCancel, bp.tickerDone
	bp.tickerCancel, bp.tickerDone = nil, nil
	bp.tickerMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// invariantViolation 内部结构不一致，打印现场后 panic
func (bp *BufferPool) invariantViolation(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.WithFields(bp.dumpStateUnlocked()).Errorf("buffer pool invariant violated: %s", msg)
	panic(&InvariantError{Msg: msg})
}
