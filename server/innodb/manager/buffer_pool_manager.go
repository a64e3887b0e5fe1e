package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/common"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/buffer_pool"
)

const (
	FLUSH_INTERVAL  = time.Second // 刷新间隔
	MAX_DIRTY_RATIO = 0.25        // 最大脏页比例
	FLUSH_BATCH     = 200         // 每轮最多刷新的页数，相当于 innodb_io_capacity
)

// SpaceStore 带表空间管理的页面存储
type SpaceStore interface {
	buffer_pool.FileIO
	CreateSpace(spaceID uint32, zipSize int) error
	DropSpace(spaceID uint32) error
}

// BufferPoolConfig 缓冲池管理器配置
type BufferPoolConfig struct {
	Pool *buffer_pool.Config

	// 页面清理
	FlushInterval time.Duration // 0 表示不启动后台刷新
	MaxDirtyRatio float64       // 脏页比例超过它时按 FlushBatch 刷新，否则只刷 1/10
	FlushBatch    int
}

// DefaultBufferPoolConfig 默认配置
func DefaultBufferPoolConfig() *BufferPoolConfig {
	return &BufferPoolConfig{
		Pool:          buffer_pool.DefaultConfig(),
		FlushInterval: FLUSH_INTERVAL,
		MaxDirtyRatio: MAX_DIRTY_RATIO,
		FlushBatch:    FLUSH_BATCH,
	}
}

// BufferPoolManager 缓冲池管理器，负责表空间的生命周期和后台刷脏
type BufferPoolManager struct {
	mu sync.Mutex

	// 核心组件
	bufferPool *buffer_pool.BufferPool // 底层缓冲池
	store      SpaceStore
	config     *BufferPoolConfig // 配置信息

	// 统计信息
	stats struct {
		cleanerRounds uint64 // 后台刷新轮数
		cleanerPages  uint64 // 后台刷新页数
		droppedSpaces uint64
	}

	// 后台线程控制
	stopChan chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewBufferPoolManager 创建缓冲池并启动后台刷新
func NewBufferPoolManager(config *BufferPoolConfig, store SpaceStore, opts ...buffer_pool.Option) (*BufferPoolManager, error) {
	if config == nil {
		config = DefaultBufferPoolConfig()
	}
	if store == nil {
		return nil, errors.NotValidf("nil space store")
	}
	if config.MaxDirtyRatio <= 0 || config.MaxDirtyRatio > 1 {
		return nil, errors.NotValidf("max dirty ratio %v", config.MaxDirtyRatio)
	}
	if config.FlushBatch <= 0 {
		config.FlushBatch = FLUSH_BATCH
	}

	bp, err := buffer_pool.NewBufferPool(config.Pool, store, opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}

	bpm := &BufferPoolManager{
		bufferPool: bp,
		store:      store,
		config:     config,
		stopChan:   make(chan struct{}),
	}

	// Start background threads
	bpm.startBackgroundThreads()

	return bpm, nil
}

// BufferPool 返回底层缓冲池
func (bpm *BufferPoolManager) BufferPool() *buffer_pool.BufferPool {
	return bpm.bufferPool
}

// CreateSpace 创建表空间，zipSize 为 0 表示不压缩
func (bpm *BufferPoolManager) CreateSpace(spaceID uint32, zipSize int) error {
	return errors.Trace(bpm.store.CreateSpace(spaceID, zipSize))
}

// DropSpace 先让缓冲池中该表空间的页面全部失效，再删除存储
func (bpm *BufferPoolManager) DropSpace(spaceID uint32) error {
	if err := bpm.bufferPool.InvalidateSpace(spaceID, buffer_pool.BUF_REMOVE_ALL_NO_WRITE); err != nil {
		return errors.Annotatef(err, "invalidate space %d", spaceID)
	}
	if err := bpm.store.DropSpace(spaceID); err != nil {
		return errors.Annotatef(err, "drop space %d", spaceID)
	}
	atomic.AddUint64(&bpm.stats.droppedSpaces, 1)
	return nil
}

// GetPage 读取并固定页面，用完调用 Release
func (bpm *BufferPoolManager) GetPage(spaceID, pageNo uint32) (*buffer_pool.PinnedPage, error) {
	return bpm.bufferPool.FetchPage(spaceID, pageNo)
}

// MarkDirty marks a page as dirty
func (bpm *BufferPoolManager) MarkDirty(page *buffer_pool.PinnedPage, lsn common.LSNT) {
	bpm.bufferPool.MarkDirty(page, lsn)
}

// FlushPage flushes a specific page to disk
func (bpm *BufferPoolManager) FlushPage(spaceID, pageNo uint32) error {
	return bpm.bufferPool.FlushPage(spaceID, pageNo)
}

// FlushAllPages flushes all dirty pages to disk
func (bpm *BufferPoolManager) FlushAllPages() (int, error) {
	return bpm.bufferPool.FlushDirtyPages(0)
}

// dirtyRatio 脏页占帧数的比例
func (bpm *BufferPoolManager) dirtyRatio() float64 {
	s := bpm.bufferPool.Stats()
	if s.PoolSize == 0 {
		return 0
	}
	return float64(s.DirtyPages) / float64(s.PoolSize)
}

// backgroundFlush 一轮页面清理，返回写回的页数
func (bpm *BufferPoolManager) backgroundFlush() int {
	batch := bpm.config.FlushBatch
	if bpm.dirtyRatio() < bpm.config.MaxDirtyRatio {
		batch = batch/10 + 1
	}

	n, err := bpm.bufferPool.FlushDirtyPages(batch)
	if err != nil {
		// Log error but continue with other rounds
		logger.Warnf("page cleaner flushed %d pages, error: %v", n, err)
	}
	atomic.AddUint64(&bpm.stats.cleanerRounds, 1)
	atomic.AddUint64(&bpm.stats.cleanerPages, uint64(n))
	return n
}

// GetStats returns buffer pool statistics
func (bpm *BufferPoolManager) GetStats() map[string]interface{} {
	s := bpm.bufferPool.Stats()
	return map[string]interface{}{
		"hits":           s.PageHits,
		"misses":         s.PageMisses,
		"evictions":      s.LRUEvictions + s.UnzipEvictions,
		"dirty_pages":    s.DirtyPages,
		"page_reads":     s.PageReads,
		"page_writes":    s.PageWrites,
		"cleaner_rounds": atomic.LoadUint64(&bpm.stats.cleanerRounds),
		"cleaner_pages":  atomic.LoadUint64(&bpm.stats.cleanerPages),
		"dropped_spaces": atomic.LoadUint64(&bpm.stats.droppedSpaces),
	}
}

// Close 关闭缓冲池管理器
func (bpm *BufferPoolManager) Close() error {
	bpm.mu.Lock()
	if bpm.closed {
		bpm.mu.Unlock()
		return nil
	}
	bpm.closed = true
	bpm.mu.Unlock()

	// 停止后台线程
	close(bpm.stopChan)
	bpm.wg.Wait()

	// 刷新所有脏页
	_, err := bpm.FlushAllPages()
	bpm.bufferPool.Close()
	return errors.Trace(err)
}

func (bpm *BufferPoolManager) startBackgroundThreads() {
	if bpm.config.FlushInterval <= 0 {
		return
	}
	bpm.wg.Add(1)
	go func() {
		defer bpm.wg.Done()
		ticker := time.NewTicker(bpm.config.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-bpm.stopChan:
				return
			case <-ticker.C:
				bpm.backgroundFlush()
			}
		}
	}()
}
