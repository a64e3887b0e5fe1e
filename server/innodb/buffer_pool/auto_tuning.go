package buffer_pool

import (
	"context"
	"sync"
	"time"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

// AutoTuner 自动调优器，按窗口比较统计增量，调整 old 子链表比例、old_blocks_time 和预读量
type AutoTuner struct {
	bufferPool *BufferPool

	// 调优参数
	targetHitRatio   float64 // 目标命中率
	minOldPct        float64
	maxOldPct        float64
	adjustmentFactor float64 // 每次调整 old 比例的百分点
	maxOldBlocksTime time.Duration

	// 监控窗口
	windowSize     time.Duration
	lastAdjustment time.Time
	last           BufferPoolStats

	// 并发控制
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAutoTuner 创建自动调优器
func NewAutoTuner(bufferPool *BufferPool, windowSize time.Duration) *AutoTuner {
	return &AutoTuner{
		bufferPool:       bufferPool,
		targetHitRatio:   0.95,
		minOldPct:        20,
		maxOldPct:        60,
		adjustmentFactor: 2.5,
		maxOldBlocksTime: 10 * time.Second,
		windowSize:       windowSize,
		last:             bufferPool.Stats(),
	}
}

// Start 启动自动调优
func (at *AutoTuner) Start() {
	at.mu.Lock()
	defer at.mu.Unlock()
	if at.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	at.cancel, at.done = cancel, make(chan struct{})
	go at.tuningLoop(ctx, at.done)
}

// Stop 停止自动调优
func (at *AutoTuner) Stop() {
	at.mu.Lock()
	cancel, done := at.cancel, at.done
	at.cancel, at.done = nil, nil
	at.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// tuningLoop 调优循环
func (at *AutoTuner) tuningLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	tk := at.bufferPool.newTicker(at.windowSize)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C():
			at.adjust()
		}
	}
}

// adjust 根据上一个窗口的统计增量调整缓冲池参数
func (at *AutoTuner) adjust() {
	at.mu.Lock()
	defer at.mu.Unlock()

	cur := at.bufferPool.Stats()
	prev := at.last
	at.last = cur
	at.lastAdjustment = time.Now()

	requests := cur.PageRequests - prev.PageRequests
	if requests == 0 {
		return
	}
	hitRatio := float64(cur.PageHits-prev.PageHits) / float64(requests)
	madeYoung := cur.MadeYoung - prev.MadeYoung
	notYoung := cur.NotMadeYoung - prev.NotMadeYoung

	at.adjustOldRatio(hitRatio, madeYoung, notYoung)
	at.adjustOldBlocksTime(madeYoung, notYoung)
	at.adjustPrefetchParameters(cur.ReadAheadPages-prev.ReadAheadPages, cur.ReadAheadEvicted-prev.ReadAheadEvicted)
}

// adjustOldRatio 命中率低于目标且 old 页面很少被提升，说明有扫描在冲刷缓冲池，扩大 old 子链表
func (at *AutoTuner) adjustOldRatio(hitRatio float64, madeYoung, notYoung int64) {
	pct := at.bufferPool.OldBlocksPct()
	switch {
	case hitRatio < at.targetHitRatio && notYoung > madeYoung:
		pct += at.adjustmentFactor
	case hitRatio >= at.targetHitRatio && madeYoung > notYoung:
		pct -= at.adjustmentFactor
	default:
		return
	}
	if pct < at.minOldPct {
		pct = at.minOldPct
	}
	if pct > at.maxOldPct {
		pct = at.maxOldPct
	}
	if err := at.bufferPool.SetOldBlocksPct(pct); err != nil {
		logger.Warnf("auto tuner: %v", err)
		return
	}
	logger.Debugf("auto tuner: hit ratio %.3f, old blocks pct -> %.1f", hitRatio, pct)
}

// adjustOldBlocksTime 大部分 old 页面都在窗口内被提升时缩短延迟，反之延长
func (at *AutoTuner) adjustOldBlocksTime(madeYoung, notYoung int64) {
	cur := at.bufferPool.OldBlocksTime()
	if cur == 0 {
		return
	}
	next := cur
	switch {
	case notYoung > 4*madeYoung:
		next = cur * 5 / 4
	case madeYoung > 4*notYoung:
		next = cur * 4 / 5
	}
	if next > at.maxOldBlocksTime {
		next = at.maxOldBlocksTime
	}
	if next < time.Millisecond {
		next = time.Millisecond
	}
	if next != cur {
		at.bufferPool.SetOldBlocksTime(next)
	}
}

// adjustPrefetchParameters 预读进来又没被访问就被淘汰的比例高时减小预读量
func (at *AutoTuner) adjustPrefetchParameters(loaded, wasted int64) {
	pm := at.bufferPool.prefetch
	if pm == nil || loaded == 0 {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	waste := float64(wasted) / float64(loaded)
	switch {
	case waste > 0.5 && pm.prefetchSize > 8:
		pm.prefetchSize = pm.prefetchSize * 4 / 5
	case waste < 0.1 && pm.prefetchSize < at.bufferPool.config.ReadAheadPages*2:
		pm.prefetchSize = pm.prefetchSize * 5 / 4
	}
}

// GetCurrentParameters 获取当前参数
func (at *AutoTuner) GetCurrentParameters() map[string]interface{} {
	at.mu.Lock()
	defer at.mu.Unlock()

	params := map[string]interface{}{
		"old_blocks_pct":   at.bufferPool.OldBlocksPct(),
		"old_blocks_time":  at.bufferPool.OldBlocksTime(),
		"target_hit_ratio": at.targetHitRatio,
		"last_adjustment":  at.lastAdjustment,
	}
	if pm := at.bufferPool.prefetch; pm != nil {
		pm.mu.Lock()
		params["prefetch_size"] = pm.prefetchSize
		pm.mu.Unlock()
	}
	return params
}

// SetTargetHitRatio 设置目标命中率
func (at *AutoTuner) SetTargetHitRatio(ratio float64) {
	at.mu.Lock()
	defer at.mu.Unlock()

	if ratio > 0 && ratio <= 1 {
		at.targetHitRatio = ratio
	}
}

// SetAdjustmentFactor 设置每次调整的百分点
func (at *AutoTuner) SetAdjustmentFactor(factor float64) {
	at.mu.Lock()
	defer at.mu.Unlock()

	if factor > 0 && factor < 10 {
		at.adjustmentFactor = factor
	}
}

// OldBlocksPct 当前的 innodb_old_blocks_pct
func (bp *BufferPool) OldBlocksPct() float64 {
	bp.listMu.RLock(latch.Free)
	defer bp.listMu.RUnlock()
	return bp.config.OldBlocksPct
}

// OldBlocksTime 当前的 innodb_old_blocks_time
func (bp *BufferPool) OldBlocksTime() time.Duration {
	bp.listMu.RLock(latch.Free)
	defer bp.listMu.RUnlock()
	return bp.config.OldBlocksTime
}

// SetOldBlocksTime 运行期修改 innodb_old_blocks_time，0 表示不延迟提升
func (bp *BufferPool) SetOldBlocksTime(d time.Duration) {
	if d < 0 {
		d = 0
	}
	bp.listMu.Lock(latch.Free)
	bp.config.OldBlocksTime = d
	bp.listMu.Unlock()
}
