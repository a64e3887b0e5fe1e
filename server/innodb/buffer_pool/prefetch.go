package buffer_pool

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/latch"
)

// PrefetchManager 管理预读，请求按优先级排队，由工作线程调用 ReadAhead
type PrefetchManager struct {
	bufferPool    *BufferPool
	prefetchQueue *list.List // 预读请求队列，优先级从高到低
	prefetchSize  int        // 每次预读的页面数量
	maxQueueSize  int        // 最大队列长度
	workers       int        // 预读工作线程数
	mu            sync.Mutex

	queued  *latch.Signal
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped int64
	expired int64
	loaded  int64
}

// PrefetchRequest 预读请求
type PrefetchRequest struct {
	SpaceID   uint32    // 表空间ID
	StartPage uint32    // 起始页号
	EndPage   uint32    // 结束页号(不含)
	Priority  int       // 优先级(1-10)
	Deadline  time.Time // 截止时间
}

// NewPrefetchManager 创建预读管理器，Start 之后才处理请求
func NewPrefetchManager(bufferPool *BufferPool, prefetchSize int, maxQueueSize int, workers int) *PrefetchManager {
	if workers <= 0 {
		workers = 1
	}
	return &PrefetchManager{
		bufferPool:    bufferPool,
		prefetchQueue: list.New(),
		prefetchSize:  prefetchSize,
		maxQueueSize:  maxQueueSize,
		workers:       workers,
		queued:        latch.NewSignal(),
	}
}

// Start 启动预读工作线程
func (pm *PrefetchManager) Start() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	pm.cancel = cancel
	for i := 0; i < pm.workers; i++ {
		pm.wg.Add(1)
		go pm.prefetchWorker(ctx)
	}
}

// Stop 停止工作线程并等待正在执行的预读结束
func (pm *PrefetchManager) Stop() {
	pm.mu.Lock()
	cancel := pm.cancel
	pm.cancel = nil
	pm.mu.Unlock()
	if cancel != nil {
		cancel()
		pm.wg.Wait()
	}
}

// TriggerPrefetch 触发预读
func (pm *PrefetchManager) TriggerPrefetch(spaceID uint32, startPage uint32) {
	pm.TriggerPrefetchWithPriority(spaceID, startPage, 5, 5*time.Second)
}

// TriggerPrefetchWithPriority 带优先级的预读
func (pm *PrefetchManager) TriggerPrefetchWithPriority(spaceID uint32, startPage uint32, priority int, deadline time.Duration) {
	pm.addPrefetchRequest(&PrefetchRequest{
		SpaceID:   spaceID,
		StartPage: startPage,
		EndPage:   startPage + uint32(pm.prefetchSize),
		Priority:  priority,
		Deadline:  time.Now().Add(deadline),
	})
}

// addPrefetchRequest 添加预读请求到队列
func (pm *PrefetchManager) addPrefetchRequest(request *PrefetchRequest) {
	pm.mu.Lock()
	// 如果队列已满，新请求优先级更高时挤掉队尾(优先级最低)的请求
	if pm.prefetchQueue.Len() >= pm.maxQueueSize {
		back := pm.prefetchQueue.Back()
		if back == nil || request.Priority <= back.Value.(*PrefetchRequest).Priority {
			pm.mu.Unlock()
			atomic.AddInt64(&pm.dropped, 1)
			return
		}
		pm.prefetchQueue.Remove(back)
		atomic.AddInt64(&pm.dropped, 1)
	}

	// 同优先级先来先服务
	var before *list.Element
	for e := pm.prefetchQueue.Front(); e != nil; e = e.Next() {
		if request.Priority > e.Value.(*PrefetchRequest).Priority {
			before = e
			break
		}
	}
	if before != nil {
		pm.prefetchQueue.InsertBefore(request, before)
	} else {
		pm.prefetchQueue.PushBack(request)
	}
	pm.mu.Unlock()
	pm.queued.Broadcast()
}

// prefetchWorker 预读工作线程
func (pm *PrefetchManager) prefetchWorker(ctx context.Context) {
	defer pm.wg.Done()
	for {
		wake := pm.queued.Wait()
		request := pm.getNextRequest()
		if request == nil {
			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
			continue
		}
		pm.execute(request)
	}
}

func (pm *PrefetchManager) execute(req *PrefetchRequest) {
	// 检查截止时间
	if time.Now().After(req.Deadline) {
		atomic.AddInt64(&pm.expired, 1)
		return
	}
	pageNos := make([]uint32, 0, req.EndPage-req.StartPage)
	for pageNo := req.StartPage; pageNo < req.EndPage; pageNo++ {
		pageNos = append(pageNos, pageNo)
	}
	n := pm.bufferPool.ReadAhead(req.SpaceID, pageNos)
	atomic.AddInt64(&pm.loaded, int64(n))
	logger.Debugf("prefetch: space %d pages [%d, %d) loaded %d", req.SpaceID, req.StartPage, req.EndPage, n)
}

// getNextRequest 获取下一个预读请求
func (pm *PrefetchManager) getNextRequest() *PrefetchRequest {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.prefetchQueue.Len() == 0 {
		return nil
	}

	// 获取并移除队首请求
	request := pm.prefetchQueue.Front()
	pm.prefetchQueue.Remove(request)
	return request.Value.(*PrefetchRequest)
}

// GetQueueLength 获取当前队列长度
func (pm *PrefetchManager) GetQueueLength() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.prefetchQueue.Len()
}

// ClearQueue 清空预读队列
func (pm *PrefetchManager) ClearQueue() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.prefetchQueue.Init()
}

// PrefetchStats 预读统计
type PrefetchStats struct {
	Dropped int64 // 队列满被丢弃
	Expired int64 // 过了截止时间
	Loaded  int64 // 实际读入的页数
}

func (pm *PrefetchManager) Stats() PrefetchStats {
	return PrefetchStats{
		Dropped: atomic.LoadInt64(&pm.dropped),
		Expired: atomic.LoadInt64(&pm.expired),
		Loaded:  atomic.LoadInt64(&pm.loaded),
	}
}

// RangePageLoad 顺序访问 [startPage, endPage) 并触发后续页面的线性预读
func (bp *BufferPool) RangePageLoad(spaceID uint32, startPage, endPage uint32) error {
	for pageNo := startPage; pageNo < endPage; pageNo++ {
		pp, err := bp.FetchPage(spaceID, pageNo)
		if err != nil {
			return err
		}
		pp.Release()
	}
	if bp.prefetch != nil {
		bp.prefetch.TriggerPrefetch(spaceID, endPage)
	}
	return nil
}
