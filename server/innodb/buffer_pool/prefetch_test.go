package buffer_pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefetchQueueOrder(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(16))
	pm := NewPrefetchManager(bp, 4, 8, 1)

	pm.TriggerPrefetchWithPriority(testSpace, 0, 3, time.Minute)
	pm.TriggerPrefetchWithPriority(testSpace, 10, 8, time.Minute)
	pm.TriggerPrefetchWithPriority(testSpace, 20, 5, time.Minute)
	pm.TriggerPrefetch(testSpace, 30) // 优先级 5，排在同优先级之后
	assert.Equal(t, 4, pm.GetQueueLength())

	var got []uint32
	for req := pm.getNextRequest(); req != nil; req = pm.getNextRequest() {
		got = append(got, req.StartPage)
		assert.Equal(t, req.StartPage+4, req.EndPage)
	}
	assert.Equal(t, []uint32{10, 20, 30, 0}, got)
}

func TestPrefetchQueueFull(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(16))
	pm := NewPrefetchManager(bp, 4, 2, 1)

	pm.TriggerPrefetchWithPriority(testSpace, 0, 5, time.Minute)
	pm.TriggerPrefetchWithPriority(testSpace, 10, 3, time.Minute)
	// 不高于队尾优先级，丢弃新请求
	pm.TriggerPrefetchWithPriority(testSpace, 20, 3, time.Minute)
	assert.Equal(t, int64(1), pm.Stats().Dropped)
	// 高于队尾优先级，挤掉队尾
	pm.TriggerPrefetchWithPriority(testSpace, 30, 9, time.Minute)
	assert.Equal(t, int64(2), pm.Stats().Dropped)
	assert.Equal(t, 2, pm.GetQueueLength())
	assert.Equal(t, uint32(30), pm.getNextRequest().StartPage)
	assert.Equal(t, uint32(0), pm.getNextRequest().StartPage)

	pm.TriggerPrefetch(testSpace, 40)
	pm.ClearQueue()
	assert.Equal(t, 0, pm.GetQueueLength())
	assert.Nil(t, pm.getNextRequest())
}

func TestPrefetchExpiredRequest(t *testing.T) {
	bp, _ := newTestPool(t, testConfig(16))
	pm := NewPrefetchManager(bp, 4, 8, 2)
	pm.Start()
	defer pm.Stop()

	pm.TriggerPrefetchWithPriority(testSpace, 0, 5, -time.Second)
	assert.Eventually(t, func() bool {
		return pm.Stats().Expired == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, int64(0), pm.Stats().Loaded)
	assert.False(t, bp.IsResident(testSpace, 0))
}

func TestRangePageLoadTriggersReadAhead(t *testing.T) {
	cfg := testConfig(16)
	cfg.ReadAheadWorkers = 1
	cfg.ReadAheadPages = 4
	bp, _ := newTestPool(t, cfg)
	require.NotNil(t, bp.Prefetch())

	require.NoError(t, bp.RangePageLoad(testSpace, 0, 2))
	assert.Eventually(t, func() bool {
		return bp.Prefetch().Stats().Loaded == 4
	}, 2*time.Second, time.Millisecond)
	for pageNo := uint32(2); pageNo < 6; pageNo++ {
		assert.True(t, bp.IsResident(testSpace, pageNo))
	}

	s := bp.Stats()
	assert.Equal(t, int64(4), s.ReadAheadPages)
	assert.Equal(t, int64(2), s.PageRequests)
	assert.Equal(t, int64(6), s.PageReads)

	// 预读进来的页面第一次访问算命中
	fetchAndRelease(t, bp, testSpace, 3)
	assert.Equal(t, int64(1), bp.Stats().PageHits)
	assert.NoError(t, bp.Validate())
}
