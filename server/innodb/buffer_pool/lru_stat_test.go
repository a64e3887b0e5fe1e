package buffer_pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRUStatWindow(t *testing.T) {
	s := NewLRUStat(4)

	// 淘汰开始之前的区间被丢弃
	s.RecordIO()
	s.RecordDecompress()
	s.Tick()
	snap := s.Snapshot()
	assert.Zero(t, snap.SumIO)
	assert.Zero(t, snap.CurIO)

	s.markEvictionStarted()
	for i := 0; i < 8; i++ {
		s.RecordIO()
	}
	s.RecordDecompress()
	s.Tick()
	snap = s.Snapshot()
	assert.Equal(t, uint64(8), snap.SumIO)
	assert.Equal(t, uint64(1), snap.SumUnzip)
	assert.Equal(t, 4, snap.Intervals)

	// 窗口滚满后最早的区间被扣除
	for i := 0; i < 4; i++ {
		s.Tick()
	}
	snap = s.Snapshot()
	assert.Zero(t, snap.SumIO)
	assert.Zero(t, snap.SumUnzip)

	s.RecordIO()
	ioAvg, unzipAvg := s.averages()
	assert.Equal(t, uint64(1), ioAvg)
	assert.Zero(t, unzipAvg)
}
