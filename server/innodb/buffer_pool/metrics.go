package buffer_pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "innodb_buffer_pool"

type metricDesc struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(s *BufferPoolStats) float64
}

// Collector 把 Stats 快照导出为 prometheus 指标，每次采集取一次快照
type Collector struct {
	pool    *BufferPool
	metrics []metricDesc
}

// NewCollector 创建采集器，constLabels 用于区分同一进程里的多个缓冲池
func NewCollector(pool *BufferPool, constLabels prometheus.Labels) *Collector {
	gauge := func(name, help string, fn func(s *BufferPoolStats) float64) metricDesc {
		return metricDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, constLabels),
			kind:  prometheus.GaugeValue,
			value: fn,
		}
	}
	counter := func(name, help string, fn func(s *BufferPoolStats) float64) metricDesc {
		m := gauge(name, help, fn)
		m.kind = prometheus.CounterValue
		return m
	}

	return &Collector{
		pool: pool,
		metrics: []metricDesc{
			gauge("pages_total", "Number of frames in the buffer pool.", func(s *BufferPoolStats) float64 { return float64(s.PoolSize) }),
			gauge("pages_free", "Frames on the free list.", func(s *BufferPoolStats) float64 { return float64(s.FreePages) }),
			gauge("lru_pages", "Pages on the LRU list.", func(s *BufferPoolStats) float64 { return float64(s.LRUPages) }),
			gauge("lru_old_pages", "Pages on the old sublist of the LRU list.", func(s *BufferPoolStats) float64 { return float64(s.OldPages) }),
			gauge("unzip_lru_pages", "Compressed pages that also hold a decompressed frame.", func(s *BufferPoolStats) float64 { return float64(s.UnzipPages) }),
			gauge("zip_only_pages", "Pages resident only in compressed form.", func(s *BufferPoolStats) float64 { return float64(s.ZipOnlyPages) }),
			gauge("pages_dirty", "Pages on the flush list.", func(s *BufferPoolStats) float64 { return float64(s.DirtyPages) }),
			gauge("oldest_modification_lsn", "Oldest modification LSN on the flush list, 0 if clean.", func(s *BufferPoolStats) float64 { return float64(s.OldestLSN) }),
			gauge("zip_bytes_used", "Bytes allocated from the compressed page arena.", func(s *BufferPoolStats) float64 { return float64(s.ZipUsedBytes) }),
			counter("page_requests_total", "Page fetch requests.", func(s *BufferPoolStats) float64 { return float64(s.PageRequests) }),
			counter("page_hits_total", "Page fetch requests served from the buffer pool.", func(s *BufferPoolStats) float64 { return float64(s.PageHits) }),
			counter("pages_read_total", "Pages read from the file layer.", func(s *BufferPoolStats) float64 { return float64(s.PageReads) }),
			counter("pages_written_total", "Pages written to the file layer.", func(s *BufferPoolStats) float64 { return float64(s.PageWrites) }),
			counter("pages_decompressed_total", "Compressed pages decompressed on access.", func(s *BufferPoolStats) float64 { return float64(s.Decompressions) }),
			counter("pages_made_young_total", "Old pages moved to the head of the LRU list.", func(s *BufferPoolStats) float64 { return float64(s.MadeYoung) }),
			counter("pages_not_made_young_total", "Old pages accessed before old_blocks_time elapsed.", func(s *BufferPoolStats) float64 { return float64(s.NotMadeYoung) }),
			counter("lru_evictions_total", "Pages fully evicted from the LRU list.", func(s *BufferPoolStats) float64 { return float64(s.LRUEvictions) }),
			counter("unzip_evictions_total", "Decompressed frames reclaimed from the unzip LRU list.", func(s *BufferPoolStats) float64 { return float64(s.UnzipEvictions) }),
			counter("read_ahead_pages_total", "Pages loaded by read-ahead.", func(s *BufferPoolStats) float64 { return float64(s.ReadAheadPages) }),
			counter("read_ahead_evicted_total", "Read-ahead pages evicted without being accessed.", func(s *BufferPoolStats) float64 { return float64(s.ReadAheadEvicted) }),
			counter("free_block_waits_total", "Times get_free_block had to wait for a frame.", func(s *BufferPoolStats) float64 { return float64(s.FreeBlockWaits) }),
			counter("flush_failures_total", "Failed page flushes.", func(s *BufferPoolStats) float64 { return float64(s.FlushFailures) }),
		},
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(&s))
	}
}
