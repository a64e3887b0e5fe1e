package buffer_pool

import (
	"fmt"
	"time"

	"github.com/zhukovaskychina/xmysql-bufferpool/server/common"
)

// Config contains configuration for buffer pool
type Config struct {
	// Basic configuration
	PoolSize int // 帧个数
	PageSize int

	// LRU configuration
	OldBlocksPct    float64       // innodb_old_blocks_pct
	OldBlocksTime   time.Duration // innodb_old_blocks_time，0 表示不延迟提升
	LRUOldMinLen    int
	LRUOldTolerance int
	LRUNonOldMinLen int

	// 淘汰策略
	LRUStatIntervals int // 统计窗口的区间数
	IOToUnzipFactor  int // 解压次数不超过 IO 次数的这个倍数时优先回收解压帧
	UnzipLRUMinPct   int // unzip LRU 超过 LRU 长度的这个百分比才从 unzip LRU 回收
	LRUScanBase      int
	LRUScanDivisor   int
	UnzipScanDivisor int
	DropSearchSize   int // 表空间失效时批量删除哈希索引的批大小

	// 压缩页
	ZipPoolSize        int // 伙伴系统区域大小(字节)
	ZipDescriptorSlots int // 压缩控制体槽位数，0 表示按 ZipPoolSize 推算
	Compression        string

	// 预读
	ReadAheadPages   int
	ReadAheadWorkers int

	// 等待
	FreeBlockWait       time.Duration // get_free_block 10 次失败后每轮的等待
	InvalidateRetryWait time.Duration // 表空间失效重扫前的等待
	FlushRetryWait      time.Duration
	StatTickInterval    time.Duration
	AutoTuneWindow      time.Duration // 0 表示不开启自动调优
}

// DefaultConfig 默认配置: 128MB / 16KB
func DefaultConfig() *Config {
	return &Config{
		PoolSize:            8192,
		PageSize:            common.UNIV_PAGE_SIZE,
		OldBlocksPct:        37.5,
		OldBlocksTime:       time.Second,
		LRUOldMinLen:        BUF_LRU_OLD_MIN_LEN,
		LRUOldTolerance:     BUF_LRU_OLD_TOLERANCE,
		LRUNonOldMinLen:     BUF_LRU_NON_OLD_MIN_LEN,
		LRUStatIntervals:    BUF_LRU_STAT_N_INTERVAL,
		IOToUnzipFactor:     50,
		UnzipLRUMinPct:      10,
		LRUScanBase:         100,
		LRUScanDivisor:      10,
		UnzipScanDivisor:    5,
		DropSearchSize:      1024,
		ZipPoolSize:         16 << 20,
		Compression:         "zlib",
		ReadAheadPages:      64,
		ReadAheadWorkers:    2,
		FreeBlockWait:       10 * time.Millisecond,
		InvalidateRetryWait: 20 * time.Millisecond,
		FlushRetryWait:      2 * time.Millisecond,
		StatTickInterval:    time.Second,
	}
}

// oldRatio innodb_old_blocks_pct 换算成 1/1024 单位
func (c *Config) oldRatio() int {
	ratio := int(c.OldBlocksPct * BUF_LRU_OLD_RATIO_DIV / 100)
	if ratio < BUF_LRU_OLD_RATIO_MIN {
		ratio = BUF_LRU_OLD_RATIO_MIN
	}
	if ratio > BUF_LRU_OLD_RATIO_MAX {
		ratio = BUF_LRU_OLD_RATIO_MAX
	}
	return ratio
}

func (c *Config) zipSlots() int {
	if c.ZipDescriptorSlots > 0 {
		return c.ZipDescriptorSlots
	}
	// 每个压缩控制体至少占用一个最小尺寸的伙伴块
	return c.ZipPoolSize / common.UNIV_ZIP_SIZE_MIN
}

func (c *Config) lruParams() lruParams {
	return lruParams{
		oldRatio:     c.oldRatio(),
		oldMinLen:    c.LRUOldMinLen,
		tolerance:    c.LRUOldTolerance,
		nonOldMinLen: c.LRUNonOldMinLen,
	}
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	switch {
	case c.PoolSize <= 0:
		return fmt.Errorf("%w: pool size %d", ErrInvalidConfig, c.PoolSize)
	case c.PageSize < common.UNIV_ZIP_SIZE_MIN || c.PageSize&(c.PageSize-1) != 0:
		return fmt.Errorf("%w: page size %d", ErrInvalidConfig, c.PageSize)
	case c.OldBlocksPct < 5 || c.OldBlocksPct > 95:
		return fmt.Errorf("%w: old blocks pct %.1f not in [5, 95]", ErrInvalidConfig, c.OldBlocksPct)
	case c.OldBlocksTime < 0:
		return fmt.Errorf("%w: negative old blocks time", ErrInvalidConfig)
	case c.LRUOldMinLen <= c.LRUOldTolerance+c.LRUNonOldMinLen:
		return fmt.Errorf("%w: lru old min len %d too small for tolerance %d", ErrInvalidConfig, c.LRUOldMinLen, c.LRUOldTolerance)
	case c.LRUStatIntervals <= 0 || c.IOToUnzipFactor <= 0:
		return fmt.Errorf("%w: lru stat intervals %d, io to unzip factor %d", ErrInvalidConfig, c.LRUStatIntervals, c.IOToUnzipFactor)
	case c.UnzipLRUMinPct < 0 || c.UnzipLRUMinPct > 100:
		return fmt.Errorf("%w: unzip lru min pct %d", ErrInvalidConfig, c.UnzipLRUMinPct)
	case c.LRUScanBase <= 0 || c.LRUScanDivisor <= 0 || c.UnzipScanDivisor <= 0:
		return fmt.Errorf("%w: scan depth parameters", ErrInvalidConfig)
	case c.DropSearchSize <= 0:
		return fmt.Errorf("%w: drop search size %d", ErrInvalidConfig, c.DropSearchSize)
	case c.ZipPoolSize < 0 || (c.ZipPoolSize > 0 && c.ZipPoolSize%c.PageSize != 0):
		return fmt.Errorf("%w: zip pool size %d must be a multiple of page size", ErrInvalidConfig, c.ZipPoolSize)
	case c.ReadAheadWorkers < 0 || c.ReadAheadPages < 0:
		return fmt.Errorf("%w: read ahead", ErrInvalidConfig)
	case c.FreeBlockWait <= 0 || c.InvalidateRetryWait <= 0 || c.FlushRetryWait <= 0:
		return fmt.Errorf("%w: retry waits must be positive", ErrInvalidConfig)
	case c.AutoTuneWindow < 0:
		return fmt.Errorf("%w: negative auto tune window", ErrInvalidConfig)
	}
	return nil
}
