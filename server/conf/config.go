package conf

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/manager"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

/*
*
[innodb]
data_dir          = data
buffer_pool_size  = 134217728
page_size         = 16384
old_blocks_pct    = 37
old_blocks_time   = 1000
compression       = zlib

[logs]
log_error = /var/log/xmysql/error.log
log_infos = /var/log/xmysql/buffer_pool.log
log_level = info
*/
type Cfg struct {
	Raw     *ini.File
	AppName string

	// logs
	LogError string `default:"/var/log/mysql/error.log" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"/var/log/mysql/mysql.log" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`

	// innodb
	InnodbDataDir        string `default:"data" yaml:"innodb_data_dir" json:"innodb_data_dir,omitempty"`
	InnodbBufferPoolSize int    `default:"134217728" yaml:"innodb_buffer_pool_size" json:"innodb_buffer_pool_size,omitempty"`
	InnodbPageSize       int    `default:"16384" yaml:"innodb_page_size" json:"innodb_page_size,omitempty"`
	InnodbBufferPool     BufferPoolParam
}

// BufferPoolParam [innodb] 中缓冲池相关的参数，时间单位为毫秒
type BufferPoolParam struct {
	OldBlocksPct       float64 `default:"37.5" yaml:"old_blocks_pct" json:"old_blocks_pct,omitempty"`
	OldBlocksTime      int     `default:"1000" yaml:"old_blocks_time" json:"old_blocks_time,omitempty"`
	LRUOldMinLen       int     `default:"512" yaml:"lru_old_min_len" json:"lru_old_min_len,omitempty"`
	LRUOldTolerance    int     `default:"20" yaml:"lru_old_tolerance" json:"lru_old_tolerance,omitempty"`
	LRUNonOldMinLen    int     `default:"5" yaml:"lru_non_old_min_len" json:"lru_non_old_min_len,omitempty"`
	LRUStatIntervals   int     `default:"50" yaml:"lru_stat_intervals" json:"lru_stat_intervals,omitempty"`
	IOToUnzipFactor    int     `default:"50" yaml:"io_to_unzip_factor" json:"io_to_unzip_factor,omitempty"`
	UnzipLRUMinPct     int     `default:"10" yaml:"unzip_lru_min_pct" json:"unzip_lru_min_pct,omitempty"`
	LRUScanBase        int     `default:"100" yaml:"lru_scan_base" json:"lru_scan_base,omitempty"`
	LRUScanDivisor     int     `default:"10" yaml:"lru_scan_divisor" json:"lru_scan_divisor,omitempty"`
	UnzipScanDivisor   int     `default:"5" yaml:"unzip_scan_divisor" json:"unzip_scan_divisor,omitempty"`
	DropSearchSize     int     `default:"1024" yaml:"drop_search_size" json:"drop_search_size,omitempty"`
	ZipPoolSize        int     `default:"16777216" yaml:"zip_pool_size" json:"zip_pool_size,omitempty"`
	ZipDescriptorSlots int     `default:"0" yaml:"zip_descriptor_slots" json:"zip_descriptor_slots,omitempty"`
	Compression        string  `default:"zlib" yaml:"compression" json:"compression,omitempty"`
	ReadAheadPages     int     `default:"64" yaml:"read_ahead_pages" json:"read_ahead_pages,omitempty"`
	ReadAheadWorkers   int     `default:"2" yaml:"read_ahead_workers" json:"read_ahead_workers,omitempty"`
	FreeBlockWait      int     `default:"10" yaml:"free_block_wait" json:"free_block_wait,omitempty"`
	StatTickInterval   int     `default:"1000" yaml:"stat_tick_interval" json:"stat_tick_interval,omitempty"`
	AutoTuneWindow     int     `default:"0" yaml:"auto_tune_window" json:"auto_tune_window,omitempty"`

	// page cleaner
	PageCleanerInterval int     `default:"1000" yaml:"page_cleaner_interval" json:"page_cleaner_interval,omitempty"`
	MaxDirtyPagesPct    float64 `default:"25" yaml:"max_dirty_pages_pct" json:"max_dirty_pages_pct,omitempty"`
	IOCapacity          int     `default:"200" yaml:"io_capacity" json:"io_capacity,omitempty"`
}

func NewCfg() *Cfg {
	def := buffer_pool.DefaultConfig()
	return &Cfg{
		Raw:     ini.Empty(),
		AppName: "xmysql-bufferpool",
		// Logs 默认配置
		LogError: "/var/log/mysql/error.log",
		LogInfos: "/var/log/mysql/mysql.log",
		LogLevel: "info",
		// InnoDB 默认配置
		InnodbDataDir:        "data",
		InnodbBufferPoolSize: def.PoolSize * def.PageSize, // 128MB
		InnodbPageSize:       def.PageSize,                // 16KB
		InnodbBufferPool: BufferPoolParam{
			OldBlocksPct:       def.OldBlocksPct,
			OldBlocksTime:      int(def.OldBlocksTime / time.Millisecond),
			LRUOldMinLen:       def.LRUOldMinLen,
			LRUOldTolerance:    def.LRUOldTolerance,
			LRUNonOldMinLen:    def.LRUNonOldMinLen,
			LRUStatIntervals:   def.LRUStatIntervals,
			IOToUnzipFactor:    def.IOToUnzipFactor,
			UnzipLRUMinPct:     def.UnzipLRUMinPct,
			LRUScanBase:        def.LRUScanBase,
			LRUScanDivisor:     def.LRUScanDivisor,
			UnzipScanDivisor:   def.UnzipScanDivisor,
			DropSearchSize:     def.DropSearchSize,
			ZipPoolSize:        def.ZipPoolSize,
			ZipDescriptorSlots: def.ZipDescriptorSlots,
			Compression:        def.Compression,
			ReadAheadPages:     def.ReadAheadPages,
			ReadAheadWorkers:   def.ReadAheadWorkers,
			FreeBlockWait:      int(def.FreeBlockWait / time.Millisecond),
			StatTickInterval:   int(def.StatTickInterval / time.Millisecond),

			PageCleanerInterval: int(manager.FLUSH_INTERVAL / time.Millisecond),
			MaxDirtyPagesPct:    manager.MAX_DIRTY_RATIO * 100,
			IOCapacity:          manager.FLUSH_BATCH,
		},
	}
}

// Load 读取配置文件，文件不存在或者解析失败时使用默认配置
func (cfg *Cfg) Load(args *CommandLineArgs) *Cfg {
	setHomePath(args)
	iniFile, err := cfg.loadConfiguration(args)
	if err != nil {
		logger.Debugf("加载配置文件时有异常: %v\n", err)
		iniFile = ini.Empty()
	}
	return cfg.apply(iniFile)
}

// LoadFile 读取指定的配置文件，文件不存在或格式错误时返回错误
func LoadFile(path string) (*Cfg, error) {
	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return NewCfg().apply(iniFile), nil
}

// LoadBytes 从内存中的 ini 内容读取配置
func LoadBytes(data []byte) (*Cfg, error) {
	iniFile, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return NewCfg().apply(iniFile), nil
}

func (cfg *Cfg) apply(iniFile *ini.File) *Cfg {
	cfg.Raw = iniFile
	cfg.parseInnodbCfg(cfg.Raw.Section("innodb"))
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	return cfg
}

func setHomePath(args *CommandLineArgs) {
	if args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}

	ConfigPath, _ = filepath.Abs(".")

}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	// 如果没有指定配置文件路径，使用默认的conf/my.ini
	configFile := "conf/my.ini"
	if args.ConfigPath != "" {
		configFile = args.ConfigPath
	}

	// check if config file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logger.Debugf("配置文件不存在: %s，使用默认配置\n", configFile)
		return ini.Empty(), nil
	}

	// load configuration file
	parsedFile, err := ini.Load(configFile)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", configFile)
	}

	logger.Debugf("成功加载配置文件: %s\n", configFile)
	return parsedFile, nil
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) (value string, err error) {
	if section == nil {
		return defaultValue, nil
	}
	value = section.Key(keyName).MustString(defaultValue)
	if value == "" {
		value = defaultValue
	}
	return value, nil
}

// GetString 获取配置项的字符串值
func (cfg *Cfg) GetString(key string) string {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return ""
	}

	section := cfg.Raw.Section(parts[0])
	if section == nil {
		return ""
	}

	value, err := valueAsString(section, strings.Join(parts[1:], "."), "")
	if err != nil {
		return ""
	}
	return value
}

// GetInt 获取配置项的整数值
func (cfg *Cfg) GetInt(key string) int {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return 0
	}

	section := cfg.Raw.Section(parts[0])
	if section == nil {
		return 0
	}

	return section.Key(strings.Join(parts[1:], ".")).MustInt(0)
}

func (cfg *Cfg) parseInnodbCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}

	// Parse data directory
	dataDir, err := valueAsString(section, "data_dir", cfg.InnodbDataDir)
	if err == nil {
		cfg.InnodbDataDir = dataDir
	}

	cfg.InnodbBufferPoolSize = section.Key("buffer_pool_size").MustInt(cfg.InnodbBufferPoolSize)
	cfg.InnodbPageSize = section.Key("page_size").MustInt(cfg.InnodbPageSize)

	p := &cfg.InnodbBufferPool
	p.OldBlocksPct = section.Key("old_blocks_pct").MustFloat64(p.OldBlocksPct)
	p.OldBlocksTime = section.Key("old_blocks_time").MustInt(p.OldBlocksTime)

	// LRU 划分
	p.LRUOldMinLen = section.Key("lru_old_min_len").MustInt(p.LRUOldMinLen)
	p.LRUOldTolerance = section.Key("lru_old_tolerance").MustInt(p.LRUOldTolerance)
	p.LRUNonOldMinLen = section.Key("lru_non_old_min_len").MustInt(p.LRUNonOldMinLen)

	// 淘汰策略
	p.LRUStatIntervals = section.Key("lru_stat_intervals").MustInt(p.LRUStatIntervals)
	p.IOToUnzipFactor = section.Key("io_to_unzip_factor").MustInt(p.IOToUnzipFactor)
	p.UnzipLRUMinPct = section.Key("unzip_lru_min_pct").MustInt(p.UnzipLRUMinPct)
	p.LRUScanBase = section.Key("lru_scan_base").MustInt(p.LRUScanBase)
	p.LRUScanDivisor = section.Key("lru_scan_divisor").MustInt(p.LRUScanDivisor)
	p.UnzipScanDivisor = section.Key("unzip_scan_divisor").MustInt(p.UnzipScanDivisor)
	p.DropSearchSize = section.Key("drop_search_size").MustInt(p.DropSearchSize)

	// 压缩页
	p.ZipPoolSize = section.Key("zip_pool_size").MustInt(p.ZipPoolSize)
	p.ZipDescriptorSlots = section.Key("zip_descriptor_slots").MustInt(p.ZipDescriptorSlots)
	compression, err := valueAsString(section, "compression", p.Compression)
	if err == nil {
		p.Compression = strings.ToLower(compression)
	}

	p.ReadAheadPages = section.Key("read_ahead_pages").MustInt(p.ReadAheadPages)
	p.ReadAheadWorkers = section.Key("read_ahead_workers").MustInt(p.ReadAheadWorkers)
	p.FreeBlockWait = section.Key("free_block_wait").MustInt(p.FreeBlockWait)
	p.StatTickInterval = section.Key("stat_tick_interval").MustInt(p.StatTickInterval)
	p.AutoTuneWindow = section.Key("auto_tune_window").MustInt(p.AutoTuneWindow)

	// 后台刷脏
	p.PageCleanerInterval = section.Key("page_cleaner_interval").MustInt(p.PageCleanerInterval)
	p.MaxDirtyPagesPct = section.Key("max_dirty_pages_pct").MustFloat64(p.MaxDirtyPagesPct)
	p.IOCapacity = section.Key("io_capacity").MustInt(p.IOCapacity)

	return cfg
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}

	// Parse log error
	logError, err := valueAsString(section, "log_error", cfg.LogError)
	if err == nil {
		cfg.LogError = logError
	}

	// Parse log infos
	logInfos, err := valueAsString(section, "log_infos", cfg.LogInfos)
	if err == nil {
		cfg.LogInfos = logInfos
	}

	// Parse log level
	logLevel, err := valueAsString(section, "log_level", cfg.LogLevel)
	if err == nil {
		cfg.LogLevel = strings.ToLower(logLevel)
		// 验证日志级别是否有效
		validLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
		isValid := false
		for _, level := range validLevels {
			if cfg.LogLevel == level {
				isValid = true
				break
			}
		}
		if !isValid {
			logger.Debugf("警告: 无效的日志级别 '%s', 使用默认级别 'info'\n", logLevel)
			cfg.LogLevel = "info"
		}
	}

	return cfg
}

// LogConfig 转换成日志初始化参数
func (cfg *Cfg) LogConfig() logger.LogConfig {
	return logger.LogConfig{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
	}
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// BufferPoolConfig 把 [innodb] 的参数转换成缓冲池配置并校验
func (cfg *Cfg) BufferPoolConfig() (*buffer_pool.Config, error) {
	if cfg.InnodbPageSize <= 0 {
		return nil, errors.Wrapf(buffer_pool.ErrInvalidConfig, "page_size %d", cfg.InnodbPageSize)
	}
	p := cfg.InnodbBufferPool
	bc := buffer_pool.DefaultConfig()
	bc.PoolSize = cfg.InnodbBufferPoolSize / cfg.InnodbPageSize
	bc.PageSize = cfg.InnodbPageSize
	bc.OldBlocksPct = p.OldBlocksPct
	bc.OldBlocksTime = millis(p.OldBlocksTime)
	bc.LRUOldMinLen = p.LRUOldMinLen
	bc.LRUOldTolerance = p.LRUOldTolerance
	bc.LRUNonOldMinLen = p.LRUNonOldMinLen
	bc.LRUStatIntervals = p.LRUStatIntervals
	bc.IOToUnzipFactor = p.IOToUnzipFactor
	bc.UnzipLRUMinPct = p.UnzipLRUMinPct
	bc.LRUScanBase = p.LRUScanBase
	bc.LRUScanDivisor = p.LRUScanDivisor
	bc.UnzipScanDivisor = p.UnzipScanDivisor
	bc.DropSearchSize = p.DropSearchSize
	bc.ZipPoolSize = p.ZipPoolSize
	bc.ZipDescriptorSlots = p.ZipDescriptorSlots
	bc.Compression = p.Compression
	bc.ReadAheadPages = p.ReadAheadPages
	bc.ReadAheadWorkers = p.ReadAheadWorkers
	bc.FreeBlockWait = millis(p.FreeBlockWait)
	bc.StatTickInterval = millis(p.StatTickInterval)
	bc.AutoTuneWindow = millis(p.AutoTuneWindow)

	if err := bc.Validate(); err != nil {
		return nil, errors.Wrap(err, "innodb buffer pool")
	}
	return bc, nil
}

// ManagerConfig 缓冲池加上后台刷脏参数
func (cfg *Cfg) ManagerConfig() (*manager.BufferPoolConfig, error) {
	bc, err := cfg.BufferPoolConfig()
	if err != nil {
		return nil, err
	}
	p := cfg.InnodbBufferPool
	if p.MaxDirtyPagesPct <= 0 || p.MaxDirtyPagesPct > 100 {
		return nil, errors.Wrapf(buffer_pool.ErrInvalidConfig, "max_dirty_pages_pct %.1f", p.MaxDirtyPagesPct)
	}
	return &manager.BufferPoolConfig{
		Pool:          bc,
		FlushInterval: millis(p.PageCleanerInterval),
		MaxDirtyRatio: p.MaxDirtyPagesPct / 100,
		FlushBatch:    p.IOCapacity,
	}, nil
}
