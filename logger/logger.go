package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// Logger 缓冲池主日志实例
	Logger *logrus.Logger
	// ErrorLogger 错误日志实例
	ErrorLogger *logrus.Logger
)

// Fields 结构化日志字段
type Fields = logrus.Fields

// LogConfig 日志配置
type LogConfig struct {
	ErrorLogPath string
	InfoLogPath  string
	LogLevel     string
}

// CustomFormatter 自定义日志格式化器
type CustomFormatter struct {
	TimestampFormat string
}

// Format 实现 logrus.Formatter 接口
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	layout := f.TimestampFormat
	if layout == "" {
		layout = "15:04:05 MST 2006/01/02"
	}
	timestamp := entry.Time.Format(layout)

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] (%s) %s", timestamp, level, getCaller(), entry.Message)

	// 字段按 key 排序输出，便于 grep
	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
		}
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// getCaller 跳过日志框架的调用栈，找到实际的调用者
func getCaller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "sirupsen") ||
			strings.Contains(file, "/logger/logger.go") ||
			strings.HasSuffix(file, "/entry.go") {
			continue
		}
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), runtime.FuncForPC(pc).Name(), line)
	}
	return "unknown:unknown:0"
}

// parseLogLevel 解析日志级别字符串为logrus级别
func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// InitLogger 初始化日志
func InitLogger(config LogConfig) error {
	formatter := &CustomFormatter{TimestampFormat: "15:04:05 MST 2006/01/02"}
	level := parseLogLevel(config.LogLevel)

	Logger = logrus.New()
	Logger.SetFormatter(formatter)
	Logger.SetLevel(level)

	ErrorLogger = logrus.New()
	ErrorLogger.SetFormatter(formatter)
	ErrorLogger.SetLevel(level)

	if config.InfoLogPath != "" {
		f, err := openLogFile(config.InfoLogPath)
		if err != nil {
			Logger.SetOutput(os.Stdout)
			Logger.Warnf("Failed to open info log file %s, fallback to stdout: %v", config.InfoLogPath, err)
		} else {
			Logger.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	} else {
		Logger.SetOutput(os.Stdout)
	}

	if config.ErrorLogPath != "" {
		f, err := openLogFile(config.ErrorLogPath)
		if err != nil {
			ErrorLogger.SetOutput(os.Stderr)
			ErrorLogger.Warnf("Failed to open error log file %s, fallback to stderr: %v", config.ErrorLogPath, err)
		} else {
			ErrorLogger.SetOutput(io.MultiWriter(os.Stderr, f))
		}
	} else {
		ErrorLogger.SetOutput(os.Stderr)
	}
	return nil
}

// SetOutput 把两个日志器都重定向到 w，测试里用来捕获输出
func SetOutput(w io.Writer) {
	if Logger == nil || ErrorLogger == nil {
		_ = InitLogger(LogConfig{LogLevel: "debug"})
	}
	Logger.SetOutput(w)
	ErrorLogger.SetOutput(w)
}

func openLogFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

// WithFields 返回带结构化字段的 entry；日志未初始化时写到 io.Discard
func WithFields(fields Fields) *logrus.Entry {
	if Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l.WithFields(fields)
	}
	return Logger.WithFields(fields)
}

// Infof 记录格式化信息日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Debugf 记录格式化调试日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Warnf 记录格式化警告日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Errorf 记录格式化错误日志
func Errorf(format string, args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Errorf(format, args...)
	}
}

// Fatalf 记录格式化致命错误日志并退出
func Fatalf(format string, args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Fatalf(format, args...)
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
