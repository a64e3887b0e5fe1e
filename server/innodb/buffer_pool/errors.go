package buffer_pool

import (
	"errors"
	"fmt"
)

var (
	// 页面错误
	ErrPageNotFound  = errors.New("page not found in buffer pool")
	ErrPageLocked    = errors.New("page is io-fixed by another thread")
	ErrPageCorrupted = errors.New("page content is corrupted")

	// 缓冲池错误
	ErrInvalidConfig     = errors.New("invalid buffer pool configuration")
	ErrIOError           = errors.New("IO error occurred")
	ErrZipPoolExhausted  = errors.New("no memory left for compressed pages")
	ErrInvalidRemoveMode = errors.New("invalid tablespace remove mode")
	ErrPoolClosed        = errors.New("buffer pool is closed")
	ErrPoolExhausted     = errors.New("buffer pool exhausted")

	// 刷新错误
	ErrFlushFailed = errors.New("failed to flush dirty page")

	// errPageExists 并发读入同一页面时，后到的线程放弃自己的帧
	errPageExists = errors.New("page already resident")
)

// BufferPoolError 缓冲池错误结构
type BufferPoolError struct {
	Op      string // 操作名称
	SpaceID uint32
	PageNo  uint32
	Err     error // 原始错误
}

func (e *BufferPoolError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %d:%d: %s", e.Op, e.SpaceID, e.PageNo, e.Err.Error())
}

func (e *BufferPoolError) Unwrap() error {
	return e.Err
}

// NewError 创建新的缓冲池错误
func NewError(op string, spaceID, pageNo uint32, err error) error {
	return &BufferPoolError{
		Op:      op,
		SpaceID: spaceID,
		PageNo:  pageNo,
		Err:     err,
	}
}

// ioError 同时匹配 ErrIOError 和底层的 I/O 错误
type ioError struct {
	err error
}

func (e *ioError) Error() string { return ErrIOError.Error() + ": " + e.err.Error() }

func (e *ioError) Unwrap() error { return e.err }

func (e *ioError) Is(target error) bool { return target == ErrIOError }

// IsNotFound 检查是否为页面未找到错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPageNotFound)
}

// IsLocked 检查页面是否正在做 IO
func IsLocked(err error) bool {
	return errors.Is(err, ErrPageLocked)
}

// IsCorrupted 检查是否为页面损坏错误
func IsCorrupted(err error) bool {
	return errors.Is(err, ErrPageCorrupted)
}

// IsIOError 检查是否为IO错误
func IsIOError(err error) bool {
	return errors.Is(err, ErrIOError)
}

// InvariantError 内部数据结构不一致，属于程序错误
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "buffer pool invariant violated: " + e.Msg
}
