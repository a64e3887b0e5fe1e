package latch

import (
	"fmt"
	"sync"
)

// Level 锁层级。加锁必须按层级递增的顺序进行，释放按相反顺序
type Level uint8

const (
	LevelNone  Level = iota
	LevelList        // LRU + unzip LRU 链表锁
	LevelHash        // page hash 锁
	LevelBlock       // 单个页面控制体锁
	LevelFlush       // flush list 锁
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelList:
		return "list"
	case LevelHash:
		return "hash"
	case LevelBlock:
		return "block"
	case LevelFlush:
		return "flush"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// Held 当前 goroutine 已经持有的最高层级锁
// 由加锁方法返回，传给下一次加锁用来检查顺序
type Held struct {
	level Level
}

// Free 没有持有任何锁
var Free = Held{}

// Level 返回持有的最高层级
func (h Held) Level() Level {
	return h.level
}

// OrderError 加锁顺序错误
type OrderError struct {
	Name    string
	Acquire Level
	Holding Level
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("latch order violation: acquiring %s(%s) while holding %s", e.Name, e.Acquire, e.Holding)
}

// Latch 带层级的读写锁
type Latch struct {
	mu    sync.RWMutex
	level Level
	name  string
}

// NewLatch 创建一个新的锁
func NewLatch(level Level, name string) *Latch {
	return &Latch{level: level, name: name}
}

// Level 返回锁层级
func (l *Latch) Level() Level {
	return l.level
}

func (l *Latch) check(h Held) {
	if h.level >= l.level {
		panic(&OrderError{Name: l.name, Acquire: l.level, Holding: h.level})
	}
}

// Lock 获取写锁
func (l *Latch) Lock(h Held) Held {
	l.check(h)
	l.mu.Lock()
	return Held{level: l.level}
}

// Unlock 释放写锁
func (l *Latch) Unlock() {
	l.mu.Unlock()
}

// RLock 获取读锁
func (l *Latch) RLock(h Held) Held {
	l.check(h)
	l.mu.RLock()
	return Held{level: l.level}
}

// RUnlock 释放读锁
func (l *Latch) RUnlock() {
	l.mu.RUnlock()
}

// TryLock 尝试获取写锁
func (l *Latch) TryLock(h Held) (Held, bool) {
	l.check(h)
	if !l.mu.TryLock() {
		return h, false
	}
	return Held{level: l.level}, true
}
