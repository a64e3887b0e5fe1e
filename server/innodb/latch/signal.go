package latch

import (
	"sync"
	"time"
)

// Signal 广播式事件。等待者拿到当前 channel，Broadcast 关闭它并换一个新的
type Signal struct {
	mu    sync.Mutex
	ch    chan struct{}
	armed bool
}

// NewSignal 创建事件
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Wait 返回下一次 Broadcast 时关闭的 channel
func (s *Signal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
	return s.ch
}

// Broadcast 唤醒所有等待者。没有人等待时不做任何事
func (s *Signal) Broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return
	}
	close(s.ch)
	s.ch = make(chan struct{})
	s.armed = false
}

// WaitTimeout 等待下一次广播，超时返回 false
func (s *Signal) WaitTimeout(d time.Duration) bool {
	ch := s.Wait()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
