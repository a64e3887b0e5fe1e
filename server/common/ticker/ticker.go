package ticker

import "time"

//go:generate mockgen -source ticker.go -destination ticker_mocks.go -package ticker

// Ticker 对 time.Ticker 的抽象，C 按实现决定的间隔产生 tick，
// Stop 之后不再产生。测试用 MockTicker 手动驱动
type Ticker interface {
	// C 返回接收 tick 的 channel
	C() <-chan time.Time
	// Stop 停止 ticker
	Stop()
}

// Factory 按间隔创建 Ticker
type Factory func(d time.Duration) Ticker

// TimeTicker 基于 time.Ticker 的实现
type TimeTicker struct {
	ticker *time.Ticker
}

func NewTimeTicker(d time.Duration) TimeTicker {
	return TimeTicker{time.NewTicker(d)}
}

// NewTimeFactory 返回创建 TimeTicker 的 Factory
func NewTimeFactory() Factory {
	return func(d time.Duration) Ticker { return NewTimeTicker(d) }
}

func (t TimeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t TimeTicker) Stop() {
	t.ticker.Stop()
}
