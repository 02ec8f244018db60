// Package timeutil 提供时钟抽象和时间戳工具。
// 凭证新鲜度判断依赖可注入的时钟，便于测试。
package timeutil

import (
	"sync"
	"time"
)

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// NowNano 获取当前时间的纳秒时间戳
// 基于单调时钟，系统时间跳变时差值仍单调
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// NowMs 获取当前时间的毫秒时间戳
func NowMs() int64 {
	return NowNano() / 1_000_000
}

// Clock 时钟接口
type Clock interface {
	// Now 返回当前时间
	Now() time.Time
	// After 在时钟经过 d 后向返回的通道发送当时的时间
	After(d time.Duration) <-chan time.Time
}

// SystemClock 系统时钟
type SystemClock struct{}

// Now 返回系统当前时间
func (SystemClock) Now() time.Time {
	return time.Now()
}

// After 等同 time.After
func (SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// ManualClock 手动推进的时钟，仅用于测试
// After 注册的等待者在 Advance/Set 越过截止时间时触发
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewManualClock 创建手动时钟
// 参数 start: 初始时间
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now 返回当前手动时间
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After 注册等待者，d<=0 时立即触发
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// Waiters 未触发的等待者数量
func (c *ManualClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Advance 推进时间
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.fire()
	c.mu.Unlock()
}

// Set 设置时间
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.fire()
	c.mu.Unlock()
}

// fire 触发已到期的等待者，调用方持有锁
func (c *ManualClock) fire() {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.deadline.After(c.now) {
			kept = append(kept, w)
			continue
		}
		w.ch <- c.now
	}
	c.waiters = kept
}

// RippleEpoch 账本时间纪元（2000-01-01T00:00:00Z）的 Unix 秒
const RippleEpoch = 946684800

// LedgerTime 将账本时间（自 2000 年起的秒数）转换为 time.Time
func LedgerTime(sec int64) time.Time {
	return time.Unix(sec+RippleEpoch, 0).UTC()
}
