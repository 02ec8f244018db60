// Package backoff 实现流连接断线重连的指数退避。
// 基础间隔每次翻倍，最大 60s；重试次数上限由连接的重连策略决定。
package backoff

import (
	"math/rand"
	"time"
)

const (
	// DefaultBase 默认基础间隔
	DefaultBase = time.Second
	// DefaultMax 默认最大间隔
	DefaultMax = 60 * time.Second
)

// Backoff 指数退避计算器
// 非并发安全，由所属连接的单个 goroutine 使用
type Backoff struct {
	base    time.Duration
	max     time.Duration
	jitter  float64
	attempt int
}

// New 创建退避计算器
// 参数 base: 基础等待时间
// 参数 max: 最大等待时间
// 参数 jitter: 抖动比例（0-1），0 表示不抖动
func New(base, max time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = DefaultBase
	}
	if max < base {
		max = base
	}
	return &Backoff{
		base:   base,
		max:    max,
		jitter: jitter,
	}
}

// Next 返回下一次重试的等待时间，并累加重试次数
// 计算公式: min(base * 2^attempt, max)，然后应用抖动
func (b *Backoff) Next() time.Duration {
	delay := b.max
	// 位移超过 30 位后必然超过 max，直接封顶，避免溢出
	if b.attempt < 31 {
		d := b.base * time.Duration(int64(1)<<b.attempt)
		if d > 0 && d < b.max {
			delay = d
		}
	}

	if b.jitter > 0 {
		factor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * factor)
	}

	b.attempt++
	return delay
}

// Reset 连接成功后重置重试次数
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 当前已重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
