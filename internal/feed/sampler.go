package feed

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"marketsync/internal/util/timeutil"
)

// DropSampler 采样记录被丢弃的消息，避免刷盘
// 采样策略：每 Every 次记录 1 条，且至少间隔 Interval
type DropSampler struct {
	Logger   *zap.Logger
	Every    uint64
	Interval time.Duration

	count     uint64
	lastLogNs int64
}

// NewDropSampler 默认每 100 次记录一条，至少间隔 1 分钟
func NewDropSampler(logger *zap.Logger) *DropSampler {
	return &DropSampler{Logger: logger, Every: 100, Interval: time.Minute}
}

// Observe 记录一次丢弃，返回是否输出了日志
func (s *DropSampler) Observe(reason string, err error, data []byte) bool {
	n := atomic.AddUint64(&s.count, 1)
	every := s.Every
	if every == 0 {
		every = 1
	}
	// 第一次总是记录
	if n != 1 && n%every != 0 {
		return false
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&s.lastLogNs)
	if last > 0 && nowNs-last < int64(s.Interval) {
		return false
	}
	if !atomic.CompareAndSwapInt64(&s.lastLogNs, last, nowNs) {
		return false
	}

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	if s.Logger != nil {
		s.Logger.Warn("丢弃消息（采样）",
			zap.String("reason", reason),
			zap.Error(err),
			zap.Uint64("count", n),
			zap.ByteString("data", sample))
	}
	return true
}

// Count 累计丢弃次数
func (s *DropSampler) Count() uint64 {
	return atomic.LoadUint64(&s.count)
}
