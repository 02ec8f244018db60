// Package credential 获取并缓存用于授权流连接的短期会话凭证。
// 并发请求合并为一次网络调用，失败时回退到旧凭证。
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"marketsync/internal/metrics"
	"marketsync/internal/util/timeutil"
)

const (
	// DefaultTTL 凭证有效期
	DefaultTTL = 300 * time.Second
	// FreshRatio 凭证在有效期的前 80% 内视为新鲜
	FreshRatio = 0.8
	// DefaultFetchTimeout 单次请求超时
	DefaultFetchTimeout = 10 * time.Second

	retryDelay = time.Second
)

// ErrUnavailable 无可用凭证（请求失败且没有旧凭证）
var ErrUnavailable = errors.New("凭证不可用")

// Credential 一次获取的会话凭证，创建后不可变
type Credential struct {
	// Token 签名凭证
	Token string
	// CreatedAt 获取时间
	CreatedAt time.Time
	// TTL 有效期
	TTL time.Duration
}

// Fresh 判断凭证在 now 时刻是否仍可直接使用
func (c Credential) Fresh(now time.Time) bool {
	return now.Sub(c.CreatedAt) < time.Duration(float64(c.TTL)*FreshRatio)
}

// RefreshAt 需要刷新的时刻
func (c Credential) RefreshAt() time.Time {
	return c.CreatedAt.Add(time.Duration(float64(c.TTL) * FreshRatio))
}

// Cache 进程级凭证缓存
// 构造一次，以指针传给各流通道；无需显式销毁。
type Cache struct {
	fetcher Fetcher
	clock   timeutil.Clock
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu  sync.RWMutex
	cur *Credential
}

// Option 缓存选项
type Option func(*Cache)

// WithClock 注入时钟
func WithClock(c timeutil.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithTTL 设置有效期
func WithTTL(ttl time.Duration) Option {
	return func(cache *Cache) { cache.ttl = ttl }
}

// WithFetchTimeout 设置单次请求超时
func WithFetchTimeout(d time.Duration) Option {
	return func(cache *Cache) { cache.timeout = d }
}

// WithLogger 设置日志记录器
func WithLogger(l *zap.Logger) Option {
	return func(cache *Cache) { cache.logger = l.Named("credential") }
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(cache *Cache) { cache.metrics = m }
}

// New 创建凭证缓存
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		clock:   timeutil.SystemClock{},
		ttl:     DefaultTTL,
		timeout: DefaultFetchTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get 获取可用凭证
// 新鲜凭证直接返回；否则发起（或加入进行中的）请求。
// 请求失败时返回旧凭证；没有旧凭证时返回 ErrUnavailable。
// 调用方 ctx 取消只影响本次等待，进行中的请求会继续完成并写入缓存。
func (c *Cache) Get(ctx context.Context) (string, error) {
	if cur, ok := c.Current(); ok && cur.Fresh(c.clock.Now()) {
		return cur.Token, nil
	}

	ch := c.group.DoChan("credential", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(string), nil
		}
		if cur, ok := c.Current(); ok {
			c.logger.Warn("凭证刷新失败，使用旧凭证", zap.Error(res.Err))
			return cur.Token, nil
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
	}
}

// refresh 执行一次网络请求并替换缓存
func (c *Cache) refresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.fetcher.Fetch(ctx)
	if err == nil && token == "" {
		err = errors.New("凭证为空")
	}
	c.metrics.CredentialFetch(err == nil)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cur = &Credential{Token: token, CreatedAt: c.clock.Now(), TTL: c.ttl}
	c.mu.Unlock()

	c.logger.Debug("凭证已刷新")
	return token, nil
}

// Current 返回当前缓存的凭证（可能已过期）
func (c *Cache) Current() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cur == nil {
		return Credential{}, false
	}
	return *c.cur, true
}

// Invalidate 丢弃缓存凭证，下次 Get 必然发起请求
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
}

// Run 后台主动刷新，在新鲜窗口结束时提前获取新凭证
// 阻塞直到 ctx 取消
func (c *Cache) Run(ctx context.Context) {
	for {
		if cur, ok := c.Current(); ok {
			if wait := cur.RefreshAt().Sub(c.clock.Now()); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-c.clock.After(wait):
				}
			}
		}

		_, err := c.Get(ctx)
		if ctx.Err() != nil {
			return
		}
		if cur, ok := c.Current(); err != nil || !ok || !cur.Fresh(c.clock.Now()) {
			c.logger.Warn("后台刷新凭证失败", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(retryDelay):
			}
		}
	}
}
