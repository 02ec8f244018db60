// Package feed 实现行情推送通道的公共连接层。
// 连接生命周期: idle -> connecting -> open -> reconnecting -> closed
// 心跳机制: 文本 {"type":"ping"}，默认 10 秒间隔
// 重连策略: 指数退避，关闭码决定是否重试
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"marketsync/internal/metrics"
	"marketsync/internal/util/backoff"
)

var (
	// ErrNotConnected 当前没有可用连接
	ErrNotConnected = errors.New("连接未建立")
	// ErrClosed 连接已关闭
	ErrClosed = errors.New("连接已关闭")
	// ErrThrottled 控制消息发送过快
	ErrThrottled = errors.New("控制消息被限流")
)

// pingMessage 心跳消息
var pingMessage = []byte(`{"type":"ping"}`)

// DefaultPingInterval 默认心跳间隔
const DefaultPingInterval = 10 * time.Second

// CredentialSource 凭证来源
type CredentialSource interface {
	Get(ctx context.Context) (string, error)
	Invalidate()
}

// Config 连接配置
type Config struct {
	// Name 通道名称，用于日志与指标
	Name string
	// URL 由凭证生成连接地址，每次建连前调用
	URL func(credential string) string
	// Dialer 连接器
	Dialer Dialer
	// Credentials 凭证来源
	Credentials CredentialSource
	// Policy 重连策略
	Policy Policy
	// Backoff 退避计算器，nil 使用默认值
	Backoff *backoff.Backoff
	// PingInterval 心跳间隔，<=0 不发送心跳
	PingInterval time.Duration
	// ActivationDelay 未显式激活时的自动激活延迟，<=0 立即激活
	ActivationDelay time.Duration
	// ControlRate 控制消息速率（条/秒），<=0 不限制
	ControlRate float64
	// ControlBurst 控制消息突发上限
	ControlBurst int
	// OnMessage 收到消息，在读 goroutine 上调用，不得阻塞
	OnMessage func(data []byte)
	// OnOpen 连接建立后调用，send 不受限流
	OnOpen func(send func(v any) error)
	// OnFatal 不可重试的关闭，在主循环上调用，不得同步调用 Close
	OnFatal func(err error)
	// Logger 日志记录器
	Logger *zap.Logger
	// Metrics 指标，可为 nil
	Metrics *metrics.Metrics
}

// Conn 带重连的推送连接
type Conn struct {
	// cfg 连接配置
	cfg Config
	// logger 日志记录器
	logger *zap.Logger
	// limiter 控制消息限流
	limiter *rate.Limiter
	// backoff 重连退避，仅在 run goroutine 中使用
	backoff *backoff.Backoff
	// state 当前状态
	state atomic.Int32

	// sockMu 保护 sock
	sockMu sync.Mutex
	// sock 当前连接
	sock Socket
	// writeMu 串行化写入（gorilla/websocket 不允许并发多写者）
	writeMu sync.Mutex

	activateCh   chan struct{}
	activateOnce sync.Once
	closeCh      chan struct{}
	closeOnce    sync.Once
	startOnce    sync.Once
	done         chan struct{}

	// errCh 错误输出通道
	errCh chan error

	// onRetry 每次退避前调用
	onRetry func(attempt int, delay time.Duration)
}

// NewConn 创建连接，Start 之前不会建连
func NewConn(cfg Config) *Conn {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "feed"
	}
	bo := cfg.Backoff
	if bo == nil {
		bo = backoff.New(backoff.DefaultBase, backoff.DefaultMax, 0)
	}
	limit := rate.Inf
	if cfg.ControlRate > 0 {
		limit = rate.Limit(cfg.ControlRate)
	}
	burst := cfg.ControlBurst
	if burst <= 0 {
		burst = 1
	}

	return &Conn{
		cfg:        cfg,
		logger:     cfg.Logger.Named(cfg.Name),
		limiter:    rate.NewLimiter(limit, burst),
		backoff:    bo,
		activateCh: make(chan struct{}),
		closeCh:    make(chan struct{}),
		done:       make(chan struct{}),
		errCh:      make(chan error, 1),
	}
}

// Start 启动连接主循环，重复调用无效
func (c *Conn) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.run(ctx)
	})
}

// Activate 立即激活，不再等待激活延迟
func (c *Conn) Activate() {
	c.activateOnce.Do(func() { close(c.activateCh) })
}

// State 当前状态
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Err 不可重试错误的输出通道
func (c *Conn) Err() <-chan error {
	return c.errCh
}

// Done 主循环退出后关闭
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send 发送控制消息（受限流）
func (c *Conn) Send(v any) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}
	if !c.limiter.Allow() {
		return ErrThrottled
	}
	return c.write(v)
}

// Close 主动关闭，等待主循环退出
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	// 未启动过则直接标记结束，之后的 Start 无效
	c.startOnce.Do(func() { close(c.done) })
	c.closeSocket()
	<-c.done
	c.setState(StateClosed)
	return nil
}

// run 主循环
func (c *Conn) run(parent context.Context) {
	defer close(c.done)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-c.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if !c.awaitActivation(ctx) {
		c.setState(StateClosed)
		return
	}

	for {
		c.setState(StateConnecting)

		var ev CloseEvent
		sock, err := c.dial(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			ev = CloseEvent{UserInitiated: true}
		case err != nil:
			ev = CloseEvent{Code: CodeAbnormal}
			if status, ok := handshakeRejected(err); ok {
				ev.Code = status
				ev.HandshakeRejected = true
			}
			c.logger.Warn("建立连接失败", zap.Error(err))
		default:
			ev = c.serve(ctx, sock)
		}

		if !c.afterClose(ctx, ev) {
			return
		}
	}
}

// awaitActivation 等待显式激活或激活延迟到期
func (c *Conn) awaitActivation(ctx context.Context) bool {
	c.setState(StateIdle)
	if c.cfg.ActivationDelay <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(c.cfg.ActivationDelay)
	defer t.Stop()

	select {
	case <-c.activateCh:
		return true
	case <-t.C:
		c.logger.Debug("激活延迟到期，自动激活")
		return true
	case <-ctx.Done():
		return false
	}
}

// dial 获取凭证后建连；凭证不可用时不建连
func (c *Conn) dial(ctx context.Context) (Socket, error) {
	token, err := c.cfg.Credentials.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取凭证失败: %w", err)
	}
	sock, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL(token))
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", c.cfg.Name, err)
	}
	return sock, nil
}

// serve 读取循环，返回连接结束事件
func (c *Conn) serve(ctx context.Context, sock Socket) CloseEvent {
	logger := c.logger.With(zap.String("session", uuid.NewString()))

	c.sockMu.Lock()
	c.sock = sock
	c.sockMu.Unlock()

	c.backoff.Reset()
	c.setState(StateOpen)
	logger.Info("连接已建立")

	if c.cfg.OnOpen != nil {
		c.cfg.OnOpen(c.write)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.heartbeatLoop(stop, logger)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			sock.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
		c.sockMu.Lock()
		if c.sock == sock {
			c.sock = nil
		}
		c.sockMu.Unlock()
		sock.Close()
	}()

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			ev := CloseEvent{Code: closeCode(err), UserInitiated: ctx.Err() != nil}
			if !ev.UserInitiated {
				logger.Warn("连接断开", zap.Int("code", ev.Code), zap.Error(err))
			}
			return ev
		}
		c.cfg.Metrics.MessageReceived(c.cfg.Name)
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(data)
		}
	}
}

// afterClose 处理连接结束，返回是否继续重连
func (c *Conn) afterClose(ctx context.Context, ev CloseEvent) bool {
	if IsAuthCode(ev.Code) || ev.HandshakeRejected {
		c.cfg.Credentials.Invalidate()
	}

	next, action := Decide(c.State(), ev, c.backoff.Attempt(), c.cfg.Policy)
	c.setState(next)

	switch action {
	case ActionStop:
		c.logger.Info("连接已关闭")
		return false
	case ActionFatal:
		err := &CloseError{Channel: c.cfg.Name, Code: ev.Code, HandshakeRejected: ev.HandshakeRejected}
		c.cfg.Metrics.FatalClose(c.cfg.Name, ev.Code)
		c.logger.Error("连接不可重试", zap.Error(err))
		c.report(err)
		return false
	case ActionExhausted:
		err := &ExhaustedError{Channel: c.cfg.Name, Attempts: c.backoff.Attempt()}
		c.logger.Error("重连次数耗尽", zap.Int("attempts", c.backoff.Attempt()))
		c.report(err)
		return false
	}

	delay := c.backoff.Next()
	c.cfg.Metrics.Reconnect(c.cfg.Name)
	if c.onRetry != nil {
		c.onRetry(c.backoff.Attempt(), delay)
	}
	c.logger.Info("准备重连",
		zap.Int("code", ev.Code),
		zap.Int("attempt", c.backoff.Attempt()),
		zap.Duration("delay", delay))

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		c.setState(StateClosed)
		return false
	case <-t.C:
		return true
	}
}

// heartbeatLoop 心跳循环
func (c *Conn) heartbeatLoop(stop <-chan struct{}, logger *zap.Logger) {
	if c.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.writeRaw(pingMessage); err != nil {
				logger.Warn("发送心跳失败", zap.Error(err))
			}
		}
	}
}

// write 序列化并发送，不受限流
func (c *Conn) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化控制消息失败: %w", err)
	}
	return c.writeRaw(data)
}

func (c *Conn) writeRaw(data []byte) error {
	c.sockMu.Lock()
	sock := c.sock
	c.sockMu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := sock.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送消息失败: %w", err)
	}
	return nil
}

// report 输出不可重试错误
func (c *Conn) report(err error) {
	select {
	case c.errCh <- err:
	default:
	}
	if c.cfg.OnFatal != nil {
		c.cfg.OnFatal(err)
	}
}

func (c *Conn) closeSocket() {
	c.sockMu.Lock()
	sock := c.sock
	c.sockMu.Unlock()
	if sock != nil {
		sock.Close()
	}
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
	c.cfg.Metrics.SetState(c.cfg.Name, int(s))
}
