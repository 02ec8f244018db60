// Package list 实现列表推送通道：单连接维护多个代币的实时状态。
// 入站消息先入队，合并窗口到期后分批归并，只对非空结果回调。
package list

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"marketsync/internal/core/model"
	"marketsync/internal/feed"
	"marketsync/internal/metrics"
)

const (
	// DefaultBatchWindow 默认合并窗口
	DefaultBatchWindow = 50 * time.Millisecond
	// DefaultBatchSize 默认单次处理消息数
	DefaultBatchSize = 50
	// DefaultType 默认通道类型
	DefaultType = "tokens"

	channelName = "list"
)

// Handlers 回调集合，均在通道调度 goroutine 上串行调用
type Handlers struct {
	// OnTokens 按 md5 归并后的代币增量，调用方应按补丁合并
	OnTokens func(tokens map[string]model.TokenFields)
	// OnMetrics 指标（整体替换）
	OnMetrics func(m *model.Metrics)
	// OnTags 标签列表（整体替换，原样透传）
	OnTags func(tags json.RawMessage)
	// OnFatal 不可重试错误，在连接 goroutine 上调用
	OnFatal func(err error)
}

// Options 列表通道参数
type Options struct {
	// URL 基础地址
	URL string
	// Type 通道类型，拼接为路径
	Type string
	// CredentialParam 凭证查询参数名
	CredentialParam string
	// BatchWindow 合并窗口
	BatchWindow time.Duration
	// BatchSize 单次处理消息数
	BatchSize int
	// MaxAttempts 最大连续重连次数，<=0 不限制
	MaxAttempts int
}

// Channel 列表通道
type Channel struct {
	// opts 通道参数
	opts Options
	// conn 底层连接
	conn *feed.Conn
	// sched 调度器，所有回调在其上串行执行
	sched *feed.Scheduler
	// handlers 回调
	handlers Handlers
	// logger 日志记录器
	logger *zap.Logger
	// metrics 指标，可为 nil
	metrics *metrics.Metrics
	// sampler 丢弃消息采样日志
	sampler *feed.DropSampler

	// mu 保护以下字段
	mu sync.Mutex
	// queue 待处理消息
	queue deque.Deque[*message]
	// scheduled 是否已有待执行的处理任务
	scheduled bool
	// subs 当前订阅，重连后重发
	subs []string
}

// New 创建列表通道
// 参数 conn: 连接模板，需提供 Dialer 与 Credentials；Name/URL/Policy 与回调由通道填充
func New(opts Options, conn feed.Config, h Handlers) *Channel {
	if opts.Type == "" {
		opts.Type = DefaultType
	}
	if opts.CredentialParam == "" {
		opts.CredentialParam = "token"
	}
	if opts.BatchWindow <= 0 {
		opts.BatchWindow = DefaultBatchWindow
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if conn.Logger == nil {
		conn.Logger = zap.NewNop()
	}

	ch := &Channel{
		opts:     opts,
		sched:    feed.NewScheduler(),
		handlers: h,
		logger:   conn.Logger.Named(channelName),
		metrics:  conn.Metrics,
	}
	ch.sampler = feed.NewDropSampler(ch.logger)

	conn.Name = channelName
	conn.URL = ch.target
	conn.Policy = feed.ListPolicy(opts.MaxAttempts)
	conn.OnMessage = ch.enqueue
	conn.OnOpen = ch.replay
	conn.OnFatal = h.OnFatal
	ch.conn = feed.NewConn(conn)
	return ch
}

// Open 创建并启动列表通道
func Open(ctx context.Context, opts Options, conn feed.Config, h Handlers) *Channel {
	ch := New(opts, conn, h)
	ch.Start(ctx)
	return ch
}

// Start 启动连接
func (ch *Channel) Start(ctx context.Context) {
	ch.conn.Start(ctx)
}

// Activate 立即激活连接
func (ch *Channel) Activate() {
	ch.conn.Activate()
}

// State 连接状态
func (ch *Channel) State() feed.State {
	return ch.conn.State()
}

// Err 不可重试错误
func (ch *Channel) Err() <-chan error {
	return ch.conn.Err()
}

// Subscribe 设置关注的代币列表并发送订阅；未连接时记录，连接建立后发送
func (ch *Channel) Subscribe(ids []string) error {
	ch.mu.Lock()
	ch.subs = append([]string(nil), ids...)
	ch.mu.Unlock()

	err := ch.conn.Send(subscribeMessage(ids))
	if errors.Is(err, feed.ErrNotConnected) {
		return nil
	}
	return err
}

// Resync 请求服务端重发全量
func (ch *Channel) Resync() error {
	return ch.conn.Send(controlMessage{Type: "resync"})
}

// Close 关闭通道，返回后不再有回调
func (ch *Channel) Close() error {
	ch.sched.CancelAll()

	ch.mu.Lock()
	ch.queue = deque.Deque[*message]{}
	ch.scheduled = false
	ch.mu.Unlock()

	return ch.conn.Close()
}

type controlMessage struct {
	Type   string   `json:"type"`
	Tokens []string `json:"tokens,omitempty"`
}

func subscribeMessage(ids []string) controlMessage {
	if ids == nil {
		ids = []string{}
	}
	return controlMessage{Type: "subscribe", Tokens: ids}
}

// target 连接地址: {base}/{type}?token=...
func (ch *Channel) target(credential string) string {
	u, err := feed.JoinURL(ch.opts.URL, ch.opts.Type, url.Values{ch.opts.CredentialParam: {credential}})
	if err != nil {
		ch.logger.Error("构造连接地址失败", zap.Error(err))
		return ch.opts.URL
	}
	return u
}

// replay 连接建立后重发订阅
func (ch *Channel) replay(send func(any) error) {
	ch.mu.Lock()
	subs := ch.subs
	ch.mu.Unlock()
	if subs == nil {
		return
	}
	if err := send(subscribeMessage(subs)); err != nil {
		ch.logger.Warn("重发订阅失败", zap.Error(err))
	}
}

// enqueue 解析入站消息并入队，必要时安排处理任务
func (ch *Channel) enqueue(data []byte) {
	msg, err := parseMessage(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, errUnrecognized) {
			reason = "unrecognized"
		}
		ch.metrics.MessageDropped(channelName, reason)
		ch.sampler.Observe(reason, err, data)
		return
	}
	if msg == nil {
		return
	}

	ch.mu.Lock()
	ch.queue.PushBack(msg)
	schedule := !ch.scheduled
	if schedule {
		ch.scheduled = true
	}
	ch.mu.Unlock()

	if schedule {
		ch.sched.After(ch.opts.BatchWindow, ch.drain)
	}
}

// drain 处理至多 BatchSize 条消息；仍有剩余时立即安排下一次
func (ch *Channel) drain() {
	ch.mu.Lock()
	n := ch.queue.Len()
	if n > ch.opts.BatchSize {
		n = ch.opts.BatchSize
	}
	batch := make([]*message, n)
	for i := range batch {
		batch[i] = ch.queue.PopFront()
	}
	more := ch.queue.Len() > 0
	if !more {
		ch.scheduled = false
	}
	ch.mu.Unlock()

	ch.dispatch(merge(batch))

	if more {
		ch.sched.After(0, ch.drain)
	}
}

func (ch *Channel) dispatch(u model.ListUpdate) {
	if len(u.Tokens) > 0 && ch.handlers.OnTokens != nil {
		ch.handlers.OnTokens(u.Tokens)
	}
	if u.Metrics != nil && ch.handlers.OnMetrics != nil {
		ch.handlers.OnMetrics(u.Metrics)
	}
	if u.Tags != nil && ch.handlers.OnTags != nil {
		ch.handlers.OnTags(u.Tags)
	}
	ch.metrics.Applied(channelName)
}
