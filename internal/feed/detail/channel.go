// Package detail 实现详情推送通道：单个代币的实时状态。
// 每个代币一条连接；同一帧内只应用最新一条消息，被覆盖的中间消息直接丢弃。
package detail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketsync/internal/core/model"
	"marketsync/internal/feed"
	"marketsync/internal/metrics"
)

const (
	// DefaultFrameInterval 默认帧间隔
	DefaultFrameInterval = 16 * time.Millisecond

	channelName = "detail"
)

var errMalformed = errors.New("消息格式错误")

// Handlers 回调集合，均在通道调度 goroutine 上串行调用
type Handlers struct {
	// OnToken 代币字段；delta 为 true 时按补丁合并，否则整体替换
	OnToken func(token model.TokenFields, delta bool)
	// OnMetrics 指标（整体替换）
	OnMetrics func(m *model.Metrics)
	// OnFatal 不可重试错误（连接超限、授权失败、握手被拒）
	OnFatal func(err error)
}

// Options 详情通道参数
type Options struct {
	// URL 基础地址
	URL string
	// CredentialParam 凭证查询参数名
	CredentialParam string
	// Fields 初始字段选择
	Fields Fields
	// Delta 初始是否启用增量模式
	Delta bool
	// FrameInterval 帧间隔
	FrameInterval time.Duration
	// MaxAttempts 最大连续重连次数，<=0 不限制
	MaxAttempts int
}

// Channel 详情通道
type Channel struct {
	id       string
	conn     *feed.Conn
	sched    *feed.Scheduler
	handlers Handlers
	logger   *zap.Logger
	metrics  *metrics.Metrics
	sampler  *feed.DropSampler

	// mu 保护以下字段
	mu        sync.Mutex
	opts      Options
	pending   *model.DetailUpdate
	scheduled bool
}

// New 创建详情通道
// 参数 id: 代币标识
// 参数 conn: 连接模板，需提供 Dialer 与 Credentials；Name/URL/Policy 与回调由通道填充
func New(id string, opts Options, conn feed.Config, h Handlers) *Channel {
	if opts.CredentialParam == "" {
		opts.CredentialParam = "token"
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if conn.Logger == nil {
		conn.Logger = zap.NewNop()
	}

	ch := &Channel{
		id:       id,
		opts:     opts,
		sched:    feed.NewScheduler(),
		handlers: h,
		logger:   conn.Logger.Named(channelName).With(zap.String("id", id)),
		metrics:  conn.Metrics,
	}
	ch.sampler = feed.NewDropSampler(ch.logger)

	conn.Name = channelName
	conn.URL = ch.target
	conn.Policy = feed.DetailPolicy(opts.MaxAttempts)
	conn.OnMessage = ch.receive
	conn.OnFatal = h.OnFatal
	ch.conn = feed.NewConn(conn)
	return ch
}

// Open 创建并启动详情通道
func Open(ctx context.Context, id string, opts Options, conn feed.Config, h Handlers) *Channel {
	ch := New(id, opts, conn, h)
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

// ID 代币标识
func (ch *Channel) ID() string {
	return ch.id
}

// State 连接状态
func (ch *Channel) State() feed.State {
	return ch.conn.State()
}

// Err 不可重试错误
func (ch *Channel) Err() <-chan error {
	return ch.conn.Err()
}

// Fields 当前字段选择
func (ch *Channel) Fields() Fields {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.opts.Fields
}

// Delta 当前是否为增量模式
func (ch *Channel) Delta() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.opts.Delta
}

// SetFields 切换字段选择；未连接时仅影响下次建连地址
func (ch *Channel) SetFields(f Fields) error {
	ch.mu.Lock()
	ch.opts.Fields = f
	ch.mu.Unlock()

	return ignoreNotConnected(ch.conn.Send(setFieldsMessage{Type: "setFields", Fields: f}))
}

// SetDelta 切换增量模式；未连接时仅影响下次建连地址
func (ch *Channel) SetDelta(enabled bool) error {
	ch.mu.Lock()
	ch.opts.Delta = enabled
	ch.mu.Unlock()

	return ignoreNotConnected(ch.conn.Send(setDeltaMessage{Type: "setDelta", Enabled: enabled}))
}

// Resync 请求服务端重发全量
func (ch *Channel) Resync() error {
	return ch.conn.Send(struct {
		Type string `json:"type"`
	}{Type: "resync"})
}

// Close 关闭通道，同步取消待应用的更新，返回后不再有回调
func (ch *Channel) Close() error {
	ch.sched.CancelAll()

	ch.mu.Lock()
	ch.pending = nil
	ch.scheduled = false
	ch.mu.Unlock()

	return ch.conn.Close()
}

type setFieldsMessage struct {
	Type   string `json:"type"`
	Fields Fields `json:"fields"`
}

type setDeltaMessage struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

func ignoreNotConnected(err error) error {
	if errors.Is(err, feed.ErrNotConnected) {
		return nil
	}
	return err
}

// target 连接地址: {base}/{id}?fields=...&delta=...&token=...
func (ch *Channel) target(credential string) string {
	ch.mu.Lock()
	q := url.Values{
		"fields":                {ch.opts.Fields.String()},
		"delta":                 {strconv.FormatBool(ch.opts.Delta)},
		ch.opts.CredentialParam: {credential},
	}
	base := ch.opts.URL
	ch.mu.Unlock()

	u, err := feed.JoinURL(base, ch.id, q)
	if err != nil {
		ch.logger.Error("构造连接地址失败", zap.Error(err))
		return base
	}
	return u
}

// wireMessage 详情通道入站消息
type wireMessage struct {
	Type  string            `json:"type"`
	Token model.TokenFields `json:"token"`
	Delta bool              `json:"delta"`
	model.Metrics
}

// parseMessage 解析入站消息；pong 返回 (nil, nil)
func parseMessage(data []byte) (*model.DetailUpdate, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if feed.IsPong(w.Type) {
		return nil, nil
	}

	u := &model.DetailUpdate{Delta: w.Delta}
	if len(w.Token) > 0 {
		u.Token = w.Token
	}
	m := &model.Metrics{}
	if feed.Present(w.Exch) {
		m.Exch = w.Exch
	}
	if feed.Present(w.Total) {
		m.Total = w.Total
	}
	if feed.Present(w.H24) {
		m.H24 = w.H24
	}
	if feed.Present(w.Global) {
		m.Global = w.Global
	}
	if !m.Empty() {
		u.Metrics = m
	}
	if u.Token == nil && u.Metrics == nil {
		return nil, fmt.Errorf("%w: 无代币或指标字段", errMalformed)
	}
	return u, nil
}

// receive 保存最新消息，每帧最多安排一次应用
func (ch *Channel) receive(data []byte) {
	u, err := parseMessage(data)
	if err != nil {
		ch.metrics.MessageDropped(channelName, "malformed")
		ch.sampler.Observe("malformed", err, data)
		return
	}
	if u == nil {
		return
	}

	ch.mu.Lock()
	superseded := ch.pending != nil
	ch.pending = u
	schedule := !ch.scheduled
	if schedule {
		ch.scheduled = true
	}
	frame := ch.opts.FrameInterval
	ch.mu.Unlock()

	if superseded {
		ch.metrics.MessageDropped(channelName, "superseded")
	}
	if schedule {
		ch.sched.After(frame, ch.apply)
	}
}

// apply 应用最新消息；指标与代币在同一步分发
func (ch *Channel) apply() {
	ch.mu.Lock()
	u := ch.pending
	ch.pending = nil
	ch.scheduled = false
	ch.mu.Unlock()

	if u == nil {
		return
	}
	if u.Metrics != nil && ch.handlers.OnMetrics != nil {
		ch.handlers.OnMetrics(u.Metrics)
	}
	if u.Token != nil && ch.handlers.OnToken != nil {
		ch.handlers.OnToken(u.Token, u.Delta)
	}
	ch.metrics.Applied(channelName)
}
