// Package metrics 定义流通道与凭证缓存的 Prometheus 指标。
// 所有方法对 nil 接收者安全，未启用指标时传 nil 即可。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics 指标集合，使用独立 Registry
type Metrics struct {
	registry *prometheus.Registry

	messages    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	applies     *prometheus.CounterVec
	reconnects  *prometheus.CounterVec
	fatalCloses *prometheus.CounterVec
	state       *prometheus.GaugeVec
	credential  *prometheus.CounterVec
}

// New 创建并注册指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_stream_messages_total",
			Help: "收到的流消息数",
		}, []string{"channel"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_stream_messages_dropped_total",
			Help: "丢弃的流消息数（解析失败或被覆盖）",
		}, []string{"channel", "reason"}),
		applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_stream_applies_total",
			Help: "批量归并或帧应用次数",
		}, []string{"channel"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_stream_reconnects_total",
			Help: "重连次数",
		}, []string{"channel"}),
		fatalCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_stream_fatal_closes_total",
			Help: "不可重试的关闭次数",
		}, []string{"channel", "code"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsync_stream_state",
			Help: "连接状态: 0 idle, 1 connecting, 2 open, 3 reconnecting, 4 closed",
		}, []string{"channel"}),
		credential: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_credential_fetches_total",
			Help: "凭证请求次数",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.messages, m.dropped, m.applies, m.reconnects, m.fatalCloses, m.state, m.credential,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// MessageReceived 记录收到消息
func (m *Metrics) MessageReceived(channel string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(channel).Inc()
}

// MessageDropped 记录丢弃消息
func (m *Metrics) MessageDropped(channel, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(channel, reason).Inc()
}

// Applied 记录一次归并/应用
func (m *Metrics) Applied(channel string) {
	if m == nil {
		return
	}
	m.applies.WithLabelValues(channel).Inc()
}

// Reconnect 记录一次重连
func (m *Metrics) Reconnect(channel string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(channel).Inc()
}

// FatalClose 记录不可重试的关闭
func (m *Metrics) FatalClose(channel string, code int) {
	if m == nil {
		return
	}
	m.fatalCloses.WithLabelValues(channel, strconv.Itoa(code)).Inc()
}

// SetState 记录连接状态
func (m *Metrics) SetState(channel string, state int) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(channel).Set(float64(state))
}

// CredentialFetch 记录凭证请求结果
func (m *Metrics) CredentialFetch(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.credential.WithLabelValues(result).Inc()
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 在 addr 上提供 /metrics，ctx 取消后关闭
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("指标服务已启动", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
