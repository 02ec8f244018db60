package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"marketsync/internal/config"
	"marketsync/internal/core/model"
	"marketsync/internal/core/store"
	"marketsync/internal/credential"
	"marketsync/internal/feed"
	"marketsync/internal/feed/detail"
	"marketsync/internal/feed/list"
	"marketsync/internal/logging"
	"marketsync/internal/metrics"
	"marketsync/internal/output/jsonl"
	"marketsync/internal/util/backoff"
)

// statusInterval 状态日志间隔
const statusInterval = 30 * time.Second

func runStream(args []string) error {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "配置文件路径")
	envPath := fs.String("env", ".env", "环境变量文件，不存在时忽略")
	detailID := fs.String("detail", "", "详情通道代币标识，为空不启动")
	subscribe := fs.String("subscribe", "", "逗号分隔的订阅代币")
	lazy := fs.Bool("lazy", false, "等待激活延迟后再建连")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		return fmt.Errorf("加载环境变量失败: %w", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logger := logging.New(cfg.App.LogLevel, cfg.Log).Named(cfg.App.Name)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer ossignal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("收到退出信号，开始优雅关闭")
			cancel()
		case <-ctx.Done():
		}
	}()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("指标服务异常退出", zap.Error(err))
			}
		}()
	}

	cache := credential.New(
		credential.NewHTTPFetcher(cfg.Credential.URL, cfg.Credential.Param, config.Duration(cfg.Credential.TimeoutMs)),
		credential.WithTTL(config.Duration(cfg.Credential.TTLMs)),
		credential.WithFetchTimeout(config.Duration(cfg.Credential.TimeoutMs)),
		credential.WithLogger(logger),
		credential.WithMetrics(m),
	)
	go cache.Run(ctx)

	var writer *jsonl.Writer
	if cfg.Output.UpdatesEnabled {
		writer, err = jsonl.NewWriter(filepath.Join(cfg.Output.Dir, "updates.jsonl"), cfg.Output.BufferSize)
		if err != nil {
			return fmt.Errorf("创建输出文件失败: %w", err)
		}
		defer writer.Close()
	}
	record := func(channel, kind string, data any) {
		if err := writer.Record(channel, kind, data); err != nil {
			logger.Debug("记录更新失败", zap.String("channel", channel), zap.Error(err))
		}
	}

	fatalCh := make(chan error, 2)
	onFatal := func(err error) {
		select {
		case fatalCh <- err:
		default:
		}
	}

	tokens := store.NewTokens()
	lc := list.New(list.Options{
		URL:             cfg.Stream.List.URL,
		Type:            cfg.Stream.List.Type,
		CredentialParam: cfg.Credential.Param,
		BatchWindow:     config.Duration(cfg.Stream.List.BatchWindowMs),
		BatchSize:       cfg.Stream.List.BatchSize,
		MaxAttempts:     cfg.Stream.Reconnect.MaxAttempts,
	}, connConfig(cfg, cache, logger, m), list.Handlers{
		OnTokens: func(t map[string]model.TokenFields) {
			tokens.ApplyTokens(t)
			record("list", "tokens", t)
		},
		OnMetrics: func(mt *model.Metrics) {
			tokens.ApplyMetrics(mt)
			record("list", "metrics", mt)
		},
		OnTags: func(tags json.RawMessage) {
			tokens.ApplyTags(tags)
			record("list", "tags", tags)
		},
		OnFatal: onFatal,
	})
	lc.Start(ctx)
	if !*lazy {
		lc.Activate()
	}
	if ids := splitList(*subscribe); len(ids) > 0 {
		if err := lc.Subscribe(ids); err != nil {
			logger.Warn("订阅失败", zap.Error(err))
		}
	}

	var dc *detail.Channel
	tracked := store.NewDetail()
	if *detailID != "" {
		preset, fields := cfg.Stream.Detail.DetailFields()
		selection := detail.PresetFields(preset)
		if len(fields) > 0 {
			selection = detail.FieldList(fields...)
		}
		dc = detail.New(*detailID, detail.Options{
			URL:             cfg.Stream.Detail.URL,
			CredentialParam: cfg.Credential.Param,
			Fields:          selection,
			Delta:           cfg.Stream.Detail.Delta,
			FrameInterval:   config.Duration(cfg.Stream.Detail.FrameMs),
			MaxAttempts:     cfg.Stream.Reconnect.MaxAttempts,
		}, connConfig(cfg, cache, logger, m), detail.Handlers{
			OnToken: func(t model.TokenFields, delta bool) {
				tracked.ApplyToken(t, delta)
				record("detail", "token", model.DetailUpdate{Token: t, Delta: delta})
			},
			OnMetrics: func(mt *model.Metrics) {
				tracked.ApplyMetrics(mt)
				record("detail", "metrics", mt)
			},
			OnFatal: onFatal,
		})
		dc.Start(ctx)
		if !*lazy {
			dc.Activate()
		}
	}

	logger.Info("行情同步已启动",
		zap.String("list", cfg.Stream.List.URL),
		zap.String("detail_id", *detailID))

	err = waitStream(ctx, logger, fatalCh, tokens, tracked, dc != nil)

	// 先关闭通道，保证之后不再有回调写入
	if dc != nil {
		dc.Close()
	}
	lc.Close()
	if writer != nil && writer.Dropped() > 0 {
		logger.Warn("部分更新未记录", zap.Uint64("dropped", writer.Dropped()))
	}
	logger.Info("行情同步已停止", zap.Int("tokens", tokens.Len()))
	return err
}

// waitStream 等待退出信号；列表通道不可恢复时返回错误，详情通道失败只记录
func waitStream(ctx context.Context, logger *zap.Logger, fatalCh <-chan error, tokens *store.Tokens, tracked *store.Detail, hasDetail bool) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-fatalCh:
			if feed.ChannelOf(err) == "detail" {
				logger.Error("详情通道已停止", zap.Error(err))
				continue
			}
			return fmt.Errorf("列表通道已停止: %w", err)
		case <-ticker.C:
			fields := []zap.Field{zap.Int("tokens", tokens.Len())}
			if hasDetail {
				fields = append(fields, zap.Int("detail_fields", len(tracked.Token())))
			}
			logger.Info("同步状态", fields...)
		}
	}
}

// connConfig 通道共用的连接模板；退避计算器每个通道独立
func connConfig(cfg *config.Config, creds feed.CredentialSource, logger *zap.Logger, m *metrics.Metrics) feed.Config {
	rc := cfg.Stream.Reconnect
	return feed.Config{
		Dialer:          feed.WSDialer{HandshakeTimeout: config.Duration(cfg.Stream.HandshakeTimeoutMs)},
		Credentials:     creds,
		Backoff:         backoff.New(config.Duration(rc.BaseMs), config.Duration(rc.MaxMs), rc.Jitter),
		PingInterval:    config.Duration(cfg.Stream.PingIntervalMs),
		ActivationDelay: config.Duration(cfg.Stream.ActivationDelayMs),
		ControlRate:     cfg.Stream.ControlRate,
		ControlBurst:    cfg.Stream.ControlBurst,
		Logger:          logger,
		Metrics:         m,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
