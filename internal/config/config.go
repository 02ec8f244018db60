// Package config 负责加载和验证 YAML 配置文件。
// 提供凭证接口、列表/详情流、日志、指标与输出等配置项，支持环境变量覆盖。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Log 日志输出配置
	Log LogConfig `yaml:"log"`
	// Credential 会话凭证配置
	Credential CredentialConfig `yaml:"credential"`
	// Stream 流连接配置
	Stream StreamConfig `yaml:"stream"`
	// Metrics 指标服务配置
	Metrics MetricsConfig `yaml:"metrics"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// LogConfig 日志文件配置；File 为空时输出到 stderr
type LogConfig struct {
	// File 日志文件路径
	File string `yaml:"file"`
	// MaxSizeMB 单文件最大体积（MB）
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups 保留的历史文件数
	MaxBackups int `yaml:"max_backups"`
	// MaxAgeDays 历史文件保留天数
	MaxAgeDays int `yaml:"max_age_days"`
	// Compress 是否压缩历史文件
	Compress bool `yaml:"compress"`
}

// CredentialConfig 会话凭证配置
type CredentialConfig struct {
	// URL 凭证接口地址，返回 {"wsUrl": "..."}
	URL string `yaml:"url"`
	// Param 凭证在 wsUrl 中的查询参数名
	Param string `yaml:"param"`
	// TTLMs 凭证有效期（毫秒），使用到 80% 即刷新
	TTLMs int `yaml:"ttl_ms"`
	// TimeoutMs 凭证请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
}

// StreamConfig 流连接配置
type StreamConfig struct {
	// List 列表通道配置
	List ListConfig `yaml:"list"`
	// Detail 详情通道配置
	Detail DetailConfig `yaml:"detail"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// ActivationDelayMs 无用户交互时延迟建连时间（毫秒）
	ActivationDelayMs int `yaml:"activation_delay_ms"`
	// HandshakeTimeoutMs 握手超时（毫秒）
	HandshakeTimeoutMs int `yaml:"handshake_timeout_ms"`
	// Reconnect 重连退避配置
	Reconnect ReconnectConfig `yaml:"reconnect"`
	// ControlRate 每秒允许发送的控制消息数
	ControlRate float64 `yaml:"control_rate"`
	// ControlBurst 控制消息突发上限
	ControlBurst int `yaml:"control_burst"`
}

// ListConfig 列表通道配置
type ListConfig struct {
	// URL 列表流基础地址
	URL string `yaml:"url"`
	// Type 通道类型，拼接到连接地址
	Type string `yaml:"type"`
	// BatchWindowMs 合并窗口（毫秒）
	BatchWindowMs int `yaml:"batch_window_ms"`
	// BatchSize 单次处理的最大消息数
	BatchSize int `yaml:"batch_size"`
}

// DetailConfig 详情通道配置
type DetailConfig struct {
	// URL 详情流基础地址
	URL string `yaml:"url"`
	// FrameMs 合并应用的帧间隔（毫秒）
	FrameMs int `yaml:"frame_ms"`
	// Fields 字段预设名或逗号分隔的字段列表
	Fields string `yaml:"fields"`
	// Delta 是否启用增量模式
	Delta bool `yaml:"delta"`
}

// ReconnectConfig 重连退避配置
type ReconnectConfig struct {
	// BaseMs 基础间隔（毫秒）
	BaseMs int `yaml:"base_ms"`
	// MaxMs 最大间隔（毫秒）
	MaxMs int `yaml:"max_ms"`
	// MaxAttempts 最大重试次数
	MaxAttempts int `yaml:"max_attempts"`
	// Jitter 抖动比例（0-1）
	Jitter float64 `yaml:"jitter"`
}

// MetricsConfig 指标服务配置
type MetricsConfig struct {
	// Addr Prometheus 监听地址，为空不启动
	Addr string `yaml:"addr"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// UpdatesEnabled 是否记录已应用的更新
	UpdatesEnabled bool `yaml:"updates_enabled"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// Load 从文件加载配置，应用环境变量覆盖并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 从 YAML 字节解析配置
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("环境变量覆盖失败: %w", err)
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv 加载 .env 文件到进程环境变量，文件不存在时忽略
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// applyEnv 使用 MARKETSYNC_* 环境变量覆盖配置
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"MARKETSYNC_LOG_LEVEL":      &c.App.LogLevel,
		"MARKETSYNC_LOG_FILE":       &c.Log.File,
		"MARKETSYNC_CREDENTIAL_URL": &c.Credential.URL,
		"MARKETSYNC_LIST_URL":       &c.Stream.List.URL,
		"MARKETSYNC_LIST_TYPE":      &c.Stream.List.Type,
		"MARKETSYNC_DETAIL_URL":     &c.Stream.Detail.URL,
		"MARKETSYNC_DETAIL_FIELDS":  &c.Stream.Detail.Fields,
		"MARKETSYNC_METRICS_ADDR":   &c.Metrics.Addr,
		"MARKETSYNC_OUTPUT_DIR":     &c.Output.Dir,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("MARKETSYNC_DETAIL_DELTA"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MARKETSYNC_DETAIL_DELTA: %w", err)
		}
		c.Stream.Detail.Delta = b
	}
	return nil
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "marketsync"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 7
	}

	if c.Credential.Param == "" {
		c.Credential.Param = "token"
	}
	if c.Credential.TTLMs == 0 {
		c.Credential.TTLMs = 300000 // 300 秒
	}
	if c.Credential.TimeoutMs == 0 {
		c.Credential.TimeoutMs = 10000 // 10 秒
	}

	if c.Stream.List.Type == "" {
		c.Stream.List.Type = "tokens"
	}
	if c.Stream.List.BatchWindowMs == 0 {
		c.Stream.List.BatchWindowMs = 50
	}
	if c.Stream.List.BatchSize == 0 {
		c.Stream.List.BatchSize = 50
	}
	if c.Stream.Detail.FrameMs == 0 {
		c.Stream.Detail.FrameMs = 16 // 约 60Hz
	}
	if c.Stream.Detail.Fields == "" {
		c.Stream.Detail.Fields = "full"
	}
	if c.Stream.PingIntervalMs == 0 {
		c.Stream.PingIntervalMs = 10000 // 10 秒
	}
	if c.Stream.ActivationDelayMs == 0 {
		c.Stream.ActivationDelayMs = 3000 // 3 秒
	}
	if c.Stream.HandshakeTimeoutMs == 0 {
		c.Stream.HandshakeTimeoutMs = 10000
	}
	if c.Stream.Reconnect.BaseMs == 0 {
		c.Stream.Reconnect.BaseMs = 1000
	}
	if c.Stream.Reconnect.MaxMs == 0 {
		c.Stream.Reconnect.MaxMs = 60000 // 60 秒封顶
	}
	if c.Stream.Reconnect.MaxAttempts == 0 {
		c.Stream.Reconnect.MaxAttempts = 10
	}
	if c.Stream.ControlRate == 0 {
		c.Stream.ControlRate = 5
	}
	if c.Stream.ControlBurst == 0 {
		c.Stream.ControlBurst = 10
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
}

// Validate 验证配置合法性
// 返回: 若配置无效则返回汇总所有问题的错误
func (c *Config) Validate() error {
	var errs []string

	if c.Credential.URL == "" {
		errs = append(errs, "credential.url: 凭证接口地址不能为空")
	}
	if c.Credential.TTLMs <= 0 {
		errs = append(errs, "credential.ttl_ms: 凭证有效期必须为正数")
	}
	if c.Stream.List.URL == "" {
		errs = append(errs, "stream.list.url: 列表流地址不能为空")
	}
	if c.Stream.Detail.URL == "" {
		errs = append(errs, "stream.detail.url: 详情流地址不能为空")
	}
	if c.Stream.List.BatchSize <= 0 {
		errs = append(errs, "stream.list.batch_size: 批量大小必须为正数")
	}
	if c.Stream.List.BatchWindowMs <= 0 {
		errs = append(errs, "stream.list.batch_window_ms: 合并窗口必须为正数")
	}
	if c.Stream.Detail.FrameMs <= 0 {
		errs = append(errs, "stream.detail.frame_ms: 帧间隔必须为正数")
	}
	if c.Stream.PingIntervalMs <= 0 {
		errs = append(errs, "stream.ping_interval_ms: 心跳间隔必须为正数")
	}
	if c.Stream.Reconnect.MaxMs < c.Stream.Reconnect.BaseMs {
		errs = append(errs, "stream.reconnect.max_ms: 最大间隔不能小于基础间隔")
	}
	if c.Stream.Reconnect.Jitter < 0 || c.Stream.Reconnect.Jitter > 1 {
		errs = append(errs, "stream.reconnect.jitter: 抖动比例必须在 0-1 之间")
	}
	if c.Stream.ControlRate < 0 {
		errs = append(errs, "stream.control_rate: 控制消息速率不能为负数")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Duration 将毫秒配置转换为 time.Duration
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// DetailFields 将 fields 配置拆分为预设名或字段列表
// 不含逗号时视为预设名
func (d *DetailConfig) DetailFields() (preset string, list []string) {
	if !strings.Contains(d.Fields, ",") {
		return strings.TrimSpace(d.Fields), nil
	}
	for _, f := range strings.Split(d.Fields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			list = append(list, f)
		}
	}
	return "", list
}
