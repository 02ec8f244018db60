// Package store 维护消费端的代币状态。
// 列表通道的批量更新按补丁合并，指标与标签整体替换。
package store

import (
	"encoding/json"
	"sync"

	"marketsync/internal/core/model"
)

// Tokens 列表通道的代币状态缓存
// 回调可能来自通道调度 goroutine，读写均加锁
type Tokens struct {
	mu      sync.RWMutex
	tokens  map[string]model.TokenFields
	metrics *model.Metrics
	tags    json.RawMessage
}

// NewTokens 创建代币状态缓存
func NewTokens() *Tokens {
	return &Tokens{
		tokens: make(map[string]model.TokenFields),
	}
}

// ApplyTokens 将一批代币增量合并到本地状态
func (s *Tokens) ApplyTokens(batch map[string]model.TokenFields) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for md5, patch := range batch {
		if md5 == "" {
			continue
		}
		cur, ok := s.tokens[md5]
		if !ok {
			cur = make(model.TokenFields, len(patch))
			s.tokens[md5] = cur
		}
		cur.Merge(patch)
	}
}

// ApplyMetrics 整体替换指标
func (s *Tokens) ApplyMetrics(m *model.Metrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// ApplyTags 整体替换标签列表
func (s *Tokens) ApplyTags(tags json.RawMessage) {
	s.mu.Lock()
	s.tags = tags
	s.mu.Unlock()
}

// Get 获取单个代币的拷贝，不存在返回 nil
func (s *Tokens) Get(md5 string) model.TokenFields {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.tokens[md5]
	if !ok {
		return nil
	}
	return cur.Clone()
}

// Len 已跟踪的代币数量
func (s *Tokens) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// Metrics 当前指标，返回值应视为只读
func (s *Tokens) Metrics() *model.Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// Tags 当前标签列表
func (s *Tokens) Tags() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tags
}

// Detail 详情通道的单个代币状态
type Detail struct {
	mu      sync.RWMutex
	token   model.TokenFields
	metrics *model.Metrics
}

// NewDetail 创建详情状态
func NewDetail() *Detail {
	return &Detail{}
}

// ApplyToken 应用代币更新: delta 为 true 时合并，否则整体替换
func (d *Detail) ApplyToken(token model.TokenFields, delta bool) {
	if token == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if delta && d.token != nil {
		d.token.Merge(token)
		return
	}
	d.token = token.Clone()
}

// ApplyMetrics 整体替换指标
func (d *Detail) ApplyMetrics(m *model.Metrics) {
	d.mu.Lock()
	d.metrics = m
	d.mu.Unlock()
}

// Token 当前代币状态的拷贝
func (d *Detail) Token() model.TokenFields {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.token == nil {
		return nil
	}
	return d.token.Clone()
}

// Metrics 当前指标
func (d *Detail) Metrics() *model.Metrics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.metrics
}
