package list

import (
	"encoding/json"
	"errors"
	"fmt"

	"marketsync/internal/core/model"
	"marketsync/internal/feed"
)

var (
	errMalformed    = errors.New("消息格式错误")
	errUnrecognized = errors.New("无法识别的消息")
)

// wireMessage 列表通道入站消息
type wireMessage struct {
	Type   string              `json:"type"`
	Tokens []model.TokenFields `json:"tokens"`
	Tags   json.RawMessage     `json:"tags"`
	model.Metrics
}

// message 解析后的入站消息，三部分可同时出现
type message struct {
	tokens  []model.TokenFields
	metrics *model.Metrics
	tags    json.RawMessage
}

// parseMessage 解析入站消息；pong 返回 (nil, nil)
func parseMessage(data []byte) (*message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if feed.IsPong(w.Type) {
		return nil, nil
	}

	msg := &message{}
	for _, t := range w.Tokens {
		if t.MD5() == "" {
			continue
		}
		msg.tokens = append(msg.tokens, t)
	}
	m := metricsOf(&w.Metrics)
	if !m.Empty() {
		msg.metrics = m
	}
	if feed.Present(w.Tags) {
		msg.tags = w.Tags
	}

	if len(msg.tokens) == 0 && msg.metrics == nil && msg.tags == nil {
		return nil, errUnrecognized
	}
	return msg, nil
}

// metricsOf 去掉显式 null 字段
func metricsOf(m *model.Metrics) *model.Metrics {
	out := &model.Metrics{}
	if feed.Present(m.Exch) {
		out.Exch = m.Exch
	}
	if feed.Present(m.Total) {
		out.Total = m.Total
	}
	if feed.Present(m.H24) {
		out.H24 = m.H24
	}
	if feed.Present(m.Global) {
		out.Global = m.Global
	}
	if feed.Present(m.TokenCreation) {
		out.TokenCreation = m.TokenCreation
	}
	return out
}

// merge 将一批消息归并为一次更新
// 同一 md5 的字段按入队顺序浅合并（后者优先）；指标与标签取最后一次出现
func merge(batch []*message) model.ListUpdate {
	var u model.ListUpdate
	for _, msg := range batch {
		for _, t := range msg.tokens {
			if u.Tokens == nil {
				u.Tokens = make(map[string]model.TokenFields)
			}
			key := t.MD5()
			if cur, ok := u.Tokens[key]; ok {
				cur.Merge(t)
			} else {
				u.Tokens[key] = t.Clone()
			}
		}
		if msg.metrics != nil {
			u.Metrics = msg.metrics
		}
		if msg.tags != nil {
			u.Tags = msg.tags
		}
	}
	return u
}
