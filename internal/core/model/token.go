package model

import "encoding/json"

// TokenFields 单个代币的字段集合，键为字段名
// 流中的代币记录结构由服务端决定，客户端只按 md5 归并
type TokenFields map[string]any

// MD5 返回代币标识，缺失或类型不符返回空串
func (f TokenFields) MD5() string {
	s, _ := f["md5"].(string)
	return s
}

// Merge 将 patch 的字段浅合并到 f（patch 优先），返回 f
func (f TokenFields) Merge(patch TokenFields) TokenFields {
	for k, v := range patch {
		f[k] = v
	}
	return f
}

// Clone 浅拷贝
func (f TokenFields) Clone() TokenFields {
	out := make(TokenFields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Metrics 全局行情指标（整体替换语义）
type Metrics struct {
	Exch          json.RawMessage `json:"exch,omitempty"`
	Total         json.RawMessage `json:"total,omitempty"`
	H24           json.RawMessage `json:"H24,omitempty"`
	Global        json.RawMessage `json:"global,omitempty"`
	TokenCreation json.RawMessage `json:"tokenCreation,omitempty"`
}

// Empty 是否不含任何指标字段
func (m *Metrics) Empty() bool {
	return m == nil ||
		(m.Exch == nil && m.Total == nil && m.H24 == nil && m.Global == nil && m.TokenCreation == nil)
}

// ListUpdate 列表通道一次批量归并的结果
type ListUpdate struct {
	// Tokens 按 md5 归并后的增量
	Tokens map[string]TokenFields
	// Metrics 本批次最后一次出现的指标
	Metrics *Metrics
	// Tags 本批次最后一次出现的标签列表（原样透传）
	Tags json.RawMessage
}

// DetailUpdate 详情通道一次应用的更新
type DetailUpdate struct {
	// Token 代币字段；为空表示本次不含代币数据
	Token TokenFields
	// Delta 为 true 时按补丁合并，否则整体替换
	Delta bool
	// Metrics 指标；为空表示本次不含指标
	Metrics *Metrics
}
