// Package model 定义账本数据与流式同步使用的核心数据结构。
// 包含金额、挂单、订单簿档位、交易元数据与成交事件。
package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"marketsync/internal/util/fastparse"
)

// NativeCurrency 原生资产代码
const NativeCurrency = "XRP"

// Amount 账本金额
// 原生资产在 JSON 中为裸字符串（单位 drops），发行资产为 {currency, issuer, value} 对象
type Amount struct {
	// Currency 资产代码
	Currency string `json:"currency"`
	// Issuer 发行方账户，原生资产为空
	Issuer string `json:"issuer,omitempty"`
	// Value 数值字符串；原生资产为 drops，发行资产为展示单位
	Value string `json:"value"`

	native bool
	// raw 无法识别的原始编码，非空表示金额无效
	raw string
}

// NewNativeAmount 以 drops 字符串构造原生资产金额
func NewNativeAmount(drops string) Amount {
	return Amount{Currency: NativeCurrency, Value: drops, native: true}
}

// NewIssuedAmount 构造发行资产金额
func NewIssuedAmount(currency, issuer, value string) Amount {
	return Amount{Currency: currency, Issuer: issuer, Value: value}
}

// UnmarshalJSON 兼容裸字符串与对象两种编码
// 无法识别的编码不返回错误，保留原文并标记为无效，由 Decimal 报错
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var drops string
		if err := json.Unmarshal(data, &drops); err != nil {
			*a = Amount{raw: string(data)}
			return nil
		}
		*a = NewNativeAmount(drops)
		return nil
	}

	type plain Amount
	var p plain
	if len(data) == 0 || data[0] != '{' || json.Unmarshal(data, &p) != nil {
		*a = Amount{raw: string(data)}
		return nil
	}
	*a = Amount(p)
	a.native = false
	a.raw = ""
	return nil
}

// MarshalJSON 按账本编码输出，无效金额原样输出
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.raw != "" {
		return []byte(a.raw), nil
	}
	if a.native {
		return json.Marshal(a.Value)
	}
	type plain Amount
	return json.Marshal(plain(a))
}

// Decimal 返回展示单位下的精确数值
// 原生资产自动由 drops 换算
func (a Amount) Decimal() (decimal.Decimal, error) {
	if a.raw != "" {
		return decimal.Zero, fmt.Errorf("无法识别的金额编码: %s", a.raw)
	}
	if a.native {
		return fastparse.DropsToNative(a.Value)
	}
	return fastparse.ParseDecimal(a.Value)
}

// Quantity 带精确数值的资产数量（成交事件使用）
type Quantity struct {
	// Currency 资产代码
	Currency string `json:"currency"`
	// Issuer 发行方账户
	Issuer string `json:"issuer,omitempty"`
	// Value 展示单位下的精确数值
	Value decimal.Decimal `json:"value"`
}

// AssetKey 资产标识
func (q Quantity) AssetKey() string {
	return q.Currency + "." + q.Issuer
}
