// Package fastparse 提供账本金额字符串的解析函数。
// 金额一律先按十进制精确解析，需要浮点时再转换。
package fastparse

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DropsPerNative 原生资产 1 个单位对应的最小单位（drops）数量
const DropsPerNative = 1_000_000

var dropsPerNative = decimal.NewFromInt(DropsPerNative)

// ParseDecimal 精确解析十进制字符串，支持科学计数法（如 "1e-7"）
// 参数 s: 待解析的字符串
// 返回: 十进制数值；空串或非法格式返回错误
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("空数值")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("解析数值 %q 失败: %w", s, err)
	}
	return d, nil
}

// DropsToNative 将 drops 字符串转换为原生资产展示单位
// 例如 "1000000" -> 1
func DropsToNative(s string) (decimal.Decimal, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Div(dropsPerNative), nil
}

// IsFinitePositive 判断浮点数是否为有限正数
func IsFinitePositive(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}
