package detail

import (
	"encoding/json"
	"strings"
)

// DefaultPreset 默认字段预设
const DefaultPreset = "full"

// Fields 字段选择：预设名或显式字段列表，二者取其一
type Fields struct {
	Preset string
	List   []string
}

// PresetFields 按预设名选择
func PresetFields(name string) Fields {
	return Fields{Preset: name}
}

// FieldList 显式字段列表
func FieldList(names ...string) Fields {
	return Fields{List: append([]string(nil), names...)}
}

// String 连接地址中的 fields 参数值
func (f Fields) String() string {
	if len(f.List) > 0 {
		return strings.Join(f.List, ",")
	}
	if f.Preset == "" {
		return DefaultPreset
	}
	return f.Preset
}

// MarshalJSON 预设名输出为字符串，字段列表输出为数组
func (f Fields) MarshalJSON() ([]byte, error) {
	if len(f.List) > 0 {
		return json.Marshal(f.List)
	}
	return json.Marshal(f.String())
}
