package feed

import (
	"fmt"
	"net/url"
	"strings"
)

// JoinURL 在 base 路径后追加 segment 并合并查询参数
func JoinURL(base, segment string, query url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("解析地址失败: %w", err)
	}
	if segment != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + url.PathEscape(segment)
	}
	q := u.Query()
	for k, vs := range query {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// IsPong 是否为 {"type":"pong"} 心跳响应
func IsPong(msgType string) bool {
	return msgType == "pong"
}

// Present JSON 字段存在且不为 null
func Present(raw []byte) bool {
	return len(raw) > 0 && string(raw) != "null"
}
