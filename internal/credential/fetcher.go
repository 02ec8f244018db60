package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

// Fetcher 凭证获取器接口
type Fetcher interface {
	// Fetch 请求一次新的会话凭证
	Fetch(ctx context.Context) (string, error)
}

// FetcherFunc 函数适配器
type FetcherFunc func(ctx context.Context) (string, error)

// Fetch 调用函数本身
func (f FetcherFunc) Fetch(ctx context.Context) (string, error) {
	return f(ctx)
}

// sessionResponse 凭证接口响应
type sessionResponse struct {
	// WSURL 带凭证查询参数的流连接地址
	WSURL string `json:"wsUrl"`
}

// HTTPFetcher 通过同源 HTTP 接口获取凭证
type HTTPFetcher struct {
	client  *http.Client
	url     string
	pattern *regexp.Regexp
}

// NewHTTPFetcher 创建 HTTP 凭证获取器
// 参数 endpoint: 凭证接口地址
// 参数 param: 凭证所在的查询参数名
// 参数 timeout: 请求超时
func NewHTTPFetcher(endpoint, param string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		url:     endpoint,
		pattern: paramPattern(param),
	}
}

// paramPattern 匹配 wsUrl 中 ?param= 或 &param= 之后的值
func paramPattern(param string) *regexp.Regexp {
	return regexp.MustCompile(`[?&]` + regexp.QuoteMeta(param) + `=([^&#]+)`)
}

// Fetch 请求凭证接口并从 wsUrl 中提取凭证
func (f *HTTPFetcher) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "marketsync/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP 状态码错误: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("读取响应体失败: %w", err)
	}

	var sr sessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("解析凭证响应失败: %w", err)
	}

	return extract(f.pattern, sr.WSURL)
}

// extract 从连接地址中提取凭证
func extract(pattern *regexp.Regexp, wsURL string) (string, error) {
	m := pattern.FindStringSubmatch(wsURL)
	if len(m) < 2 {
		return "", fmt.Errorf("wsUrl 中未找到凭证")
	}
	token, err := url.QueryUnescape(m[1])
	if err != nil {
		return "", fmt.Errorf("凭证解码失败: %w", err)
	}
	return token, nil
}
