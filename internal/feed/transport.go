package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Socket 已建立的消息连接
// ReadMessage 只允许单读者；Close 可与读写并发调用
type Socket interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer 建立连接
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// HandshakeError 握手阶段被服务端以 HTTP 状态拒绝
type HandshakeError struct {
	Status int
	Err    error
}

// Error 实现 error
func (e *HandshakeError) Error() string {
	return fmt.Sprintf("握手失败: HTTP %d: %v", e.Status, e.Err)
}

// Unwrap 返回底层错误
func (e *HandshakeError) Unwrap() error { return e.Err }

// Rejected 是否为授权拒绝 (401/403)
func (e *HandshakeError) Rejected() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// WSDialer 基于 gorilla/websocket 的 Dialer
type WSDialer struct {
	// HandshakeTimeout 握手超时
	HandshakeTimeout time.Duration
	// Header 握手请求头
	Header http.Header
}

// Dial 建立 WebSocket 连接
func (d WSDialer) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			return nil, &HandshakeError{Status: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	return conn, nil
}

// closeCode 从读错误中提取关闭码，没有关闭帧时视为 1006
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeAbnormal
}

// handshakeRejected 建连错误是否为 401/403 拒绝
func handshakeRejected(err error) (int, bool) {
	var he *HandshakeError
	if errors.As(err, &he) && he.Rejected() {
		return he.Status, true
	}
	return 0, false
}
