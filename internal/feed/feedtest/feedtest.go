// Package feedtest 提供内存版连接，用于通道测试。
package feedtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"marketsync/internal/feed"
)

// Socket 内存连接；In 关闭后 ReadMessage 返回 CloseErr
type Socket struct {
	In       chan []byte
	CloseErr error

	mu      sync.Mutex
	written [][]byte

	closed    chan struct{}
	closeOnce sync.Once
}

// NewSocket 创建内存连接
func NewSocket() *Socket {
	return &Socket{
		In:       make(chan []byte, 4096),
		CloseErr: &websocket.CloseError{Code: feed.CodeAbnormal},
		closed:   make(chan struct{}),
	}
}

// Push 模拟服务端推送
func (s *Socket) Push(data string) {
	s.In <- []byte(data)
}

// ReadMessage 实现 feed.Socket
func (s *Socket) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-s.In:
		if !ok {
			return 0, nil, s.CloseErr
		}
		return websocket.TextMessage, data, nil
	case <-s.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

// WriteMessage 实现 feed.Socket
func (s *Socket) WriteMessage(_ int, data []byte) error {
	select {
	case <-s.closed:
		return errors.New("socket closed")
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, append([]byte(nil), data...))
	return nil
}

// Close 实现 feed.Socket
func (s *Socket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Written 已发送的消息
func (s *Socket) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	for i, w := range s.written {
		out[i] = string(w)
	}
	return out
}

// Dialer 依次返回 Sockets 中的连接，用尽后返回错误
type Dialer struct {
	mu      sync.Mutex
	sockets []*Socket
	urls    []string
	dials   atomic.Int32
}

// NewDialer 创建 Dialer
func NewDialer(sockets ...*Socket) *Dialer {
	return &Dialer{sockets: sockets}
}

// Dial 实现 feed.Dialer
func (d *Dialer) Dial(ctx context.Context, url string) (feed.Socket, error) {
	n := int(d.dials.Add(1))
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if n > len(d.sockets) {
		return nil, errors.New("connection refused")
	}
	return d.sockets[n-1], nil
}

// Dials 建连次数
func (d *Dialer) Dials() int {
	return int(d.dials.Load())
}

// URLs 每次建连使用的地址
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Credentials 固定凭证
type Credentials struct {
	Token       string
	invalidated atomic.Int32
}

// Get 实现 feed.CredentialSource
func (c *Credentials) Get(ctx context.Context) (string, error) {
	return c.Token, nil
}

// Invalidate 实现 feed.CredentialSource
func (c *Credentials) Invalidate() {
	c.invalidated.Add(1)
}

// Invalidated 失效次数
func (c *Credentials) Invalidated() int {
	return int(c.invalidated.Load())
}
