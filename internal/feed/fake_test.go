package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// fakeSocket 内存连接，in 关闭后 ReadMessage 返回 closeErr
type fakeSocket struct {
	in       chan []byte
	closeErr error

	mu      sync.Mutex
	written [][]byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSocket(closeErr error) *fakeSocket {
	return &fakeSocket{
		in:       make(chan []byte, 1024),
		closeErr: closeErr,
		closed:   make(chan struct{}),
	}
}

// closingSocket 建立后立即以 code 关闭
func closingSocket(code int) *fakeSocket {
	s := newFakeSocket(&websocket.CloseError{Code: code})
	close(s.in)
	return s
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-s.in:
		if !ok {
			return 0, nil, s.closeErr
		}
		return websocket.TextMessage, data, nil
	case <-s.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
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

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	for i, w := range s.written {
		out[i] = string(w)
	}
	return out
}

// fakeDialer 按调用序号返回连接
type fakeDialer struct {
	next  func(n int) (Socket, error)
	dials atomic.Int32

	mu   sync.Mutex
	urls []string
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	n := int(d.dials.Add(1))
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	return d.next(n)
}

func (d *fakeDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// fakeCredentials 固定凭证，前 failures 次返回错误
type fakeCredentials struct {
	token       string
	failures    atomic.Int32
	gets        atomic.Int32
	invalidated atomic.Int32
}

func (f *fakeCredentials) Get(ctx context.Context) (string, error) {
	f.gets.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return "", errors.New("credential unavailable")
	}
	return f.token, nil
}

func (f *fakeCredentials) Invalidate() {
	f.invalidated.Add(1)
}
