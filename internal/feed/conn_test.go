package feed

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsync/internal/util/backoff"
)

const waitTimeout = 2 * time.Second

func newTestConn(d Dialer, creds CredentialSource, policy Policy) *Conn {
	return NewConn(Config{
		Name:        "test",
		URL:         func(token string) string { return "wss://feed.test/stream?token=" + token },
		Dialer:      d,
		Credentials: creds,
		Policy:      policy,
		Backoff:     backoff.New(5*time.Millisecond, time.Second, 0),
	})
}

func waitErr(t *testing.T, c *Conn) error {
	t.Helper()
	select {
	case err := <-c.Err():
		return err
	case <-time.After(waitTimeout):
		t.Fatal("等待错误超时")
		return nil
	}
}

func TestConn_FatalCodeDoesNotReconnect(t *testing.T) {
	for _, code := range []int{CodeConnectionLimit, CodeAuthInvalid, CodeAuthExpired} {
		d := &fakeDialer{next: func(int) (Socket, error) { return closingSocket(code), nil }}
		creds := &fakeCredentials{token: "tok"}
		c := newTestConn(d, creds, DetailPolicy(10))

		var retries int
		c.onRetry = func(int, time.Duration) { retries++ }
		c.Start(context.Background())

		err := waitErr(t, c)
		var ce *CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, code, ce.Code)

		<-c.Done()
		assert.Equal(t, int32(1), d.dials.Load(), "code %d", code)
		assert.Equal(t, 0, retries)
		assert.Equal(t, StateClosed, c.State())
		if IsAuthCode(code) {
			assert.Equal(t, int32(1), creds.invalidated.Load())
		} else {
			assert.Equal(t, int32(0), creds.invalidated.Load())
		}
		c.Close()
	}
}

func TestConn_AbnormalCloseReconnectsWithGrowingDelay(t *testing.T) {
	d := &fakeDialer{next: func(n int) (Socket, error) {
		if n == 1 {
			return closingSocket(CodeAbnormal), nil
		}
		return nil, errors.New("connection refused")
	}}
	c := newTestConn(d, &fakeCredentials{token: "tok"}, DetailPolicy(0))

	var mu sync.Mutex
	var delays []time.Duration
	c.onRetry = func(_ int, delay time.Duration) {
		mu.Lock()
		delays = append(delays, delay)
		mu.Unlock()
	}
	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delays) >= 3
	}, waitTimeout, time.Millisecond)

	mu.Lock()
	got := append([]time.Duration(nil), delays[:3]...)
	mu.Unlock()
	assert.Less(t, got[0], got[1])
	assert.Less(t, got[1], got[2])
	assert.GreaterOrEqual(t, d.dials.Load(), int32(2))
}

func TestConn_HandshakeRejected(t *testing.T) {
	rejected := func(int) (Socket, error) {
		return nil, &HandshakeError{Status: http.StatusUnauthorized, Err: errors.New("bad handshake")}
	}

	t.Run("详情通道不重连", func(t *testing.T) {
		d := &fakeDialer{next: rejected}
		creds := &fakeCredentials{token: "tok"}
		c := newTestConn(d, creds, DetailPolicy(10))
		c.Start(context.Background())
		defer c.Close()

		var ce *CloseError
		require.ErrorAs(t, waitErr(t, c), &ce)
		assert.True(t, ce.HandshakeRejected)
		assert.Equal(t, http.StatusUnauthorized, ce.Code)
		assert.Equal(t, int32(1), creds.invalidated.Load())
	})

	t.Run("列表通道重连", func(t *testing.T) {
		d := &fakeDialer{next: rejected}
		c := newTestConn(d, &fakeCredentials{token: "tok"}, ListPolicy(0))
		c.Start(context.Background())
		defer c.Close()

		require.Eventually(t, func() bool { return d.dials.Load() >= 2 }, waitTimeout, time.Millisecond)
	})
}

func TestConn_ReconnectExhausted(t *testing.T) {
	d := &fakeDialer{next: func(int) (Socket, error) { return nil, errors.New("refused") }}
	c := newTestConn(d, &fakeCredentials{token: "tok"}, ListPolicy(2))
	c.Start(context.Background())
	defer c.Close()

	assert.ErrorIs(t, waitErr(t, c), ErrReconnectExhausted)
	<-c.Done()
	assert.Equal(t, int32(3), d.dials.Load())
}

func TestConn_ActivationGate(t *testing.T) {
	sock := newFakeSocket(nil)
	d := &fakeDialer{next: func(int) (Socket, error) { return sock, nil }}
	c := newTestConn(d, &fakeCredentials{token: "tok"}, ListPolicy(0))
	c.cfg.ActivationDelay = time.Hour
	c.Start(context.Background())
	defer c.Close()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), d.dials.Load())
	assert.Equal(t, StateIdle, c.State())

	c.Activate()
	require.Eventually(t, func() bool { return c.State() == StateOpen }, waitTimeout, time.Millisecond)
	assert.Equal(t, []string{"wss://feed.test/stream?token=tok"}, d.URLs())
}

func TestConn_WaitsForCredential(t *testing.T) {
	sock := newFakeSocket(nil)
	d := &fakeDialer{next: func(int) (Socket, error) { return sock, nil }}
	creds := &fakeCredentials{token: "tok"}
	creds.failures.Store(2)
	c := newTestConn(d, creds, DetailPolicy(10))
	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool { return c.State() == StateOpen }, waitTimeout, time.Millisecond)
	assert.Equal(t, int32(3), creds.gets.Load())
	assert.Equal(t, int32(1), d.dials.Load())
}

func TestConn_CloseIsSilent(t *testing.T) {
	sock := newFakeSocket(nil)
	d := &fakeDialer{next: func(int) (Socket, error) { return sock, nil }}
	c := newTestConn(d, &fakeCredentials{token: "tok"}, DetailPolicy(10))
	c.Start(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateOpen }, waitTimeout, time.Millisecond)

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, int32(1), d.dials.Load())
	select {
	case err := <-c.Err():
		t.Fatalf("主动关闭不应报告错误: %v", err)
	default:
	}
	assert.ErrorIs(t, c.Send(map[string]string{"type": "resync"}), ErrClosed)
}

func TestConn_CloseBeforeStart(t *testing.T) {
	d := &fakeDialer{next: func(int) (Socket, error) { return newFakeSocket(nil), nil }}
	c := newTestConn(d, &fakeCredentials{token: "tok"}, ListPolicy(0))
	require.NoError(t, c.Close())
	c.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), d.dials.Load())
}

func TestConn_ContextCancel(t *testing.T) {
	sock := newFakeSocket(nil)
	d := &fakeDialer{next: func(int) (Socket, error) { return sock, nil }}
	c := newTestConn(d, &fakeCredentials{token: "tok"}, ListPolicy(0))
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	require.Eventually(t, func() bool { return c.State() == StateOpen }, waitTimeout, time.Millisecond)

	cancel()
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatal("取消后主循环未退出")
	}
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, int32(1), d.dials.Load())
}

func TestConn_SendThrottled(t *testing.T) {
	sock := newFakeSocket(nil)
	d := &fakeDialer{next: func(int) (Socket, error) { return sock, nil }}
	c := NewConn(Config{
		Name:         "test",
		URL:          func(token string) string { return "wss://feed.test/stream?token=" + token },
		Dialer:       d,
		Credentials:  &fakeCredentials{token: "tok"},
		Policy:       ListPolicy(0),
		ControlRate:  0.001,
		ControlBurst: 2,
	})
	c.Start(context.Background())
	defer c.Close()
	require.Eventually(t, func() bool { return c.State() == StateOpen }, waitTimeout, time.Millisecond)

	msg := map[string]string{"type": "resync"}
	require.NoError(t, c.Send(msg))
	require.NoError(t, c.Send(msg))
	assert.ErrorIs(t, c.Send(msg), ErrThrottled)
	assert.Equal(t, []string{`{"type":"resync"}`, `{"type":"resync"}`}, sock.Written())
}

func TestConn_SendNotConnected(t *testing.T) {
	c := newTestConn(&fakeDialer{}, &fakeCredentials{token: "tok"}, ListPolicy(0))
	assert.ErrorIs(t, c.Send(map[string]string{"type": "resync"}), ErrNotConnected)
}

func TestConn_HeartbeatAndMessages(t *testing.T) {
	sock := newFakeSocket(nil)
	d := &fakeDialer{next: func(int) (Socket, error) { return sock, nil }}
	c := newTestConn(d, &fakeCredentials{token: "tok"}, ListPolicy(0))
	c.cfg.PingInterval = 5 * time.Millisecond

	received := make(chan string, 10)
	c.cfg.OnMessage = func(data []byte) { received <- string(data) }
	c.cfg.OnOpen = func(send func(any) error) {
		_ = send(map[string]any{"type": "subscribe", "tokens": []string{"a"}})
	}
	c.Start(context.Background())
	defer c.Close()

	sock.in <- []byte(`{"type":"pong"}`)
	select {
	case got := <-received:
		assert.Equal(t, `{"type":"pong"}`, got)
	case <-time.After(waitTimeout):
		t.Fatal("未收到消息")
	}

	require.Eventually(t, func() bool {
		for _, w := range sock.Written() {
			if w == string(pingMessage) {
				return true
			}
		}
		return false
	}, waitTimeout, time.Millisecond)

	written := sock.Written()
	require.NotEmpty(t, written)
	assert.True(t, strings.Contains(written[0], `"subscribe"`), "订阅应先于心跳发送")
}
