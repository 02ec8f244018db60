package feed

import (
	"errors"
	"fmt"
)

// State 连接状态
type State int32

const (
	// StateIdle 尚未激活
	StateIdle State = iota
	// StateConnecting 正在获取凭证或握手
	StateConnecting
	// StateOpen 连接已建立
	StateOpen
	// StateReconnecting 等待退避后重连
	StateReconnecting
	// StateClosed 终止状态，不再重连
	StateClosed
)

// String 状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// 服务端关闭码
const (
	// CodeAbnormal 异常断开（无关闭帧）
	CodeAbnormal = 1006
	// CodeConnectionLimit 连接数超限
	CodeConnectionLimit = 4011
	// CodeAuthInvalid 凭证无效
	CodeAuthInvalid = 4020
	// CodeAuthExpired 凭证过期
	CodeAuthExpired = 4021
)

// IsAuthCode 是否为授权失败关闭码
func IsAuthCode(code int) bool {
	return code == CodeAuthInvalid || code == CodeAuthExpired
}

// Policy 关闭后的重连策略
type Policy struct {
	// FatalCodes 不重连的关闭码
	FatalCodes map[int]bool
	// FatalOnHandshakeRejected 握手被 401/403 拒绝时不重连
	FatalOnHandshakeRejected bool
	// MaxAttempts 最大连续重连次数，<=0 不限制
	MaxAttempts int
}

// ListPolicy 列表通道策略: 除主动关闭外均重连
func ListPolicy(maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts}
}

// DetailPolicy 详情通道策略: 连接超限与授权失败不重连
func DetailPolicy(maxAttempts int) Policy {
	return Policy{
		FatalCodes: map[int]bool{
			CodeConnectionLimit: true,
			CodeAuthInvalid:     true,
			CodeAuthExpired:     true,
		},
		FatalOnHandshakeRejected: true,
		MaxAttempts:              maxAttempts,
	}
}

// CloseEvent 一次连接结束（或建连失败）的描述
type CloseEvent struct {
	// Code 关闭码，建连失败时为 CodeAbnormal
	Code int
	// UserInitiated 主动关闭
	UserInitiated bool
	// HandshakeRejected 握手被 401/403 拒绝
	HandshakeRejected bool
}

// Action 关闭后的动作
type Action int

const (
	// ActionReconnect 退避后重连
	ActionReconnect Action = iota
	// ActionStop 主动关闭，静默结束
	ActionStop
	// ActionFatal 不可重试，向调用方报告
	ActionFatal
	// ActionExhausted 重试次数耗尽，向调用方报告
	ActionExhausted
)

// Decide 根据当前状态与关闭事件决定下一个状态和动作
// attempts 为已连续重连的次数
func Decide(state State, ev CloseEvent, attempts int, p Policy) (State, Action) {
	if ev.UserInitiated || state == StateClosed {
		return StateClosed, ActionStop
	}
	if p.FatalCodes[ev.Code] || (ev.HandshakeRejected && p.FatalOnHandshakeRejected) {
		return StateClosed, ActionFatal
	}
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return StateClosed, ActionExhausted
	}
	return StateReconnecting, ActionReconnect
}

// ErrReconnectExhausted 重连次数耗尽
var ErrReconnectExhausted = errors.New("重连次数已耗尽")

// ExhaustedError 重连次数耗尽，errors.Is 匹配 ErrReconnectExhausted
type ExhaustedError struct {
	Channel  string
	Attempts int
}

// Error 实现 error
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s %s (%d)", e.Channel, ErrReconnectExhausted.Error(), e.Attempts)
}

// Unwrap 返回 ErrReconnectExhausted
func (e *ExhaustedError) Unwrap() error { return ErrReconnectExhausted }

// ChannelOf 返回不可重试错误所属通道，未知时为空
func ChannelOf(err error) string {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Channel
	}
	var ee *ExhaustedError
	if errors.As(err, &ee) {
		return ee.Channel
	}
	return ""
}

// CloseError 不可重试的关闭
type CloseError struct {
	// Channel 通道名称
	Channel string
	// Code 关闭码；握手被拒时为 HTTP 状态码
	Code int
	// HandshakeRejected 握手被拒绝
	HandshakeRejected bool
}

// Error 实现 error
func (e *CloseError) Error() string {
	if e.HandshakeRejected {
		return fmt.Sprintf("%s 握手被拒绝: HTTP %d", e.Channel, e.Code)
	}
	switch e.Code {
	case CodeConnectionLimit:
		return fmt.Sprintf("%s 连接数超限 (%d)", e.Channel, e.Code)
	case CodeAuthInvalid, CodeAuthExpired:
		return fmt.Sprintf("%s 授权失败 (%d)", e.Channel, e.Code)
	default:
		return fmt.Sprintf("%s 连接关闭 (%d)", e.Channel, e.Code)
	}
}
