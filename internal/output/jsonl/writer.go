// Package jsonl 记录已应用的推送更新，每行一条 JSON 记录。
// 写入只做投递，编码与文件 I/O 在后台 goroutine 完成；缓冲区满时丢弃并计数。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"marketsync/internal/util/timeutil"
)

var (
	// ErrClosed 写入器已关闭
	ErrClosed = errors.New("writer 已关闭")
	// ErrBufferFull 缓冲区已满，记录被丢弃
	ErrBufferFull = errors.New("写入缓冲区已满")
)

// Record 一条输出记录
type Record struct {
	// Channel 来源通道: list, detail, book, trades
	Channel string `json:"channel"`
	// Kind 记录类型: tokens, metrics, tags, token ...
	Kind string `json:"kind"`
	// TsMs 记录时间（毫秒）
	TsMs int64 `json:"ts_ms"`
	// Data 记录内容
	Data any `json:"data"`
}

type opType int

const (
	opWrite opType = iota
	opFlush
	opClose
)

type op struct {
	typ  opType
	val  any
	done chan error
}

// Writer 异步 JSONL 写入器
type Writer struct {
	path string
	ch   chan op

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
	sendMu    sync.Mutex

	// dropped 缓冲区满丢弃数
	dropped atomic.Uint64
	// failed 编码或写入失败数
	failed atomic.Uint64

	wg sync.WaitGroup
}

// NewWriter 创建写入器，以追加方式打开文件
// 参数 path: 输出文件路径
// 参数 bufferSize: 待写入记录上限
func NewWriter(path string, bufferSize int) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		path: path,
		ch:   make(chan op, bufferSize),
	}
	w.wg.Add(1)
	go w.loop(f)
	return w, nil
}

// Path 输出文件路径
func (w *Writer) Path() string {
	return w.path
}

// Record 写入一条带时间戳的记录；w 为 nil 时忽略
func (w *Writer) Record(channel, kind string, data any) error {
	if w == nil {
		return nil
	}
	return w.Write(Record{Channel: channel, Kind: kind, TsMs: timeutil.NowMs(), Data: data})
}

// Write 投递任意值，不阻塞调用方
func (w *Writer) Write(v any) error {
	if w == nil {
		return fmt.Errorf("writer 为空")
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if w.closed.Load() {
		return ErrClosed
	}
	select {
	case w.ch <- op{typ: opWrite, val: v}:
		return nil
	default:
		w.dropped.Add(1)
		return ErrBufferFull
	}
}

// Flush 等待已投递的记录写入文件
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	w.sendMu.Lock()
	if w.closed.Load() {
		w.sendMu.Unlock()
		return nil
	}
	done := make(chan error, 1)
	w.ch <- op{typ: opFlush, done: done}
	w.sendMu.Unlock()
	return <-done
}

// Close 关闭写入器（会先 flush）
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() {
		w.sendMu.Lock()
		w.closed.Store(true)
		done := make(chan error, 1)
		w.ch <- op{typ: opClose, done: done}
		w.sendMu.Unlock()
		w.closeErr = <-done
	})
	w.wg.Wait()
	return w.closeErr
}

// Dropped 缓冲区满丢弃的记录数
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Failed 编码或写入失败的记录数
func (w *Writer) Failed() uint64 {
	return w.failed.Load()
}

func (w *Writer) loop(f *os.File) {
	defer w.wg.Done()
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20)
	for req := range w.ch {
		switch req.typ {
		case opWrite:
			b, err := json.Marshal(req.val)
			if err != nil {
				w.failed.Add(1)
				continue
			}
			b = append(b, '\n')
			if _, err := bw.Write(b); err != nil {
				w.failed.Add(1)
			}
		case opFlush:
			req.done <- bw.Flush()
		case opClose:
			req.done <- bw.Flush()
			return
		}
	}
}
