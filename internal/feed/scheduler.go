package feed

import (
	"sync"
	"time"
)

// TaskID 调度任务标识
type TaskID uint64

// Scheduler 通道私有的定时任务调度器
// 任务串行执行；CancelAll 返回后不会再有任务运行。
// 任务内部不得同步调用 CancelAll（会死锁），需要时另起 goroutine。
type Scheduler struct {
	mu     sync.Mutex
	exec   sync.Mutex
	timers map[TaskID]*time.Timer
	seq    TaskID
	closed bool
}

// NewScheduler 创建调度器
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[TaskID]*time.Timer)}
}

// After 在 d 之后执行 fn；d<=0 表示尽快在调度 goroutine 上执行
// 调度器已关闭时返回 false
func (s *Scheduler) After(d time.Duration, fn func()) (TaskID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, false
	}
	s.seq++
	id := s.seq
	s.timers[id] = time.AfterFunc(d, func() { s.fire(id, fn) })
	return id, true
}

func (s *Scheduler) fire(id TaskID, fn func()) {
	s.exec.Lock()
	defer s.exec.Unlock()

	s.mu.Lock()
	_, ok := s.timers[id]
	if s.closed || !ok {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	fn()
}

// Cancel 取消单个任务，返回任务是否仍在等待
func (s *Scheduler) Cancel(id TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if ok {
		t.Stop()
		delete(s.timers, id)
	}
	return ok
}

// CancelAll 取消全部任务并关闭调度器，等待正在运行的任务结束
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	// 等待进行中的任务
	s.exec.Lock()
	s.exec.Unlock()
}

// pendingCount 等待中的任务数
func (s *Scheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// isClosed 是否已关闭
func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
