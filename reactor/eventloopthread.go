package reactor

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/wuyongjia/threadpool"

	"github.com/gonet-reactor/gonet-reactor/log"
)

// ThreadInitCallback runs on a freshly spawned reactor thread, after
// its EventLoop exists but before Loop() starts, so callers can tag
// the thread or stash the loop somewhere before it starts blocking in
// epoll_wait.
type ThreadInitCallback func(loop *EventLoop)

// EventLoopThread pairs one EventLoop with a single dedicated OS
// thread. The thread is realized as a one-worker, one-slot
// threadpool.Pool job rather than a bare goroutine, so the pool's
// submit/drain semantics (and the teacher's dependency) carry over
// even though each pool here only ever runs a single long-lived job.
type EventLoopThread struct {
	pool *threadpool.Pool
	name string
	cb   ThreadInitCallback

	mu      sync.Mutex
	cond    *sync.Cond
	loop    *EventLoop
	exiting bool
}

// NewEventLoopThread constructs an EventLoopThread that has not yet
// been started.
func NewEventLoopThread(cb ThreadInitCallback, name string) *EventLoopThread {
	t := &EventLoopThread{
		name: name,
		cb:   cb,
	}
	t.cond = sync.NewCond(&t.mu)
	t.pool = threadpool.NewWithFunc(1, 1, func(payload interface{}) {
		t.threadFunc()
	})
	return t
}

// StartLoop starts the backing thread and blocks until its EventLoop
// has finished constructing, returning it. Safe to call once.
func (t *EventLoopThread) StartLoop() *EventLoop {
	t.pool.Invoke(struct{}{})

	t.mu.Lock()
	for t.loop == nil {
		t.cond.Wait()
	}
	loop := t.loop
	t.mu.Unlock()

	return loop
}

func (t *EventLoopThread) threadFunc() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	loop, err := NewEventLoop()
	if err != nil {
		log.L.Error("failed to create event loop for thread", zap.String("thread", t.name), zap.Error(err))
		return
	}

	if t.cb != nil {
		t.cb(loop)
	}

	t.mu.Lock()
	t.loop = loop
	t.cond.Signal()
	t.mu.Unlock()

	if err := loop.Loop(); err != nil {
		log.L.Error("event loop exited with error", zap.String("thread", t.name), zap.Error(err))
	}

	t.mu.Lock()
	t.loop = nil
	t.mu.Unlock()
}

// Stop asks the thread's loop to quit. It does not block for the
// thread to fully exit; callers that need that guarantee should pair
// this with their own synchronization (the reference implementation
// joins a std::thread here, which has no direct Go analogue over a
// pooled worker).
func (t *EventLoopThread) Stop() {
	t.exiting = true
	t.mu.Lock()
	loop := t.loop
	t.mu.Unlock()
	if loop != nil {
		loop.Quit()
	}
}
