package reactor

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/gonet-reactor/gonet-reactor/log"
)

var (
	loopRegistryMu sync.Mutex
	loopByTid      = make(map[int]*EventLoop)
)

// EventLoop is the "one loop per thread" reactor core: it owns a
// Poller, runs on a single locked OS thread for its entire lifetime,
// and is the only place Channels belonging to it may be mutated from.
// Work from other goroutines reaches it only through RunInLoop /
// QueueInLoop.
type EventLoop struct {
	looping  atomic.Bool
	quit     atomic.Bool
	tid      int

	poller *Poller

	wakeupFd      int
	wakeupChannel *Channel

	mu              sync.Mutex
	pendingFunctors []func()
	callingPending  atomic.Bool

	activeChannels []*Channel
	pollReturnTime Timestamp
}

// NewEventLoop constructs an EventLoop bound to the calling OS thread.
// The caller must have already called runtime.LockOSThread() (or must
// call Loop from a goroutine that will, e.g. via eventloopthread.go)
// since the thread-id binding is captured here and checked on every
// cross-thread call thereafter.
func NewEventLoop() (*EventLoop, error) {
	poller, err := NewPoller()
	if err != nil {
		return nil, err
	}

	wakeupFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		log.L.Error("eventfd create failed", zap.Error(err))
		panic(err)
	}

	loop := &EventLoop{
		tid:    unix.Gettid(),
		poller: poller,
		wakeupFd: wakeupFd,
	}
	loop.wakeupChannel = NewChannel(loop, wakeupFd)
	loop.wakeupChannel.SetReadCallback(func(Timestamp) { loop.handleWakeupRead() })
	loop.wakeupChannel.EnableReading()

	loopRegistryMu.Lock()
	if existing, ok := loopByTid[loop.tid]; ok {
		log.L.Error("another EventLoop exists on this thread",
			zap.Int("tid", loop.tid), zap.Bool("existing_running", existing.looping.Load()))
	} else {
		loopByTid[loop.tid] = loop
	}
	loopRegistryMu.Unlock()

	return loop, nil
}

// Loop runs the poll/handle-events/drain-pending cycle until Quit is
// called. It must run on the OS thread the EventLoop was constructed
// on; callers typically pin the thread with runtime.LockOSThread()
// beforehand (EventLoopThread does this).
func (l *EventLoop) Loop() error {
	if l.looping.Load() {
		return ErrLoopAlreadyRunning
	}

	runtime.LockOSThread()
	l.looping.Store(true)
	l.quit.Store(false)

	log.L.Debug("event loop starting", zap.Int("tid", l.tid))

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		l.pollReturnTime, l.activeChannels = l.poller.Poll(PollTimeoutMs, l.activeChannels)

		for _, ch := range l.activeChannels {
			ch.HandleEvent(l.pollReturnTime)
		}

		l.doPendingFunctors()
	}

	log.L.Debug("event loop stopped", zap.Int("tid", l.tid))
	l.looping.Store(false)

	loopRegistryMu.Lock()
	if loopByTid[l.tid] == l {
		delete(loopByTid, l.tid)
	}
	loopRegistryMu.Unlock()

	return nil
}

// Quit requests the loop stop at the end of its current iteration.
// Safe to call from any goroutine; if called off the loop's own
// thread it wakes the loop so the quit flag is observed promptly.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.Wakeup()
	}
}

// RunInLoop executes cb immediately if called from the loop's own
// thread, or queues it to run on the next iteration otherwise.
func (l *EventLoop) RunInLoop(cb func()) {
	if l.IsInLoopThread() {
		cb()
		return
	}
	l.QueueInLoop(cb)
}

// QueueInLoop appends cb to the pending-functor queue and wakes the
// loop if necessary: either because the call came from another thread,
// or because the loop is already in the middle of draining pending
// functors (and would otherwise not notice the new one until the next
// poll timeout).
func (l *EventLoop) QueueInLoop(cb func()) {
	l.mu.Lock()
	l.pendingFunctors = append(l.pendingFunctors, cb)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.callingPending.Load() {
		l.Wakeup()
	}
}

// Wakeup forces a blocked epoll_wait to return immediately by writing
// to the loop's eventfd.
func (l *EventLoop) Wakeup() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(l.wakeupFd, buf[:]); err != nil {
		log.L.Error("wakeup write failed", zap.Error(err))
	}
}

func (l *EventLoop) handleWakeupRead() {
	var buf [8]byte
	if _, err := unix.Read(l.wakeupFd, buf[:]); err != nil {
		log.L.Error("wakeup read failed", zap.Error(err))
	}
}

// doPendingFunctors runs every queued functor, swapping the queue out
// under the lock first so new functors queued mid-drain (including by
// the functors themselves) don't extend the critical section.
func (l *EventLoop) doPendingFunctors() {
	l.callingPending.Store(true)
	defer l.callingPending.Store(false)

	l.mu.Lock()
	functors := l.pendingFunctors
	l.pendingFunctors = nil
	l.mu.Unlock()

	for _, f := range functors {
		f()
	}
}

// UpdateChannel and RemoveChannel forward to the Poller; they must
// only be called from the loop's own thread. A call from any other
// thread is logged by assertInLoopThread but still goes through.
func (l *EventLoop) UpdateChannel(c *Channel) {
	l.assertInLoopThread()
	l.poller.UpdateChannel(c)
}

func (l *EventLoop) RemoveChannel(c *Channel) {
	l.assertInLoopThread()
	l.poller.RemoveChannel(c)
}

// HasChannel reports whether c is currently registered with this
// loop's poller.
func (l *EventLoop) HasChannel(c *Channel) bool {
	return l.poller.HasChannel(c)
}

// IsInLoopThread reports whether the calling goroutine is running on
// the OS thread this EventLoop was bound to.
func (l *EventLoop) IsInLoopThread() bool {
	return unix.Gettid() == l.tid
}

func (l *EventLoop) assertInLoopThread() {
	if !l.IsInLoopThread() {
		log.L.Error("function called from outside its owning loop thread",
			zap.Int("loop_tid", l.tid), zap.Int("caller_tid", unix.Gettid()))
	}
}

// PollReturnTime returns the timestamp of the most recent Poll call.
func (l *EventLoop) PollReturnTime() Timestamp { return l.pollReturnTime }

// Tid returns the OS thread id this loop is bound to.
func (l *EventLoop) Tid() int { return l.tid }
