package reactor

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// runTestLoop constructs an EventLoop on a dedicated goroutine and runs
// Loop() there too, matching how EventLoopThread binds a loop's tid to
// the same OS thread that later blocks in Poll. Building the loop on the
// test goroutine instead (as newTestLoop does) and running Loop() on a
// separate one would leave loop.tid pointing at the wrong thread, making
// IsInLoopThread checks from the test goroutine spuriously return true.
func runTestLoop(t *testing.T) (*EventLoop, <-chan struct{}) {
	t.Helper()
	loopCh := make(chan *EventLoop, 1)
	done := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		loop, err := NewEventLoop()
		assert.NoError(t, err)
		loopCh <- loop
		loop.Loop()
		close(done)
	}()
	return <-loopCh, done
}

func TestEventLoopIsInLoopThread(t *testing.T) {
	loop := newTestLoop(t)
	assert.True(t, loop.IsInLoopThread())
}

func TestEventLoopRunInLoopExecutesImmediatelyOnOwnThread(t *testing.T) {
	loop := newTestLoop(t)
	ran := false
	loop.RunInLoop(func() { ran = true })
	assert.True(t, ran)
}

func TestEventLoopQueueInLoopDrainsDuringLoop(t *testing.T) {
	loop, done := runTestLoop(t)

	var ran atomic.Bool
	loop.QueueInLoop(func() {
		ran.Store(true)
		loop.Quit()
	})

	waitUntil(t, func() bool { return ran.Load() }, time.Second)
	<-done
	assert.True(t, ran.Load())
}

func TestEventLoopWakeupUnblocksPoll(t *testing.T) {
	loop, done := runTestLoop(t)

	time.Sleep(10 * time.Millisecond)
	loop.Quit()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after Quit")
	}
}

func waitUntil(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}
