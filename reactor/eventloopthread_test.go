package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventLoopThreadStartLoopReturnsRunningLoop(t *testing.T) {
	var initCalled bool
	th := NewEventLoopThread(func(loop *EventLoop) { initCalled = true }, "worker0")

	loop := th.StartLoop()
	assert.NotNil(t, loop)
	assert.True(t, initCalled)

	th.Stop()
	time.Sleep(50 * time.Millisecond)
}

func TestEventLoopThreadPoolRoundRobin(t *testing.T) {
	base := newTestLoop(t)
	pool := NewEventLoopThreadPool(base, "pool")
	pool.SetNumThreads(2)
	pool.Start(nil)
	defer pool.Stop()

	first := pool.GetNextLoop()
	second := pool.GetNextLoop()
	third := pool.GetNextLoop()

	assert.NotSame(t, first, second)
	assert.Same(t, first, third)
}

func TestEventLoopThreadPoolZeroThreadsUsesBaseLoop(t *testing.T) {
	base := newTestLoop(t)
	pool := NewEventLoopThreadPool(base, "pool")

	var cbLoop *EventLoop
	pool.Start(func(loop *EventLoop) { cbLoop = loop })

	assert.Same(t, base, pool.GetNextLoop())
	assert.Same(t, base, cbLoop)
}
