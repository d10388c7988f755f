package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T) *EventLoop {
	t.Helper()
	loop, err := NewEventLoop()
	assert.NoError(t, err)
	return loop
}

func TestChannelEnableDisableReading(t *testing.T) {
	loop := newTestLoop(t)
	r, w, err := pipeFDs(t)
	assert.NoError(t, err)
	defer closeFDs(r, w)

	ch := NewChannel(loop, r)
	assert.True(t, ch.IsNoneEvent())

	ch.EnableReading()
	assert.True(t, ch.IsReading())
	assert.False(t, ch.IsNoneEvent())

	ch.DisableReading()
	assert.True(t, ch.IsNoneEvent())
}

func TestChannelEnableDisableWriting(t *testing.T) {
	loop := newTestLoop(t)
	r, w, err := pipeFDs(t)
	assert.NoError(t, err)
	defer closeFDs(r, w)

	ch := NewChannel(loop, w)
	ch.EnableWriting()
	assert.True(t, ch.IsWriting())

	ch.DisableWriting()
	assert.False(t, ch.IsWriting())
}

func TestChannelHandleEventDispatchOrder(t *testing.T) {
	loop := newTestLoop(t)
	r, w, err := pipeFDs(t)
	assert.NoError(t, err)
	defer closeFDs(r, w)

	var order []string
	ch := NewChannel(loop, r)
	ch.SetCloseCallback(func() { order = append(order, "close") })
	ch.SetErrorCallback(func() { order = append(order, "error") })
	ch.SetReadCallback(func(Timestamp) { order = append(order, "read") })
	ch.SetWriteCallback(func() { order = append(order, "write") })

	ch.SetRevents(unix.EPOLLERR | unix.EPOLLIN | unix.EPOLLOUT)
	ch.HandleEvent(Now())
	assert.Equal(t, []string{"error", "read", "write"}, order)
}

func TestChannelHandleEventHupWithoutReadFiresClose(t *testing.T) {
	loop := newTestLoop(t)
	r, w, err := pipeFDs(t)
	assert.NoError(t, err)
	defer closeFDs(r, w)

	closed := false
	ch := NewChannel(loop, r)
	ch.SetCloseCallback(func() { closed = true })
	ch.SetRevents(unix.EPOLLHUP)
	ch.HandleEvent(Now())
	assert.True(t, closed)
}

func TestChannelTieSkipsDispatchOnceGuardGone(t *testing.T) {
	loop := newTestLoop(t)
	r, w, err := pipeFDs(t)
	assert.NoError(t, err)
	defer closeFDs(r, w)

	fired := false
	ch := NewChannel(loop, r)
	ch.SetReadCallback(func(Timestamp) { fired = true })
	ch.SetRevents(unix.EPOLLIN)

	guard := &struct{}{}
	ch.Tie(guard)
	ch.HandleEvent(Now())
	assert.True(t, fired)

	fired = false
	ch.tie.Store(nil)
	ch.HandleEvent(Now())
	assert.False(t, fired)
}
