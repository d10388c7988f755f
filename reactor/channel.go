package reactor

import (
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/gonet-reactor/gonet-reactor/log"
)

const (
	noneEvent  = 0
	readEvent  = unix.EPOLLIN | unix.EPOLLPRI
	writeEvent = unix.EPOLLOUT
)

// Channel is a non-owning wrapper around a file descriptor that is
// registered with exactly one EventLoop's Poller. It tracks the events
// the descriptor is interested in and dispatches the events the poller
// reports back on it to whichever callbacks have been set.
//
// A Channel never owns fd: closing the descriptor is the owner's job
// once the Channel has been Remove()d.
type Channel struct {
	loop *EventLoop
	fd   int

	events  int
	revents int
	index   int // poller state tag: new/added/deleted

	tie    atomic.Pointer[any]
	tied   bool

	readCallback  func(receiveTime Timestamp)
	writeCallback func()
	closeCallback func()
	errorCallback func()

	eventHandling   bool
	addedToLoop     bool
}

// NewChannel creates a Channel for fd, owned by loop. It is not
// registered with the poller until EnableReading/EnableWriting is
// called.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:  loop,
		fd:    fd,
		index: channelStateNew,
	}
}

// Fd returns the underlying descriptor.
func (c *Channel) Fd() int { return c.fd }

// Events returns the event mask currently registered with the poller.
func (c *Channel) Events() int { return c.events }

// SetRevents stores the event mask the poller reported ready; called
// only by Poller.Poll in the owning loop's thread.
func (c *Channel) SetRevents(revents int) { c.revents = revents }

// Index returns the Poller's internal state tag for this channel.
func (c *Channel) Index() int { return c.index }

// SetIndex sets the Poller's internal state tag.
func (c *Channel) SetIndex(index int) { c.index = index }

// OwnerLoop returns the EventLoop this Channel is registered with.
func (c *Channel) OwnerLoop() *EventLoop { return c.loop }

// SetReadCallback, SetWriteCallback, SetCloseCallback and
// SetErrorCallback install the callbacks HandleEvent dispatches to.
func (c *Channel) SetReadCallback(cb func(receiveTime Timestamp)) { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb func())                    { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb func())                     { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb func())                     { c.errorCallback = cb }

// Tie binds the channel's dispatch lifetime to obj: HandleEvent takes a
// local copy of the tied pointer at entry and holds it for the whole
// dispatch, so obj stays reachable (and so un-GC'd) for the duration of
// a single HandleEvent call even if every other reference to it is
// dropped by a callback partway through — Go's closest equivalent to
// the weak-pointer upgrade the reference implementation uses to guard
// against touching an object that has started tearing down.
// TcpConnection ties its Channel to itself at ConnectEstablished.
func (c *Channel) Tie(obj interface{}) {
	c.tied = true
	c.tie.Store(&obj)
}

// EnableReading, DisableReading, EnableWriting, DisableWriting and
// DisableAll adjust the registered event mask and push the change to
// the owning loop's Poller via Update.
func (c *Channel) EnableReading() {
	c.events |= readEvent
	c.update()
}

func (c *Channel) DisableReading() {
	c.events &^= readEvent
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= writeEvent
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= writeEvent
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = noneEvent
	c.update()
}

// IsNoneEvent, IsWriting and IsReading report the interest currently
// registered, independent of what last fired.
func (c *Channel) IsNoneEvent() bool { return c.events == noneEvent }
func (c *Channel) IsWriting() bool   { return c.events&writeEvent != 0 }
func (c *Channel) IsReading() bool   { return c.events&readEvent != 0 }

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.UpdateChannel(c)
}

// Remove deregisters the channel from its owning loop's Poller. The
// channel must be idle (IsNoneEvent) before calling this.
func (c *Channel) Remove() {
	c.addedToLoop = false
	c.loop.RemoveChannel(c)
}

// HandleEvent dispatches the last-polled revents to the installed
// callbacks, in the fixed order: close, error, read, write. If the
// channel was tied, the guard object is snapshotted once up front (and
// the dispatch skipped if that snapshot is nil) so the guard stays
// reachable for the whole dispatch regardless of what any individual
// callback does to its own references.
func (c *Channel) HandleEvent(receiveTime Timestamp) {
	if c.tied {
		guard := c.tie.Load()
		if guard == nil || *guard == nil {
			return
		}
		c.handleEventWithGuard(receiveTime)
		return
	}
	c.handleEventWithGuard(receiveTime)
}

func (c *Channel) handleEventWithGuard(receiveTime Timestamp) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if (c.revents&unix.EPOLLHUP) != 0 && (c.revents&unix.EPOLLIN) == 0 {
		log.L.Debug("channel closed", zap.Int("fd", c.fd))
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}

	if c.revents&unix.EPOLLERR != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}

	if c.revents&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}

	if c.revents&unix.EPOLLOUT != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
