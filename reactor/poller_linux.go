package reactor

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/gonet-reactor/gonet-reactor/log"
)

// Poller's per-channel state tags, matching the reference epoll poller
// exactly: a channel starts New, becomes Added once epoll_ctl(ADD)
// succeeds, and becomes Deleted (but stays in the fd table) once its
// event mask goes empty, so a later re-enable can ADD it again instead
// of allocating a fresh Channel.
const (
	channelStateNew     = -1
	channelStateAdded   = 1
	channelStateDeleted = 2
)

// Poller is the Linux epoll-backed multiplexer owned by exactly one
// EventLoop. It is deliberately level-triggered: EPOLLET is never set,
// so a partially-drained readiness edge fires again on the next Poll
// instead of requiring callers to loop-until-EAGAIN on every wakeup.
type Poller struct {
	epollFd int

	mu       sync.RWMutex
	channels map[int]*Channel

	events []unix.EpollEvent
}

// NewPoller creates the epoll instance backing a single EventLoop.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{
		epollFd:  fd,
		channels: make(map[int]*Channel),
		events:   make([]unix.EpollEvent, InitialPollEvents),
	}, nil
}

// Close releases the epoll descriptor. Must only be called after the
// owning EventLoop has stopped polling.
func (p *Poller) Close() error {
	return unix.Close(p.epollFd)
}

// Poll blocks up to timeoutMs waiting for ready descriptors and
// appends the corresponding Channels to activeChannels, returning the
// time the wait returned and the (possibly grown) slice.
func (p *Poller) Poll(timeoutMs int, activeChannels []*Channel) (Timestamp, []*Channel) {
	n, err := unix.EpollWait(p.epollFd, p.events, timeoutMs)
	now := Now()

	switch {
	case n > 0:
		activeChannels = p.fillActiveChannels(n, activeChannels)
		if n == len(p.events) {
			p.events = make([]unix.EpollEvent, len(p.events)*2)
		}
	case n == 0:
		// timeout, nothing ready
	default:
		if err != unix.EINTR {
			log.L.Error("epoll_wait failed", zap.Error(err))
		}
	}
	return now, activeChannels
}

func (p *Poller) fillActiveChannels(n int, activeChannels []*Channel) []*Channel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		ch, ok := p.channels[fd]
		if !ok {
			continue
		}
		ch.SetRevents(int(p.events[i].Events))
		activeChannels = append(activeChannels, ch)
	}
	return activeChannels
}

// UpdateChannel registers a new channel or pushes an events-mask
// change for one already registered, driving epoll_ctl(ADD/MOD/DEL)
// off the New/Added/Deleted state tag on the channel itself.
func (p *Poller) UpdateChannel(c *Channel) {
	index := c.Index()
	if index == channelStateNew || index == channelStateDeleted {
		if index == channelStateNew {
			p.mu.Lock()
			p.channels[c.Fd()] = c
			p.mu.Unlock()
		}
		c.SetIndex(channelStateAdded)
		p.update(unix.EPOLL_CTL_ADD, c)
		return
	}
	if c.IsNoneEvent() {
		p.update(unix.EPOLL_CTL_DEL, c)
		c.SetIndex(channelStateDeleted)
	} else {
		p.update(unix.EPOLL_CTL_MOD, c)
	}
}

// RemoveChannel deregisters a channel entirely, dropping it from the
// fd table and issuing epoll_ctl(DEL) if it was still armed.
func (p *Poller) RemoveChannel(c *Channel) {
	p.mu.Lock()
	delete(p.channels, c.Fd())
	p.mu.Unlock()

	if c.Index() == channelStateAdded {
		p.update(unix.EPOLL_CTL_DEL, c)
	}
	c.SetIndex(channelStateNew)
}

// HasChannel reports whether c is the exact Channel currently
// registered for its fd, using pointer identity rather than fd
// membership: a stale Channel for a reused fd must not be mistaken for
// the live one (see design notes).
func (p *Poller) HasChannel(c *Channel) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	found, ok := p.channels[c.Fd()]
	return ok && found == c
}

func (p *Poller) update(operation int, c *Channel) {
	event := unix.EpollEvent{
		Events: uint32(c.Events()),
		Fd:     int32(c.Fd()),
	}
	if err := unix.EpollCtl(p.epollFd, operation, c.Fd(), &event); err != nil {
		log.L.Error("epoll_ctl failed", zap.Int("fd", c.Fd()), zap.Int("op", operation), zap.Error(err))
	}
}
