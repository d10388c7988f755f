package reactor

import (
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/gonet-reactor/gonet-reactor/log"
)

type connState int32

const (
	stateConnecting connState = iota
	stateConnected
	stateDisconnecting
	stateDisconnected
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateDisconnecting:
		return "disconnecting"
	case stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// CloseCallback is the internal (not user-facing) hook a TcpConnection
// invokes once it has reached Disconnected, so its owner (TcpServer)
// can drop it from the connection table.
type CloseCallback func(conn *TcpConnection)

// TcpConnection represents one accepted, established connection: its
// socket, its Channel, its input/output buffers and its state machine.
// It is reference-counted implicitly by Go's GC rather than by
// shared_ptr, but the Channel.Tie lifetime guard is still realized via
// an atomic snapshot (see Tie/ConnectEstablished below) to match the
// reference implementation's protection against a callback firing
// after the connection has started tearing down.
type TcpConnection struct {
	loop   *EventLoop
	name   string
	state  atomic.Int32
	reading bool

	sock *tcpSocket
	ch   *Channel

	localAddr InetAddress
	peerAddr  InetAddress

	inputBuffer  *Buffer
	outputBuffer *Buffer

	highWaterMark int

	connectionCallback     ConnectionCallback
	messageCallback        MessageCallback
	writeCompleteCallback  WriteCompleteCallback
	highWaterMarkCallback  HighWaterMarkCallback
	closeCallback          CloseCallback

	context interface{}
}

// NewTcpConnection wraps an already-accepted, non-blocking socket fd
// into a connection bound to loop. The connection is not yet in the
// Connected state and its Channel is not yet registered for reading;
// call ConnectEstablished once the owner has finished wiring
// callbacks.
func NewTcpConnection(loop *EventLoop, name string, sockFd int, localAddr, peerAddr InetAddress) *TcpConnection {
	sock := &tcpSocket{fd: sockFd}
	conn := &TcpConnection{
		loop:          loop,
		name:          name,
		sock:          sock,
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		inputBuffer:   NewBuffer(InitialBufferCapacity),
		outputBuffer:  NewBuffer(InitialBufferCapacity),
		highWaterMark: DefaultHighWaterMark,
		reading:       true,

		connectionCallback: defaultConnectionCallback,
		messageCallback:    defaultMessageCallback,
	}
	conn.state.Store(int32(stateConnecting))
	conn.ch = NewChannel(loop, sockFd)
	conn.ch.SetReadCallback(conn.handleRead)
	conn.ch.SetWriteCallback(conn.handleWrite)
	conn.ch.SetCloseCallback(conn.handleClose)
	conn.ch.SetErrorCallback(conn.handleError)

	if err := sock.SetKeepAlive(true); err != nil {
		log.L.Debug("set keepalive failed", zap.String("conn", name), zap.Error(err))
	}
	log.L.Debug("tcp connection created", zap.String("name", name), zap.Int("fd", sockFd))
	return conn
}

// Name returns the connection's server-assigned name
// ("{server}-{ip:port}#{id}").
func (c *TcpConnection) Name() string { return c.name }

// LocalAddr and PeerAddr return the endpoint addresses captured at
// accept time.
func (c *TcpConnection) LocalAddr() InetAddress { return c.localAddr }
func (c *TcpConnection) PeerAddr() InetAddress  { return c.peerAddr }

// Connected reports whether the connection is in the Connected state.
func (c *TcpConnection) Connected() bool {
	return connState(c.state.Load()) == stateConnected
}

// Disconnected reports whether the connection has fully torn down.
func (c *TcpConnection) Disconnected() bool {
	return connState(c.state.Load()) == stateDisconnected
}

func (c *TcpConnection) setState(s connState) { c.state.Store(int32(s)) }
func (c *TcpConnection) getState() connState  { return connState(c.state.Load()) }

// GetLoop returns the owning EventLoop.
func (c *TcpConnection) GetLoop() *EventLoop { return c.loop }

// Fd returns the underlying socket descriptor.
func (c *TcpConnection) Fd() int { return c.ch.Fd() }

// StartRead (re-)arms the Channel for readability; StopRead disarms it
// without touching the write interest, letting an application pause
// inbound delivery on a connection (e.g. to apply backpressure) while
// still being able to flush a pending write. Idempotent either way.
func (c *TcpConnection) StartRead() {
	c.loop.RunInLoop(func() {
		if !c.reading || !c.ch.IsReading() {
			c.ch.EnableReading()
			c.reading = true
		}
	})
}

func (c *TcpConnection) StopRead() {
	c.loop.RunInLoop(func() {
		if c.reading || c.ch.IsReading() {
			c.ch.DisableReading()
			c.reading = false
		}
	})
}

// Context and SetContext let a caller stash arbitrary per-connection
// application state (e.g. a parser, a session record) without this
// package needing to know its type.
func (c *TcpConnection) Context() interface{}      { return c.context }
func (c *TcpConnection) SetContext(ctx interface{}) { c.context = ctx }

// SetConnectionCallback, SetMessageCallback, SetWriteCompleteCallback
// and SetHighWaterMarkCallback install the user-facing callbacks.
// SetCloseCallback installs the internal teardown hook used by the
// owning TcpServer; application code should not call it directly.
func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }
func (c *TcpConnection) SetMessageCallback(cb MessageCallback)       { c.messageCallback = cb }
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCallback = cb
}
func (c *TcpConnection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = mark
}
func (c *TcpConnection) SetCloseCallback(cb CloseCallback) { c.closeCallback = cb }

// Send queues data for delivery, dispatching onto the owning loop's
// thread if called from elsewhere. Safe to call from any goroutine.
func (c *TcpConnection) Send(data []byte) {
	if c.getState() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	buf := append([]byte(nil), data...)
	c.loop.RunInLoop(func() { c.sendInLoop(buf) })
}

// SendString is a convenience wrapper over Send for text protocols.
func (c *TcpConnection) SendString(s string) {
	c.Send([]byte(s))
}

func (c *TcpConnection) sendInLoop(data []byte) {
	if c.getState() == stateDisconnected {
		log.L.Debug("send on disconnected connection, dropping", zap.String("conn", c.name))
		return
	}

	var nwrote int
	remaining := len(data)
	faultError := false

	if !c.ch.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.ch.Fd(), data)
		if err == nil {
			nwrote = n
			remaining = len(data) - n
			if remaining == 0 && c.writeCompleteCallback != nil {
				cb := c.writeCompleteCallback
				c.loop.QueueInLoop(func() { cb(c) })
			}
		} else {
			nwrote = 0
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				log.L.Error("write failed", zap.String("conn", c.name), zap.Error(err))
				if err == unix.EPIPE || err == unix.ECONNRESET {
					faultError = true
				}
			}
		}
	}

	if !faultError && remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		if oldLen+remaining >= c.highWaterMark && oldLen < c.highWaterMark && c.highWaterMarkCallback != nil {
			cb := c.highWaterMarkCallback
			queued := oldLen + remaining
			c.loop.QueueInLoop(func() { cb(c, queued) })
		}
		c.outputBuffer.Append(data[nwrote:])
		if !c.ch.IsWriting() {
			c.ch.EnableWriting()
		}
	}
}

// ShutDown initiates a half-close: once any buffered output drains,
// the write side is shut down (SHUT_WR) while the read side stays
// open, matching TCP's graceful-close handshake.
func (c *TcpConnection) ShutDown() {
	if c.getState() == stateConnected {
		c.setState(stateDisconnecting)
		c.loop.RunInLoop(c.shutDownInLoop)
	}
}

func (c *TcpConnection) shutDownInLoop() {
	if !c.ch.IsWriting() {
		if err := c.sock.ShutdownWrite(); err != nil {
			log.L.Debug("shutdown write failed", zap.String("conn", c.name), zap.Error(err))
		}
	}
}

// ForceClose marks the connection Disconnecting and queues handleClose
// on its loop, which drives it to Disconnected when that loop next
// drains its pending tasks, bypassing the drain-then-shutdown sequence
// ShutDown uses. Intended for server shutdown and hard resets, not
// normal application flow.
func (c *TcpConnection) ForceClose() {
	if c.getState() == stateConnected || c.getState() == stateDisconnecting {
		c.setState(stateDisconnecting)
		c.loop.QueueInLoop(c.handleClose)
	}
}

// ConnectEstablished transitions the connection to Connected, ties its
// Channel's dispatch lifetime to itself, and arms reading. Called once
// by the owning TcpServer right after construction.
func (c *TcpConnection) ConnectEstablished() {
	c.setState(stateConnected)
	c.ch.Tie(c)
	c.ch.EnableReading()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// ConnectDestroyed tears the connection fully down: disables and
// removes its Channel, and (if it hadn't already gone through
// handleClose) fires the connection callback one last time to notify
// the application side of the transition to Disconnected.
func (c *TcpConnection) ConnectDestroyed() {
	if c.getState() == stateConnected {
		c.setState(stateDisconnected)
		c.ch.DisableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.ch.Remove()
}

func (c *TcpConnection) handleRead(receiveTime Timestamp) {
	n, err := c.inputBuffer.ReadFD(c.ch.Fd())
	switch {
	case n > 0:
		if c.messageCallback != nil {
			c.messageCallback(c, c.inputBuffer, receiveTime)
		}
	case n == 0:
		c.handleClose()
	default:
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		log.L.Error("read failed", zap.String("conn", c.name), zap.Error(err))
		c.handleError()
	}
}

func (c *TcpConnection) handleWrite() {
	if !c.ch.IsWriting() {
		log.L.Debug("write event on a channel with no pending output", zap.String("conn", c.name))
		return
	}
	n, err := unix.Write(c.ch.Fd(), c.outputBuffer.Peek())
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			log.L.Error("write failed", zap.String("conn", c.name), zap.Error(err))
		}
		return
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.ch.DisableWriting()
		if c.writeCompleteCallback != nil {
			cb := c.writeCompleteCallback
			c.loop.QueueInLoop(func() { cb(c) })
		}
		if c.getState() == stateDisconnecting {
			c.shutDownInLoop()
		}
	}
}

func (c *TcpConnection) handleClose() {
	state := c.getState()
	if state == stateDisconnected {
		return
	}
	log.L.Debug("connection closing", zap.String("conn", c.name), zap.Stringer("state", state))
	c.setState(stateDisconnected)
	c.ch.DisableAll()

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *TcpConnection) handleError() {
	err := socketError(c.ch.Fd())
	log.L.Error("connection socket error", zap.String("conn", c.name), zap.Error(err))
}
