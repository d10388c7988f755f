package reactor

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/gonet-reactor/gonet-reactor/log"
)

// NewConnectionCallback hands a freshly accepted connection's raw fd
// and peer address to whatever owns the Acceptor (TcpServer).
type NewConnectionCallback func(connFd int, peerAddr InetAddress)

// Acceptor owns a listening socket and the Channel that watches it for
// readability. It must be constructed and destroyed on its EventLoop's
// own thread.
type Acceptor struct {
	loop         *EventLoop
	acceptSocket tcpSocket
	acceptChan   *Channel
	listening    bool

	newConnectionCallback NewConnectionCallback
}

// On EMFILE the Acceptor only logs. It holds no spare file descriptor
// to close, accept the pending connection with and drop it, and then
// reopen (the reserve-and-bounce technique), so while the process is
// out of descriptors the listening socket keeps reporting readable.
// See DESIGN.md's Open Question decisions.

// NewAcceptor creates a listening socket bound to listenAddr and a
// Channel for it on loop. The Channel is registered with the poller
// only when Listen arms it for reading.
func NewAcceptor(loop *EventLoop, listenAddr InetAddress, reusePort bool) (*Acceptor, error) {
	sock, err := newTCPSocket()
	if err != nil {
		return nil, err
	}
	if err := sock.SetReuseAddr(true); err != nil {
		log.L.Error("set SO_REUSEADDR failed", zap.Error(err))
	}
	if err := sock.SetReusePort(reusePort); err != nil && reusePort {
		log.L.Error("set SO_REUSEPORT failed", zap.Error(err))
	}
	if err := sock.BindAddress(listenAddr); err != nil {
		sock.Close()
		return nil, err
	}

	a := &Acceptor{
		loop:         loop,
		acceptSocket: sock,
	}
	a.acceptChan = NewChannel(loop, sock.Fd())
	a.acceptChan.SetReadCallback(func(Timestamp) { a.handleRead() })
	return a, nil
}

// SetNewConnectionCallback installs the callback invoked for each
// accepted connection.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

// Listening reports whether Listen has been called.
func (a *Acceptor) Listening() bool { return a.listening }

// Fd returns the listening socket's descriptor.
func (a *Acceptor) Fd() int { return a.acceptSocket.Fd() }

// Listen puts the socket into listening mode and arms the accept
// Channel for readability. Must run on the owning loop's thread.
func (a *Acceptor) Listen() error {
	a.listening = true
	if err := a.acceptSocket.Listen(); err != nil {
		return err
	}
	a.acceptChan.EnableReading()
	return nil
}

// handleRead accepts one pending connection per readiness edge,
// matching the level-triggered poller: if more than one connection is
// already queued, the next epoll_wait immediately reports readable
// again instead of this call looping until EAGAIN.
func (a *Acceptor) handleRead() {
	connFd, peerAddr, err := a.acceptSocket.Accept()
	if err == nil {
		if a.newConnectionCallback != nil {
			a.newConnectionCallback(connFd, peerAddr)
		} else {
			unix.Close(connFd)
		}
		return
	}

	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return
	}

	log.L.Error("accept failed", zap.Error(err))
	if err == unix.EMFILE {
		log.L.Error("process fd limit reached while accepting; listening channel stays armed")
	}
}

// Close tears down the listening channel and socket. Must run on the
// owning loop's thread.
func (a *Acceptor) Close() {
	a.acceptChan.DisableAll()
	a.acceptChan.Remove()
	a.acceptSocket.Close()
}
