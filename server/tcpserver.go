package server

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/gonet-reactor/gonet-reactor/log"
	"github.com/gonet-reactor/gonet-reactor/reactor"
)

// Option configures a TcpServer at construction time.
type Option func(*config)

type config struct {
	reusePort     bool
	numThreads    int
	threadInit    reactor.ThreadInitCallback
	highWaterMark int
}

// WithReusePort enables SO_REUSEPORT on the listening socket, letting
// multiple processes (or, with a multi-loop accept split, multiple
// acceptors) share the same port.
func WithReusePort(on bool) Option {
	return func(c *config) { c.reusePort = on }
}

// WithNumThreads sets the size of the sub-reactor pool. Zero (the
// default) runs everything, including accept, on the base loop.
func WithNumThreads(n int) Option {
	return func(c *config) { c.numThreads = n }
}

// WithThreadInitCallback installs a callback that runs on each
// sub-reactor thread right after its EventLoop is constructed.
func WithThreadInitCallback(cb reactor.ThreadInitCallback) Option {
	return func(c *config) { c.threadInit = cb }
}

// WithHighWaterMark overrides the default 64MiB output-buffer
// high-water mark applied to every accepted connection.
func WithHighWaterMark(bytes int) Option {
	return func(c *config) { c.highWaterMark = bytes }
}

// TcpServer listens on one address and fans accepted connections out
// across an EventLoopThreadPool. It is the top-level entry point
// applications construct; everything else in this module is reachable
// only indirectly, through the callbacks installed here.
type TcpServer struct {
	loop       *reactor.EventLoop
	ipPort     string
	name       string
	acceptor   *reactor.Acceptor
	threadPool *reactor.EventLoopThreadPool

	cfg config

	mu          sync.Mutex
	connections map[string]*reactor.TcpConnection
	nextConnID  int

	connectionCallback    reactor.ConnectionCallback
	messageCallback       reactor.MessageCallback
	writeCompleteCallback reactor.WriteCompleteCallback
	highWaterMarkCallback reactor.HighWaterMarkCallback

	startOnce sync.Once
}

// NewTcpServer constructs a server bound to listenAddr on loop
// (typically the process's base reactor). Start must be called to
// begin accepting connections.
func NewTcpServer(loop *reactor.EventLoop, listenAddr reactor.InetAddress, name string, opts ...Option) (*TcpServer, error) {
	cfg := config{highWaterMark: reactor.DefaultHighWaterMark}
	for _, opt := range opts {
		opt(&cfg)
	}

	acceptor, err := reactor.NewAcceptor(loop, listenAddr, cfg.reusePort)
	if err != nil {
		return nil, fmt.Errorf("server: create acceptor: %w", err)
	}

	pool := reactor.NewEventLoopThreadPool(loop, name)
	pool.SetNumThreads(cfg.numThreads)

	s := &TcpServer{
		loop:        loop,
		ipPort:      listenAddr.ToIPPort(),
		name:        name,
		acceptor:    acceptor,
		threadPool:  pool,
		cfg:         cfg,
		connections: make(map[string]*reactor.TcpConnection),
	}
	acceptor.SetNewConnectionCallback(s.newConnection)
	return s, nil
}

// SetConnectionCallback, SetMessageCallback, SetWriteCompleteCallback
// and SetHighWaterMarkCallback install the application-facing
// callbacks every connection this server accepts will be wired with.
// Must be called before Start.
func (s *TcpServer) SetConnectionCallback(cb reactor.ConnectionCallback) { s.connectionCallback = cb }
func (s *TcpServer) SetMessageCallback(cb reactor.MessageCallback)       { s.messageCallback = cb }
func (s *TcpServer) SetWriteCompleteCallback(cb reactor.WriteCompleteCallback) {
	s.writeCompleteCallback = cb
}
func (s *TcpServer) SetHighWaterMarkCallback(cb reactor.HighWaterMarkCallback) {
	s.highWaterMarkCallback = cb
}

// Name returns the server's configured name, used as the connection
// naming prefix.
func (s *TcpServer) Name() string { return s.name }

// Start spins up the sub-reactor pool and begins listening. Idempotent:
// only the first call has any effect.
func (s *TcpServer) Start() {
	s.startOnce.Do(func() {
		s.threadPool.Start(s.cfg.threadInit)
		s.loop.RunInLoop(func() {
			if err := s.acceptor.Listen(); err != nil {
				log.L.Error("listen failed", zap.String("server", s.name), zap.Error(err))
			}
		})
	})
}

// Stop requests every sub-reactor loop to quit and tears down every
// live connection. Connections are destroyed on their own owning
// loop's thread, matching the teacher's cross-thread-safe teardown.
func (s *TcpServer) Stop() {
	s.mu.Lock()
	conns := make([]*reactor.TcpConnection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		c := conn
		c.GetLoop().RunInLoop(c.ConnectDestroyed)
	}
	s.threadPool.Stop()
}

func (s *TcpServer) newConnection(connFd int, peerAddr reactor.InetAddress) {
	ioLoop := s.threadPool.GetNextLoop()

	s.mu.Lock()
	s.nextConnID++
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, s.nextConnID)
	s.mu.Unlock()

	log.L.Info("new connection",
		zap.String("server", s.name), zap.String("conn", connName), zap.String("peer", peerAddr.ToIPPort()))

	localAddr := localAddrOf(connFd)

	conn := reactor.NewTcpConnection(ioLoop, connName, connFd, localAddr, peerAddr)

	s.mu.Lock()
	s.connections[connName] = conn
	s.mu.Unlock()

	if s.connectionCallback != nil {
		conn.SetConnectionCallback(s.connectionCallback)
	}
	if s.messageCallback != nil {
		conn.SetMessageCallback(s.messageCallback)
	}
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.SetHighWaterMarkCallback(s.highWaterMarkCallback, s.cfg.highWaterMark)
	conn.SetCloseCallback(s.removeConnection)

	ioLoop.RunInLoop(conn.ConnectEstablished)
}

func (s *TcpServer) removeConnection(conn *reactor.TcpConnection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *TcpServer) removeConnectionInLoop(conn *reactor.TcpConnection) {
	log.L.Info("removing connection", zap.String("server", s.name), zap.String("conn", conn.Name()))

	s.mu.Lock()
	delete(s.connections, conn.Name())
	s.mu.Unlock()

	conn.GetLoop().QueueInLoop(conn.ConnectDestroyed)
}

func localAddrOf(fd int) reactor.InetAddress {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		log.L.Debug("getsockname failed", zap.Int("fd", fd), zap.Error(err))
		return reactor.InetAddress{}
	}
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return reactor.NewInetAddressFromSockaddr(sa4)
	}
	return reactor.InetAddress{}
}
