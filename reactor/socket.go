package reactor

import (
	"golang.org/x/sys/unix"
)

// tcpSocket wraps a raw TCP socket descriptor. Every call here is a
// thin layer over a single syscall, matching the reference Socket
// class: ownership of fd (including closing it) is the caller's
// responsibility in all cases.
type tcpSocket struct {
	fd int
}

// newTCPSocket creates a non-blocking, close-on-exec IPv4 TCP socket.
func newTCPSocket() (tcpSocket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return tcpSocket{}, err
	}
	return tcpSocket{fd: fd}, nil
}

func (s tcpSocket) Fd() int { return s.fd }

func (s tcpSocket) Close() error { return unix.Close(s.fd) }

// BindAddress binds the socket to addr. Must precede Listen.
func (s tcpSocket) BindAddress(addr InetAddress) error {
	return unix.Bind(s.fd, addr.sockaddr())
}

// Listen puts the socket into passive listening mode.
func (s tcpSocket) Listen() error {
	return unix.Listen(s.fd, unix.SOMAXCONN)
}

// Accept accepts one pending connection, returning its fd (already
// non-blocking and close-on-exec, via accept4) and peer address.
// Returns unix.EAGAIN when there is nothing to accept.
func (s tcpSocket) Accept() (int, InetAddress, error) {
	connFd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, InetAddress{}, err
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return connFd, InetAddress{}, nil
	}
	return connFd, NewInetAddressFromSockaddr(sa4), nil
}

// ShutdownWrite half-closes the write side (SHUT_WR), triggering the
// FIN handshake while leaving the read side open.
func (s tcpSocket) ShutdownWrite() error {
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

// SetTCPNoDelay toggles Nagle's algorithm.
func (s tcpSocket) SetTCPNoDelay(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on))
}

// SetReuseAddr toggles SO_REUSEADDR.
func (s tcpSocket) SetReuseAddr(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on))
}

// SetReusePort toggles SO_REUSEPORT (Linux 3.9+), used for multi-loop
// accept load balancing when enabled by the server's configuration.
func (s tcpSocket) SetReusePort(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(on))
}

// SetKeepAlive toggles SO_KEEPALIVE.
func (s tcpSocket) SetKeepAlive(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(on))
}

// socketError reads and clears SO_ERROR, used after a writable edge to
// detect a deferred connect/write failure.
func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
