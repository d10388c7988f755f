package reactor

import (
	"testing"

	"golang.org/x/sys/unix"
)

// pipeFDs returns a non-blocking pipe (read, write) usable anywhere
// this package's syscall-facing code expects a socket-like fd: reads
// and writes behave the same way a TCP socket's do for the purposes
// these tests exercise.
func pipeFDs(t *testing.T) (int, int, error) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func closeFDs(fds ...int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

func mustGetsockname(t *testing.T, fd int) InetAddress {
	t.Helper()
	sa, err := unix.Getsockname(fd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("unexpected sockaddr type %T", sa)
	}
	return NewInetAddressFromSockaddr(sa4)
}

func writeAll(fd int, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := unix.Write(fd, data[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
