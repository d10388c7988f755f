package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcceptorAcceptsConnection(t *testing.T) {
	loop := newTestLoop(t)
	addr := NewInetAddress("127.0.0.1", 0)

	a, err := NewAcceptor(loop, addr, false)
	assert.NoError(t, err)
	defer a.Close()

	assert.NoError(t, a.Listen())

	local := localAddrForTest(t, a)

	var gotFd int
	var gotPeer InetAddress
	a.SetNewConnectionCallback(func(connFd int, peerAddr InetAddress) {
		gotFd = connFd
		gotPeer = peerAddr
	})

	client, err := net.Dial("tcp", local)
	assert.NoError(t, err)
	defer client.Close()

	waitUntil(t, func() bool {
		a.handleRead()
		return gotFd != 0
	}, time.Second)

	assert.NotZero(t, gotFd)
	assert.NotEqual(t, uint16(0), gotPeer.Port())
}

func TestAcceptorClosesConnectionWithoutCallback(t *testing.T) {
	loop := newTestLoop(t)
	addr := NewInetAddress("127.0.0.1", 0)

	a, err := NewAcceptor(loop, addr, false)
	assert.NoError(t, err)
	defer a.Close()
	assert.NoError(t, a.Listen())

	local := localAddrForTest(t, a)
	client, err := net.Dial("tcp", local)
	assert.NoError(t, err)
	defer client.Close()

	// No callback installed: handleRead must accept and immediately
	// close rather than leaking the fd.
	waitUntil(t, func() bool {
		a.handleRead()
		return true
	}, time.Second)
}

func localAddrForTest(t *testing.T, a *Acceptor) string {
	t.Helper()
	return mustGetsockname(t, a.acceptSocket.Fd()).ToIPPort()
}
