package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// InetAddress is an IPv4 socket address: family, port (host order at the
// Go layer, converted to network order only at the syscall boundary),
// and a 32-bit address. IPv6 is out of scope, matching the source this
// was distilled from.
type InetAddress struct {
	ip   [4]byte
	port uint16
}

// NewInetAddress builds an address from a numeric dotted-quad IP and a
// port. An empty ip binds to all interfaces (0.0.0.0).
func NewInetAddress(ip string, port uint16) InetAddress {
	addr := InetAddress{port: port}
	if ip == "" {
		return addr
	}
	if v4 := net.ParseIP(ip).To4(); v4 != nil {
		copy(addr.ip[:], v4)
	}
	return addr
}

// NewInetAddressFromSockaddr builds an address from a raw kernel
// sockaddr, as returned by accept(2)/getsockname(2).
func NewInetAddressFromSockaddr(sa *unix.SockaddrInet4) InetAddress {
	addr := InetAddress{port: uint16(sa.Port)}
	addr.ip = sa.Addr
	return addr
}

// ResolveInetAddress performs blocking name resolution of host:port into
// an InetAddress. This is the only blocking call this package exposes,
// and it must never be invoked from a reactor thread.
func ResolveInetAddress(host string, port uint16) (InetAddress, error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return InetAddress{}, fmt.Errorf("reactor: resolve %q: %w", host, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			addr := InetAddress{port: port}
			copy(addr.ip[:], v4)
			return addr, nil
		}
	}
	return InetAddress{}, fmt.Errorf("reactor: resolve %q: no IPv4 address found", host)
}

// Family reports the address family; always AF_INET for this module.
func (a InetAddress) Family() int {
	return unix.AF_INET
}

// Port returns the port in host byte order.
func (a InetAddress) Port() uint16 {
	return a.port
}

// ToIP renders the dotted-quad IP string.
func (a InetAddress) ToIP() string {
	return net.IP(a.ip[:]).String()
}

// ToIPPort renders "ip:port", used for connection naming (TcpServer)
// and log lines.
func (a InetAddress) ToIPPort() string {
	return net.JoinHostPort(a.ToIP(), fmt.Sprintf("%d", a.port))
}

// sockaddr converts to the kernel representation used by bind/connect.
func (a InetAddress) sockaddr() *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: int(a.port), Addr: a.ip}
}

func (a InetAddress) String() string {
	return a.ToIPPort()
}
