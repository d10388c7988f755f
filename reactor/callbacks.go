package reactor

import (
	"go.uber.org/zap"

	"github.com/gonet-reactor/gonet-reactor/log"
)

// ConnectionCallback is invoked when a TcpConnection transitions to
// Connected (after accept) and again just before it is torn down.
// Check TcpConnection.Connected to distinguish the two calls.
type ConnectionCallback func(conn *TcpConnection)

// MessageCallback is invoked whenever new bytes have been read off the
// wire and appended to the connection's input buffer. The callback is
// responsible for consuming whatever it wants from buf via Retrieve;
// bytes left behind carry over to the next readiness edge.
type MessageCallback func(conn *TcpConnection, buf *Buffer, receiveTime Timestamp)

// WriteCompleteCallback is invoked once a Send's data has been fully
// handed to the kernel: either by Send's own direct write when the
// socket accepted every byte, or when a later writable edge drains the
// output buffer that held the remainder.
type WriteCompleteCallback func(conn *TcpConnection)

// HighWaterMarkCallback is invoked when a connection's output buffer
// grows past its configured high-water mark. It is edge-triggered: it
// fires once per crossing, not once per Send while above the mark.
type HighWaterMarkCallback func(conn *TcpConnection, bytesQueued int)

func defaultConnectionCallback(conn *TcpConnection) {
	log.L.Debug("connection callback", zap.String("name", conn.Name()), zap.Bool("connected", conn.Connected()))
}

func defaultMessageCallback(conn *TcpConnection, buf *Buffer, receiveTime Timestamp) {
	buf.RetrieveAll()
}
