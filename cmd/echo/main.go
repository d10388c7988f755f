// Command echo is a minimal demonstration server: it accepts
// connections and echoes back whatever it reads before half-closing
// the write side, mirroring the reactor library's canonical example.
package main

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/gonet-reactor/gonet-reactor/log"
	"github.com/gonet-reactor/gonet-reactor/reactor"
	"github.com/gonet-reactor/gonet-reactor/server"
)

func main() {
	logger := log.NewDevelopment()
	log.SetLogger(logger)
	defer logger.Sync()

	runtime.LockOSThread()

	loop, err := reactor.NewEventLoop()
	if err != nil {
		logger.Fatal("create base loop", zap.Error(err))
	}

	addr := reactor.NewInetAddress("", 8000)
	srv, err := server.NewTcpServer(loop, addr, "EchoServer", server.WithNumThreads(2))
	if err != nil {
		logger.Fatal("create server", zap.Error(err))
	}

	srv.SetConnectionCallback(onConnection)
	srv.SetMessageCallback(onMessage)

	srv.Start()
	if err := loop.Loop(); err != nil {
		logger.Fatal("event loop exited", zap.Error(err))
	}
}

func onConnection(conn *reactor.TcpConnection) {
	if conn.Connected() {
		log.L.Info("connection up", zap.String("peer", conn.PeerAddr().ToIPPort()))
	} else {
		log.L.Info("connection down", zap.String("peer", conn.PeerAddr().ToIPPort()))
	}
}

func onMessage(conn *reactor.TcpConnection, buf *reactor.Buffer, receiveTime reactor.Timestamp) {
	msg := buf.RetrieveAllAsString()
	conn.SendString(msg)
	conn.ShutDown()
}
