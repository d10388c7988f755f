// Package log provides the package-level structured logger used
// throughout the reactor substrate. It is a thin wrapper around zap,
// following the same package-level-logger idiom the fzft-go-mock-redis
// epoll reactor uses, rather than threading a logger through every
// constructor.
package log

import "go.uber.org/zap"

// L is the logger every reactor package calls into. It defaults to a
// no-op logger so that embedding this module into another program
// produces no output until the caller opts in with SetLogger.
var L = zap.NewNop()

// SetLogger replaces the package-level logger. Safe to call once before
// starting any EventLoop; not safe to call concurrently with logging
// from a running loop.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	L = logger
}

// NewDevelopment builds a human-readable development logger, for use by
// cmd/echo and by tests that want to see reactor diagnostics.
func NewDevelopment() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
