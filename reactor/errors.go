package reactor

import "errors"

// Errors returned by the reactor substrate. Most I/O failures are logged
// and absorbed locally rather than returned, per the error taxonomy in
// the design notes; these are the ones a caller can usefully act on.
var (
	// ErrLoopAlreadyRunning is returned by EventLoop.Loop when called a
	// second time on an already-looping EventLoop.
	ErrLoopAlreadyRunning = errors.New("reactor: event loop is already running")

	// ErrPoolExhausted is returned when a pooled buffer cannot be
	// obtained from the underlying wuyongjia/pool instance.
	ErrPoolExhausted = errors.New("reactor: buffer pool exhausted")
)
