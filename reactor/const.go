// Package reactor implements the multi-reactor ("one loop per thread")
// TCP server substrate: a level-triggered epoll poller, the Channel/EventLoop
// pair with cross-thread task injection, an Acceptor, the TcpConnection
// state machine, and the EventLoopThreadPool round-robin dispatcher.
package reactor

import "time"

// Numeric constants carried over from the reference implementation;
// changing any of these changes observable behavior of the scenarios
// in the test suite.
const (
	// DefaultPrependSize is the reserved head-room every Buffer keeps so
	// that a caller can prepend a length/frame header without a copy.
	DefaultPrependSize = 8

	// InitialBufferCapacity is the writable capacity a freshly
	// constructed Buffer offers, not counting DefaultPrependSize.
	InitialBufferCapacity = 1024

	// ScatterReadScratchSize is the size of the stack-equivalent scratch
	// region Buffer.ReadFD uses as the second iovec in its scatter read.
	ScatterReadScratchSize = 65536

	// InitialPollEvents is the starting capacity of the ready-events
	// scratch slice the Poller hands to epoll_wait; it doubles whenever
	// a poll call fills it completely.
	InitialPollEvents = 16

	// DefaultHighWaterMark is the output-buffer size threshold whose
	// crossing fires HighWaterMarkCallback.
	DefaultHighWaterMark = 64 << 20

	// PollTimeoutMs bounds how long a single EventLoop poll cycle may
	// block; it is a liveness floor, not a per-operation deadline.
	PollTimeoutMs = 10000
)

// pollTimeout is PollTimeoutMs as a time.Duration, for callers that want
// it in that form.
const pollTimeout = PollTimeoutMs * time.Millisecond
