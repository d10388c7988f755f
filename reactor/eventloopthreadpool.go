package reactor

import "fmt"

// EventLoopThreadPool implements the main/sub reactor split: a base
// loop (usually the one accepting connections) plus zero or more
// worker loops that connections get handed off to round-robin.
type EventLoopThreadPool struct {
	baseLoop   *EventLoop
	serverName string

	started    bool
	numThreads int
	next       int

	threads []*EventLoopThread
	loops   []*EventLoop
}

// NewEventLoopThreadPool constructs a pool bound to baseLoop with zero
// worker threads; call SetNumThreads before Start to size the pool.
func NewEventLoopThreadPool(baseLoop *EventLoop, serverName string) *EventLoopThreadPool {
	return &EventLoopThreadPool{
		baseLoop:   baseLoop,
		serverName: serverName,
	}
}

// SetNumThreads configures how many worker loops Start will spawn.
// Must be called before Start.
func (p *EventLoopThreadPool) SetNumThreads(n int) {
	p.numThreads = n
}

// Start spawns numThreads worker EventLoopThreads (naming each
// "{serverName}{index}") and waits for all of them to finish
// constructing their EventLoop. With zero worker threads it runs cb
// directly on the base loop instead, so a single-reactor server never
// pays for a worker it doesn't need.
func (p *EventLoopThreadPool) Start(cb ThreadInitCallback) {
	p.started = true

	for i := 0; i < p.numThreads; i++ {
		name := fmt.Sprintf("%s%d", p.serverName, i)
		t := NewEventLoopThread(cb, name)
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, t.StartLoop())
	}

	if p.numThreads == 0 && cb != nil {
		cb(p.baseLoop)
	}
}

// GetNextLoop returns the next worker loop in round-robin order, or
// the base loop if no worker threads were configured.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	loop := p.baseLoop
	if len(p.loops) > 0 {
		loop = p.loops[p.next]
		p.next++
		if p.next >= len(p.loops) {
			p.next = 0
		}
	}
	return loop
}

// GetAllLoops returns every worker loop, or a single-element slice
// containing the base loop if there are no workers.
func (p *EventLoopThreadPool) GetAllLoops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	return p.loops
}

// Started reports whether Start has been called.
func (p *EventLoopThreadPool) Started() bool { return p.started }

// Stop requests every worker thread's loop to quit.
func (p *EventLoopThreadPool) Stop() {
	for _, t := range p.threads {
		t.Stop()
	}
}
