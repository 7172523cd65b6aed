package mcp

import (
	"sync"
	"sync/atomic"
)

// pendingCalls correlates responses with the calls waiting for them. Each await slot is a
// one-shot buffered channel, so routing never blocks on a caller that already gave up.
type pendingCalls struct {
	nextID atomic.Int64

	mu      sync.Mutex
	waiters map[int64]chan JSONRPCMessage
	err     error
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{
		waiters: make(map[int64]chan JSONRPCMessage),
	}
}

// register allocates the next id and its slot. The slot must exist before the request is
// sent since some transports deliver the response before Send returns. It returns the
// terminal error instead when the correlator has already failed.
func (p *pendingCalls) register() (int64, <-chan JSONRPCMessage, error) {
	id := p.nextID.Add(1)
	ch := make(chan JSONRPCMessage, 1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return 0, nil, p.err
	}
	p.waiters[id] = ch
	return id, ch, nil
}

// forget removes the slot for id, if any. A response that arrives afterwards is dropped.
func (p *pendingCalls) forget(id int64) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// deliver hands msg to the call waiting for its id. It reports false when no call is
// waiting, either because the id is unknown or because the call already timed out.
func (p *pendingCalls) deliver(msg JSONRPCMessage) bool {
	id, ok := msg.ID.Int64()
	if !ok {
		return false
	}

	p.mu.Lock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- msg
	return true
}

// waiting reports whether a call with the given id is still waiting.
func (p *pendingCalls) waiting(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.waiters[id]
	return ok
}

// failAll closes every waiting slot and makes later registrations fail with err. Waiters
// observe a closed channel and read the error from failure.
func (p *pendingCalls) failAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err == nil {
		p.err = err
	}
	for id, ch := range p.waiters {
		close(ch)
		delete(p.waiters, id)
	}
}

// failure returns the terminal error, or nil while the correlator is healthy.
func (p *pendingCalls) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.err
}
