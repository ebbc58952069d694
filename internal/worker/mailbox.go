package worker

import (
	"sync"

	"github.com/andresmejia3/echoface/internal/types"
)

type request struct {
	frame       types.Frame
	timestampMs int64
}

// mailbox is a single-slot buffer between Submit and the writer goroutine.
// A put overwrites an unconsumed request; take blocks until one is available.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	req    *request // nil = consumed
	closed bool
	drops  uint64
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put stores r, reporting whether an unsent request was replaced.
// It returns ok=false once the mailbox is closed.
func (m *mailbox) put(r request) (replaced, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, false
	}
	if m.req != nil {
		replaced = true
		m.drops++
	}
	m.req = &r
	m.cond.Signal()
	return replaced, true
}

// take blocks until a request is available or the mailbox is closed.
func (m *mailbox) take() (request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.req == nil && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return request{}, false
	}
	r := *m.req
	m.req = nil
	return r, true
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.req = nil
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *mailbox) dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}
