package session

import "sync"

// mailbox is an unbounded FIFO of closures consumed by a single goroutine.
// post never blocks, so it is safe from inside a running closure.
type mailbox struct {
	mu     sync.Mutex
	items  []func()
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.items = append(m.items, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.items
	m.items = nil
	return items
}
