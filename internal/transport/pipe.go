package transport

import (
	"sync"
	"sync/atomic"
)

// PipeLink is one end of an in-memory link. Frames sent on one end are
// delivered to the other end's handler in send order. It backs local
// loopback sessions and the tests.
type PipeLink struct {
	peer *PipeLink

	mu      sync.Mutex // serializes delivery so frames keep their order
	handler func([]byte)
	pending [][]byte

	blocked atomic.Bool
	done    chan struct{}
	once    *sync.Once // shared by both ends
}

// Pipe creates a linked pair of in-memory links.
func Pipe() (a, b *PipeLink) {
	once := &sync.Once{}
	a = &PipeLink{done: make(chan struct{}), once: once}
	b = &PipeLink{done: make(chan struct{}), once: once}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *PipeLink) Send(data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	if p.blocked.Load() {
		return ErrBusy
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	p.peer.receive(frame)
	return nil
}

func (p *PipeLink) receive(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handler == nil {
		p.pending = append(p.pending, frame)
		return
	}
	p.handler(frame)
}

func (p *PipeLink) OnFrame(fn func(data []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = fn
	for _, frame := range p.pending {
		fn(frame)
	}
	p.pending = nil
}

func (p *PipeLink) Ready() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	return !p.blocked.Load()
}

// SetBlocked makes the link refuse sends, as a saturated socket would.
func (p *PipeLink) SetBlocked(blocked bool) { p.blocked.Store(blocked) }

func (p *PipeLink) Done() <-chan struct{} { return p.done }

// Close closes both ends. Safe to call multiple times.
func (p *PipeLink) Close() error {
	p.once.Do(func() {
		close(p.done)
		close(p.peer.done)
	})
	return nil
}
