package duel

import (
	"errors"
	"sync"
)

// Pipe is one end of an in-memory Transport pair. Delivery is asynchronous and in
// order, like a reliable link. Used for local matches and tests.
type Pipe struct {
	mu     sync.Mutex
	peer   *Pipe
	recv   func([]byte)
	inbox  chan []byte
	closed bool
	done   chan struct{}
}

// NewPipe returns two connected ends.
func NewPipe() (*Pipe, *Pipe) {
	a := newPipeEnd()
	b := newPipeEnd()
	a.peer, b.peer = b, a
	go a.deliver()
	go b.deliver()
	return a, b
}

func newPipeEnd() *Pipe {
	return &Pipe{inbox: make(chan []byte, 64), done: make(chan struct{})}
}

func (p *Pipe) Send(data []byte) error {
	p.mu.Lock()
	closed, peer := p.closed, p.peer
	p.mu.Unlock()
	if closed || peer == nil {
		return ErrNotConnected
	}
	return peer.enqueue(append([]byte(nil), data...))
}

func (p *Pipe) enqueue(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrNotConnected
	}
	select {
	case p.inbox <- data:
		return nil
	default:
		return errors.New("pipe: peer inbox full")
	}
}

func (p *Pipe) OnReceive(fn func([]byte)) {
	p.mu.Lock()
	p.recv = fn
	p.mu.Unlock()
}

func (p *Pipe) IsConnected() bool {
	p.mu.Lock()
	closed, peer := p.closed, p.peer
	p.mu.Unlock()
	if closed || peer == nil {
		return false
	}
	return !peer.isClosed()
}

func (p *Pipe) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close disconnects this end; the peer sees IsConnected false afterwards.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

func (p *Pipe) deliver() {
	for {
		select {
		case data := <-p.inbox:
			p.mu.Lock()
			fn := p.recv
			p.mu.Unlock()
			if fn != nil {
				fn(data)
			}
		case <-p.done:
			return
		}
	}
}
