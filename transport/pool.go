package transport

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("transport: pool closed")

// Pool lends transports to one address, one caller at a time per transport.
//
// Pool design: a buffered channel holds idle transports. Transports are created lazily
// up to maxConns; once at the limit, Get blocks until one comes back or ctx ends.
type Pool struct {
	mu       sync.Mutex
	idle     chan *ClientTransport
	maxConns int
	curConns int // idle + lent out
	closed   bool
	freed    chan struct{} // a slot opened up without an idle transport appearing
	factory  func(ctx context.Context) (*ClientTransport, error)
}

// NewPool creates an empty pool. maxConns below 1 is treated as 1.
func NewPool(maxConns int, factory func(ctx context.Context) (*ClientTransport, error)) *Pool {
	if maxConns < 1 {
		maxConns = 1
	}
	return &Pool{
		idle:     make(chan *ClientTransport, maxConns),
		freed:    make(chan struct{}, 1),
		maxConns: maxConns,
		factory:  factory,
	}
}

// Get returns an idle transport, dials a new one if under the limit, or waits.
// Broken idle transports are discarded on the way.
func (p *Pool) Get(ctx context.Context) (*ClientTransport, error) {
	for {
		select {
		case t, ok := <-p.idle:
			if !ok {
				return nil, ErrPoolClosed
			}
			if t.Broken() {
				p.discard(t)
				continue
			}
			return t, nil
		default:
		}

		if t, created, err := p.tryCreate(ctx); created || err != nil {
			return t, err
		}

		select {
		case t, ok := <-p.idle:
			if !ok {
				return nil, ErrPoolClosed
			}
			if t.Broken() {
				p.discard(t)
				continue
			}
			return t, nil
		case <-p.freed:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// tryCreate dials when a slot is free. created is false when the pool is at capacity.
func (p *Pool) tryCreate(ctx context.Context) (t *ClientTransport, created bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrPoolClosed
	}
	if p.curConns >= p.maxConns {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.curConns++ // reserve the slot; dial without holding the lock
	p.mu.Unlock()

	t, err = p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		p.signalFreed()
		return nil, false, err
	}
	return t, true, nil
}

// Put returns a transport. Broken transports are closed and free their slot.
func (p *Pool) Put(t *ClientTransport) {
	if t.Broken() {
		p.discard(t)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		t.Close()
		p.curConns--
		return
	}
	// never blocks: at most maxConns transports exist
	p.idle <- t
}

func (p *Pool) discard(t *ClientTransport) {
	t.Close()
	p.mu.Lock()
	p.curConns--
	p.mu.Unlock()
	p.signalFreed()
}

func (p *Pool) signalFreed() {
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// Drain closes every idle transport and frees its slot. Lent transports are left alone.
func (p *Pool) Drain() {
	for {
		select {
		case t, ok := <-p.idle:
			if !ok {
				return
			}
			p.discard(t)
		default:
			return
		}
	}
}

// Len reports the transports currently owned by the pool, idle or lent out.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.curConns
}

// Close closes idle transports and makes Get fail. Lent transports are closed when
// they are put back.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.idle)
	for t := range p.idle {
		t.Close()
		p.curConns--
	}
	return nil
}
