// Package pool implements the preallocated packet buffer pool.
package pool

import (
	"sync"

	"firestige.xyz/callx/internal/core"
)

// Pool hands out fixed-capacity packet buffers allocated once at startup.
// Acquire blocks while the pool is empty; Deactivate wakes every waiter.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	free   []*core.PacketBuffer
	owned  map[*core.PacketBuffer]struct{}
	size   int
	minLen int
	active bool

	bufSize int
}

// New preallocates count buffers of bufSize bytes each.
func New(count, bufSize int) *Pool {
	p := &Pool{
		free:    make([]*core.PacketBuffer, 0, count),
		owned:   make(map[*core.PacketBuffer]struct{}, count),
		size:    count,
		minLen:  count,
		active:  true,
		bufSize: bufSize,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < count; i++ {
		b := core.NewPacketBuffer(bufSize)
		b.MarkPooled(true)
		p.owned[b] = struct{}{}
		p.free = append(p.free, b)
	}
	return p
}

// Acquire returns a free buffer, blocking until one is released.
// It returns false once the pool is deactivated.
func (p *Pool) Acquire() (*core.PacketBuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.free) == 0 && p.active {
		p.cond.Wait()
	}
	if !p.active {
		return nil, false
	}
	return p.take(), true
}

// TryAcquire returns a free buffer without blocking.
func (p *Pool) TryAcquire() (*core.PacketBuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active || len(p.free) == 0 {
		return nil, false
	}
	return p.take(), true
}

func (p *Pool) take() *core.PacketBuffer {
	last := len(p.free) - 1
	b := p.free[last]
	p.free[last] = nil
	p.free = p.free[:last]
	if len(p.free) < p.minLen {
		p.minLen = len(p.free)
	}
	b.MarkPooled(false)
	return b
}

// Release returns a buffer and wakes one waiter.
// A buffer that is already pooled, or was not allocated by this pool, is
// rejected and false is returned.
func (p *Pool) Release(b *core.PacketBuffer) bool {
	if b == nil {
		return false
	}
	p.mu.Lock()
	if _, ok := p.owned[b]; !ok || b.Pooled() {
		p.mu.Unlock()
		return false
	}
	b.Reset()
	b.MarkPooled(true)
	p.free = append(p.free, b)
	p.mu.Unlock()

	p.cond.Signal()
	return true
}

// Deactivate makes Acquire return false and wakes all waiters. Idempotent.
func (p *Pool) Deactivate() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.active = false
	p.mu.Unlock()

	p.cond.Broadcast()
}

// Activate re-enables Acquire.
func (p *Pool) Activate() {
	p.mu.Lock()
	p.active = true
	p.mu.Unlock()
}

// Active reports whether the pool hands out buffers.
func (p *Pool) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Available returns the number of free buffers.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// InUse returns the number of checked out buffers.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - len(p.free)
}

// PeakInUse returns the largest number of buffers checked out at once.
func (p *Pool) PeakInUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - p.minLen
}

// Size returns the total number of buffers owned by the pool.
func (p *Pool) Size() int {
	return p.size
}

// BufferSize returns the capacity of each buffer.
func (p *Pool) BufferSize() int {
	return p.bufSize
}
