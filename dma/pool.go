package dma

import (
	"errors"
	"sync"
)

// ErrPoolEmpty indicates no free buffer is available.
var ErrPoolEmpty = errors.New("DMA buffer pool exhausted")

// Pool hands out fixed-size buffers carved from an arena.
// It is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	free    []Region
	bufSize int
}

// NewPool carves count buffers of bufSize bytes out of the arena.
// Buffer bases are aligned to the data bus width.
func NewPool(a *Arena, count, bufSize int) (*Pool, error) {
	p := &Pool{
		free:    make([]Region, 0, count),
		bufSize: bufSize,
	}
	for i := 0; i < count; i++ {
		r, e := a.Alloc(bufSize, 16)
		if e != nil {
			return nil, e
		}
		p.free = append(p.free, r)
	}
	return p, nil
}

// BufSize returns the size of each buffer.
func (p *Pool) BufSize() int {
	return p.bufSize
}

// CountAvailable returns the number of free buffers.
func (p *Pool) CountAvailable() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Get takes a buffer from the pool.
func (p *Pool) Get() (Region, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return Region{}, ErrPoolEmpty
	}
	r := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return r, nil
}

// Put returns a buffer to the pool.
func (p *Pool) Put(r Region) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, r)
}
