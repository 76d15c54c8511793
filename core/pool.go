package core

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// bufferPool is a mutex-protected pool of byte buffers. Unlike sync.Pool its
// contents survive garbage collection, which suits the long-lived encode
// buffers used while writing and merging chunks.
type bufferPool struct {
	mu      sync.Mutex
	items   []*bytes.Buffer
	newFunc func() *bytes.Buffer
	maxIdle int

	hits    atomic.Uint64
	misses  atomic.Uint64
	created atomic.Uint64
}

// DefaultBlockBufferSize is the initial capacity of pooled block buffers.
const DefaultBlockBufferSize = 32 * 1024

// BufferPool is shared by the chunk file writers and readers.
var BufferPool = NewBufferPool(DefaultBlockBufferSize)

// NewBufferPool creates a new buffer pool.
func NewBufferPool(initialCapacity int) *bufferPool {
	bp := &bufferPool{maxIdle: 256}
	bp.newFunc = func() *bytes.Buffer {
		bp.created.Add(1)
		return bytes.NewBuffer(make([]byte, 0, initialCapacity))
	}
	return bp
}

// Get retrieves a buffer from the pool. If the pool is empty, it creates a new one.
func (bp *bufferPool) Get() *bytes.Buffer {
	bp.mu.Lock()
	if len(bp.items) == 0 {
		bp.mu.Unlock()
		bp.misses.Add(1)
		return bp.newFunc()
	}
	bp.hits.Add(1)
	item := bp.items[len(bp.items)-1]
	bp.items = bp.items[:len(bp.items)-1]
	bp.mu.Unlock()
	return item
}

// Put returns a buffer to the pool. Buffers beyond maxIdle are dropped.
func (bp *bufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	bp.mu.Lock()
	if len(bp.items) < bp.maxIdle {
		bp.items = append(bp.items, buf)
	}
	bp.mu.Unlock()
}

// GetMetrics returns the current metrics for the pool.
func (bp *bufferPool) GetMetrics() (hits, misses, created uint64, idle int) {
	bp.mu.Lock()
	idle = len(bp.items)
	bp.mu.Unlock()
	return bp.hits.Load(), bp.misses.Load(), bp.created.Load(), idle
}
