// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"
)

// Size classes served by BytePool. Requests above the largest class are
// allocated directly and never retained.
var classes = [...]int{512, 2 << 10, 8 << 10, 32 << 10, 128 << 10}

// BytePool hands out zero-length slices with at least the requested
// capacity. It is safe for concurrent use.
type BytePool struct {
	slabs [len(classes)]sync.Pool

	gets    atomic.Int64
	misses  atomic.Int64
	puts    atomic.Int64
	dropped atomic.Int64
}

// NewBytePool returns an empty pool.
func NewBytePool() *BytePool {
	p := &BytePool{}
	for i := range p.slabs {
		size := classes[i]
		p.slabs[i].New = func() any {
			p.misses.Add(1)
			b := make([]byte, 0, size)
			return &b
		}
	}
	return p
}

// Get returns a slice of length 0 and capacity >= n.
func (p *BytePool) Get(n int) []byte {
	p.gets.Add(1)
	i := classFor(n)
	if i < 0 {
		p.misses.Add(1)
		return make([]byte, 0, n)
	}
	bp := p.slabs[i].Get().(*[]byte)
	return (*bp)[:0]
}

// Put returns b to the class its capacity fits. Slices smaller than the
// smallest class or far larger than the largest are dropped.
func (p *BytePool) Put(b []byte) {
	c := cap(b)
	if c < classes[0] || c > 4*classes[len(classes)-1] {
		p.dropped.Add(1)
		return
	}
	i := len(classes) - 1
	for i > 0 && classes[i] > c {
		i--
	}
	b = b[:0]
	p.slabs[i].Put(&b)
	p.puts.Add(1)
}

// Stats reports pool activity.
func (p *BytePool) Stats() map[string]int64 {
	return map[string]int64{
		"gets":    p.gets.Load(),
		"misses":  p.misses.Load(),
		"puts":    p.puts.Load(),
		"dropped": p.dropped.Load(),
	}
}

func classFor(n int) int {
	for i, size := range classes {
		if n <= size {
			return i
		}
	}
	return -1
}
