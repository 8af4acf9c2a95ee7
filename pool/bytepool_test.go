package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-http/pool"
)

func TestBytePoolCapacity(t *testing.T) {
	p := pool.NewBytePool()
	for _, n := range []int{0, 1, 512, 513, 100 << 10, 1 << 20} {
		b := p.Get(n)
		assert.Len(t, b, 0)
		assert.GreaterOrEqual(t, cap(b), n)
		p.Put(b)
	}
}

func TestBytePoolPutResetsLength(t *testing.T) {
	p := pool.NewBytePool()
	b := append(p.Get(600), "payload"...)
	p.Put(b)
	assert.Len(t, p.Get(600), 0)
}

func TestBytePoolDropsOddSizes(t *testing.T) {
	p := pool.NewBytePool()
	p.Put(make([]byte, 10))
	p.Put(make([]byte, 0, 8<<20))
	p.Put(make([]byte, 0, 4096))

	st := p.Stats()
	assert.EqualValues(t, 2, st["dropped"])
	assert.EqualValues(t, 1, st["puts"])
}

func TestBytePoolCountsGets(t *testing.T) {
	p := pool.NewBytePool()
	p.Get(100)
	p.Get(1 << 20)
	st := p.Stats()
	assert.EqualValues(t, 2, st["gets"])
	assert.GreaterOrEqual(t, st["misses"], int64(1))
}
