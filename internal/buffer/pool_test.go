package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytePool_GetRoundsUpToBucket(t *testing.T) {
	p := NewBytePool()

	buf := p.Get(1000)
	assert.Len(t, buf, 1000)
	assert.Equal(t, 4096, cap(buf))

	buf = p.Get(64 * 1024)
	assert.Len(t, buf, 64*1024)
	assert.Equal(t, 64*1024, cap(buf))
}

func TestBytePool_OversizedAllocatesDirectly(t *testing.T) {
	p := NewBytePool()

	buf := p.Get(4 << 20)
	assert.Len(t, buf, 4<<20)

	// Not a bucket capacity, so Put must ignore it.
	assert.NotPanics(t, func() { p.Put(buf) })
}

func TestBytePool_PutAndReuse(t *testing.T) {
	p := NewBytePool()

	buf := p.Get(16384)
	buf[0] = 42
	p.Put(buf[:10])

	again := p.Get(10000)
	assert.Len(t, again, 10000)
	assert.Equal(t, 16384, cap(again))

	assert.NotPanics(t, func() { p.Put(nil) })
}

func TestBytePool_Stats(t *testing.T) {
	stats := NewBytePool().GetStats()
	assert.Equal(t, 7, stats.TotalPools)
	assert.Equal(t, 4096, stats.MinBufferSize)
	assert.Equal(t, 1048576, stats.MaxBufferSize)
}

func TestGlobalPool(t *testing.T) {
	buf := GetBuffer(32 * 1024)
	assert.Len(t, buf, 32*1024)
	PutBuffer(buf)
}
