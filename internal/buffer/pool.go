// Package buffer pools the chunk buffers used to copy response bodies.
package buffer

import (
	"sync"
)

// BytePool provides object pooling for byte slices to reduce GC pressure
type BytePool struct {
	pools map[int]*sync.Pool
	sizes []int
}

// NewBytePool creates a new byte pool with size buckets covering typical
// high water marks.
func NewBytePool() *BytePool {
	sizes := []int{
		4096,    // 4KB
		16384,   // 16KB
		32768,   // 32KB
		65536,   // 64KB
		131072,  // 128KB
		262144,  // 256KB
		1048576, // 1MB
	}

	pools := make(map[int]*sync.Pool, len(sizes))
	for _, size := range sizes {
		size := size
		pools[size] = &sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		}
	}

	return &BytePool{
		pools: pools,
		sizes: sizes,
	}
}

// Get retrieves a byte slice of length size. Sizes above the largest bucket
// are allocated directly and are not retained by Put.
func (p *BytePool) Get(size int) []byte {
	for _, bucketSize := range p.sizes {
		if bucketSize >= size {
			bp := p.pools[bucketSize].Get().(*[]byte)
			return (*bp)[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a byte slice to the pool for reuse
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}

	if pool, ok := p.pools[cap(buf)]; ok {
		buf = buf[:cap(buf)]
		pool.Put(&buf)
	}
}

// PoolStats describes the bucket layout of a pool
type PoolStats struct {
	PoolSizes     []int `json:"pool_sizes"`
	TotalPools    int   `json:"total_pools"`
	MaxBufferSize int   `json:"max_buffer_size"`
	MinBufferSize int   `json:"min_buffer_size"`
}

// GetStats returns current pool statistics
func (p *BytePool) GetStats() PoolStats {
	stats := PoolStats{
		PoolSizes:  make([]int, len(p.sizes)),
		TotalPools: len(p.pools),
	}
	copy(stats.PoolSizes, p.sizes)

	if len(p.sizes) > 0 {
		stats.MinBufferSize = p.sizes[0]
		stats.MaxBufferSize = p.sizes[len(p.sizes)-1]
	}
	return stats
}

var defaultBytePool = NewBytePool()

// GetBuffer gets a buffer from the default global pool
func GetBuffer(size int) []byte {
	return defaultBytePool.Get(size)
}

// PutBuffer returns a buffer to the default global pool
func PutBuffer(buf []byte) {
	defaultBytePool.Put(buf)
}
