//go:build windows

package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// sizeClass represents the texture storage size categories used for pooling.
type sizeClass int

const (
	// smallClass for textures < 4KB.
	smallClass sizeClass = iota
	// mediumClass for textures 4KB-1MB.
	mediumClass
	// largeClass for textures > 1MB.
	largeClass
)

const (
	smallThreshold  = 4 * 1024    // 4KB
	mediumThreshold = 1024 * 1024 // 1MB
	maxPoolSize     = 64          // Max buffers per class
)

// textureUsage is the usage of every texture storage buffer.
var textureUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

type pooledBuffer struct {
	buffer *wgpu.Buffer
	size   uint64
}

// TexturePool reuses texture storage buffers across dispatches.
// Buffers are grouped by size class; a buffer is reused for any request it
// can hold.
type TexturePool struct {
	device *wgpu.Device
	pools  [3][]*pooledBuffer
	mu     sync.Mutex

	totalAllocated uint64
	totalReleased  uint64
	poolHits       uint64
	poolMisses     uint64
}

// NewTexturePool creates a new pool for the given device.
func NewTexturePool(device *wgpu.Device) *TexturePool {
	return &TexturePool{device: device}
}

// Acquire gets a storage buffer of at least size bytes.
func (p *TexturePool) Acquire(size uint64) *wgpu.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	class := categorize(size)
	for i, pb := range p.pools[class] {
		if pb.size >= size {
			p.pools[class] = append(p.pools[class][:i], p.pools[class][i+1:]...)
			p.poolHits++
			return pb.buffer
		}
	}

	p.poolMisses++
	p.totalAllocated++
	return p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: textureUsage,
		Size:  size,
	})
}

// Release returns a buffer to the pool, or frees it when the pool is full.
func (p *TexturePool) Release(buffer *wgpu.Buffer, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalReleased++
	class := categorize(size)
	if len(p.pools[class]) >= maxPoolSize {
		buffer.Release()
		return
	}
	p.pools[class] = append(p.pools[class], &pooledBuffer{buffer: buffer, size: size})
}

// Clear releases all pooled buffers.
func (p *TexturePool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for class := range p.pools {
		for _, pb := range p.pools[class] {
			pb.buffer.Release()
		}
		p.pools[class] = p.pools[class][:0]
	}
}

// Stats returns statistics about pool usage.
func (p *TexturePool) Stats() (allocated, released, hits, misses uint64, pooledCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for class := range p.pools {
		pooledCount += len(p.pools[class])
	}
	return p.totalAllocated, p.totalReleased, p.poolHits, p.poolMisses, pooledCount
}

func categorize(size uint64) sizeClass {
	if size < smallThreshold {
		return smallClass
	}
	if size < mediumThreshold {
		return mediumClass
	}
	return largeClass
}
