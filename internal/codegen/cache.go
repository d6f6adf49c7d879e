package codegen

import (
	"sync"

	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

// KernelCache stores generated kernels by KernelKey. Concurrent misses on the
// same key are coalesced so each kernel is generated at most once at a time.
type KernelCache struct {
	mu      sync.RWMutex
	kernels map[KernelKey]*Kernel
	group   singleflight.Group

	statsMu sync.Mutex
	hits    uint64
	misses  uint64
}

// NewKernelCache creates an empty kernel cache.
func NewKernelCache() *KernelCache {
	return &KernelCache{kernels: make(map[KernelKey]*Kernel)}
}

// GetOrCreate returns the cached kernel for key, or calls build and caches its
// result. hit reports whether the kernel came from the cache.
func (c *KernelCache) GetOrCreate(key KernelKey, build func() (*Kernel, error)) (k *Kernel, hit bool, err error) {
	c.mu.RLock()
	k, ok := c.kernels[key]
	c.mu.RUnlock()
	if ok {
		c.record(true)
		return k, true, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		c.mu.RLock()
		cached, ok := c.kernels[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		built, err := build()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.kernels[key] = built
		c.mu.Unlock()
		klog.V(1).Infof("codegen: generated kernel %s", key)
		return built, nil
	})
	if err != nil {
		return nil, false, err
	}
	c.record(false)
	return v.(*Kernel), false, nil
}

// Len returns the number of cached kernels.
func (c *KernelCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kernels)
}

// Stats returns cache hits and misses.
func (c *KernelCache) Stats() (hits, misses uint64) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.hits, c.misses
}

func (c *KernelCache) record(hit bool) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}
