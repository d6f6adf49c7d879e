package layout

import (
	"sync"

	"k8s.io/klog/v2"

	"github.com/born-ml/texkernel/internal/tensor"
)

// Planner resolves texture layouts for tensors and caches them by Key.
// Layouts are pure functions of their key, so concurrent misses on the same
// key converge on equal values; the first stored instance wins.
type Planner struct {
	packing        Packing
	maxTextureSize int

	mu      sync.RWMutex
	layouts map[Key]*TextureLayout

	statsMu sync.Mutex
	hits    uint64
	misses  uint64
}

// NewPlanner creates a planner with the given packing policy and maximum
// texture dimension (DefaultMaxTextureSize when <= 0).
func NewPlanner(packing Packing, maxTextureSize int) *Planner {
	if maxTextureSize <= 0 {
		maxTextureSize = DefaultMaxTextureSize
	}
	return &Planner{
		packing:        packing,
		maxTextureSize: maxTextureSize,
		layouts:        make(map[Key]*TextureLayout),
	}
}

// Packing returns the planner's packing policy.
func (p *Planner) Packing() Packing {
	return p.packing
}

// LayoutFor returns the layout of tensor t, creating and caching it if needed.
func (p *Planner) LayoutFor(t *tensor.RawTensor) (*TextureLayout, error) {
	return p.LayoutFromShape(t.Shape(), t.DType())
}

// LayoutFromShape returns the layout of a tensor with the given shape and
// type, for tensors that do not exist yet (operator outputs).
func (p *Planner) LayoutFromShape(shape tensor.Shape, dtype tensor.DataType) (*TextureLayout, error) {
	key := Key{Shape: shape.Key(), DType: dtype, Packing: p.packing}

	p.mu.RLock()
	l, ok := p.layouts[key]
	p.mu.RUnlock()
	if ok {
		p.record(true)
		return l, nil
	}

	l, err := newTextureLayout(shape, dtype, p.packing, p.maxTextureSize)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if existing, ok := p.layouts[key]; ok {
		l = existing
	} else {
		p.layouts[key] = l
		klog.V(1).Infof("layout: new %s -> %dx%d (%d ch, pitch %d)", key, l.Width, l.Height, l.Channels, l.Pitch)
	}
	p.mu.Unlock()

	p.record(false)
	return l, nil
}

// Stats returns cache hits, misses and the number of cached layouts.
func (p *Planner) Stats() (hits, misses uint64, cached int) {
	p.statsMu.Lock()
	hits, misses = p.hits, p.misses
	p.statsMu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()
	return hits, misses, len(p.layouts)
}

func (p *Planner) record(hit bool) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	if hit {
		p.hits++
	} else {
		p.misses++
	}
}
