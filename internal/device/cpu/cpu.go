// Package cpu implements a host reference device.
//
// Textures are plain float32 slices laid out exactly as on the GPU (row pitch
// included) and programs are executed with codegen.Program.EvaluateWith, so
// every addressing step of the generated kernel is exercised on the host.
// Large dispatches are split into workgroup-sized chunks run concurrently.
package cpu

import (
	"context"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/texkernel/internal/codegen"
	"github.com/born-ml/texkernel/internal/device"
	"github.com/born-ml/texkernel/internal/layout"
	"github.com/born-ml/texkernel/internal/parallel"
)

// Texture is a host texture.
type Texture struct {
	layout  *layout.TextureLayout
	storage []float32
	dev     *Device
}

// Layout implements device.Texture.
func (t *Texture) Layout() *layout.TextureLayout { return t.layout }

// Storage returns the raw texture storage.
func (t *Texture) Storage() []float32 { return t.storage }

// Release implements device.Texture.
func (t *Texture) Release() {
	if t.storage == nil {
		return
	}
	t.storage = nil
	t.dev.trackRelease()
}

// Device is the host reference device.
type Device struct {
	maxTextureSize int
	workers        parallel.Config

	mu       sync.RWMutex
	programs map[string]*codegen.Program

	statsMu sync.Mutex
	stats   device.Stats
	live    int64
}

// New creates a CPU device. maxTextureSize <= 0 selects
// layout.DefaultMaxTextureSize.
func New(maxTextureSize int) *Device {
	if maxTextureSize <= 0 {
		maxTextureSize = layout.DefaultMaxTextureSize
	}
	return &Device{
		maxTextureSize: maxTextureSize,
		workers:        parallel.DefaultConfig(),
		programs:       make(map[string]*codegen.Program),
	}
}

// Name implements device.Device.
func (d *Device) Name() string { return "CPU (reference)" }

// MaxTextureSize implements device.Device.
func (d *Device) MaxTextureSize() int { return d.maxTextureSize }

// Upload implements device.Device.
func (d *Device) Upload(ctx context.Context, l *layout.TextureLayout, values []float32) (device.Texture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	storage, err := l.Pack(values)
	if err != nil {
		return nil, errors.WithMessage(err, "cpu: upload")
	}
	d.trackAlloc(l, true)
	return &Texture{layout: l, storage: storage, dev: d}, nil
}

// Allocate implements device.Device.
func (d *Device) Allocate(ctx context.Context, l *layout.TextureLayout) (device.Texture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.trackAlloc(l, false)
	return &Texture{layout: l, storage: make([]float32, l.StorageLen()), dev: d}, nil
}

// Dispatch implements device.Device.
func (d *Device) Dispatch(ctx context.Context, p *codegen.Program, inputs []device.Texture, output device.Texture) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.compile(p)

	storages := make([][]float32, len(inputs))
	for i, in := range inputs {
		tex, ok := in.(*Texture)
		if !ok {
			return errors.Errorf("cpu: input %d is not a cpu texture (%T)", i, in)
		}
		storages[i] = tex.storage
	}
	out, ok := output.(*Texture)
	if !ok {
		return errors.Errorf("cpu: output is not a cpu texture (%T)", output)
	}
	if out.layout.Key != p.Output.Key {
		return errors.Errorf("cpu: output texture layout %s does not match program output %s", out.layout.Key, p.Output.Key)
	}

	result, err := p.EvaluateWith(storages, func(n int, body func(start, end int)) {
		parallel.ForRange(n, body, d.workers)
	})
	if err != nil {
		return errors.WithMessage(err, "cpu: dispatch")
	}
	copy(out.storage, result)

	d.statsMu.Lock()
	d.stats.Dispatches++
	d.statsMu.Unlock()
	return nil
}

// Download implements device.Device.
func (d *Device) Download(ctx context.Context, t device.Texture) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tex, ok := t.(*Texture)
	if !ok {
		return nil, errors.Errorf("cpu: not a cpu texture (%T)", t)
	}
	if tex.storage == nil {
		return nil, errors.New("cpu: texture already released")
	}
	return tex.layout.Unpack(tex.storage)
}

// Release implements device.Device.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.programs = make(map[string]*codegen.Program)
}

// Stats returns device activity counters.
func (d *Device) Stats() device.Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// LiveTextures returns the number of textures not yet released.
func (d *Device) LiveTextures() int64 {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.live
}

// compile records p in the program cache, mirroring shader compilation on
// a GPU device.
func (d *Device) compile(p *codegen.Program) {
	d.mu.RLock()
	_, exists := d.programs[p.Key]
	d.mu.RUnlock()
	if exists {
		return
	}

	d.mu.Lock()
	if _, exists := d.programs[p.Key]; !exists {
		d.programs[p.Key] = p
		d.statsMu.Lock()
		d.stats.ProgramsCompiled++
		d.statsMu.Unlock()
		klog.V(1).Infof("cpu: compiled program %s (%d bytes of WGSL)", p.Kernel.Key, len(p.Source))
	}
	d.mu.Unlock()
}

func (d *Device) trackAlloc(l *layout.TextureLayout, upload bool) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if upload {
		d.stats.Uploads++
	} else {
		d.stats.Allocations++
	}
	d.stats.BytesAllocated += l.ByteSize()
	d.live++
	klog.V(2).Infof("cpu: texture %s %dx%d (%s)", l.Key, l.Width, l.Height, humanize.IBytes(l.ByteSize()))
}

func (d *Device) trackRelease() {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.live--
}
