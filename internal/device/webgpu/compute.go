//go:build windows

package webgpu

import (
	"context"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/texkernel/internal/codegen"
	"github.com/born-ml/texkernel/internal/device"
	"github.com/born-ml/texkernel/internal/layout"
)

// Texture is a texture backed by a pooled storage buffer.
type Texture struct {
	layout *layout.TextureLayout
	buffer *wgpu.Buffer
	size   uint64
	dev    *Device
}

// Layout implements device.Texture.
func (t *Texture) Layout() *layout.TextureLayout { return t.layout }

// Release implements device.Texture: the buffer goes back to the pool.
func (t *Texture) Release() {
	if t.buffer == nil {
		return
	}
	if t.dev.pool != nil {
		t.dev.pool.Release(t.buffer, t.size)
	} else {
		t.buffer.Release()
	}
	t.buffer = nil
}

// Upload implements device.Device.
func (d *Device) Upload(ctx context.Context, l *layout.TextureLayout, values []float32) (device.Texture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	storage, err := l.Pack(values)
	if err != nil {
		return nil, errors.WithMessage(err, "webgpu: upload")
	}

	size := l.ByteSize()
	buffer := d.pool.Acquire(size)
	d.writeBuffer(buffer, float32Bytes(storage))
	d.track(l, true)
	return &Texture{layout: l, buffer: buffer, size: size, dev: d}, nil
}

// Allocate implements device.Device.
func (d *Device) Allocate(ctx context.Context, l *layout.TextureLayout) (device.Texture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := l.ByteSize()
	buffer := d.pool.Acquire(size)
	d.track(l, false)
	return &Texture{layout: l, buffer: buffer, size: size, dev: d}, nil
}

// Dispatch implements device.Device.
func (d *Device) Dispatch(ctx context.Context, p *codegen.Program, inputs []device.Texture, output device.Texture) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	shader := d.compileShader(p.Key, p.Source)
	pipeline := d.getOrCreatePipeline(p.Key, shader)

	entries := make([]wgpu.BindGroupEntry, 0, len(inputs)+1)
	for i, in := range inputs {
		tex, ok := in.(*Texture)
		if !ok {
			return errors.Errorf("webgpu: input %d is not a webgpu texture (%T)", i, in)
		}
		//nolint:gosec // G115: binding index is small
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i), tex.buffer, 0, tex.size))
	}
	out, ok := output.(*Texture)
	if !ok {
		return errors.Errorf("webgpu: output is not a webgpu texture (%T)", output)
	}
	//nolint:gosec // G115: binding index is small
	entries = append(entries, wgpu.BufferBindingEntry(uint32(len(inputs)), out.buffer, 0, out.size))

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := d.device.CreateBindGroupSimple(bindGroupLayout, entries)
	defer bindGroup.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)

	x, y := p.Workgroups()
	if x > 0 {
		computePass.DispatchWorkgroups(x, y, 1)
	}
	computePass.End()

	cmdBuffer := encoder.Finish(nil)
	d.queue.Submit(cmdBuffer)

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
		return nil, errors.Errorf("webgpu: not a webgpu texture (%T)", t)
	}
	if tex.buffer == nil {
		return nil, errors.New("webgpu: texture already released")
	}

	data, err := d.readBuffer(tex.buffer, tex.size)
	if err != nil {
		return nil, err
	}
	storage := make([]float32, len(data)/4)
	for i := range storage {
		storage[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return tex.layout.Unpack(storage)
}

// compileShader compiles WGSL shader code into a ShaderModule.
// Results are cached by program key.
func (d *Device) compileShader(key, code string) *wgpu.ShaderModule {
	d.mu.RLock()
	if shader, exists := d.shaders[key]; exists {
		d.mu.RUnlock()
		return shader
	}
	d.mu.RUnlock()

	shader := d.device.CreateShaderModuleWGSL(code)

	d.mu.Lock()
	if existing, exists := d.shaders[key]; exists {
		d.mu.Unlock()
		shader.Release()
		return existing
	}
	d.shaders[key] = shader
	d.mu.Unlock()

	d.statsMu.Lock()
	d.stats.ProgramsCompiled++
	d.statsMu.Unlock()
	klog.V(1).Infof("webgpu: compiled shader (%d bytes)", len(code))
	return shader
}

// getOrCreatePipeline returns a cached ComputePipeline or creates a new one.
func (d *Device) getOrCreatePipeline(key string, shader *wgpu.ShaderModule) *wgpu.ComputePipeline {
	d.mu.RLock()
	if pipeline, exists := d.pipelines[key]; exists {
		d.mu.RUnlock()
		return pipeline
	}
	d.mu.RUnlock()

	// Auto layout (nil layout)
	pipeline := d.device.CreateComputePipelineSimple(nil, shader, "main")

	d.mu.Lock()
	if existing, exists := d.pipelines[key]; exists {
		d.mu.Unlock()
		pipeline.Release()
		return existing
	}
	d.pipelines[key] = pipeline
	d.mu.Unlock()

	return pipeline
}

// writeBuffer uploads data into dst through a mapped-at-creation staging
// buffer, since pooled storage buffers are not mappable.
func (d *Device) writeBuffer(dst *wgpu.Buffer, data []byte) {
	size := uint64(len(data))
	stagingBuffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	defer stagingBuffer.Release()

	mappedPtr := stagingBuffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mappedSlice, data)
	stagingBuffer.Unmap()

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(stagingBuffer, 0, dst, 0, size)
	cmdBuffer := encoder.Finish(nil)
	d.queue.Submit(cmdBuffer)
}

// readBuffer reads data back from a GPU buffer to CPU memory.
// Uses a staging buffer since storage buffers can't be mapped directly.
func (d *Device) readBuffer(srcBuffer *wgpu.Buffer, size uint64) ([]byte, error) {
	stagingBuffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer stagingBuffer.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(srcBuffer, 0, stagingBuffer, 0, size)
	cmdBuffer := encoder.Finish(nil)
	d.queue.Submit(cmdBuffer)

	if err := stagingBuffer.MapAsync(d.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, errors.Wrap(err, "webgpu: failed to map staging buffer")
	}

	mappedPtr := stagingBuffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mappedSlice)
	stagingBuffer.Unmap()

	return result, nil
}

func (d *Device) track(l *layout.TextureLayout, upload bool) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if upload {
		d.stats.Uploads++
	} else {
		d.stats.Allocations++
	}
	d.stats.BytesAllocated += l.ByteSize()
	klog.V(2).Infof("webgpu: texture %s %dx%d (%s)", l.Key, l.Width, l.Height, humanize.IBytes(l.ByteSize()))
}

func float32Bytes(values []float32) []byte {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return data
}
