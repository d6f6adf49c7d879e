// Package handler runs texture-backed operators on a device.
//
// InferenceHandler owns the three caches an invocation draws from: texture
// layouts (by shape, type and packing), kernel bodies (by operator and ranks)
// and texture data (by tensor and layout). Run drives one operator through
// its states and returns the output tensors.
package handler

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/texkernel/internal/broadcast"
	"github.com/born-ml/texkernel/internal/codegen"
	"github.com/born-ml/texkernel/internal/device"
	"github.com/born-ml/texkernel/internal/layout"
	"github.com/born-ml/texkernel/internal/ops"
	"github.com/born-ml/texkernel/internal/tensor"
)

type textureDataKey struct {
	tensor uuid.UUID
	layout layout.Key
}

// InferenceHandler implements ops.Handler on top of a device.
type InferenceHandler struct {
	cfg     Config
	dev     device.Device
	planner *layout.Planner
	kernels *codegen.KernelCache

	mu           sync.RWMutex
	textureDatas map[textureDataKey]*ops.TextureData

	statsMu sync.Mutex
	stats   Stats
}

var _ ops.Handler = (*InferenceHandler)(nil)

// New creates a handler running on dev.
func New(dev device.Device, cfg Config) *InferenceHandler {
	maxSize := dev.MaxTextureSize()
	if cfg.MaxTextureSize > 0 && cfg.MaxTextureSize < maxSize {
		maxSize = cfg.MaxTextureSize
	}
	klog.V(1).Infof("handler: device %s, packing %s, max texture size %d", dev.Name(), cfg.Packing, maxSize)
	return &InferenceHandler{
		cfg:          cfg,
		dev:          dev,
		planner:      layout.NewPlanner(cfg.Packing, maxSize),
		kernels:      codegen.NewKernelCache(),
		textureDatas: make(map[textureDataKey]*ops.TextureData),
	}
}

// Config returns the handler configuration.
func (h *InferenceHandler) Config() Config { return h.cfg }

// Device returns the device the handler runs on.
func (h *InferenceHandler) Device() device.Device { return h.dev }

// GetOrCreateTextureLayout implements ops.Handler.
func (h *InferenceHandler) GetOrCreateTextureLayout(t *tensor.RawTensor) (*layout.TextureLayout, error) {
	return h.planner.LayoutFor(t)
}

// CreateTextureLayoutFromShape implements ops.Handler.
func (h *InferenceHandler) CreateTextureLayoutFromShape(shape tensor.Shape, dtype tensor.DataType) (*layout.TextureLayout, error) {
	return h.planner.LayoutFromShape(shape, dtype)
}

// Kernels implements ops.Handler. With kernel caching disabled every call
// returns an empty cache.
func (h *InferenceHandler) Kernels() *codegen.KernelCache {
	if !h.cfg.CacheKernels {
		return codegen.NewKernelCache()
	}
	return h.kernels
}

// GetOrCreateTextureData implements ops.Handler. The tensor data is uploaded
// once per (tensor, layout) pair.
func (h *InferenceHandler) GetOrCreateTextureData(ctx context.Context, t *tensor.RawTensor, l *layout.TextureLayout) (*ops.TextureData, error) {
	key := textureDataKey{tensor: t.ID(), layout: l.Key}

	if h.cfg.CacheTextureData {
		h.mu.RLock()
		td, ok := h.textureDatas[key]
		h.mu.RUnlock()
		if ok {
			h.recordTextureData(true)
			return td, nil
		}
	}

	values, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	tex, err := h.dev.Upload(ctx, l, values)
	if err != nil {
		return nil, errors.WithMessagef(err, "upload %s", t)
	}
	td := &ops.TextureData{Tensor: t, Layout: l, DType: t.DType(), Texture: tex}
	h.recordTextureData(false)

	if !h.cfg.CacheTextureData {
		return td, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.textureDatas[key]; ok {
		tex.Release()
		return existing, nil
	}
	h.textureDatas[key] = td
	return td, nil
}

// CreateTextureDataFromLayout implements ops.Handler. The texture is not
// cached: it has no tensor until it is read back.
func (h *InferenceHandler) CreateTextureDataFromLayout(ctx context.Context, l *layout.TextureLayout, dtype tensor.DataType) (*ops.TextureData, error) {
	tex, err := h.dev.Allocate(ctx, l)
	if err != nil {
		return nil, errors.WithMessagef(err, "allocate %s", l.Key)
	}
	return &ops.TextureData{Layout: l, DType: dtype, Texture: tex}, nil
}

// Run executes op on inputs and returns its output tensors.
func (h *InferenceHandler) Run(ctx context.Context, op ops.Operator, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	inv, err := h.RunTraced(ctx, op, inputs)
	if err != nil {
		return nil, err
	}
	return inv.Outputs, nil
}

// RunTraced is Run, also returning the invocation trace. On error the trace
// holds the states reached before the failure.
func (h *InferenceHandler) RunTraced(ctx context.Context, op ops.Operator, inputs []*tensor.RawTensor) (*Invocation, error) {
	inv := &Invocation{Op: op.OpType(), States: []ops.State{ops.ShapeResolved}}
	h.recordInvocation()

	if _, err := op.OutputShape(inputs); err != nil {
		if errors.Is(err, broadcast.ErrIncompatible) {
			h.advance(inv, ops.Failed)
			h.recordFailure()
		}
		return inv, errors.WithMessage(err, inv.Op)
	}

	info, err := op.CreateProgramInfo(h, inputs)
	if err != nil {
		return inv, errors.WithMessage(err, inv.Op)
	}
	inv.Info = info
	h.advance(inv, ops.LayoutsResolved)
	if info.KernelCacheHit {
		h.advance(inv, ops.ProgramCacheHit)
	} else {
		h.advance(inv, ops.ProgramGenerated)
	}

	rd, err := op.CreateRunData(ctx, h, info, inputs)
	if err != nil {
		return inv, errors.WithMessage(err, inv.Op)
	}
	h.advance(inv, ops.PlanBuilt)
	defer h.releaseTransient(rd)

	textures := make([]device.Texture, len(rd.InputTextureDatas))
	for i, td := range rd.InputTextureDatas {
		textures[i] = td.Texture
	}
	out := rd.OutputTextureData
	if err := h.dev.Dispatch(ctx, info.Program, textures, out.Texture); err != nil {
		out.Texture.Release()
		return inv, errors.WithMessage(err, inv.Op)
	}
	h.advance(inv, ops.Dispatched)

	values, err := h.dev.Download(ctx, out.Texture)
	if err != nil {
		out.Texture.Release()
		return inv, errors.WithMessage(err, inv.Op)
	}
	result, err := tensor.FromFloat32s(values, info.OutputShape, out.DType)
	if err != nil {
		out.Texture.Release()
		return inv, errors.WithMessage(err, inv.Op)
	}
	h.keepOutput(out, result)

	inv.Outputs = []*tensor.RawTensor{result}
	return inv, nil
}

// keepOutput caches the output texture under its read-back tensor, so a
// following operator consuming the result skips the upload.
func (h *InferenceHandler) keepOutput(out *ops.TextureData, result *tensor.RawTensor) {
	if !h.cfg.CacheTextureData {
		out.Texture.Release()
		return
	}
	out.Tensor = result
	h.mu.Lock()
	h.textureDatas[textureDataKey{tensor: result.ID(), layout: out.Layout.Key}] = out
	h.mu.Unlock()
}

// releaseTransient releases input textures that were not cached.
func (h *InferenceHandler) releaseTransient(rd *ops.RunData) {
	if h.cfg.CacheTextureData {
		return
	}
	for _, td := range rd.InputTextureDatas {
		td.Texture.Release()
	}
}

func (h *InferenceHandler) advance(inv *Invocation, to ops.State) {
	from := inv.State()
	if !ops.CanTransition(from, to) {
		klog.Warningf("handler: %s: unexpected transition %s -> %s", inv.Op, from, to)
	}
	inv.States = append(inv.States, to)
	klog.V(2).Infof("handler: %s: %s -> %s", inv.Op, from, to)
}

// ReleaseTensor releases every texture holding t.
func (h *InferenceHandler) ReleaseTensor(t *tensor.RawTensor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, td := range h.textureDatas {
		if key.tensor == t.ID() {
			td.Texture.Release()
			delete(h.textureDatas, key)
		}
	}
}

// Release releases all cached textures and the device.
func (h *InferenceHandler) Release() {
	h.mu.Lock()
	for key, td := range h.textureDatas {
		td.Texture.Release()
		delete(h.textureDatas, key)
	}
	h.mu.Unlock()
	h.dev.Release()
}
