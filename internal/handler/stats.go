package handler

import (
	"github.com/born-ml/texkernel/internal/ops"
	"github.com/born-ml/texkernel/internal/tensor"
)

// Invocation traces one operator run.
type Invocation struct {
	Op      string
	States  []ops.State
	Info    *ops.ProgramInfo
	Outputs []*tensor.RawTensor
}

// State returns the last state reached.
func (inv *Invocation) State() ops.State {
	return inv.States[len(inv.States)-1]
}

// Stats reports handler cache activity.
type Stats struct {
	LayoutHits   uint64
	LayoutMisses uint64
	Layouts      int

	KernelHits   uint64
	KernelMisses uint64
	Kernels      int

	TextureDataHits   uint64
	TextureDataMisses uint64
	TextureDatas      int

	Invocations uint64
	Failures    uint64
}

// Stats returns a snapshot of the handler counters.
func (h *InferenceHandler) Stats() Stats {
	h.statsMu.Lock()
	s := h.stats
	h.statsMu.Unlock()

	s.LayoutHits, s.LayoutMisses, s.Layouts = h.planner.Stats()
	s.KernelHits, s.KernelMisses = h.kernels.Stats()
	s.Kernels = h.kernels.Len()

	h.mu.RLock()
	s.TextureDatas = len(h.textureDatas)
	h.mu.RUnlock()
	return s
}

func (h *InferenceHandler) recordTextureData(hit bool) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	if hit {
		h.stats.TextureDataHits++
	} else {
		h.stats.TextureDataMisses++
	}
}

func (h *InferenceHandler) recordInvocation() {
	h.statsMu.Lock()
	h.stats.Invocations++
	h.statsMu.Unlock()
}

func (h *InferenceHandler) recordFailure() {
	h.statsMu.Lock()
	h.stats.Failures++
	h.statsMu.Unlock()
}
