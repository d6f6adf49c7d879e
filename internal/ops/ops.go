// Package ops implements texture-backed tensor operators.
//
// An operator turns its inputs into a ProgramInfo (output shape, texture
// layouts, composed program) and then into RunData (the concrete textures to
// bind). Both steps go through a Handler, which owns the layout, kernel and
// texture caches.
package ops

import (
	"context"

	"github.com/born-ml/texkernel/internal/codegen"
	"github.com/born-ml/texkernel/internal/device"
	"github.com/born-ml/texkernel/internal/layout"
	"github.com/born-ml/texkernel/internal/tensor"
)

// TextureData binds a tensor to a texture with a given layout.
type TextureData struct {
	// Tensor is the tensor whose data the texture holds; nil for an output
	// texture that has not been read back yet.
	Tensor  *tensor.RawTensor
	Layout  *layout.TextureLayout
	DType   tensor.DataType
	Texture device.Texture
}

// ProgramInfo describes the program of one operator invocation. It is
// immutable once built.
type ProgramInfo struct {
	Name         string
	InputLayouts []*layout.TextureLayout
	OutputLayout *layout.TextureLayout
	OutputShape  tensor.Shape
	OutputType   tensor.DataType
	Samplers     []string

	// ShaderSource is the kernel body; Program.Source is the full program.
	ShaderSource string
	Program      *codegen.Program

	// KernelCacheHit reports whether the kernel body was reused.
	KernelCacheHit bool
}

// RunData is the execution-ready binding of one invocation.
type RunData struct {
	InputTextureDatas []*TextureData
	OutputTextureData *TextureData
	UniformData       map[string]any
}

// Handler provides layouts, kernels and textures to operators.
type Handler interface {
	GetOrCreateTextureLayout(t *tensor.RawTensor) (*layout.TextureLayout, error)
	CreateTextureLayoutFromShape(shape tensor.Shape, dtype tensor.DataType) (*layout.TextureLayout, error)
	GetOrCreateTextureData(ctx context.Context, t *tensor.RawTensor, l *layout.TextureLayout) (*TextureData, error)
	CreateTextureDataFromLayout(ctx context.Context, l *layout.TextureLayout, dtype tensor.DataType) (*TextureData, error)
	Kernels() *codegen.KernelCache
}

// Operator is a texture-backed tensor operator.
type Operator interface {
	// OpType returns the operator kind, e.g. "MatMul".
	OpType() string

	// OutputShape validates the inputs and returns the output shape.
	OutputShape(inputs []*tensor.RawTensor) (tensor.Shape, error)

	CreateProgramInfo(h Handler, inputs []*tensor.RawTensor) (*ProgramInfo, error)
	CreateRunData(ctx context.Context, h Handler, info *ProgramInfo, inputs []*tensor.RawTensor) (*RunData, error)
}

// samplers are the texture names of the two operands.
var samplers = []string{"A", "B"}

// createRunData resolves the input textures from the layouts recorded in info
// and allocates the output texture. The output element type is always the
// type of the first input.
func createRunData(ctx context.Context, h Handler, info *ProgramInfo, inputs []*tensor.RawTensor) (*RunData, error) {
	tds := make([]*TextureData, len(inputs))
	for i, t := range inputs {
		td, err := h.GetOrCreateTextureData(ctx, t, info.InputLayouts[i])
		if err != nil {
			return nil, err
		}
		tds[i] = td
	}

	out, err := h.CreateTextureDataFromLayout(ctx, info.OutputLayout, tds[0].Tensor.DType())
	if err != nil {
		return nil, err
	}

	return &RunData{
		InputTextureDatas: tds,
		OutputTextureData: out,
		UniformData:       map[string]any{},
	}, nil
}
