package ops

import (
	"context"

	"github.com/pkg/errors"

	"github.com/born-ml/texkernel/internal/broadcast"
	"github.com/born-ml/texkernel/internal/codegen"
	"github.com/born-ml/texkernel/internal/indexmap"
	"github.com/born-ml/texkernel/internal/layout"
	"github.com/born-ml/texkernel/internal/tensor"
)

// MatMul is broadcasting matrix multiplication: batch dimensions broadcast,
// the two trailing dimensions multiply as matrices.
type MatMul struct{}

var _ Operator = MatMul{}

// OpType implements Operator.
func (MatMul) OpType() string { return codegen.OpMatMul }

// OutputShape implements Operator.
func (MatMul) OutputShape(inputs []*tensor.RawTensor) (tensor.Shape, error) {
	if len(inputs) != 2 {
		return nil, errors.Errorf("matmul requires 2 inputs, got %d", len(inputs))
	}
	return broadcast.MatMulShape(inputs[0].Shape(), inputs[1].Shape())
}

// CreateProgramInfo implements Operator.
func (m MatMul) CreateProgramInfo(h Handler, inputs []*tensor.RawTensor) (*ProgramInfo, error) {
	outShape, err := m.OutputShape(inputs)
	if err != nil {
		return nil, err
	}
	aShape, bShape := inputs[0].Shape(), inputs[1].Shape()
	rank := len(outShape)
	ranks := [2]int{len(aShape), len(bShape)}
	sharedDim := broadcast.SharedDim(aShape)

	inputLayouts, outputLayout, err := resolveLayouts(h, inputs, outShape)
	if err != nil {
		return nil, err
	}

	key := codegen.KernelKey{Op: codegen.OpMatMul, OutRank: rank, InputRanks: ranks, SharedDim: sharedDim}
	kernel, hit, err := h.Kernels().GetOrCreate(key, func() (*codegen.Kernel, error) {
		return codegen.NewMatMulKernel(rank, ranks, sharedDim)
	})
	if err != nil {
		return nil, err
	}

	bindings := make([]codegen.Binding, len(inputs))
	for i, role := range []indexmap.Role{indexmap.MatMulLHS, indexmap.MatMulRHS} {
		rule, err := indexmap.NewMatMulRule(rank, inputs[i].Shape(), role)
		if err != nil {
			return nil, err
		}
		bindings[i] = codegen.Binding{Name: samplers[i], Layout: inputLayouts[i], Rule: rule}
	}

	program, err := codegen.Compose(kernel, bindings, outputLayout)
	if err != nil {
		return nil, err
	}

	return &ProgramInfo{
		Name:           codegen.OpMatMul,
		InputLayouts:   inputLayouts,
		OutputLayout:   outputLayout,
		OutputShape:    outShape,
		OutputType:     inputs[0].DType(),
		Samplers:       samplers,
		ShaderSource:   kernel.Source,
		Program:        program,
		KernelCacheHit: hit,
	}, nil
}

// CreateRunData implements Operator. MatMul has no uniforms: the reduction
// bound and the ranks are baked into the kernel text.
func (MatMul) CreateRunData(ctx context.Context, h Handler, info *ProgramInfo, inputs []*tensor.RawTensor) (*RunData, error) {
	return createRunData(ctx, h, info, inputs)
}

// resolveLayouts returns the input layouts and the output layout (typed after
// the first input).
func resolveLayouts(h Handler, inputs []*tensor.RawTensor, outShape tensor.Shape) ([]*layout.TextureLayout, *layout.TextureLayout, error) {
	inputLayouts := make([]*layout.TextureLayout, len(inputs))
	for i, t := range inputs {
		l, err := h.GetOrCreateTextureLayout(t)
		if err != nil {
			return nil, nil, err
		}
		inputLayouts[i] = l
	}
	outputLayout, err := h.CreateTextureLayoutFromShape(outShape, inputs[0].DType())
	if err != nil {
		return nil, nil, err
	}
	return inputLayouts, outputLayout, nil
}
