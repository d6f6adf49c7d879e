package ops

import (
	"context"

	"github.com/pkg/errors"

	"github.com/born-ml/texkernel/internal/broadcast"
	"github.com/born-ml/texkernel/internal/codegen"
	"github.com/born-ml/texkernel/internal/indexmap"
	"github.com/born-ml/texkernel/internal/tensor"
)

// Binary is a broadcasting elementwise operator (Add, Sub, Mul, Div).
type Binary struct {
	Op string
}

var _ Operator = Binary{}

// NewBinary returns the elementwise operator op.
func NewBinary(op string) (Binary, error) {
	if !codegen.IsBinaryOp(op) {
		return Binary{}, errors.Errorf("unsupported elementwise operator: %s", op)
	}
	return Binary{Op: op}, nil
}

// OpType implements Operator.
func (b Binary) OpType() string { return b.Op }

// OutputShape implements Operator.
func (b Binary) OutputShape(inputs []*tensor.RawTensor) (tensor.Shape, error) {
	if len(inputs) != 2 {
		return nil, errors.Errorf("%s requires 2 inputs, got %d", b.Op, len(inputs))
	}
	return broadcast.ElementwiseShape(inputs[0].Shape(), inputs[1].Shape())
}

// CreateProgramInfo implements Operator.
func (b Binary) CreateProgramInfo(h Handler, inputs []*tensor.RawTensor) (*ProgramInfo, error) {
	outShape, err := b.OutputShape(inputs)
	if err != nil {
		return nil, err
	}
	rank := len(outShape)
	ranks := [2]int{inputs[0].Shape().Rank(), inputs[1].Shape().Rank()}

	inputLayouts, outputLayout, err := resolveLayouts(h, inputs, outShape)
	if err != nil {
		return nil, err
	}

	key := codegen.KernelKey{Op: b.Op, OutRank: rank, InputRanks: ranks}
	kernel, hit, err := h.Kernels().GetOrCreate(key, func() (*codegen.Kernel, error) {
		return codegen.NewBinaryKernel(b.Op, rank, ranks)
	})
	if err != nil {
		return nil, err
	}

	bindings := make([]codegen.Binding, len(inputs))
	for i, t := range inputs {
		rule, err := indexmap.NewRule(rank, t.Shape())
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
		Name:           b.Op,
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

// CreateRunData implements Operator.
func (b Binary) CreateRunData(ctx context.Context, h Handler, info *ProgramInfo, inputs []*tensor.RawTensor) (*RunData, error) {
	return createRunData(ctx, h, info, inputs)
}
