// Package broadcast computes output shapes for broadcasting binary operators.
//
// Two rules are provided:
//   - elementwise: NumPy broadcasting over all dimensions
//   - matmul: NumPy broadcasting over the batch dimensions, with the two
//     trailing dimensions following matrix multiplication
package broadcast

import (
	"github.com/pkg/errors"

	"github.com/born-ml/texkernel/internal/tensor"
)

// ErrIncompatible reports operand shapes that cannot be broadcast together.
// Retrying with the same shapes cannot succeed.
var ErrIncompatible = errors.New("incompatible shapes")

// MatMulShape returns the output shape of a broadcasting matrix multiplication.
//
// Both operands need at least two dimensions. The batch dimensions (all but the
// last two) are right-aligned and broadcast elementwise. The output ends with
// (a[-2], b[-1]), and a[-1] must equal b[-2] (the shared dimension).
//
// Examples:
//
//	[2, 3]    @ [3, 4]    → [2, 4]
//	[2, 3, 4] @ [4, 5]    → [2, 3, 5]
//	[5, 1, 2, 3] @ [4, 3, 6] → [5, 4, 2, 6]
//	[3, 4]    @ [5, 6]    → ErrIncompatible
func MatMulShape(a, b tensor.Shape) (tensor.Shape, error) {
	if len(a) < 2 || len(b) < 2 {
		return nil, errors.Wrapf(ErrIncompatible, "matmul needs rank >= 2 operands, got %v and %v", a, b)
	}
	if shared, bRows := a[len(a)-1], b[len(b)-2]; shared != bRows {
		return nil, errors.Wrapf(ErrIncompatible, "matmul shared dimension mismatch: %v and %v (%d vs %d)",
			a, b, shared, bRows)
	}

	batch, _, err := tensor.BroadcastShapes(a[:len(a)-2], b[:len(b)-2])
	if err != nil {
		return nil, errors.Wrapf(ErrIncompatible, "matmul batch dimensions: %v", err)
	}

	out := make(tensor.Shape, 0, len(batch)+2)
	out = append(out, batch...)
	return append(out, a[len(a)-2], b[len(b)-1]), nil
}

// ElementwiseShape returns the NumPy broadcast of a and b.
func ElementwiseShape(a, b tensor.Shape) (tensor.Shape, error) {
	out, _, err := tensor.BroadcastShapes(a, b)
	if err != nil {
		return nil, errors.Wrap(ErrIncompatible, err.Error())
	}
	return out, nil
}

// CalcShape is the shape utility used by operators: it returns the broadcast
// output shape and true, or nil and false when the shapes are incompatible.
func CalcShape(a, b tensor.Shape, isMatMul bool) (tensor.Shape, bool) {
	var (
		out tensor.Shape
		err error
	)
	if isMatMul {
		out, err = MatMulShape(a, b)
	} else {
		out, err = ElementwiseShape(a, b)
	}
	if err != nil {
		return nil, false
	}
	return out, true
}

// SharedDim returns the contraction size of a @ b: the last dimension of a.
func SharedDim(a tensor.Shape) int {
	return a[len(a)-1]
}
