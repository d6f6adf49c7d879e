// Package codegen generates WGSL compute kernels for texture-backed tensor
// operators.
//
// A kernel body ("process") depends only on the operator, the ranks involved
// and, for matmul, the shared dimension: it is cached in a KernelCache under
// that key. Compose then wraps a body with the layout-specific glue (texture
// bindings, samplers, index mapping, entry point) into a complete program.
package codegen

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Operator kinds.
const (
	OpMatMul = "MatMul"
	OpAdd    = "Add"
	OpSub    = "Sub"
	OpMul    = "Mul"
	OpDiv    = "Div"
)

// KernelKey is the specialization key of a kernel body.
type KernelKey struct {
	Op         string
	OutRank    int
	InputRanks [2]int
	SharedDim  int // matmul only
}

// String implements fmt.Stringer.
func (k KernelKey) String() string {
	return fmt.Sprintf("%s/r%d/%d,%d/k%d", k.Op, k.OutRank, k.InputRanks[0], k.InputRanks[1], k.SharedDim)
}

// Operand is the Go counterpart of an operand's generated glue: the index
// mapping function and the sampler.
type Operand struct {
	Rank   int
	Map    func(out, dst []int)
	Sample func(indices []int) float32
}

// Kernel is a generated kernel body together with an evaluator computing the
// same per-element value on the host.
type Kernel struct {
	Key KernelKey

	// Source is the WGSL text of fn process(indices) -> f32.
	Source string

	// MapPrefix names the index mapping functions the body calls
	// (MapPrefix + sampler name).
	MapPrefix string

	eval func(indices []int, operands []Operand) float32
}

// Process computes one output element on the host.
func (k *Kernel) Process(indices []int, operands []Operand) float32 {
	return k.eval(indices, operands)
}

// MatMulSource emits the body of a broadcasting matmul kernel. The text is a
// pure function of its arguments; changing sharedDim only changes the loop
// bound literal.
func MatMulSource(outRank int, operandRanks [2]int, sharedDim int) string {
	rankA, rankB := operandRanks[0], operandRanks[1]
	var sb strings.Builder
	fmt.Fprintf(&sb, "fn process(indices: array<i32, %d>) -> f32 {\n", outRank)
	sb.WriteString("    var a = bcastMatmulIndices_A(indices);\n")
	sb.WriteString("    var b = bcastMatmulIndices_B(indices);\n")
	sb.WriteString("\n")
	sb.WriteString("    var value: f32 = 0.0;\n")
	fmt.Fprintf(&sb, "    for (var k: i32 = 0; k < %d; k = k + 1) {\n", sharedDim)
	fmt.Fprintf(&sb, "        a[%d] = k;\n", rankA-1)
	fmt.Fprintf(&sb, "        b[%d] = k;\n", rankB-2)
	sb.WriteString("        value = value + _A(a) * _B(b);\n")
	sb.WriteString("    }\n")
	sb.WriteString("    return value;\n")
	sb.WriteString("}\n")
	return sb.String()
}

// NewMatMulKernel generates the matmul kernel for the given ranks and shared
// dimension.
func NewMatMulKernel(outRank int, operandRanks [2]int, sharedDim int) (*Kernel, error) {
	rankA, rankB := operandRanks[0], operandRanks[1]
	if rankA < 2 || rankB < 2 || outRank < 2 {
		return nil, errors.Errorf("codegen: matmul needs rank >= 2, got out=%d a=%d b=%d", outRank, rankA, rankB)
	}
	if sharedDim < 0 {
		return nil, errors.Errorf("codegen: negative shared dimension %d", sharedDim)
	}
	return &Kernel{
		Key:       KernelKey{Op: OpMatMul, OutRank: outRank, InputRanks: operandRanks, SharedDim: sharedDim},
		Source:    MatMulSource(outRank, operandRanks, sharedDim),
		MapPrefix: "bcastMatmulIndices_",
		eval: func(indices []int, operands []Operand) float32 {
			a := make([]int, rankA)
			b := make([]int, rankB)
			operands[0].Map(indices, a)
			operands[1].Map(indices, b)

			var value float32
			for k := 0; k < sharedDim; k++ {
				a[rankA-1] = k
				b[rankB-2] = k
				value += operands[0].Sample(a) * operands[1].Sample(b)
			}
			return value
		},
	}, nil
}

// binaryOps maps elementwise operator kinds to their WGSL operator and host
// implementation.
var binaryOps = map[string]struct {
	symbol string
	apply  func(a, b float32) float32
}{
	OpAdd: {"+", func(a, b float32) float32 { return a + b }},
	OpSub: {"-", func(a, b float32) float32 { return a - b }},
	OpMul: {"*", func(a, b float32) float32 { return a * b }},
	OpDiv: {"/", func(a, b float32) float32 { return a / b }},
}

// IsBinaryOp reports whether op is a supported elementwise operator.
func IsBinaryOp(op string) bool {
	_, ok := binaryOps[op]
	return ok
}

// BinarySource emits the body of a broadcasting elementwise kernel.
func BinarySource(op string, outRank int) (string, error) {
	def, ok := binaryOps[op]
	if !ok {
		return "", errors.Errorf("codegen: unknown elementwise operator %q", op)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "fn process(indices: array<i32, %d>) -> f32 {\n", max(outRank, 1))
	sb.WriteString("    let a = bcastIndices_A(indices);\n")
	sb.WriteString("    let b = bcastIndices_B(indices);\n")
	fmt.Fprintf(&sb, "    return _A(a) %s _B(b);\n", def.symbol)
	sb.WriteString("}\n")
	return sb.String(), nil
}

// NewBinaryKernel generates an elementwise kernel.
func NewBinaryKernel(op string, outRank int, operandRanks [2]int) (*Kernel, error) {
	src, err := BinarySource(op, outRank)
	if err != nil {
		return nil, err
	}
	apply := binaryOps[op].apply
	return &Kernel{
		Key:       KernelKey{Op: op, OutRank: outRank, InputRanks: operandRanks},
		Source:    src,
		MapPrefix: "bcastIndices_",
		eval: func(indices []int, operands []Operand) float32 {
			a := make([]int, operandRanks[0])
			b := make([]int, operandRanks[1])
			operands[0].Map(indices, a)
			operands[1].Map(indices, b)
			return apply(operands[0].Sample(a), operands[1].Sample(b))
		},
	}, nil
}
