// Package indexmap maps output logical indices to operand logical indices
// under broadcasting.
//
// A Rule is built once per (output rank, operand shape, role) and can be both
// evaluated in Go (Apply) and emitted as WGSL (Emit). The emitted function runs
// once per output element inside the generated kernel.
package indexmap

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/texkernel/internal/tensor"
)

// Role selects how the trailing dimensions of an operand are addressed.
type Role int

const (
	// Elementwise operands map every dimension through broadcasting.
	Elementwise Role = iota
	// MatMulLHS is the left matmul operand: its row comes from the output row,
	// its last dimension is driven by the reduction loop.
	MatMulLHS
	// MatMulRHS is the right matmul operand: its column comes from the output
	// column, its second-to-last dimension is driven by the reduction loop.
	MatMulRHS
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case Elementwise:
		return "elementwise"
	case MatMulLHS:
		return "matmul-lhs"
	case MatMulRHS:
		return "matmul-rhs"
	default:
		return "unknown"
	}
}

// Special source values of a Rule position.
const (
	// Fixed positions are always 0: broadcast (size 1) dimensions.
	Fixed = -1
	// Reduction positions are set by the kernel's reduction loop.
	Reduction = -2
)

// Rule maps an output index tuple of rank OutRank to an operand index tuple.
type Rule struct {
	role    Role
	outRank int
	shape   tensor.Shape
	sources []int // per operand position: output position, Fixed or Reduction
}

// NewRule builds the elementwise broadcasting rule for an operand of the given
// shape read by an output of rank outRank.
func NewRule(outRank int, operand tensor.Shape) (*Rule, error) {
	return newRule(Elementwise, outRank, operand)
}

// NewMatMulRule builds the rule for a matmul operand. Batch dimensions
// broadcast as in NewRule; the two matrix dimensions are handled per role.
func NewMatMulRule(outRank int, operand tensor.Shape, role Role) (*Rule, error) {
	if role != MatMulLHS && role != MatMulRHS {
		return nil, errors.Errorf("indexmap: role %s is not a matmul role", role)
	}
	if len(operand) < 2 || outRank < 2 {
		return nil, errors.Errorf("indexmap: matmul needs rank >= 2, got operand %v and output rank %d", operand, outRank)
	}
	return newRule(role, outRank, operand)
}

func newRule(role Role, outRank int, operand tensor.Shape) (*Rule, error) {
	r := len(operand)
	if r > outRank {
		return nil, errors.Errorf("indexmap: operand rank %d exceeds output rank %d", r, outRank)
	}
	offset := outRank - r

	sources := make([]int, r)
	batch := r
	if role != Elementwise {
		batch = r - 2
	}
	for j := 0; j < batch; j++ {
		if operand[j] == 1 {
			sources[j] = Fixed
		} else {
			sources[j] = j + offset
		}
	}

	switch role {
	case MatMulLHS:
		sources[r-2] = outRank - 2
		sources[r-1] = Reduction
	case MatMulRHS:
		sources[r-2] = Reduction
		sources[r-1] = outRank - 1
	}

	return &Rule{
		role:    role,
		outRank: outRank,
		shape:   operand.Clone(),
		sources: sources,
	}, nil
}

// Role returns the operand role.
func (r *Rule) Role() Role { return r.role }

// OutRank returns the output rank the rule reads from.
func (r *Rule) OutRank() int { return r.outRank }

// Rank returns the operand rank the rule writes to.
func (r *Rule) Rank() int { return len(r.shape) }

// Source returns, for operand position j, the output position it copies, or
// Fixed or Reduction.
func (r *Rule) Source(j int) int { return r.sources[j] }

// Lookup returns the operand position fed by output position outPos. ok is
// false when the output position has no operand counterpart (the operand's
// index there is fixed at 0 or the position is dropped).
func (r *Rule) Lookup(outPos int) (operandPos int, ok bool) {
	for j, src := range r.sources {
		if src == outPos {
			return j, true
		}
	}
	return Fixed, false
}

// Apply evaluates the rule: dst receives the operand indices for output index
// tuple out. Reduction positions are set to 0 and left for the caller.
func (r *Rule) Apply(out, dst []int) {
	for j, src := range r.sources {
		if src >= 0 {
			dst[j] = out[src]
		} else {
			dst[j] = 0
		}
	}
}

// ArrayLen is the WGSL array length used for an index tuple of the given rank.
// WGSL has no zero-length arrays, so rank 0 uses a single unused slot.
func ArrayLen(rank int) int {
	return max(rank, 1)
}

// Emit returns the WGSL function named fnName implementing the rule:
//
//	fn fnName(indices: array<i32, OutRank>) -> array<i32, Rank>
//
// The text depends only on the rule, so equal rules emit identical text.
func (r *Rule) Emit(fnName string) string {
	var sb strings.Builder
	rank := ArrayLen(len(r.shape))
	fmt.Fprintf(&sb, "fn %s(indices: array<i32, %d>) -> array<i32, %d> {\n",
		fnName, ArrayLen(r.outRank), rank)
	fmt.Fprintf(&sb, "    var o: array<i32, %d>;\n", rank)
	for j, src := range r.sources {
		switch src {
		case Fixed:
			fmt.Fprintf(&sb, "    o[%d] = 0;\n", j)
		case Reduction:
			// set by the reduction loop
		default:
			fmt.Fprintf(&sb, "    o[%d] = indices[%d];\n", j, src)
		}
	}
	sb.WriteString("    return o;\n}\n")
	return sb.String()
}

// Key identifies the rule for program caching.
func (r *Rule) Key() string {
	return fmt.Sprintf("%s/%d/%s", r.role, r.outRank, r.shape.Key())
}
