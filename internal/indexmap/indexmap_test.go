package indexmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/texkernel/internal/tensor"
)

func TestMatMulRuleBroadcastsMissingLeadingDims(t *testing.T) {
	// A=[2,3,4] @ B=[4,5] → [2,3,5]
	ruleB, err := NewMatMulRule(3, tensor.Shape{4, 5}, MatMulRHS)
	require.NoError(t, err)

	_, ok := ruleB.Lookup(0)
	assert.False(t, ok, "output position 0 has no counterpart in B")

	assert.Equal(t, Reduction, ruleB.Source(0))
	assert.Equal(t, 2, ruleB.Source(1))

	dst := make([]int, 2)
	ruleB.Apply([]int{1, 2, 4}, dst)
	assert.Equal(t, []int{0, 4}, dst)

	ruleA, err := NewMatMulRule(3, tensor.Shape{2, 3, 4}, MatMulLHS)
	require.NoError(t, err)
	dst = make([]int, 3)
	ruleA.Apply([]int{1, 2, 4}, dst)
	assert.Equal(t, []int{1, 2, 0}, dst)
	assert.Equal(t, Reduction, ruleA.Source(2))
}

func TestMatMulRuleSizeOneBatch(t *testing.T) {
	// [5,1,2,3] @ [4,3,6] → [5,4,2,6]
	ruleA, err := NewMatMulRule(4, tensor.Shape{5, 1, 2, 3}, MatMulLHS)
	require.NoError(t, err)
	ruleB, err := NewMatMulRule(4, tensor.Shape{4, 3, 6}, MatMulRHS)
	require.NoError(t, err)

	out := []int{3, 2, 1, 5}

	a := make([]int, 4)
	ruleA.Apply(out, a)
	assert.Equal(t, []int{3, 0, 1, 0}, a)

	b := make([]int, 3)
	ruleB.Apply(out, b)
	assert.Equal(t, []int{2, 0, 5}, b)

	pos, ok := ruleB.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, 0, pos)
}

func TestElementwiseRule(t *testing.T) {
	rule, err := NewRule(3, tensor.Shape{1, 4})
	require.NoError(t, err)

	dst := make([]int, 2)
	rule.Apply([]int{1, 2, 3}, dst)
	assert.Equal(t, []int{0, 3}, dst)
	assert.Equal(t, Elementwise, rule.Role())
	assert.Equal(t, 2, rule.Rank())
	assert.Equal(t, 3, rule.OutRank())
}

func TestRuleErrors(t *testing.T) {
	_, err := NewRule(1, tensor.Shape{2, 2})
	assert.Error(t, err)

	_, err = NewMatMulRule(2, tensor.Shape{4}, MatMulLHS)
	assert.Error(t, err)

	_, err = NewMatMulRule(2, tensor.Shape{2, 2}, Elementwise)
	assert.Error(t, err)
}

func TestEmit(t *testing.T) {
	rule, err := NewMatMulRule(3, tensor.Shape{1, 3, 4}, MatMulLHS)
	require.NoError(t, err)

	want := "fn bcastMatmulIndices_A(indices: array<i32, 3>) -> array<i32, 3> {\n" +
		"    var o: array<i32, 3>;\n" +
		"    o[0] = 0;\n" +
		"    o[1] = indices[1];\n" +
		"    return o;\n" +
		"}\n"
	assert.Equal(t, want, rule.Emit("bcastMatmulIndices_A"))

	again, err := NewMatMulRule(3, tensor.Shape{1, 3, 4}, MatMulLHS)
	require.NoError(t, err)
	assert.Equal(t, rule.Emit("f"), again.Emit("f"))
	assert.Equal(t, rule.Key(), again.Key())
}

func TestEmitScalarOperand(t *testing.T) {
	rule, err := NewRule(2, tensor.Shape{})
	require.NoError(t, err)
	src := rule.Emit("bcastIndices_B")
	assert.Contains(t, src, "-> array<i32, 1>")
	assert.Equal(t, 1, ArrayLen(0))
}
