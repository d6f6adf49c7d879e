package broadcast

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/texkernel/internal/tensor"
)

func TestMatMulShape(t *testing.T) {
	tests := []struct {
		name string
		a, b tensor.Shape
		want tensor.Shape
	}{
		{"2D", tensor.Shape{2, 3}, tensor.Shape{3, 4}, tensor.Shape{2, 4}},
		{"batch on A", tensor.Shape{2, 3, 4}, tensor.Shape{4, 5}, tensor.Shape{2, 3, 5}},
		{"batch on B", tensor.Shape{3, 4}, tensor.Shape{7, 4, 5}, tensor.Shape{7, 3, 5}},
		{"size-1 batch", tensor.Shape{5, 1, 2, 3}, tensor.Shape{4, 3, 6}, tensor.Shape{5, 4, 2, 6}},
		{"equal batch", tensor.Shape{8, 2, 3}, tensor.Shape{8, 3, 2}, tensor.Shape{8, 2, 2}},
		{"row vector", tensor.Shape{1, 3}, tensor.Shape{3, 1}, tensor.Shape{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatMulShape(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// Trailing dims are (A[-2], B[-1]).
			assert.Equal(t, tt.a[len(tt.a)-2], got[len(got)-2])
			assert.Equal(t, tt.b[len(tt.b)-1], got[len(got)-1])
		})
	}
}

func TestMatMulShapeIncompatible(t *testing.T) {
	tests := []struct {
		name string
		a, b tensor.Shape
	}{
		{"shared mismatch", tensor.Shape{3, 4}, tensor.Shape{5, 6}},
		{"batch mismatch", tensor.Shape{2, 3, 4}, tensor.Shape{3, 4, 5}},
		{"rank 1", tensor.Shape{4}, tensor.Shape{4, 5}},
		{"scalar", tensor.Shape{}, tensor.Shape{4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MatMulShape(tt.a, tt.b)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrIncompatible), "got %v", err)

			out, ok := CalcShape(tt.a, tt.b, true)
			assert.False(t, ok)
			assert.Nil(t, out)
		})
	}
}

func TestCalcShapeElementwise(t *testing.T) {
	out, ok := CalcShape(tensor.Shape{3, 1}, tensor.Shape{1, 5}, false)
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{3, 5}, out)

	out, ok = CalcShape(tensor.Shape{4}, tensor.Shape{2, 3, 4}, false)
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{2, 3, 4}, out)

	_, ok = CalcShape(tensor.Shape{3, 4}, tensor.Shape{3, 5}, false)
	assert.False(t, ok)

	_, err := ElementwiseShape(tensor.Shape{3, 4}, tensor.Shape{3, 5})
	assert.True(t, errors.Is(err, ErrIncompatible))
}

func TestSharedDim(t *testing.T) {
	assert.Equal(t, 3, SharedDim(tensor.Shape{2, 3}))
	assert.Equal(t, 4, SharedDim(tensor.Shape{2, 3, 4}))
}
