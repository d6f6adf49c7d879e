package handler

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/born-ml/texkernel/internal/broadcast"
	"github.com/born-ml/texkernel/internal/codegen"
	"github.com/born-ml/texkernel/internal/device/cpu"
	"github.com/born-ml/texkernel/internal/layout"
	"github.com/born-ml/texkernel/internal/ops"
	"github.com/born-ml/texkernel/internal/tensor"
)

func newTestHandler(t *testing.T, cfg Config) (*InferenceHandler, *cpu.Device) {
	t.Helper()
	dev := cpu.New(0)
	h := New(dev, cfg)
	t.Cleanup(h.Release)
	return h, dev
}

func mustTensor[T tensor.DType](t *testing.T, data []T, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromSlice(data, shape)
	require.NoError(t, err)
	return raw
}

func iota32(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}

// batchedMatMul multiplies a [batch, m, k] by b [k, n].
func batchedMatMul(a, b []float32, batch, m, k, n int) []float32 {
	out := make([]float32, batch*m*n)
	for bi := 0; bi < batch; bi++ {
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				var sum float32
				for kk := 0; kk < k; kk++ {
					sum += a[bi*m*k+i*k+kk] * b[kk*n+j]
				}
				out[bi*m*n+i*n+j] = sum
			}
		}
	}
	return out
}

func TestRunMatMul2D(t *testing.T) {
	for _, packing := range []layout.Packing{layout.Unpacked, layout.PackedRGBA} {
		t.Run(packing.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Packing = packing
			h, _ := newTestHandler(t, cfg)

			a := mustTensor(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
			b := mustTensor(t, []float32{1, 0, 0, 1, 0, 1, 0, 1, 0, 0, 1, 1}, tensor.Shape{3, 4})

			inv, err := h.RunTraced(context.Background(), ops.MatMul{}, []*tensor.RawTensor{a, b})
			require.NoError(t, err)
			require.Len(t, inv.Outputs, 1)

			out := inv.Outputs[0]
			assert.Equal(t, tensor.Shape{2, 4}, out.Shape())
			assert.Equal(t, tensor.Float32, out.DType())
			assert.Equal(t, []float32{1, 2, 3, 6, 4, 5, 6, 15}, out.AsFloat32())
			assert.Equal(t, []ops.State{
				ops.ShapeResolved, ops.LayoutsResolved, ops.ProgramGenerated, ops.PlanBuilt, ops.Dispatched,
			}, inv.States)
			assert.Equal(t, []string{"A", "B"}, inv.Info.Samplers)
			assert.Contains(t, inv.Info.ShaderSource, "k < 3;")
		})
	}
}

func TestRunMatMulBroadcastBatch(t *testing.T) {
	h, _ := newTestHandler(t, DefaultConfig())

	aData, bData := iota32(24), iota32(20)
	a := mustTensor(t, aData, tensor.Shape{2, 3, 4})
	b := mustTensor(t, bData, tensor.Shape{4, 5})

	outs, err := h.Run(context.Background(), ops.MatMul{}, []*tensor.RawTensor{a, b})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, tensor.Shape{2, 3, 5}, outs[0].Shape())
	assert.Equal(t, batchedMatMul(aData, bData, 2, 3, 4, 5), outs[0].AsFloat32())
}

func TestRunMatMulBroadcastSizeOneBatch(t *testing.T) {
	h, _ := newTestHandler(t, DefaultConfig())

	// a [1, 2, 2] broadcasts against b [3, 2, 2].
	a := mustTensor(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 2, 2})
	bData := []float32{
		1, 0, 0, 1,
		2, 0, 0, 2,
		0, 1, 1, 0,
	}
	b := mustTensor(t, bData, tensor.Shape{3, 2, 2})

	outs, err := h.Run(context.Background(), ops.MatMul{}, []*tensor.RawTensor{a, b})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 2, 2}, outs[0].Shape())
	assert.Equal(t, []float32{
		1, 2, 3, 4,
		2, 4, 6, 8,
		2, 1, 4, 3,
	}, outs[0].AsFloat32())
}

func TestRunIncompatibleShapesFail(t *testing.T) {
	h, dev := newTestHandler(t, DefaultConfig())

	a := mustTensor(t, iota32(12), tensor.Shape{3, 4})
	b := mustTensor(t, iota32(30), tensor.Shape{5, 6})

	inv, err := h.RunTraced(context.Background(), ops.MatMul{}, []*tensor.RawTensor{a, b})
	require.Error(t, err)
	assert.True(t, errors.Is(err, broadcast.ErrIncompatible))
	assert.Equal(t, ops.Failed, inv.State())
	assert.Nil(t, inv.Info)

	stats := h.Stats()
	assert.Equal(t, 0, stats.Kernels)
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, uint64(0), dev.Stats().Uploads)
}

func TestRunKernelCacheHit(t *testing.T) {
	h, _ := newTestHandler(t, DefaultConfig())
	ctx := context.Background()

	run := func(shared int) *Invocation {
		a := mustTensor(t, iota32(2*shared), tensor.Shape{2, shared})
		b := mustTensor(t, iota32(shared*2), tensor.Shape{shared, 2})
		inv, err := h.RunTraced(ctx, ops.MatMul{}, []*tensor.RawTensor{a, b})
		require.NoError(t, err)
		return inv
	}

	first := run(3)
	second := run(3)
	assert.Equal(t, ops.ProgramGenerated, first.States[2])
	assert.Equal(t, ops.ProgramCacheHit, second.States[2])
	assert.False(t, first.Info.KernelCacheHit)
	assert.True(t, second.Info.KernelCacheHit)
	assert.Same(t, first.Info.Program.Kernel, second.Info.Program.Kernel)

	// A different shared dimension changes the loop bound.
	third := run(5)
	assert.Equal(t, ops.ProgramGenerated, third.States[2])

	stats := h.Stats()
	assert.Equal(t, 2, stats.Kernels)
	assert.Equal(t, uint64(1), stats.KernelHits)
	assert.Equal(t, uint64(2), stats.KernelMisses)
}

func TestRunWithoutKernelCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheKernels = false
	h, _ := newTestHandler(t, cfg)

	a := mustTensor(t, iota32(6), tensor.Shape{2, 3})
	b := mustTensor(t, iota32(6), tensor.Shape{3, 2})
	for i := 0; i < 2; i++ {
		inv, err := h.RunTraced(context.Background(), ops.MatMul{}, []*tensor.RawTensor{a, b})
		require.NoError(t, err)
		assert.Equal(t, ops.ProgramGenerated, inv.States[2])
	}
}

func TestGetOrCreateTextureLayoutIdempotent(t *testing.T) {
	h, _ := newTestHandler(t, DefaultConfig())

	a := mustTensor(t, iota32(6), tensor.Shape{2, 3})
	b := mustTensor(t, iota32(6), tensor.Shape{2, 3})

	la, err := h.GetOrCreateTextureLayout(a)
	require.NoError(t, err)
	lb, err := h.GetOrCreateTextureLayout(b)
	require.NoError(t, err)
	assert.Same(t, la, lb)

	lc, err := h.CreateTextureLayoutFromShape(tensor.Shape{2, 3}, tensor.Float32)
	require.NoError(t, err)
	assert.Same(t, la, lc)

	stats := h.Stats()
	assert.Equal(t, 1, stats.Layouts)
	assert.Equal(t, uint64(2), stats.LayoutHits)
}

func TestTextureDataCache(t *testing.T) {
	h, dev := newTestHandler(t, DefaultConfig())
	ctx := context.Background()

	a := mustTensor(t, iota32(6), tensor.Shape{2, 3})
	b := mustTensor(t, iota32(6), tensor.Shape{3, 2})

	_, err := h.Run(ctx, ops.MatMul{}, []*tensor.RawTensor{a, b})
	require.NoError(t, err)
	outs, err := h.Run(ctx, ops.MatMul{}, []*tensor.RawTensor{a, b})
	require.NoError(t, err)

	stats := h.Stats()
	assert.Equal(t, uint64(2), stats.TextureDataMisses)
	assert.Equal(t, uint64(2), stats.TextureDataHits)
	assert.Equal(t, uint64(2), dev.Stats().Uploads)
	// Two inputs plus two read-back outputs.
	assert.Equal(t, 4, stats.TextureDatas)

	// A result fed back in reuses its output texture.
	_, err = h.Run(ctx, ops.MatMul{}, []*tensor.RawTensor{outs[0], outs[0]})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), dev.Stats().Uploads)

	h.ReleaseTensor(a)
	assert.Equal(t, 4, h.Stats().TextureDatas)
}

func TestTransientTextures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheTextureData = false
	h, dev := newTestHandler(t, cfg)

	a := mustTensor(t, iota32(6), tensor.Shape{2, 3})
	b := mustTensor(t, iota32(6), tensor.Shape{3, 2})
	outs, err := h.Run(context.Background(), ops.MatMul{}, []*tensor.RawTensor{a, b})
	require.NoError(t, err)
	assert.Equal(t, []float32{22, 28, 49, 64}, outs[0].AsFloat32())
	assert.Equal(t, int64(0), dev.LiveTextures())
	assert.Equal(t, 0, h.Stats().TextureDatas)
}

func TestOutputTypeFollowsFirstInput(t *testing.T) {
	h, _ := newTestHandler(t, DefaultConfig())
	ctx := context.Background()

	half := []float16.Float16{
		float16.Fromfloat32(1), float16.Fromfloat32(2),
		float16.Fromfloat32(3), float16.Fromfloat32(4),
	}
	tests := []struct {
		name string
		a, b *tensor.RawTensor
		want tensor.DataType
	}{
		{"float16@float32", mustTensor(t, half, tensor.Shape{2, 2}), mustTensor(t, []float32{1, 0, 0, 1}, tensor.Shape{2, 2}), tensor.Float16},
		{"float32@float16", mustTensor(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2}), mustTensor(t, half, tensor.Shape{2, 2}), tensor.Float32},
		{"float64@float64", mustTensor(t, []float64{1, 2, 3, 4}, tensor.Shape{2, 2}), mustTensor(t, []float64{1, 0, 0, 1}, tensor.Shape{2, 2}), tensor.Float64},
		{"int32@int32", mustTensor(t, []int32{1, 2, 3, 4}, tensor.Shape{2, 2}), mustTensor(t, []int32{1, 0, 0, 1}, tensor.Shape{2, 2}), tensor.Int32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := h.RunTraced(ctx, ops.MatMul{}, []*tensor.RawTensor{tt.a, tt.b})
			require.NoError(t, err)
			assert.Equal(t, tt.want, inv.Info.OutputType)
			assert.Equal(t, tt.want, inv.Info.OutputLayout.DType)

			out := inv.Outputs[0]
			assert.Equal(t, tt.want, out.DType())
			values, err := out.Float32s()
			require.NoError(t, err)
			assert.Len(t, values, 4)
		})
	}
}

func TestUnsupportedTypeAborts(t *testing.T) {
	h, _ := newTestHandler(t, DefaultConfig())

	a := mustTensor(t, []uint8{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := mustTensor(t, []uint8{1, 0, 0, 1}, tensor.Shape{2, 2})

	inv, err := h.RunTraced(context.Background(), ops.MatMul{}, []*tensor.RawTensor{a, b})
	require.Error(t, err)
	assert.True(t, errors.Is(err, layout.ErrUnsupportedType))
	assert.Equal(t, ops.ShapeResolved, inv.State())
	assert.Equal(t, uint64(0), h.Stats().Failures)
}

func TestRunCanceledContext(t *testing.T) {
	h, dev := newTestHandler(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := mustTensor(t, iota32(6), tensor.Shape{2, 3})
	b := mustTensor(t, iota32(6), tensor.Shape{3, 2})
	inv, err := h.RunTraced(ctx, ops.MatMul{}, []*tensor.RawTensor{a, b})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, ops.ProgramGenerated, inv.State())
	assert.Equal(t, uint64(0), dev.Stats().Dispatches)
}

func TestRunBinaryBroadcast(t *testing.T) {
	h, _ := newTestHandler(t, DefaultConfig())
	ctx := context.Background()

	a := mustTensor(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	row := mustTensor(t, []float32{10, 20, 30}, tensor.Shape{3})
	scalar := mustTensor(t, []float32{2}, tensor.Shape{})

	tests := []struct {
		op   string
		b    *tensor.RawTensor
		want []float32
	}{
		{codegen.OpAdd, row, []float32{11, 22, 33, 14, 25, 36}},
		{codegen.OpSub, row, []float32{-9, -18, -27, -6, -15, -24}},
		{codegen.OpMul, scalar, []float32{2, 4, 6, 8, 10, 12}},
		{codegen.OpDiv, scalar, []float32{0.5, 1, 1.5, 2, 2.5, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			op, err := ops.NewBinary(tt.op)
			require.NoError(t, err)
			outs, err := h.Run(ctx, op, []*tensor.RawTensor{a, tt.b})
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{2, 3}, outs[0].Shape())
			assert.InDeltaSlice(t, tt.want, outs[0].AsFloat32(), 1e-6)
		})
	}
}

func TestRunConcurrent(t *testing.T) {
	h, _ := newTestHandler(t, DefaultConfig())
	ctx := context.Background()

	a := mustTensor(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	b := mustTensor(t, []float32{1, 0, 0, 1, 0, 1, 0, 1, 0, 0, 1, 1}, tensor.Shape{3, 4})

	var wg sync.WaitGroup
	results := make([][]float32, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs, err := h.Run(ctx, ops.MatMul{}, []*tensor.RawTensor{a, b})
			errs[i] = err
			if err == nil {
				results[i] = outs[0].AsFloat32()
			}
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, []float32{1, 2, 3, 6, 4, 5, 6, 15}, results[i])
	}
	assert.Equal(t, 1, h.Stats().Kernels)
}

func TestRunLargeMatMul(t *testing.T) {
	for _, packing := range []layout.Packing{layout.Unpacked, layout.PackedRGBA} {
		t.Run(packing.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Packing = packing
			h, _ := newTestHandler(t, cfg)

			aData, bData := make([]float32, 3*48*33), make([]float32, 33*70)
			for i := range aData {
				aData[i] = float32(i%7) - 3
			}
			for i := range bData {
				bData[i] = float32(i%5) - 2
			}
			a := mustTensor(t, aData, tensor.Shape{3, 48, 33})
			b := mustTensor(t, bData, tensor.Shape{33, 70})

			outs, err := h.Run(context.Background(), ops.MatMul{}, []*tensor.RawTensor{a, b})
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{3, 48, 70}, outs[0].Shape())
			assert.Equal(t, batchedMatMul(aData, bData, 3, 48, 33, 70), outs[0].AsFloat32())
		})
	}
}
