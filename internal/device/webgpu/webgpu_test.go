//go:build windows

package webgpu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/texkernel/internal/codegen"
	"github.com/born-ml/texkernel/internal/device"
	"github.com/born-ml/texkernel/internal/indexmap"
	"github.com/born-ml/texkernel/internal/layout"
	"github.com/born-ml/texkernel/internal/tensor"
)

func TestIsAvailable(t *testing.T) {
	t.Logf("WebGPU available: %v", IsAvailable())
}

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	if !IsAvailable() {
		t.Skip("WebGPU not available")
	}
	d, err := New()
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return d
}

func TestUploadDownload(t *testing.T) {
	d := newTestDevice(t)
	ctx := context.Background()

	for _, packing := range []layout.Packing{layout.Unpacked, layout.PackedRGBA} {
		l, err := layout.NewPlanner(packing, d.MaxTextureSize()).LayoutFromShape(tensor.Shape{3, 5}, tensor.Float32)
		require.NoError(t, err)

		values := make([]float32, 15)
		for i := range values {
			values[i] = float32(i) - 7
		}
		tex, err := d.Upload(ctx, l, values)
		require.NoError(t, err)

		got, err := d.Download(ctx, tex)
		require.NoError(t, err)
		assert.Equal(t, values, got, packing.String())
		tex.Release()
	}
}

func TestDispatchMatMul(t *testing.T) {
	d := newTestDevice(t)
	ctx := context.Background()
	planner := layout.NewPlanner(layout.Unpacked, d.MaxTextureSize())

	la, err := planner.LayoutFromShape(tensor.Shape{2, 3}, tensor.Float32)
	require.NoError(t, err)
	lb, err := planner.LayoutFromShape(tensor.Shape{3, 4}, tensor.Float32)
	require.NoError(t, err)
	ly, err := planner.LayoutFromShape(tensor.Shape{2, 4}, tensor.Float32)
	require.NoError(t, err)

	k, err := codegen.NewMatMulKernel(2, [2]int{2, 2}, 3)
	require.NoError(t, err)
	ra, err := indexmap.NewMatMulRule(2, tensor.Shape{2, 3}, indexmap.MatMulLHS)
	require.NoError(t, err)
	rb, err := indexmap.NewMatMulRule(2, tensor.Shape{3, 4}, indexmap.MatMulRHS)
	require.NoError(t, err)
	p, err := codegen.Compose(k, []codegen.Binding{
		{Name: "A", Layout: la, Rule: ra},
		{Name: "B", Layout: lb, Rule: rb},
	}, ly)
	require.NoError(t, err)

	a, err := d.Upload(ctx, la, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	b, err := d.Upload(ctx, lb, []float32{1, 0, 0, 1, 0, 1, 0, 1, 0, 0, 1, 1})
	require.NoError(t, err)
	out, err := d.Allocate(ctx, ly)
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(ctx, p, []device.Texture{a, b}, out))
	got, err := d.Download(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 6, 4, 5, 6, 15}, got)
	assert.Equal(t, uint64(1), d.Stats().ProgramsCompiled)
}

func TestTexturePoolReuse(t *testing.T) {
	d := newTestDevice(t)

	buf := d.pool.Acquire(1024)
	d.pool.Release(buf, 1024)
	again := d.pool.Acquire(512)
	d.pool.Release(again, 1024)

	allocated, released, hits, misses, pooled := d.pool.Stats()
	assert.Equal(t, uint64(1), allocated)
	assert.Equal(t, uint64(2), released)
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
	assert.Equal(t, 1, pooled)
}
