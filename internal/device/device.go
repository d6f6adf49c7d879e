// Package device defines the runtime that owns textures and executes
// composed programs.
//
// Implementations:
//   - cpu: host reference device, evaluates programs in Go
//   - webgpu: GPU device, compiles the WGSL source and dispatches it
package device

import (
	"context"

	"github.com/born-ml/texkernel/internal/codegen"
	"github.com/born-ml/texkernel/internal/layout"
)

// Texture is a device-resident texture with a fixed layout.
type Texture interface {
	Layout() *layout.TextureLayout
	Release()
}

// Device allocates textures and executes programs against them.
type Device interface {
	// Name returns a human readable device name.
	Name() string

	// MaxTextureSize returns the largest supported texture width or height.
	MaxTextureSize() int

	// Upload creates a texture with layout l holding values (row-major,
	// one per logical element).
	Upload(ctx context.Context, l *layout.TextureLayout, values []float32) (Texture, error)

	// Allocate creates an uninitialized texture with layout l.
	Allocate(ctx context.Context, l *layout.TextureLayout) (Texture, error)

	// Dispatch runs program p reading inputs and writing output.
	Dispatch(ctx context.Context, p *codegen.Program, inputs []Texture, output Texture) error

	// Download reads a texture back as row-major values.
	Download(ctx context.Context, t Texture) ([]float32, error)

	// Release frees every resource held by the device.
	Release()
}

// Stats counts device activity.
type Stats struct {
	Uploads          uint64
	Allocations      uint64
	Dispatches       uint64
	ProgramsCompiled uint64
	BytesAllocated   uint64
}
