package handler

import "github.com/born-ml/texkernel/internal/layout"

// Config configures an InferenceHandler.
type Config struct {
	// Packing selects how elements map onto texture channels.
	Packing layout.Packing

	// MaxTextureSize bounds texture width and height. Zero uses the
	// device limit; a larger value than the device limit is clamped.
	MaxTextureSize int

	// CacheKernels keeps generated kernel bodies across invocations.
	// When false every invocation regenerates its kernel.
	CacheKernels bool

	// CacheTextureData keeps uploaded input textures (and read-back outputs)
	// until the tensor is released. When false textures live for one
	// invocation only.
	CacheTextureData bool
}

// DefaultConfig returns the default handler configuration.
func DefaultConfig() Config {
	return Config{
		Packing:          layout.Unpacked,
		MaxTextureSize:   0,
		CacheKernels:     true,
		CacheTextureData: true,
	}
}
