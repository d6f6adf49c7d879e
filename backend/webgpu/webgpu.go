//go:build windows

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU device for texture kernels.
//
// WebGPU is a cross-platform graphics and compute API that works on:
//   - Windows (via Dawn/D3D12)
//   - macOS (via Dawn/Metal)
//   - Linux (via Dawn/Vulkan)
//
// Example:
//
//	import (
//	    "github.com/born-ml/texkernel"
//	    "github.com/born-ml/texkernel/backend/webgpu"
//	)
//
//	func main() {
//	    gpu, err := webgpu.New()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    engine := texkernel.New(gpu, texkernel.DefaultConfig())
//	    defer engine.Release()
//	}
package webgpu

import (
	"github.com/born-ml/texkernel/internal/device"
	internalwebgpu "github.com/born-ml/texkernel/internal/device/webgpu"
)

// Device represents the WebGPU texture device.
type Device = internalwebgpu.Device

// Compile-time check that Device implements device.Device.
var _ device.Device = (*Device)(nil)

// New creates a new WebGPU device.
//
// Returns an error if WebGPU initialization fails (e.g., no compatible GPU).
// Call Release() when done to free GPU resources.
func New() (*Device, error) {
	return internalwebgpu.New()
}

// IsAvailable checks if WebGPU is available on the current system.
//
// Example:
//
//	var dev texkernel.Device = cpu.New(0)
//	if webgpu.IsAvailable() {
//	    if gpu, err := webgpu.New(); err == nil {
//	        dev = gpu
//	    }
//	}
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
