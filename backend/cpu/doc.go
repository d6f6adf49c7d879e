// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the host reference device.
//
// # Overview
//
// The CPU device runs the exact addressing of the generated kernels on the
// host:
//   - Pure Go implementation (no CGO)
//   - Textures with GPU row pitch and channel packing
//   - Program cache keyed like a GPU pipeline cache
//
// It is the device of choice for tests and for machines without a WebGPU
// adapter. For GPU execution, see the webgpu package.
package cpu
