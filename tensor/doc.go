// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the tensor container consumed by texkernel.
//
// # Overview
//
// A RawTensor is a shape, an element type and a row-major host buffer. The
// engine uploads it into a texture on first use and caches the texture by
// the tensor's identity, so tensors should be treated as immutable once
// handed to an Engine.
//
// # Basic Usage
//
//	a, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
//	b, _ := tensor.FromSlice([]float32{1, 0, 0, 1, 0, 1}, tensor.Shape{3, 2})
//
// # Supported Data Types
//
// Textures store float32 texels. The following element types are widened
// or converted on upload:
//   - float32, float16, float64
//   - int32
//
// int64, uint8 and bool tensors can be created but have no texture encoding.
package tensor
