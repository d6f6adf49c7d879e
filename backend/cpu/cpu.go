// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	"github.com/born-ml/texkernel/internal/device"
	internalcpu "github.com/born-ml/texkernel/internal/device/cpu"
)

// Device is the host reference device.
//
// It keeps textures in host memory with the same layout a GPU device uses
// and executes composed programs in Go.
type Device = internalcpu.Device

// Compile-time check that Device implements device.Device.
var _ device.Device = (*Device)(nil)

// New creates a CPU device. maxTextureSize <= 0 selects the default limit.
//
// Example:
//
//	import (
//	    "github.com/born-ml/texkernel"
//	    "github.com/born-ml/texkernel/backend/cpu"
//	)
//
//	func main() {
//	    engine := texkernel.New(cpu.New(0), texkernel.DefaultConfig())
//	    defer engine.Release()
//	}
func New(maxTextureSize int) *Device {
	return internalcpu.New(maxTextureSize)
}
