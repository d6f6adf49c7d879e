// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package texkernel runs broadcasting tensor operators as generated GPU
// kernels over texture-backed tensors.
//
// An Engine pairs a device (backend/cpu or backend/webgpu) with the caches
// that make repeated invocations cheap: texture layouts, kernel bodies keyed
// by operator and ranks, and uploaded textures keyed by tensor.
//
// Example:
//
//	engine := texkernel.New(cpu.New(0), texkernel.DefaultConfig())
//	defer engine.Release()
//
//	a, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
//	b, _ := tensor.FromSlice([]float32{1, 0, 0, 1, 0, 1}, tensor.Shape{3, 2})
//	c, err := engine.MatMul(ctx, a, b) // [2, 2]
package texkernel

import (
	"context"

	"github.com/born-ml/texkernel/internal/device"
	"github.com/born-ml/texkernel/internal/handler"
	"github.com/born-ml/texkernel/internal/layout"
	"github.com/born-ml/texkernel/internal/ops"
	"github.com/born-ml/texkernel/internal/registry"
	"github.com/born-ml/texkernel/tensor"
)

// Version is the texkernel release.
const Version = "v0.1.0"

// Device executes composed programs against textures.
type Device = device.Device

// Config configures an Engine.
type Config = handler.Config

// Stats reports engine cache activity.
type Stats = handler.Stats

// ProgramInfo describes the program of one operator invocation.
type ProgramInfo = ops.ProgramInfo

// Packing selects how tensor elements map onto texture channels.
type Packing = layout.Packing

// Packing policies.
const (
	Unpacked   Packing = layout.Unpacked
	PackedRGBA Packing = layout.PackedRGBA
)

// Operator types.
const (
	OpMatMul = "MatMul"
	OpAdd    = "Add"
	OpSub    = "Sub"
	OpMul    = "Mul"
	OpDiv    = "Div"
)

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return handler.DefaultConfig()
}

// Engine runs operators on a device.
type Engine struct {
	handler  *handler.InferenceHandler
	registry *registry.Registry
}

// New creates an engine on dev. The engine owns dev: Release releases it.
func New(dev Device, cfg Config) *Engine {
	return &Engine{
		handler:  handler.New(dev, cfg),
		registry: registry.New(),
	}
}

// Device returns the engine's device.
func (e *Engine) Device() Device { return e.handler.Device() }

// MatMul returns the broadcasting matrix product a @ b.
func (e *Engine) MatMul(ctx context.Context, a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return e.single(ctx, OpMatMul, a, b)
}

// Binary applies the elementwise operator op (Add, Sub, Mul, Div) to a and b
// with broadcasting.
func (e *Engine) Binary(ctx context.Context, op string, a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return e.single(ctx, op, a, b)
}

// Execute runs the operator registered for opType.
func (e *Engine) Execute(ctx context.Context, opType string, inputs ...*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	return e.registry.Execute(ctx, e.handler, opType, inputs)
}

// Program resolves layouts and composes the program for opType on inputs
// without running it.
func (e *Engine) Program(opType string, inputs ...*tensor.RawTensor) (*ProgramInfo, error) {
	op, err := e.registry.Operator(opType)
	if err != nil {
		return nil, err
	}
	return op.CreateProgramInfo(e.handler, inputs)
}

// SupportedOps returns the operator types the engine can run.
func (e *Engine) SupportedOps() []string {
	return e.registry.SupportedOps()
}

// MustMatMul is MatMul that panics on error.
func (e *Engine) MustMatMul(ctx context.Context, a, b *tensor.RawTensor) *tensor.RawTensor {
	out, err := e.MatMul(ctx, a, b)
	if err != nil {
		panic(err)
	}
	return out
}

// Stats returns a snapshot of the engine's cache counters.
func (e *Engine) Stats() Stats {
	return e.handler.Stats()
}

// ReleaseTensor frees the textures holding t.
func (e *Engine) ReleaseTensor(t *tensor.RawTensor) {
	e.handler.ReleaseTensor(t)
}

// Release frees all textures and the device.
func (e *Engine) Release() {
	e.handler.Release()
}

func (e *Engine) single(ctx context.Context, opType string, a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	outs, err := e.Execute(ctx, opType, a, b)
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}
