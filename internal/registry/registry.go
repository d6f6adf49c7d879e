// Package registry maps operator types to texture-backed operators.
//
// The registry is the dispatcher in front of the handler: callers name an
// operator ("MatMul", "Add", ...) and the registry builds the operator and
// runs it.
package registry

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/born-ml/texkernel/internal/codegen"
	"github.com/born-ml/texkernel/internal/ops"
	"github.com/born-ml/texkernel/internal/tensor"
)

// ErrUnsupportedOp reports an operator type with no registered factory.
var ErrUnsupportedOp = errors.New("unsupported operator")

// Factory creates the operator for one invocation.
type Factory func() (ops.Operator, error)

// Runner executes an operator.
type Runner interface {
	Run(ctx context.Context, op ops.Operator, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)
}

// Registry maps operator types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New creates a registry with MatMul and the elementwise operators.
func New() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register(codegen.OpMatMul, func() (ops.Operator, error) { return ops.MatMul{}, nil })
	for _, op := range []string{codegen.OpAdd, codegen.OpSub, codegen.OpMul, codegen.OpDiv} {
		r.Register(op, func() (ops.Operator, error) { return ops.NewBinary(op) })
	}

	return r
}

// Register adds or replaces the factory for an operator type.
func (r *Registry) Register(opType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[opType] = f
}

// Get returns the factory for an operator type.
func (r *Registry) Get(opType string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[opType]
	return f, ok
}

// Operator builds the operator registered for opType.
func (r *Registry) Operator(opType string) (ops.Operator, error) {
	f, ok := r.Get(opType)
	if !ok {
		return nil, errors.Wrap(ErrUnsupportedOp, opType)
	}
	return f()
}

// Execute runs the operator registered for opType on inputs.
func (r *Registry) Execute(ctx context.Context, runner Runner, opType string, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	op, err := r.Operator(opType)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, op, inputs)
}

// SupportedOps returns the registered operator types, sorted.
func (r *Registry) SupportedOps() []string {
	r.mu.RLock()
	names := lo.Keys(r.factories)
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
