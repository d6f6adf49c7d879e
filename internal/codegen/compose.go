package codegen

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/texkernel/internal/indexmap"
	"github.com/born-ml/texkernel/internal/layout"
)

const (
	// WorkgroupSize is the number of invocations per workgroup; one
	// invocation computes one output element.
	WorkgroupSize = 256

	// maxWorkgroupsPerDim is the WebGPU limit on workgroups per dispatch dimension.
	maxWorkgroupsPerDim = 65535

	// OutputName is the texture name of the program output.
	OutputName = "Y"
)

// Binding ties a named input texture to its layout and index mapping rule.
type Binding struct {
	Name   string
	Layout *layout.TextureLayout
	Rule   *indexmap.Rule
}

// Program is a complete compute program: a kernel body with its texture
// bindings, samplers, index mapping and entry point.
type Program struct {
	Key    string
	Source string
	Kernel *Kernel
	Inputs []Binding
	Output *layout.TextureLayout
}

// Compose assembles the program for kernel k reading inputs and writing a
// texture with the output layout. Binding i of the generated program is
// inputs[i]; the output is bound last.
func Compose(k *Kernel, inputs []Binding, output *layout.TextureLayout) (*Program, error) {
	if len(inputs) != len(k.Key.InputRanks) {
		return nil, errors.Errorf("codegen: kernel %s takes %d inputs, got %d", k.Key, len(k.Key.InputRanks), len(inputs))
	}
	for i, in := range inputs {
		if in.Layout == nil || in.Rule == nil {
			return nil, errors.Errorf("codegen: input %q is missing its layout or index rule", in.Name)
		}
		if in.Rule.Rank() != k.Key.InputRanks[i] {
			return nil, errors.Errorf("codegen: input %q has rank %d, kernel %s expects %d",
				in.Name, in.Rule.Rank(), k.Key, k.Key.InputRanks[i])
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "// %s\n", k.Key)
	for i, in := range inputs {
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read> tex_%s: array<f32>;\n", i, in.Name)
	}
	fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read_write> tex_%s: array<f32>;\n\n", len(inputs), OutputName)

	for _, in := range inputs {
		sb.WriteString(in.Layout.EmitSampler(in.Name))
		sb.WriteString("\n")
		sb.WriteString(in.Rule.Emit(k.MapPrefix + in.Name))
		sb.WriteString("\n")
	}
	sb.WriteString(output.EmitOffsetToIndices("outputIndices"))
	sb.WriteString("\n")
	sb.WriteString(output.EmitStore(OutputName))
	sb.WriteString("\n")
	sb.WriteString(k.Source)
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "@compute @workgroup_size(%d)\n", WorkgroupSize)
	sb.WriteString("fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) nwg: vec3<u32>) {\n")
	fmt.Fprintf(&sb, "    let offset = i32(gid.y * nwg.x * %du + gid.x);\n", WorkgroupSize)
	fmt.Fprintf(&sb, "    if (offset >= %d) {\n        return;\n    }\n", output.NumElements())
	fmt.Fprintf(&sb, "    store_%s(offset, process(outputIndices(offset)));\n", OutputName)
	sb.WriteString("}\n")

	return &Program{
		Key:    programKey(k, inputs, output),
		Source: sb.String(),
		Kernel: k,
		Inputs: inputs,
		Output: output,
	}, nil
}

func programKey(k *Kernel, inputs []Binding, output *layout.TextureLayout) string {
	parts := make([]string, 0, 2*len(inputs)+2)
	parts = append(parts, k.Key.String())
	for _, in := range inputs {
		parts = append(parts, in.Name+"="+in.Layout.Key.String(), in.Rule.Key())
	}
	parts = append(parts, OutputName+"="+output.Key.String())
	return strings.Join(parts, ";")
}

// Workgroups returns the dispatch size for the program's output.
func (p *Program) Workgroups() (x, y uint32) {
	groups := (p.Output.NumElements() + WorkgroupSize - 1) / WorkgroupSize
	if groups == 0 {
		return 0, 0
	}
	gx := min(groups, maxWorkgroupsPerDim)
	gy := (groups + gx - 1) / gx
	//nolint:gosec // G115: both values are bounded by maxWorkgroupsPerDim
	return uint32(gx), uint32(gy)
}

// Evaluate runs the program on the host over texture storage: inputs[i] is
// the storage of binding i. It returns the output texture storage.
func (p *Program) Evaluate(inputs [][]float32) ([]float32, error) {
	return p.EvaluateWith(inputs, func(n int, body func(start, end int)) { body(0, n) })
}

// RangeRunner calls body over a partition of [0, n), possibly concurrently.
type RangeRunner func(n int, body func(start, end int))

// EvaluateWith is Evaluate with the output elements split by run. Ranges
// write disjoint texels, so body may run concurrently.
func (p *Program) EvaluateWith(inputs [][]float32, run RangeRunner) ([]float32, error) {
	if len(inputs) != len(p.Inputs) {
		return nil, errors.Errorf("codegen: program %s takes %d textures, got %d", p.Kernel.Key, len(p.Inputs), len(inputs))
	}
	operands := make([]Operand, len(p.Inputs))
	for i, in := range p.Inputs {
		if len(inputs[i]) < in.Layout.StorageLen() {
			return nil, errors.Errorf("codegen: texture %q has %d values, layout needs %d",
				in.Name, len(inputs[i]), in.Layout.StorageLen())
		}
		operands[i] = operand(in, inputs[i])
	}

	out := p.Output
	storage := make([]float32, out.StorageLen())
	run(out.NumElements(), func(start, end int) {
		indices := make([]int, len(out.Shape))
		for offset := start; offset < end; offset++ {
			out.OffsetToIndices(offset, indices)
			x, y, c := out.Coords(offset)
			storage[out.StorageIndex(x, y, c)] = p.Kernel.Process(indices, operands)
		}
	})
	return storage, nil
}

func operand(b Binding, storage []float32) Operand {
	l := b.Layout
	return Operand{
		Rank: b.Rule.Rank(),
		Map:  b.Rule.Apply,
		Sample: func(indices []int) float32 {
			x, y, c := l.Coords(l.IndicesToOffset(indices))
			return storage[l.StorageIndex(x, y, c)]
		},
	}
}
