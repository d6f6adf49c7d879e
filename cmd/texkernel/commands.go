package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/born-ml/texkernel"
	"github.com/born-ml/texkernel/backend/cpu"
	"github.com/born-ml/texkernel/tensor"
)

type engineFlags struct {
	device         string
	packing        string
	maxTextureSize int
	op             string
}

func (f *engineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.device, "device", "cpu", "device to run on: cpu or webgpu")
	cmd.Flags().StringVar(&f.packing, "packing", "unpacked", "texture packing: unpacked or rgba")
	cmd.Flags().IntVar(&f.maxTextureSize, "max-texture-size", 0, "maximum texture width/height (0 = device limit)")
	cmd.Flags().StringVar(&f.op, "op", texkernel.OpMatMul, "operator: MatMul, Add, Sub, Mul or Div")
}

func (f *engineFlags) engine() (*texkernel.Engine, error) {
	cfg := texkernel.DefaultConfig()
	cfg.MaxTextureSize = f.maxTextureSize
	switch strings.ToLower(f.packing) {
	case "unpacked", "r32float":
		cfg.Packing = texkernel.Unpacked
	case "rgba", "packed", "rgba32float":
		cfg.Packing = texkernel.PackedRGBA
	default:
		return nil, errors.Errorf("unknown packing %q", f.packing)
	}

	var dev texkernel.Device
	switch f.device {
	case "cpu":
		dev = cpu.New(f.maxTextureSize)
	case "webgpu":
		gpu, err := newWebGPU()
		if err != nil {
			return nil, err
		}
		dev = gpu
	default:
		return nil, errors.Errorf("unknown device %q", f.device)
	}
	return texkernel.New(dev, cfg), nil
}

func newKernelCmd() *cobra.Command {
	var (
		flags      engineFlags
		aShape     string
		bShape     string
		dtype      string
		kernelOnly bool
	)
	cmd := &cobra.Command{
		Use:   "kernel",
		Short: "Print the generated program for two operand shapes",
		Example: "  texkernel kernel --a 2x3 --b 3x4\n" +
			"  texkernel kernel --a 8x1x6 --b 7x6x5 --body",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dt, err := parseDataType(dtype)
			if err != nil {
				return err
			}
			sa, err := parseShape(aShape)
			if err != nil {
				return errors.WithMessage(err, "--a")
			}
			sb, err := parseShape(bShape)
			if err != nil {
				return errors.WithMessage(err, "--b")
			}
			// Parsed shapes have no negative dimensions.
			a := must.M1(tensor.NewRaw(sa, dt))
			b := must.M1(tensor.NewRaw(sb, dt))

			engine, err := flags.engine()
			if err != nil {
				return err
			}
			defer engine.Release()

			info, err := engine.Program(flags.op, a, b)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if kernelOnly {
				fmt.Fprint(out, info.ShaderSource)
				return nil
			}
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%s %v @ %v -> %v (%s)",
				info.Name, a.Shape(), b.Shape(), info.OutputShape, info.OutputType)))
			fmt.Fprint(out, info.Program.Source)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&aShape, "a", "2x3", "shape of the first operand, e.g. 2x3x4")
	cmd.Flags().StringVar(&bShape, "b", "3x4", "shape of the second operand")
	cmd.Flags().StringVar(&dtype, "dtype", "float32", "element type of both operands")
	cmd.Flags().BoolVar(&kernelOnly, "body", false, "print only the cached kernel body")
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		flags          engineFlags
		aShape, bShape string
		aData, bData   string
		repeat         int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an operator on two small row-major tensors",
		Example: "  texkernel run --a 2x3 --a-data 1,2,3,4,5,6 --b 3x4 --b-data 1,0,0,1,0,1,0,1,0,0,1,1\n" +
			"  texkernel run --op Add --a 2x2 --a-data 1,2,3,4 --b 2 --b-data 10,20",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := parseTensor(aShape, aData)
			if err != nil {
				return errors.WithMessage(err, "--a")
			}
			b, err := parseTensor(bShape, bData)
			if err != nil {
				return errors.WithMessage(err, "--b")
			}

			engine, err := flags.engine()
			if err != nil {
				return err
			}
			defer engine.Release()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			var outs []*tensor.RawTensor
			for i := 0; i < max(repeat, 1); i++ {
				outs, err = engine.Execute(ctx, flags.op, a, b)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			result := outs[0]
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%s on %s -> %v", flags.op, engine.Device().Name(), result.Shape())))
			fmt.Fprintln(out, formatTensor(result))
			fmt.Fprintln(out, statsTable(engine.Stats(), engine.Device()))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&aShape, "a", "2x3", "shape of the first operand")
	cmd.Flags().StringVar(&aData, "a-data", "1,2,3,4,5,6", "comma separated values of the first operand")
	cmd.Flags().StringVar(&bShape, "b", "3x4", "shape of the second operand")
	cmd.Flags().StringVar(&bData, "b-data", "1,0,0,1,0,1,0,1,0,0,1,1", "comma separated values of the second operand")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "number of invocations (shows cache reuse)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "texkernel %s\n", texkernel.Version)
		},
	}
}

// parseShape parses "2x3x4". The empty string is a scalar.
func parseShape(s string) (tensor.Shape, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return tensor.Shape{}, nil
	}
	parts := strings.Split(s, "x")
	shape := make(tensor.Shape, len(parts))
	for i, p := range parts {
		dim, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || dim < 0 {
			return nil, errors.Errorf("invalid dimension %q in shape %q", p, s)
		}
		shape[i] = dim
	}
	return shape, nil
}

func parseDataType(s string) (tensor.DataType, error) {
	for _, dt := range []tensor.DataType{tensor.Float32, tensor.Float16, tensor.Float64, tensor.Int32} {
		if dt.String() == s {
			return dt, nil
		}
	}
	return 0, errors.Errorf("unsupported dtype %q", s)
}

func parseTensor(shape, data string) (*tensor.RawTensor, error) {
	s, err := parseShape(shape)
	if err != nil {
		return nil, err
	}
	var values []float32
	for _, field := range strings.Split(data, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value %q", field)
		}
		values = append(values, float32(v))
	}
	if len(values) != s.NumElements() {
		return nil, errors.Errorf("shape %v needs %d values, got %d", s, s.NumElements(), len(values))
	}
	return tensor.FromFloat32s(values, s, tensor.Float32)
}
