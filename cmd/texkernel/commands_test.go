package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/texkernel/tensor"
)

func TestParseShape(t *testing.T) {
	s, err := parseShape("2x3x4")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3, 4}, s)

	s, err = parseShape("")
	require.NoError(t, err)
	assert.Empty(t, s)

	_, err = parseShape("2xa")
	assert.Error(t, err)
	_, err = parseShape("2x-1")
	assert.Error(t, err)
}

func TestParseTensor(t *testing.T) {
	raw, err := parseTensor("2x2", "1, 2,3,4")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, raw.AsFloat32())

	_, err = parseTensor("2x2", "1,2,3")
	assert.Error(t, err)
}

func TestFormatTensor(t *testing.T) {
	raw, err := tensor.FromSlice([]float32{1, 2, 3, 6, 4, 5, 6, 15}, tensor.Shape{2, 4})
	require.NoError(t, err)
	assert.Equal(t, "[1 2 3 6]\n[4 5 6 15]", formatTensor(raw))
}

func TestRunCommand(t *testing.T) {
	cmd := newRunCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--repeat", "2"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "[4 5 6 15]")
}

func TestKernelCommand(t *testing.T) {
	cmd := newKernelCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--a", "2x3", "--b", "3x4", "--body"})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "fn process(indices: array<i32, 2>) -> f32 {"))
	assert.Contains(t, out.String(), "k < 3;")
}

func TestUnknownDevice(t *testing.T) {
	cmd := newRunCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--device", "tpu"})
	assert.Error(t, cmd.Execute())
}
