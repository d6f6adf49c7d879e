//go:build !windows

package main

import (
	"github.com/pkg/errors"

	"github.com/born-ml/texkernel"
)

func newWebGPU() (texkernel.Device, error) {
	return nil, errors.New("webgpu device is only available on windows builds")
}
