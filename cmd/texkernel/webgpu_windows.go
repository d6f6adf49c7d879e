package main

import (
	"github.com/born-ml/texkernel"
	"github.com/born-ml/texkernel/backend/webgpu"
)

func newWebGPU() (texkernel.Device, error) {
	gpu, err := webgpu.New()
	if err != nil {
		return nil, err
	}
	return gpu, nil
}
