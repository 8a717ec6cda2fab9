//go:build gocv

package main

import (
	"github.com/menta2k/vit-tracker/pkg/inference"
	"github.com/menta2k/vit-tracker/pkg/inference/opencv"
)

func openOpenCV(path string, grid int, cuda bool) (inference.Model, error) {
	opts := opencv.DefaultOptions(path)
	opts.Grid = grid
	opts.CUDA = cuda
	opts.Logger = log
	m, err := opencv.Load(opts)
	if err != nil {
		return nil, err
	}
	return m, nil
}
