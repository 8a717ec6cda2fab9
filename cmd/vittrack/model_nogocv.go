//go:build !gocv

package main

import (
	"github.com/menta2k/vit-tracker/pkg/inference"
)

func openOpenCV(path string, grid int, cuda bool) (inference.Model, error) {
	return nil, inference.Errorf(inference.ErrLoad, "opencv load", "vittrack was built without OpenCV; rebuild with -tags gocv or use --worker")
}
