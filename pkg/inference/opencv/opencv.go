//go:build gocv

// Package opencv runs the VitTrack ONNX network in-process with OpenCV's DNN
// module. Build with -tags gocv; it needs OpenCV 4 and its headers.
package opencv

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/menta2k/vit-tracker/pkg/inference"
	"github.com/menta2k/vit-tracker/pkg/tensor"
)

// Options names the model file and its graph bindings
type Options struct {
	ModelPath string
	// Inputs are the template and search input names
	TemplateInput string
	SearchInput   string
	// Outputs are the confidence, size and offset output names
	Outputs [3]string
	Grid    int
	// CUDA selects the CUDA backend instead of the default CPU one
	CUDA   bool
	Logger logrus.FieldLogger
}

// DefaultOptions returns the bindings of the published VitTrack export
func DefaultOptions(modelPath string) Options {
	return Options{
		ModelPath:     modelPath,
		TemplateInput: "template",
		SearchInput:   "search",
		Outputs:       [3]string{"output1", "output2", "output3"},
		Grid:          16,
	}
}

// Model is a loaded network. Forward passes are serialized.
type Model struct {
	opts Options
	net  gocv.Net
	mu   sync.Mutex
}

// Load reads the ONNX file and prepares the network
func Load(opts Options) (*Model, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, inference.Wrap(inference.ErrLoad, "opencv load", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	net := gocv.ReadNet(opts.ModelPath, "")
	if net.Empty() {
		return nil, inference.Errorf(inference.ErrLoad, "opencv load", "could not read %s", opts.ModelPath)
	}

	if opts.CUDA {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	logger.WithFields(logrus.Fields{
		"model": opts.ModelPath,
		"cuda":  opts.CUDA,
	}).Info("Loaded ONNX tracking model")

	return &Model{opts: opts, net: net}, nil
}

// Infer binds both tensors as NCHW blobs and reads the three outputs
func (m *Model) Infer(ctx context.Context, template, search tensor.Tensor) (tensor.Maps, error) {
	if err := ctx.Err(); err != nil {
		return tensor.Maps{}, inference.Wrap(inference.ErrRun, "opencv infer", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tmplBlob, err := blobFromTensor(template)
	if err != nil {
		return tensor.Maps{}, inference.Wrap(inference.ErrInput, "opencv template", err)
	}
	defer tmplBlob.Close()

	searchBlob, err := blobFromTensor(search)
	if err != nil {
		return tensor.Maps{}, inference.Wrap(inference.ErrInput, "opencv search", err)
	}
	defer searchBlob.Close()

	m.net.SetInput(tmplBlob, m.opts.TemplateInput)
	m.net.SetInput(searchBlob, m.opts.SearchInput)

	outs := m.net.ForwardLayers(m.opts.Outputs[:])
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()
	if len(outs) != len(m.opts.Outputs) {
		return tensor.Maps{}, inference.Errorf(inference.ErrRun, "opencv forward", "expected %d outputs, got %d", len(m.opts.Outputs), len(outs))
	}

	var data [3][]float32
	for i, out := range outs {
		vals, err := out.DataPtrFloat32()
		if err != nil {
			return tensor.Maps{}, inference.Wrap(inference.ErrOutput, "opencv "+m.opts.Outputs[i], err)
		}
		// the Mat owns vals; copy before it is closed
		data[i] = append([]float32(nil), vals...)
	}

	return inference.CheckMaps("opencv outputs", m.opts.Grid, data[0], data[1], data[2])
}

// Close releases the network
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

// blobFromTensor converts NHWC to a 1x3xHxW float Mat
func blobFromTensor(t tensor.Tensor) (gocv.Mat, error) {
	if t.Len() != t.Size*t.Size*tensor.Channels {
		return gocv.Mat{}, fmt.Errorf("tensor of %d values is not %dx%dx%d", t.Len(), t.Size, t.Size, tensor.Channels)
	}
	blob := gocv.NewMatWithSizes([]int{1, tensor.Channels, t.Size, t.Size}, gocv.MatTypeCV32F)
	dst, err := blob.DataPtrFloat32()
	if err != nil {
		blob.Close()
		return gocv.Mat{}, err
	}

	plane := t.Size * t.Size
	for i := 0; i < plane; i++ {
		for c := 0; c < tensor.Channels; c++ {
			dst[c*plane+i] = t.Data[i*tensor.Channels+c]
		}
	}
	return blob, nil
}
