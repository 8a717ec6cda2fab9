// Package inference defines the contract between the tracker and the neural
// network that scores a search region against a template.
//
// A Model receives two normalized NHWC tensors and returns the confidence,
// size and offset maps on the model's score grid. Backends live in
// subpackages: worker drives an external process over pipes and opencv runs
// an ONNX network through gocv (build tag gocv).
package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/menta2k/vit-tracker/pkg/tensor"
)

// Error kinds reported by backends. Match them with errors.Is.
var (
	// ErrLoad means the model or its runtime could not be loaded
	ErrLoad = errors.New("model load failed")

	// ErrInput means an input tensor could not be bound to the model
	ErrInput = errors.New("model input rejected")

	// ErrRun means the forward pass failed
	ErrRun = errors.New("model run failed")

	// ErrOutput means an output could not be read or had the wrong shape
	ErrOutput = errors.New("model output invalid")
)

// Model scores a search tensor against a template tensor
type Model interface {
	Infer(ctx context.Context, template, search tensor.Tensor) (tensor.Maps, error)
}

// ModelFunc adapts a plain function to the Model interface
type ModelFunc func(ctx context.Context, template, search tensor.Tensor) (tensor.Maps, error)

// Infer calls f
func (f ModelFunc) Infer(ctx context.Context, template, search tensor.Tensor) (tensor.Maps, error) {
	return f(ctx, template, search)
}

// Closer is implemented by models that hold runtime resources
type Closer interface {
	Close() error
}

// Close releases m if it implements Closer
func Close(m Model) error {
	if c, ok := m.(Closer); ok {
		return c.Close()
	}
	return nil
}

// Error is a backend failure tagged with its kind and the operation that failed
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap tags err with kind. A nil err still produces an error of that kind.
func Wrap(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an Error of kind with a formatted cause
func Errorf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// CheckMaps validates raw output buffers and returns them as Maps.
// Length mismatches become ErrOutput errors.
func CheckMaps(op string, wantGrid int, conf, size, offset []float32) (tensor.Maps, error) {
	maps, err := tensor.NewMaps(wantGrid, conf, size, offset)
	if err != nil {
		return tensor.Maps{}, Wrap(ErrOutput, op, err)
	}
	return maps, nil
}
