// Package client defines the contract for vision-language model backends
// used to find the initial tracking target.
package client

import "context"

// VisionClient sends one prompt with one base64-encoded image and returns the
// model's raw text reply
type VisionClient interface {
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// Func adapts a plain function to VisionClient
type Func func(ctx context.Context, model, prompt, imgB64 string) (string, error)

// Query calls f
func (f Func) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return f(ctx, model, prompt, imgB64)
}
