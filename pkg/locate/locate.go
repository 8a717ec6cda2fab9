// Package locate asks a vision-language model for the dominant subject of a
// frame and turns its answer into an initial tracking box.
package locate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/vit-tracker/pkg/client"
	"github.com/menta2k/vit-tracker/pkg/processing"
	"github.com/menta2k/vit-tracker/pkg/types"
)

// ErrNoSubject means the model found nothing worth tracking
var ErrNoSubject = errors.New("no trackable subject found")

// DefaultPrompt asks for a single normalized box around the main subject
const DefaultPrompt = `You are an object locator for a visual tracker.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}
  },
  "description": "short neutral sentence (≤ 20 words)"
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- The box must tightly enclose the single most prominent movable object (prefer people, vehicles, animals; else the most salient object).
- Do not guess real identities.
- If no object is found, return:
  {"primary":{"label":"none","confidence":0.0,"box":{"x":0,"y":0,"w":0,"h":0}},"description":"no subject"}
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Options configures a Locator
type Options struct {
	Model  string
	Prompt string
	// MaxDim bounds the longer side of the image sent to the model
	MaxDim  int
	Quality int
	// MinConfidence rejects subjects the model is unsure about
	MinConfidence float64
	Logger        logrus.FieldLogger
}

// DefaultOptions returns the locator defaults for model
func DefaultOptions(model string) Options {
	return Options{
		Model:         model,
		Prompt:        DefaultPrompt,
		MaxDim:        1024,
		Quality:       85,
		MinConfidence: 0.2,
	}
}

// Locator finds the initial box for a tracker
type Locator struct {
	client client.VisionClient
	proc   *processing.Processor
	opts   Options
	log    logrus.FieldLogger
}

// NewLocator creates a locator backed by c
func NewLocator(c client.VisionClient, opts Options) *Locator {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.Quality <= 0 {
		opts.Quality = 85
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Locator{
		client: c,
		proc:   processing.NewProcessor(),
		opts:   opts,
		log:    logger.WithField("component", "locate"),
	}
}

// Locate returns the subject's box in pixels of img
func (l *Locator) Locate(ctx context.Context, img image.Image) (types.BoundingBox, types.Subject, error) {
	b := img.Bounds()
	if b.Empty() {
		return types.BoundingBox{}, types.Subject{}, fmt.Errorf("cannot locate a subject in an empty image")
	}

	imgB64, err := l.proc.PrepareImageForModel(img, "jpg", l.opts.MaxDim, l.opts.Quality)
	if err != nil {
		return types.BoundingBox{}, types.Subject{}, fmt.Errorf("failed to prepare image: %w", err)
	}
	sentW, sentH := scaledSize(b.Dx(), b.Dy(), l.opts.MaxDim)

	raw, err := l.client.Query(ctx, l.opts.Model, l.opts.Prompt, imgB64)
	if err != nil {
		return types.BoundingBox{}, types.Subject{}, fmt.Errorf("vision query failed: %w", err)
	}

	result, err := ParseResult(raw)
	if err != nil {
		return types.BoundingBox{}, types.Subject{}, err
	}

	subject := result.Primary
	subject.Label = strings.TrimSpace(subject.Label)
	subject.Box = NormalizeBox(subject.Box, sentW, sentH)

	if strings.EqualFold(subject.Label, "none") || subject.Label == "" {
		return types.BoundingBox{}, subject, ErrNoSubject
	}
	if subject.Confidence < l.opts.MinConfidence {
		return types.BoundingBox{}, subject, fmt.Errorf("%w: %s at confidence %.2f", ErrNoSubject, subject.Label, subject.Confidence)
	}

	box := subject.Box.ToPixels(b.Dx(), b.Dy())
	if box.Empty() {
		return types.BoundingBox{}, subject, fmt.Errorf("%w: %s has an empty box", ErrNoSubject, subject.Label)
	}

	l.log.WithFields(logrus.Fields{
		"label":      subject.Label,
		"confidence": subject.Confidence,
		"box":        box.Array(),
	}).Info("Located tracking subject")

	return box, subject, nil
}

// scaledSize mirrors the downscale done by PrepareImageForModel
func scaledSize(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, int(float64(h)*float64(maxDim)/float64(w) + 0.5)
	}
	return int(float64(w)*float64(maxDim)/float64(h) + 0.5), maxDim
}
