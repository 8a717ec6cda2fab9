// Package tracker implements the VitTrack single-object tracking state machine.
//
// A Tracker starts uninitialized. Init captures a template around the target
// box; every Update crops a search region around the last known box, asks the
// model to score it against the template and decodes the result into the next
// box. Low confidence is reported in the Result, never as an error, and the
// last box is kept so the next frame searches the same place.
//
// A Tracker is not safe for concurrent use. Track several objects with one
// Tracker each; they may share a Model if the backend serializes calls.
package tracker

import (
	"context"
	"fmt"

	"github.com/menta2k/vit-tracker/pkg/inference"
	"github.com/menta2k/vit-tracker/pkg/postprocess"
	"github.com/menta2k/vit-tracker/pkg/preprocess"
	"github.com/menta2k/vit-tracker/pkg/tensor"
	"github.com/menta2k/vit-tracker/pkg/types"
)

// Config holds the fixed numeric parameters of a tracker
type Config struct {
	TemplateSize   int     `json:"template_size"`
	SearchSize     int     `json:"search_size"`
	ScoreSize      int     `json:"score_size"`
	TemplateFactor float32 `json:"template_factor"`
	SearchFactor   float32 `json:"search_factor"`
	Threshold      float32 `json:"threshold"`
}

// DefaultConfig returns the parameters the VitTrack model was trained with
func DefaultConfig() Config {
	return Config{
		TemplateSize:   128,
		SearchSize:     256,
		ScoreSize:      postprocess.ScoreSize,
		TemplateFactor: 2,
		SearchFactor:   4,
		Threshold:      0.25,
	}
}

// Validate checks that every parameter is usable
func (c Config) Validate() error {
	if c.TemplateSize <= 0 {
		return fmt.Errorf("template size must be positive, got %d", c.TemplateSize)
	}
	if c.SearchSize <= 0 {
		return fmt.Errorf("search size must be positive, got %d", c.SearchSize)
	}
	if c.ScoreSize <= 0 {
		return fmt.Errorf("score size must be positive, got %d", c.ScoreSize)
	}
	if !(c.TemplateFactor > 0) {
		return fmt.Errorf("template factor must be positive, got %v", c.TemplateFactor)
	}
	if !(c.SearchFactor > 0) {
		return fmt.Errorf("search factor must be positive, got %v", c.SearchFactor)
	}
	if !(c.Threshold >= 0 && c.Threshold <= 1) {
		return fmt.Errorf("threshold must be between 0 and 1, got %v", c.Threshold)
	}
	return nil
}

// state is either uninitialized or tracking
type state interface {
	isState()
}

type uninitialized struct{}

type tracking struct {
	template tensor.Tensor
	box      types.BoundingBox
}

func (uninitialized) isState() {}
func (tracking) isState()      {}

// Tracker follows one object across frames
type Tracker struct {
	cfg     Config
	model   inference.Model
	decoder *postprocess.Decoder
	state   state
}

// New creates a tracker with the default configuration
func New(model inference.Model) *Tracker {
	t, _ := NewWithConfig(model, DefaultConfig())
	return t
}

// NewWithConfig creates a tracker with a custom configuration
func NewWithConfig(model inference.Model, cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}
	return &Tracker{
		cfg:     cfg,
		model:   model,
		decoder: postprocess.NewDecoder(cfg.ScoreSize, cfg.Threshold),
		state:   uninitialized{},
	}, nil
}

// Config returns the tracker's configuration
func (t *Tracker) Config() Config {
	return t.cfg
}

// Init captures the template around box and starts tracking. Calling it
// again replaces the template and box.
func (t *Tracker) Init(img *preprocess.Image, box types.BoundingBox) {
	template, _ := preprocess.CropAndPreprocess(img, box, t.cfg.TemplateFactor, t.cfg.TemplateSize)
	t.state = tracking{template: template, box: box}
}

// Update tracks the object into img.
//
// Before Init it returns the zero Result without calling the model. Model
// failures are returned unchanged and leave the state untouched.
func (t *Tracker) Update(ctx context.Context, img *preprocess.Image) (types.Result, error) {
	st, ok := t.state.(tracking)
	if !ok {
		return types.Result{}, nil
	}
	if t.model == nil {
		return types.Result{}, inference.Errorf(inference.ErrLoad, "tracker update", "no model configured")
	}

	search, cropSize := preprocess.CropAndPreprocess(img, st.box, t.cfg.SearchFactor, t.cfg.SearchSize)

	maps, err := t.model.Infer(ctx, st.template, search)
	if err != nil {
		return types.Result{}, err
	}
	if maps.Grid != t.cfg.ScoreSize {
		return types.Result{}, inference.Errorf(inference.ErrOutput, "tracker update",
			"model returned a %dx%d score grid, expected %dx%d", maps.Grid, maps.Grid, t.cfg.ScoreSize, t.cfg.ScoreSize)
	}
	maps, err = inference.CheckMaps("tracker update", t.cfg.ScoreSize, maps.Conf, maps.Size, maps.Offset)
	if err != nil {
		return types.Result{}, err
	}

	res := t.decoder.Decode(maps, st.box, cropSize)
	st.box = res.Box
	t.state = st
	return res, nil
}

// BoundingBox returns the current box and whether the tracker is initialized
func (t *Tracker) BoundingBox() (types.BoundingBox, bool) {
	if st, ok := t.state.(tracking); ok {
		return st.box, true
	}
	return types.BoundingBox{}, false
}

// IsInitialized reports whether Init has been called since the last Reset
func (t *Tracker) IsInitialized() bool {
	_, ok := t.state.(tracking)
	return ok
}

// Reset drops the template and box
func (t *Tracker) Reset() {
	t.state = uninitialized{}
}
