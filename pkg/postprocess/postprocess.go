// Package postprocess decodes the model's score-grid outputs into a bounding
// box in frame coordinates.
//
// The confidence map is weighted with a Hanning window so peaks near the
// previous location win, the strongest cell is refined with its offset and size
// predictions and the result is projected back through the search crop that
// produced the model input.
package postprocess

import (
	"math"

	"github.com/menta2k/vit-tracker/pkg/preprocess"
	"github.com/menta2k/vit-tracker/pkg/tensor"
	"github.com/menta2k/vit-tracker/pkg/types"
)

// ScoreSize is the side of the score grid produced by the VitTrack model
const ScoreSize = 16

// Hann1D returns the n-point Hanning window in OpenCV's form,
// 0.5 * (1 - cos(2*pi*(i+1)/(n+1))), which excludes the zero end points
func Hann1D(n int) []float32 {
	if n <= 0 {
		return []float32{}
	}
	window := make([]float32, n)
	step := float32(2*math.Pi) / float32(n+1)
	for i := range window {
		arg := step * float32(i+1)
		window[i] = 0.5 * (1 - float32(math.Cos(float64(arg))))
	}
	return window
}

// Hann2D returns the rows x cols outer product of two Hanning windows as a
// flat row-major slice
func Hann2D(rows, cols int) []float32 {
	if rows <= 0 || cols <= 0 {
		return []float32{}
	}
	hr := Hann1D(rows)
	hc := Hann1D(cols)
	window := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			window[r*cols+c] = hr[r] * hc[c]
		}
	}
	return window
}

// FindMax returns the index and value of the largest element. The first
// occurrence wins on ties; an empty slice yields (0, -Inf).
func FindMax(values []float32) (int, float32) {
	maxIdx := 0
	maxVal := float32(math.Inf(-1))
	for i, v := range values {
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}
	return maxIdx, maxVal
}

// Decode turns the model outputs for one search crop into the next box.
//
// hanning must hold maps.Grid*maps.Grid weights. When the windowed peak is
// below threshold the result reports failure and carries prev unchanged; a
// peak equal to threshold counts as success. A map without a finite peak
// reports failure with score 0. The returned box is the
// authoritative reference for the next frame either way.
func Decode(maps tensor.Maps, hanning []float32, prev types.BoundingBox, cropSize int, threshold float32) types.Result {
	windowed := make([]float32, len(maps.Conf))
	for i, c := range maps.Conf {
		windowed[i] = c * hanning[i]
	}

	maxIdx, maxScore := FindMax(windowed)
	// all-NaN or all -Inf maps have no real peak; +Inf is not a score either
	if math.IsInf(float64(maxScore), 0) || math.IsNaN(float64(maxScore)) {
		return types.Result{Success: false, Box: prev, Score: 0}
	}
	if !(maxScore >= threshold) {
		return types.Result{Success: false, Box: prev, Score: maxScore}
	}

	row, col := maxIdx/maps.Grid, maxIdx%maps.Grid
	cell := maps.At(row, col)
	grid := float32(maps.Grid)
	cx := (float32(col) + cell.OffsetX) / grid
	cy := (float32(row) + cell.OffsetY) / grid

	return types.Result{
		Success: true,
		Box:     BackProject(prev, cx, cy, cell.Width, cell.Height, cropSize),
		Score:   maxScore,
	}
}

// BackProject converts a box given in normalized search-crop coordinates
// (center cx, cy and size w, h in [0,1]) to frame pixels. The crop is the
// cropSize square that was centered on prev.
func BackProject(prev types.BoundingBox, cx, cy, w, h float32, cropSize int) types.BoundingBox {
	originX, originY := preprocess.CropOrigin(prev, cropSize)
	cs := float32(cropSize)

	x1 := cx - w/2
	y1 := cy - h/2

	return types.BoundingBox{
		X:      floorToInt(float32(x1*cs) + float32(originX)),
		Y:      floorToInt(float32(y1*cs) + float32(originY)),
		Width:  floorToInt(w * cs),
		Height: floorToInt(h * cs),
	}
}

// floorToInt floors v and saturates to the int32 range; NaN becomes 0
func floorToInt(v float32) int {
	f := math.Floor(float64(v))
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}

// Decoder binds a precomputed Hanning window and a confidence threshold for
// a fixed score grid
type Decoder struct {
	grid      int
	threshold float32
	hanning   []float32
}

// NewDecoder builds the grid x grid window once
func NewDecoder(grid int, threshold float32) *Decoder {
	return &Decoder{
		grid:      grid,
		threshold: threshold,
		hanning:   Hann2D(grid, grid),
	}
}

// Grid returns the score grid side the decoder was built for
func (d *Decoder) Grid() int {
	return d.grid
}

// Threshold returns the confidence threshold
func (d *Decoder) Threshold() float32 {
	return d.threshold
}

// Window returns a copy of the Hanning window
func (d *Decoder) Window() []float32 {
	out := make([]float32, len(d.hanning))
	copy(out, d.hanning)
	return out
}

// Decode runs Decode with the bound window and threshold. maps must be on
// the decoder's grid.
func (d *Decoder) Decode(maps tensor.Maps, prev types.BoundingBox, cropSize int) types.Result {
	return Decode(maps, d.hanning, prev, cropSize, d.threshold)
}
