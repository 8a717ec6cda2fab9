// Package vision finds the most salient region of a frame without a model.
// It backs the offline initial-box locator.
package vision

import (
	"context"
	"errors"
	"image"
	"math"

	"github.com/menta2k/vit-tracker/pkg/processing"
	"github.com/menta2k/vit-tracker/pkg/preprocess"
	"github.com/menta2k/vit-tracker/pkg/types"
)

// ErrNoRegion means no window scored above the edge threshold
var ErrNoRegion = errors.New("no salient region found")

// DetectionConfig tunes the saliency map and the window search
type DetectionConfig struct {
	// EdgeThreshold is the minimum mean saliency of a candidate window
	EdgeThreshold  float64
	ContrastWeight float64
	ColorWeight    float64
	// MinSubjectRatio and MaxSubjectRatio bound the window area as a
	// fraction of the frame area
	MinSubjectRatio float64
	MaxSubjectRatio float64
	// Aspects are the width/height ratios tried for each window size
	Aspects []float64
}

// DefaultConfig returns the detector defaults
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		EdgeThreshold:   0.01,
		ContrastWeight:  0.7,
		ColorWeight:     0.3,
		MinSubjectRatio: 0.005,
		MaxSubjectRatio: 0.25,
		Aspects:         []float64{1, 0.5, 2},
	}
}

// SubjectDetector scores windows of a saliency map
type SubjectDetector struct {
	config DetectionConfig
}

// New creates a detector with the default configuration
func New() *SubjectDetector {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a detector with config
func NewWithConfig(config DetectionConfig) *SubjectDetector {
	if len(config.Aspects) == 0 {
		config.Aspects = []float64{1}
	}
	if config.MaxSubjectRatio <= 0 {
		config.MaxSubjectRatio = 1
	}
	return &SubjectDetector{config: config}
}

// Region is a candidate window and its contrast score against its
// surroundings
type Region struct {
	Box   types.BoundingBox
	Score float64
}

// saliencyMap stores per-pixel saliency as a summed-area table with a zero
// first row and column
type saliencyMap struct {
	w, h int
	sum  []float64
}

func (m *saliencyMap) mean(x, y, w, h int) float64 {
	stride := m.w + 1
	s := m.sum[(y+h)*stride+x+w] - m.sum[y*stride+x+w] - m.sum[(y+h)*stride+x] + m.sum[y*stride+x]
	return s / float64(w*h)
}

// calculateSaliency combines local edge strength with the distance of each
// pixel's brightness from the frame mean
func (d *SubjectDetector) calculateSaliency(img *preprocess.Image) *saliencyMap {
	w, h := img.Width, img.Height
	lum := make([]float64, w*h)
	var total float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := (float64(img.At(x, y, 0)) + float64(img.At(x, y, 1)) + float64(img.At(x, y, 2))) / (3 * 255)
			lum[y*w+x] = v
			total += v
		}
	}
	meanLum := total / float64(w*h)

	m := &saliencyMap{w: w, h: h, sum: make([]float64, (w+1)*(h+1))}
	stride := w + 1
	for y := 0; y < h; y++ {
		var rowSum float64
		for x := 0; x < w; x++ {
			c := lum[y*w+x]
			var edge float64
			if x > 0 && y > 0 && x < w-1 && y < h-1 {
				for _, o := range [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}} {
					edge += math.Abs(c - lum[(y+o[1])*w+x+o[0]])
				}
				edge /= 8
			}
			rowSum += d.config.ContrastWeight*edge + d.config.ColorWeight*math.Abs(c-meanLum)
			m.sum[(y+1)*stride+x+1] = m.sum[y*stride+x+1] + rowSum
		}
	}
	return m
}

// DetectSubjects returns the candidate windows, best first, at most limit
// of them
func (d *SubjectDetector) DetectSubjects(img image.Image, limit int) ([]Region, error) {
	pix := processing.ToImage(img)
	if pix.Empty() {
		return nil, errors.New("empty image")
	}
	sm := d.calculateSaliency(pix)
	regions := d.findImportantRegions(sm)
	if len(regions) == 0 {
		return nil, ErrNoRegion
	}
	sortRegions(regions)
	if limit > 0 && len(regions) > limit {
		regions = regions[:limit]
	}
	return regions, nil
}

// findImportantRegions slides windows of several sizes and aspects and keeps
// those whose inside is more salient than a surrounding ring
func (d *SubjectDetector) findImportantRegions(sm *saliencyMap) []Region {
	area := float64(sm.w * sm.h)
	minArea := area * d.config.MinSubjectRatio
	maxArea := area * d.config.MaxSubjectRatio
	short := min(sm.w, sm.h)

	var regions []Region
	for _, div := range []int{20, 16, 12, 8, 6, 4} {
		size := short / div * 2
		if size < 8 {
			continue
		}
		for _, aspect := range d.config.Aspects {
			ww := int(float64(size) * math.Sqrt(aspect))
			wh := int(float64(size) / math.Sqrt(aspect))
			if ww < 4 || wh < 4 || ww > sm.w || wh > sm.h {
				continue
			}
			if a := float64(ww * wh); a < minArea || a > maxArea {
				continue
			}
			step := max(min(ww, wh)/8, 1)
			for y := 0; y+wh <= sm.h; y += step {
				for x := 0; x+ww <= sm.w; x += step {
					score := d.calculateRegionScore(sm, x, y, ww, wh)
					if score > d.config.EdgeThreshold {
						regions = append(regions, Region{Box: types.NewBoundingBox(x, y, ww, wh), Score: score})
					}
				}
			}
		}
	}
	return regions
}

// calculateRegionScore is the mean saliency inside the window minus the
// mean of a ring half the window's size around it
func (d *SubjectDetector) calculateRegionScore(sm *saliencyMap, x, y, w, h int) float64 {
	inner := sm.mean(x, y, w, h)
	ox0, oy0 := max(x-w/2, 0), max(y-h/2, 0)
	ox1, oy1 := min(x+w+w/2, sm.w), min(y+h+h/2, sm.h)
	outerArea := (ox1 - ox0) * (oy1 - oy0)
	ringArea := outerArea - w*h
	if ringArea <= 0 {
		return inner
	}
	outer := sm.mean(ox0, oy0, ox1-ox0, oy1-oy0) * float64(outerArea)
	ring := (outer - inner*float64(w*h)) / float64(ringArea)
	return inner - ring
}

func sortRegions(r []Region) {
	// insertion sort keeps equal scores in scan order
	for i := 1; i < len(r); i++ {
		for j := i; j > 0 && r[j].Score > r[j-1].Score; j-- {
			r[j], r[j-1] = r[j-1], r[j]
		}
	}
}

// Locator finds the initial tracking box as the most salient window
type Locator struct {
	detector *SubjectDetector
}

// NewLocator wraps d; a nil d uses the defaults
func NewLocator(d *SubjectDetector) *Locator {
	if d == nil {
		d = New()
	}
	return &Locator{detector: d}
}

// Locate returns the best window in pixels. Confidence is the window's
// contrast score clamped to [0,1].
func (l *Locator) Locate(ctx context.Context, img image.Image) (types.BoundingBox, types.Subject, error) {
	if err := ctx.Err(); err != nil {
		return types.BoundingBox{}, types.Subject{}, err
	}
	regions, err := l.detector.DetectSubjects(img, 1)
	if err != nil {
		return types.BoundingBox{}, types.Subject{}, err
	}
	best := regions[0]
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	subject := types.Subject{
		Label:      "salient region",
		Confidence: math.Min(math.Max(best.Score, 0), 1),
		Box: types.NormalizedBox{
			X: float64(best.Box.X) / w,
			Y: float64(best.Box.Y) / h,
			W: float64(best.Box.Width) / w,
			H: float64(best.Box.Height) / h,
		},
	}
	return best.Box, subject, nil
}
