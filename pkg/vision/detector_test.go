package vision

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
)

// createTestImage draws a white square at (60,60) size 40 on a gray 200x200
// background
func createTestImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			if x >= 60 && x < 100 && y >= 60 && y < 100 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{128, 128, 128, 255})
			}
		}
	}
	return img
}

func uniformImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 120, 90))
	for i := range img.Pix {
		img.Pix[i] = 90
	}
	return img
}

func TestNew(t *testing.T) {
	d := New()
	if d.config.EdgeThreshold != 0.01 {
		t.Errorf("Expected edge threshold 0.01, got %f", d.config.EdgeThreshold)
	}
	if len(d.config.Aspects) != 3 {
		t.Errorf("Expected 3 aspects, got %d", len(d.config.Aspects))
	}
}

func TestNewWithConfigFillsAspects(t *testing.T) {
	d := NewWithConfig(DetectionConfig{EdgeThreshold: 0.2})
	if len(d.config.Aspects) != 1 || d.config.Aspects[0] != 1 {
		t.Errorf("Expected square aspect fallback, got %v", d.config.Aspects)
	}
	if d.config.MaxSubjectRatio != 1 {
		t.Errorf("Expected max ratio 1, got %f", d.config.MaxSubjectRatio)
	}
}

func TestSaliencyMapMean(t *testing.T) {
	m := &saliencyMap{w: 2, h: 2, sum: []float64{
		0, 0, 0,
		0, 1, 3,
		0, 4, 10,
	}}
	// pixels are 1 2 / 3 4
	if got := m.mean(0, 0, 2, 2); got != 2.5 {
		t.Errorf("Expected mean 2.5, got %f", got)
	}
	if got := m.mean(1, 1, 1, 1); got != 4 {
		t.Errorf("Expected 4, got %f", got)
	}
	if got := m.mean(0, 1, 2, 1); got != 3.5 {
		t.Errorf("Expected 3.5, got %f", got)
	}
}

func TestDetectSubjectsFindsSquare(t *testing.T) {
	regions, err := New().DetectSubjects(createTestImage(), 5)
	if err != nil {
		t.Fatalf("DetectSubjects failed: %v", err)
	}
	if len(regions) == 0 || len(regions) > 5 {
		t.Fatalf("Expected 1..5 regions, got %d", len(regions))
	}
	for i := 1; i < len(regions); i++ {
		if regions[i].Score > regions[i-1].Score {
			t.Errorf("Regions not sorted at %d", i)
		}
	}
	cx, cy := regions[0].Box.Center()
	if cx < 60 || cx >= 100 || cy < 60 || cy >= 100 {
		t.Errorf("Expected best region centered on the square, got %+v", regions[0].Box)
	}
}

func TestDetectSubjectsUniform(t *testing.T) {
	_, err := New().DetectSubjects(uniformImage(), 0)
	if !errors.Is(err, ErrNoRegion) {
		t.Errorf("Expected ErrNoRegion, got %v", err)
	}
}

func TestDetectSubjectsEmpty(t *testing.T) {
	if _, err := New().DetectSubjects(image.NewRGBA(image.Rect(0, 0, 0, 0)), 0); err == nil {
		t.Error("Expected error for empty image")
	}
}

func TestLocator(t *testing.T) {
	box, subject, err := NewLocator(nil).Locate(context.Background(), createTestImage())
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if box.Empty() {
		t.Fatal("Expected a non-empty box")
	}
	if subject.Confidence <= 0 || subject.Confidence > 1 {
		t.Errorf("Confidence out of range: %f", subject.Confidence)
	}
	if got := int(subject.Box.X*200 + 0.5); got != box.X {
		t.Errorf("Normalized x %f does not match box x %d", subject.Box.X, box.X)
	}
	if got := int(subject.Box.W*200 + 0.5); got != box.Width {
		t.Errorf("Normalized w %f does not match box width %d", subject.Box.W, box.Width)
	}
}

func TestLocatorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := NewLocator(nil).Locate(ctx, createTestImage()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
