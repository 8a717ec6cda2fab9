package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/menta2k/vit-tracker/pkg/inference"
	"github.com/menta2k/vit-tracker/pkg/preprocess"
	"github.com/menta2k/vit-tracker/pkg/tensor"
	"github.com/menta2k/vit-tracker/pkg/types"
)

// fakeModel returns a single peak and records what it was called with
type fakeModel struct {
	calls     int
	cell      tensor.Cell
	grid      int
	err       error
	templates []int
	searches  []int
}

func (f *fakeModel) Infer(ctx context.Context, template, search tensor.Tensor) (tensor.Maps, error) {
	f.calls++
	f.templates = append(f.templates, template.Size)
	f.searches = append(f.searches, search.Size)
	if f.err != nil {
		return tensor.Maps{}, f.err
	}
	grid := f.grid
	if grid == 0 {
		grid = 16
	}
	m := tensor.EmptyMaps(grid)
	m.Set(grid/2, grid/2, f.cell)
	return m, nil
}

func createTestImage(width, height int) *preprocess.Image {
	img := preprocess.NewImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGB(x, y, uint8(x), uint8(y), 128)
		}
	}
	return img
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	want := Config{TemplateSize: 128, SearchSize: 256, ScoreSize: 16, TemplateFactor: 2, SearchFactor: 4, Threshold: 0.25}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("DefaultConfig mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero template", func(c *Config) { c.TemplateSize = 0 }},
		{"negative search", func(c *Config) { c.SearchSize = -1 }},
		{"zero grid", func(c *Config) { c.ScoreSize = 0 }},
		{"zero template factor", func(c *Config) { c.TemplateFactor = 0 }},
		{"negative search factor", func(c *Config) { c.SearchFactor = -4 }},
		{"threshold above one", func(c *Config) { c.Threshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.Threshold = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
			if _, err := NewWithConfig(&fakeModel{}, cfg); err == nil {
				t.Error("NewWithConfig should reject an invalid config")
			}
		})
	}
}

func TestUpdateBeforeInit(t *testing.T) {
	model := &fakeModel{}
	tr := New(model)

	res, err := tr.Update(context.Background(), createTestImage(64, 64))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if diff := cmp.Diff(types.Result{}, res); diff != "" {
		t.Errorf("Expected zero result (-want +got):\n%s", diff)
	}
	if model.calls != 0 {
		t.Errorf("Model must not be called before Init, called %d times", model.calls)
	}
	if tr.IsInitialized() {
		t.Error("Tracker should not be initialized")
	}
	if _, ok := tr.BoundingBox(); ok {
		t.Error("BoundingBox should report uninitialized")
	}
}

func TestUpdateAdoptsDecodedBox(t *testing.T) {
	model := &fakeModel{cell: tensor.Cell{Conf: 1, Width: 0.25, Height: 0.25, OffsetX: 0.5}}
	tr := New(model)
	img := createTestImage(320, 240)

	tr.Init(img, types.NewBoundingBox(100, 100, 50, 50))
	if !tr.IsInitialized() {
		t.Fatal("Tracker should be initialized after Init")
	}

	res, err := tr.Update(context.Background(), img)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("Expected success, got %+v", res)
	}
	// search crop 200 at origin (25,25); cx = 8.5/16
	if diff := cmp.Diff(types.NewBoundingBox(106, 100, 50, 50), res.Box); diff != "" {
		t.Errorf("Unexpected box (-want +got):\n%s", diff)
	}
	box, ok := tr.BoundingBox()
	if !ok || box != res.Box {
		t.Errorf("Tracker state %+v does not match result %+v", box, res.Box)
	}

	// the next search is centered on the new box
	res, err = tr.Update(context.Background(), img)
	if err != nil {
		t.Fatalf("Second update failed: %v", err)
	}
	if res.Box.X != 112 {
		t.Errorf("Expected x=112 after second update, got %d", res.Box.X)
	}

	if diff := cmp.Diff([]int{128, 128}, model.templates); diff != "" {
		t.Errorf("Template sizes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{256, 256}, model.searches); diff != "" {
		t.Errorf("Search sizes (-want +got):\n%s", diff)
	}
}

func TestUpdateLowConfidenceKeepsBox(t *testing.T) {
	model := &fakeModel{cell: tensor.Cell{Conf: 0.1, Width: 0.9, Height: 0.9, OffsetX: 0.9, OffsetY: 0.9}}
	tr := New(model)
	img := createTestImage(320, 240)
	start := types.NewBoundingBox(40, 60, 30, 20)
	tr.Init(img, start)

	for i := 0; i < 3; i++ {
		res, err := tr.Update(context.Background(), img)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if res.Success {
			t.Errorf("Expected low-confidence failure, got %+v", res)
		}
		if res.Box != start {
			t.Errorf("Box drifted to %+v", res.Box)
		}
	}

	if !tr.IsInitialized() {
		t.Error("Tracker must keep tracking after a lost frame")
	}
}

func TestUpdatePropagatesModelErrors(t *testing.T) {
	cause := inference.Wrap(inference.ErrRun, "forward", errors.New("device lost"))
	model := &fakeModel{err: cause}
	tr := New(model)
	start := types.NewBoundingBox(10, 10, 20, 20)
	tr.Init(createTestImage(64, 64), start)

	_, err := tr.Update(context.Background(), createTestImage(64, 64))
	if !errors.Is(err, inference.ErrRun) {
		t.Fatalf("Expected ErrRun, got %v", err)
	}
	if err != cause {
		t.Errorf("Error should be returned unchanged, got %v", err)
	}
	if box, _ := tr.BoundingBox(); box != start {
		t.Errorf("Failed update changed the box to %+v", box)
	}
}

func TestUpdateRejectsWrongGrid(t *testing.T) {
	tr := New(&fakeModel{grid: 8, cell: tensor.Cell{Conf: 1}})
	tr.Init(createTestImage(64, 64), types.NewBoundingBox(10, 10, 20, 20))

	_, err := tr.Update(context.Background(), createTestImage(64, 64))
	if !errors.Is(err, inference.ErrOutput) {
		t.Errorf("Expected ErrOutput, got %v", err)
	}
}

func TestUpdateWithoutModel(t *testing.T) {
	tr := New(nil)
	tr.Init(createTestImage(64, 64), types.NewBoundingBox(10, 10, 20, 20))

	if _, err := tr.Update(context.Background(), createTestImage(64, 64)); !errors.Is(err, inference.ErrLoad) {
		t.Errorf("Expected ErrLoad, got %v", err)
	}
}

func TestReinitAndReset(t *testing.T) {
	model := &fakeModel{cell: tensor.Cell{Conf: 1, Width: 0.25, Height: 0.25}}
	tr := New(model)
	img := createTestImage(320, 240)

	tr.Init(img, types.NewBoundingBox(100, 100, 50, 50))
	if _, err := tr.Update(context.Background(), img); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	second := types.NewBoundingBox(10, 20, 30, 40)
	tr.Init(img, second)
	if box, ok := tr.BoundingBox(); !ok || box != second {
		t.Errorf("Re-init should replace the box, got %+v", box)
	}

	tr.Reset()
	if tr.IsInitialized() {
		t.Error("Reset should return to the uninitialized state")
	}
	calls := model.calls
	res, err := tr.Update(context.Background(), img)
	if err != nil || res != (types.Result{}) {
		t.Errorf("Update after Reset = %+v, %v", res, err)
	}
	if model.calls != calls {
		t.Error("Model called after Reset")
	}
}

func TestDegenerateBox(t *testing.T) {
	tr := New(&fakeModel{cell: tensor.Cell{Conf: 1, Width: 0.5, Height: 0.5}})
	img := createTestImage(64, 64)
	tr.Init(img, types.NewBoundingBox(20, 20, 0, 0))

	res, err := tr.Update(context.Background(), img)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res.Box != types.NewBoundingBox(20, 20, 0, 0) {
		t.Errorf("Zero crop should collapse to the crop origin, got %+v", res.Box)
	}
}

func BenchmarkUpdate(b *testing.B) {
	tr := New(&fakeModel{cell: tensor.Cell{Conf: 1, Width: 0.1, Height: 0.1}})
	img := createTestImage(1280, 720)
	tr.Init(img, types.NewBoundingBox(600, 300, 80, 60))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.Init(img, types.NewBoundingBox(600, 300, 80, 60))
		tr.Update(context.Background(), img)
	}
}
