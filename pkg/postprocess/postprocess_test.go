package postprocess

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/menta2k/vit-tracker/pkg/preprocess"
	"github.com/menta2k/vit-tracker/pkg/tensor"
	"github.com/menta2k/vit-tracker/pkg/types"
)

func TestHann1D(t *testing.T) {
	for _, n := range []int{1, 2, 7, 16, 33} {
		w := Hann1D(n)
		require.Len(t, w, n)
		for i := range w {
			assert.InDelta(t, w[i], w[n-1-i], 1e-6, "n=%d i=%d", n, i)
			assert.Greater(t, w[i], float32(0), "OpenCV form never reaches zero")
			assert.LessOrEqual(t, w[i], float32(1))
		}
	}

	assert.InDelta(t, 1.0, Hann1D(1)[0], 1e-6)
	assert.Empty(t, Hann1D(0))
}

func TestHann2DIsOuterProduct(t *testing.T) {
	const n = ScoreSize
	h1 := Hann1D(n)
	h2 := Hann2D(n, n)
	require.Len(t, h2, n*n)

	col := mat.NewVecDense(n, nil)
	for i, v := range h1 {
		col.SetVec(i, float64(v))
	}
	var outer mat.Dense
	outer.Outer(1, col, col)

	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			assert.InDelta(t, outer.At(r, c), float64(h2[r*n+c]), 1e-6)
		}
	}

	// center cells carry more weight than the border
	assert.Greater(t, h2[8*n+8], h2[0])
	assert.Greater(t, h2[7*n+7], h2[n*n-1])
}

func TestHann2DRectangular(t *testing.T) {
	h := Hann2D(3, 5)
	require.Len(t, h, 15)
	r, c := Hann1D(3), Hann1D(5)
	assert.Equal(t, r[1]*c[4], h[1*5+4])
	assert.Empty(t, Hann2D(0, 4))
}

func TestFindMax(t *testing.T) {
	idx, v := FindMax([]float32{0.1, 0.5, 0.3, 0.9, 0.2})
	assert.Equal(t, 3, idx)
	assert.Equal(t, float32(0.9), v)

	idx, v = FindMax([]float32{0.4, 0.7, 0.7, 0.1})
	assert.Equal(t, 1, idx, "first occurrence wins")
	assert.Equal(t, float32(0.7), v)

	idx, v = FindMax([]float32{-3, -2, -5})
	assert.Equal(t, 1, idx)
	assert.Equal(t, float32(-2), v)

	idx, v = FindMax(nil)
	assert.Equal(t, 0, idx)
	assert.True(t, math.IsInf(float64(v), -1))
}

// peakMaps returns maps with a single confident cell predicting a box of
// w x h crop fractions centered in that cell
func peakMaps(row, col int, conf, w, h float32) tensor.Maps {
	m := tensor.EmptyMaps(ScoreSize)
	m.Set(row, col, tensor.Cell{Conf: conf, Width: w, Height: h})
	return m
}

func TestDecodeCenteredPeakKeepsBox(t *testing.T) {
	tests := []struct {
		name string
		prev types.BoundingBox
	}{
		{"square", types.NewBoundingBox(100, 100, 50, 50)},
		{"odd sizes", types.NewBoundingBox(37, 41, 33, 21)},
		{"near origin", types.NewBoundingBox(0, 0, 64, 48)},
		{"negative position", types.NewBoundingBox(-20, -10, 40, 30)},
	}

	hanning := Hann2D(ScoreSize, ScoreSize)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crop := preprocess.CropSize(tt.prev, 4)
			w := float32(tt.prev.Width) / float32(crop)
			h := float32(tt.prev.Height) / float32(crop)

			res := Decode(peakMaps(8, 8, 1, w, h), hanning, tt.prev, crop, 0.25)
			require.True(t, res.Success)
			assert.InDelta(t, tt.prev.X, res.Box.X, 1)
			assert.InDelta(t, tt.prev.Y, res.Box.Y, 1)
			assert.InDelta(t, tt.prev.Width, res.Box.Width, 1)
			assert.InDelta(t, tt.prev.Height, res.Box.Height, 1)
		})
	}
}

func TestDecodeExactSquare(t *testing.T) {
	prev := types.NewBoundingBox(100, 100, 50, 50)
	res := Decode(peakMaps(8, 8, 1, 0.25, 0.25), Hann2D(ScoreSize, ScoreSize), prev, 200, 0.25)

	require.True(t, res.Success)
	assert.Equal(t, prev, res.Box)
	assert.Greater(t, res.Score, float32(0.9))
}

func TestDecodeThresholdInclusive(t *testing.T) {
	hanning := Hann2D(ScoreSize, ScoreSize)
	idx := 5*ScoreSize + 9
	threshold := float32(0.9) * hanning[idx]

	prev := types.NewBoundingBox(10, 10, 20, 20)
	res := Decode(peakMaps(5, 9, 0.9, 0.1, 0.1), hanning, prev, 57, threshold)
	assert.True(t, res.Success)
	assert.Equal(t, threshold, res.Score)
}

func TestDecodeBelowThresholdReturnsPrev(t *testing.T) {
	prev := types.NewBoundingBox(123, 45, 67, 89)
	res := Decode(peakMaps(8, 8, 0.2, 0.5, 0.5), Hann2D(ScoreSize, ScoreSize), prev, 311, 0.25)

	assert.False(t, res.Success)
	assert.Equal(t, prev, res.Box)
	assert.Less(t, res.Score, float32(0.25))
}

func TestDecodeWindowSuppressesBorderPeak(t *testing.T) {
	m := tensor.EmptyMaps(ScoreSize)
	m.Set(0, 0, tensor.Cell{Conf: 1, Width: 0.5, Height: 0.5})
	m.Set(8, 8, tensor.Cell{Conf: 0.6, Width: 0.125, Height: 0.125})

	res := Decode(m, Hann2D(ScoreSize, ScoreSize), types.NewBoundingBox(0, 0, 50, 50), 200, 0.25)
	require.True(t, res.Success)

	// origin is -75; center cell maps to the middle of the crop
	assert.Equal(t, types.NewBoundingBox(12, 12, 25, 25), res.Box)
}

func TestDecodeOffsets(t *testing.T) {
	m := tensor.EmptyMaps(ScoreSize)
	m.Set(8, 4, tensor.Cell{Conf: 1, Width: 0.125, Height: 0.25, OffsetX: 0.5, OffsetY: 0.25})

	prev := types.NewBoundingBox(100, 100, 50, 50)
	res := Decode(m, Hann2D(ScoreSize, ScoreSize), prev, 160, 0.01)
	require.True(t, res.Success)

	// cx = 4.5/16, cy = 8.25/16, origin (45, 45)
	assert.Equal(t, types.NewBoundingBox(80, 107, 20, 40), res.Box)
}

func TestDecodeZeroCropDoesNotPanic(t *testing.T) {
	prev := types.NewBoundingBox(30, 40, 0, 0)
	var res types.Result
	assert.NotPanics(t, func() {
		res = Decode(peakMaps(8, 8, 1, 0.3, 0.3), Hann2D(ScoreSize, ScoreSize), prev, 0, 0.25)
	})
	assert.True(t, res.Success)
	assert.Equal(t, types.NewBoundingBox(30, 40, 0, 0), res.Box)
}

func TestDecodeNaNScores(t *testing.T) {
	m := tensor.EmptyMaps(ScoreSize)
	for i := range m.Conf {
		m.Conf[i] = float32(math.NaN())
	}
	prev := types.NewBoundingBox(1, 2, 3, 4)

	res := Decode(m, Hann2D(ScoreSize, ScoreSize), prev, 80, 0.25)
	assert.False(t, res.Success)
	assert.Equal(t, prev, res.Box)
	assert.Equal(t, float32(0), res.Score)
	_, err := json.Marshal(res)
	assert.NoError(t, err)
}

func TestDecodeNonFiniteScores(t *testing.T) {
	prev := types.NewBoundingBox(10, 20, 30, 40)
	for _, v := range []float64{math.Inf(-1), math.Inf(1)} {
		m := tensor.EmptyMaps(ScoreSize)
		for i := range m.Conf {
			m.Conf[i] = float32(v)
		}
		res := Decode(m, Hann2D(ScoreSize, ScoreSize), prev, 80, 0.25)
		assert.False(t, res.Success, "conf %v", v)
		assert.Equal(t, prev, res.Box, "conf %v", v)
		assert.Equal(t, float32(0), res.Score, "conf %v", v)
		_, err := json.Marshal(res)
		assert.NoError(t, err, "conf %v", v)
	}
}

func TestBackProjectSaturates(t *testing.T) {
	prev := types.NewBoundingBox(0, 0, 10, 10)
	box := BackProject(prev, float32(math.NaN()), 0.5, float32(math.Inf(1)), 0.1, 100)
	assert.Equal(t, 0, box.X)
	assert.Equal(t, math.MaxInt32, box.Width)
}

func TestDecoder(t *testing.T) {
	d := NewDecoder(ScoreSize, 0.25)
	assert.Equal(t, ScoreSize, d.Grid())
	assert.Equal(t, float32(0.25), d.Threshold())

	w := d.Window()
	require.Len(t, w, ScoreSize*ScoreSize)
	w[0] = 42
	assert.NotEqual(t, float32(42), d.Window()[0], "Window must return a copy")

	prev := types.NewBoundingBox(100, 100, 50, 50)
	maps := peakMaps(8, 8, 1, 0.25, 0.25)
	assert.Equal(t, Decode(maps, Hann2D(ScoreSize, ScoreSize), prev, 200, 0.25), d.Decode(maps, prev, 200))
}

func BenchmarkDecode(b *testing.B) {
	d := NewDecoder(ScoreSize, 0.25)
	maps := tensor.EmptyMaps(ScoreSize)
	for i := range maps.Conf {
		maps.Conf[i] = float32(i%17) / 17
	}
	prev := types.NewBoundingBox(300, 200, 60, 40)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Decode(maps, prev, 196)
	}
}
