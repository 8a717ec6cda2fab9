// Package tensor holds the fixed-shape float buffers exchanged with the
// tracking model: NHWC input tensors and the three score-grid output maps.
package tensor

import "fmt"

// Channels is the number of color channels in every input tensor
const Channels = 3

// Tensor is a (1, Size, Size, 3) float32 tensor in row-major NHWC order
type Tensor struct {
	Size int
	Data []float32
}

// NewTensor wraps data as a Size x Size x 3 tensor, rejecting any other length
func NewTensor(size int, data []float32) (Tensor, error) {
	if size < 0 {
		return Tensor{}, fmt.Errorf("tensor size must not be negative, got %d", size)
	}
	if want := size * size * Channels; len(data) != want {
		return Tensor{}, fmt.Errorf("tensor %dx%dx%d needs %d values, got %d", size, size, Channels, want, len(data))
	}
	return Tensor{Size: size, Data: data}, nil
}

// Zeros allocates a zero-filled Size x Size x 3 tensor
func Zeros(size int) Tensor {
	return Tensor{Size: size, Data: make([]float32, size*size*Channels)}
}

// Len returns the number of float values in the tensor
func (t Tensor) Len() int {
	return len(t.Data)
}

// Index returns the flat offset of (row, col, channel)
func (t Tensor) Index(row, col, channel int) int {
	return (row*t.Size+col)*Channels + channel
}

// Maps are the raw model outputs on a Grid x Grid score grid.
//
// Conf is Grid*Grid values in row-major order. Size and Offset are
// channel-major (2, Grid, Grid): channel 0 holds width / x-offset and
// channel 1 holds height / y-offset.
type Maps struct {
	Grid   int
	Conf   []float32
	Size   []float32
	Offset []float32
}

// NewMaps validates the lengths of the three output maps against grid
func NewMaps(grid int, conf, size, offset []float32) (Maps, error) {
	if grid <= 0 {
		return Maps{}, fmt.Errorf("score grid must be positive, got %d", grid)
	}
	cells := grid * grid
	if len(conf) != cells {
		return Maps{}, fmt.Errorf("confidence map needs %d values, got %d", cells, len(conf))
	}
	if len(size) != 2*cells {
		return Maps{}, fmt.Errorf("size map needs %d values, got %d", 2*cells, len(size))
	}
	if len(offset) != 2*cells {
		return Maps{}, fmt.Errorf("offset map needs %d values, got %d", 2*cells, len(offset))
	}
	return Maps{Grid: grid, Conf: conf, Size: size, Offset: offset}, nil
}

// EmptyMaps allocates zeroed maps for a grid
func EmptyMaps(grid int) Maps {
	cells := grid * grid
	return Maps{
		Grid:   grid,
		Conf:   make([]float32, cells),
		Size:   make([]float32, 2*cells),
		Offset: make([]float32, 2*cells),
	}
}

// Cell holds the per-cell predictions read from Maps
type Cell struct {
	Conf    float32
	Width   float32
	Height  float32
	OffsetX float32
	OffsetY float32
}

// At reads every map at grid cell (row, col)
func (m Maps) At(row, col int) Cell {
	cells := m.Grid * m.Grid
	i := row*m.Grid + col
	return Cell{
		Conf:    m.Conf[i],
		Width:   m.Size[i],
		Height:  m.Size[cells+i],
		OffsetX: m.Offset[i],
		OffsetY: m.Offset[cells+i],
	}
}

// Set writes every map at grid cell (row, col)
func (m Maps) Set(row, col int, c Cell) {
	cells := m.Grid * m.Grid
	i := row*m.Grid + col
	m.Conf[i] = c.Conf
	m.Size[i] = c.Width
	m.Size[cells+i] = c.Height
	m.Offset[i] = c.OffsetX
	m.Offset[cells+i] = c.OffsetY
}
