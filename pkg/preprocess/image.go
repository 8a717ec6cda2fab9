package preprocess

import "fmt"

// Image is a read-only 8-bit, 3-channel pixel buffer laid out
// height x width x channel, row-major and channel-interleaved
type Image struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewImage allocates a zero-filled (black) image
func NewImage(width, height int) *Image {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
}

// NewImageFromPix wraps an existing interleaved buffer without copying
func NewImageFromPix(width, height int, pix []uint8) (*Image, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}
	if len(pix) != width*height*3 {
		return nil, fmt.Errorf("image %dx%d needs %d bytes, got %d", width, height, width*height*3, len(pix))
	}
	return &Image{Width: width, Height: height, Pix: pix}, nil
}

// Empty reports whether the image has no pixels
func (im *Image) Empty() bool {
	return im == nil || im.Width <= 0 || im.Height <= 0
}

// At returns channel c of the pixel at (x, y)
func (im *Image) At(x, y, c int) uint8 {
	return im.Pix[(y*im.Width+x)*3+c]
}

// Set writes channel c of the pixel at (x, y)
func (im *Image) Set(x, y, c int, v uint8) {
	im.Pix[(y*im.Width+x)*3+c] = v
}

// SetRGB writes all three channels of the pixel at (x, y)
func (im *Image) SetRGB(x, y int, r, g, b uint8) {
	i := (y*im.Width + x) * 3
	im.Pix[i] = r
	im.Pix[i+1] = g
	im.Pix[i+2] = b
}

// row returns the interleaved bytes of pixels [x0, x1) on row y
func (im *Image) row(y, x0, x1 int) []uint8 {
	start := (y*im.Width + x0) * 3
	return im.Pix[start : start+(x1-x0)*3]
}
