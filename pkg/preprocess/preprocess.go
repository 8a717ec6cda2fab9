// Package preprocess turns a square region around a bounding box into a
// fixed-size, normalized model input tensor.
//
// The crop is centered on the box and sized from the box area and a scale
// factor. Parts of the crop that fall outside the frame are filled with black,
// the crop is resized with bilinear interpolation and every channel is
// normalized with ImageNet statistics. The crop size is returned alongside the
// tensor because decoding needs it to map model coordinates back to the frame.
package preprocess

import (
	"math"

	"github.com/menta2k/vit-tracker/pkg/tensor"
	"github.com/menta2k/vit-tracker/pkg/types"
)

// Mean holds the ImageNet per-channel means
var Mean = [3]float32{0.485, 0.456, 0.406}

// Std holds the ImageNet per-channel standard deviations
var Std = [3]float32{0.229, 0.224, 0.225}

// CropSize returns ceil(sqrt(width*height) * factor), the side of the square
// crop in frame pixels. Degenerate boxes yield 0.
func CropSize(box types.BoundingBox, factor float32) int {
	area := box.Area()
	if area <= 0 || factor <= 0 {
		return 0
	}
	side := float32(math.Sqrt(float64(area))) * factor
	return int(math.Ceil(float64(side)))
}

// CropAndPreprocess crops a CropSize square centered on box, resizes it to
// outputSize x outputSize and normalizes it. It never fails: crops that miss
// the frame, empty images and zero crop sizes all produce a tensor of
// normalized black pixels.
func CropAndPreprocess(img *Image, box types.BoundingBox, factor float32, outputSize int) (tensor.Tensor, int) {
	if outputSize < 0 {
		outputSize = 0
	}
	cropSize := CropSize(box, factor)
	crop := PadCrop(img, box, cropSize)
	resized := ResizeBilinear(crop, outputSize, outputSize)
	return tensor.Tensor{Size: outputSize, Data: Normalize(resized)}, cropSize
}

// CropOrigin returns the frame coordinates of the top-left pixel of a
// cropSize square centered on box
func CropOrigin(box types.BoundingBox, cropSize int) (int, int) {
	return box.X + (box.Width-cropSize)/2, box.Y + (box.Height-cropSize)/2
}

// PadCrop copies the cropSize x cropSize square centered on box out of img.
// Pixels outside the frame stay zero.
func PadCrop(img *Image, box types.BoundingBox, cropSize int) *Image {
	if cropSize <= 0 {
		return NewImage(0, 0)
	}
	crop := NewImage(cropSize, cropSize)
	if img.Empty() {
		return crop
	}

	x1, y1 := CropOrigin(box, cropSize)
	x2, y2 := x1+cropSize, y1+cropSize

	padLeft := maxInt(-x1, 0)
	padTop := maxInt(-y1, 0)

	roiX1 := maxInt(x1, 0)
	roiY1 := maxInt(y1, 0)
	roiX2 := minInt(x2, img.Width)
	roiY2 := minInt(y2, img.Height)
	if roiX2 <= roiX1 || roiY2 <= roiY1 {
		return crop
	}

	for y := roiY1; y < roiY2; y++ {
		dstY := y - roiY1 + padTop
		copy(crop.row(dstY, padLeft, padLeft+roiX2-roiX1), img.row(y, roiX1, roiX2))
	}
	return crop
}

// ResizeBilinear resizes src to newW x newH. Source sample coordinates are
// dst*old/new per axis, neighbour indices are clamped to the image and the
// result is rounded to nearest and clamped to 0..255.
func ResizeBilinear(src *Image, newW, newH int) *Image {
	dst := NewImage(newW, newH)
	if src.Empty() || dst.Empty() {
		return dst
	}

	scaleY := float32(src.Height) / float32(newH)
	scaleX := float32(src.Width) / float32(newW)
	maxY, maxX := src.Height-1, src.Width-1

	for y := 0; y < newH; y++ {
		srcY := float32(y) * scaleY
		y0 := minInt(int(srcY), maxY)
		y1 := minInt(y0+1, maxY)
		dy := srcY - float32(y0)

		for x := 0; x < newW; x++ {
			srcX := float32(x) * scaleX
			x0 := minInt(int(srcX), maxX)
			x1 := minInt(x0+1, maxX)
			dx := srcX - float32(x0)

			ix, iy := 1-dx, 1-dy

			// Each term is (v*wx)*wy, summed left to right. Every step is
			// rounded to float32 so no multiply-add gets fused.
			for c := 0; c < 3; c++ {
				v := float32(float32(float32(src.At(x0, y0, c))*ix)*iy) +
					float32(float32(float32(src.At(x1, y0, c))*dx)*iy)
				v = float32(v + float32(float32(float32(src.At(x0, y1, c))*ix)*dy))
				v = float32(v + float32(float32(float32(src.At(x1, y1, c))*dx)*dy))
				dst.Set(x, y, c, roundToByte(v))
			}
		}
	}
	return dst
}

// Normalize converts img to channel-interleaved floats
// (pixel/255 - Mean[c]) / Std[c]
func Normalize(img *Image) []float32 {
	if img == nil {
		return nil
	}
	out := make([]float32, len(img.Pix))
	for i, p := range img.Pix {
		c := i % 3
		out[i] = (float32(p)/255 - Mean[c]) / Std[c]
	}
	return out
}

// NormalizedValue is what a single pixel value p of channel c becomes
func NormalizedValue(p uint8, c int) float32 {
	return (float32(p)/255 - Mean[c]) / Std[c]
}

func roundToByte(v float32) uint8 {
	r := math.Round(float64(v))
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return uint8(r)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
