package processing

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/menta2k/vit-tracker/pkg/preprocess"
)

// ToImage converts any decoded frame to the tracker's packed 3-channel
// layout. Channel order is R, G, B and alpha is dropped without
// compositing.
func ToImage(img image.Image) *preprocess.Image {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	out := preprocess.NewImage(w, h)

	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		dst := out.Pix[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return out
}

// FromImage converts a packed frame back to an opaque *image.NRGBA
func FromImage(img *preprocess.Image) *image.NRGBA {
	if img.Empty() {
		return image.NewNRGBA(image.Rect(0, 0, 0, 0))
	}
	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			i := y*out.Stride + x*4
			out.Pix[i] = img.At(x, y, 0)
			out.Pix[i+1] = img.At(x, y, 1)
			out.Pix[i+2] = img.At(x, y, 2)
			out.Pix[i+3] = 255
		}
	}
	return out
}
