package processing

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/vit-tracker/pkg/types"
)

var (
	trackingColor = color.NRGBA{0, 255, 0, 255}
	lostColor     = color.NRGBA{255, 0, 0, 255}
	fpsColor      = color.NRGBA{255, 0, 0, 255}
	scoreColor    = color.NRGBA{255, 255, 255, 255}
	labelColor    = color.NRGBA{255, 255, 0, 255}
)

// OverlayInfo is the text drawn in the top-left corner of an overlay
type OverlayInfo struct {
	FPS float64
	// Label names the inference backend; empty skips the line
	Label string
}

// StatusText returns "Tracking" or "Lost"
func StatusText(res types.Result) string {
	if res.Success {
		return "Tracking"
	}
	return "Lost"
}

// CreateOverlay draws a tracking result on a copy of img: a green box with a
// center dot while tracking, a red box when lost, plus FPS, score and status
// lines
func (p *Processor) CreateOverlay(img image.Image, res types.Result, info OverlayInfo) *image.NRGBA {
	nrgba := imaging.Clone(img)

	boxColor := lostColor
	if res.Success {
		boxColor = trackingColor
	}

	drawRect(nrgba, res.Box, boxColor, 2)
	if res.Success {
		cx, cy := res.Box.Center()
		drawDisc(nrgba, cx, cy, 4, boxColor)
	}

	drawText(nrgba, 10, 30, fmt.Sprintf("FPS: %.1f", info.FPS), fpsColor)
	drawText(nrgba, 10, 60, fmt.Sprintf("Score: %.3f", res.Score), scoreColor)
	drawText(nrgba, 10, 90, StatusText(res), boxColor)
	if info.Label != "" {
		drawText(nrgba, 10, 120, info.Label, labelColor)
	}
	return nrgba
}

func drawText(img *image.NRGBA, x, y int, s string, c color.NRGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func drawRect(img *image.NRGBA, box types.BoundingBox, c color.NRGBA, stroke int) {
	if box.Width <= 0 || box.Height <= 0 {
		return
	}
	x0, y0 := box.X, box.Y
	x1, y1 := box.X+box.Width, box.Y+box.Height
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawDisc(img *image.NRGBA, cx, cy, r int, c color.NRGBA) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				setPixel(img, cx+dx, cy+dy, c)
			}
		}
	}
}

func setPixel(img *image.NRGBA, x, y int, c color.NRGBA) {
	if x < 0 || y < 0 || x >= img.Bounds().Dx() || y >= img.Bounds().Dy() {
		return
	}
	i := y*img.Stride + x*4
	img.Pix[i+0] = c.R
	img.Pix[i+1] = c.G
	img.Pix[i+2] = c.B
	img.Pix[i+3] = c.A
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
