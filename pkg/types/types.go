package types

import (
	"image"
	"time"
)

// BoundingBox is an axis-aligned box in pixel units of the source frame
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewBoundingBox creates a box from its top-left corner and size
func NewBoundingBox(x, y, width, height int) BoundingBox {
	return BoundingBox{X: x, Y: y, Width: width, Height: height}
}

// Area returns width*height as a float, the quantity crop sizing is derived from
func (b BoundingBox) Area() float32 {
	return float32(b.Width * b.Height)
}

// Center returns the integer center of the box
func (b BoundingBox) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Empty reports whether the box has no area
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Rect converts the box to an image.Rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Array returns the box as [x, y, width, height]
func (b BoundingBox) Array() [4]int {
	return [4]int{b.X, b.Y, b.Width, b.Height}
}

// Result is the outcome of one tracking step
type Result struct {
	Success bool        `json:"success"`
	Box     BoundingBox `json:"box"`
	Score   float32     `json:"score"`
}

// NormalizedBox represents a bounding box with coordinates in [0,1] range
type NormalizedBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ToPixels scales the box to an image of the given size, rounding to the
// nearest pixel
func (b NormalizedBox) ToPixels(imgW, imgH int) BoundingBox {
	fw, fh := float64(imgW), float64(imgH)
	x0 := int(b.X*fw + 0.5)
	y0 := int(b.Y*fh + 0.5)
	x1 := int((b.X+b.W)*fw + 0.5)
	y1 := int((b.Y+b.H)*fh + 0.5)
	return BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Subject is the object a vision model picked as the tracking target
type Subject struct {
	Label      string        `json:"label"`
	Confidence float64       `json:"confidence"`
	Box        NormalizedBox `json:"box"`
}

// LocateResult is the JSON document returned by the vision model
type LocateResult struct {
	Primary     Subject `json:"primary"`
	Description string  `json:"description"`
}

// FrameRecord is the tracking outcome for one frame of a session
type FrameRecord struct {
	Index   int           `json:"index" cbor:"1,keyasint"`
	Result  Result        `json:"result" cbor:"2,keyasint"`
	Latency time.Duration `json:"latency_ns" cbor:"3,keyasint"`
	// Reinit marks frames where the tracker was (re)initialized instead of updated
	Reinit bool      `json:"reinit,omitempty" cbor:"4,keyasint,omitempty"`
	Time   time.Time `json:"time" cbor:"5,keyasint"`
}

// SessionInfo describes one tracking run
type SessionInfo struct {
	ID        string      `json:"id"`
	Source    string      `json:"source"`
	Backend   string      `json:"backend"`
	InitBox   BoundingBox `json:"init_box"`
	Threshold float32     `json:"threshold"`
	StartedAt time.Time   `json:"started_at"`
}
