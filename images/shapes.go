// Package images - Image processing utilities
package images

import "image"

// Rect is a lightweight bounding box.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// Area returns the number of pixels covered by the rectangle.
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return (r.X2 - r.X1) * (r.Y2 - r.Y1)
}

// ExtendTo grows the rectangle so it contains the pixel at (x, y).
//
// An empty rectangle becomes the 1x1 box around the pixel.
func (r Rect) ExtendTo(x, y int) Rect {
	if r.Empty() {
		return Rect{X1: x, Y1: y, X2: x + 1, Y2: y + 1}
	}
	return Rect{
		X1: min(r.X1, x),
		Y1: min(r.Y1, y),
		X2: max(r.X2, x+1),
		Y2: max(r.Y2, y+1),
	}
}

// Scale maps the rectangle from one resolution to another.
func (r Rect) Scale(sx, sy float64) Rect {
	return Rect{
		X1: int(float64(r.X1) * sx),
		Y1: int(float64(r.Y1) * sy),
		X2: int(float64(r.X2)*sx + 0.5),
		Y2: int(float64(r.Y2)*sy + 0.5),
	}
}

// Rectangle converts to an image.Rectangle.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// CalculateIoU returns the intersection over union of two rectangles, in [0, 1].
//
// Non-overlapping rectangles return 0.
//
// Example:
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
func CalculateIoU(r, o Rect) float32 {
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea

	return float32(interArea) / float32(unionArea)
}
