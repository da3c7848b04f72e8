// Package coords converts between screen pixels of a rendered page and document-space points.
//
// Screen space has its origin at the top-left corner of the rendered page with Y growing
// downward, and is multiplied by the display scale. Document space has its origin at the
// bottom-left corner of the page with Y growing upward and does not depend on the scale.
// This package is the only place that flips the Y axis.
package coords

import (
	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
)

// Point is a position in either coordinate space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned screen-space rectangle anchored at its top-left corner
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether p lies inside r, edges included
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// ScreenToDoc converts a pointer position relative to the rendered page's top-left corner into
// document space. scale must be positive. Positions outside the page are not clamped.
func ScreenToDoc(screenX, screenY, scale, pageHeight float64) Point {
	return Point{
		X: screenX / scale,
		Y: pageHeight - screenY/scale,
	}
}

// DocToScreen is the inverse of ScreenToDoc
func DocToScreen(docX, docY, scale, pageHeight float64) Point {
	return Point{
		X: docX * scale,
		Y: (pageHeight - docY) * scale,
	}
}

// unscaledBox returns the field's bounding box in top-down coordinates at scale 1
func unscaledBox(f fieldmap.FieldDefinition, pageHeight float64) Rect {
	return Rect{
		X:      f.X,
		Y:      pageHeight - f.Y - f.Height,
		Width:  f.Width,
		Height: f.Height,
	}
}

// HitTest reports whether the screen point falls inside the field's bounding box. The box spans
// [x, x+width] horizontally and [y, y+height] in document space.
func HitTest(screenX, screenY, scale, pageHeight float64, f fieldmap.FieldDefinition) bool {
	p := Point{X: screenX / scale, Y: screenY / scale}
	return unscaledBox(f, pageHeight).Contains(p)
}

// FirstHit returns the first field in list order whose box contains the screen point. When
// boxes overlap the earliest field wins, regardless of which overlay is drawn on top.
func FirstHit(screenX, screenY, scale, pageHeight float64, fields []fieldmap.FieldDefinition) (fieldmap.FieldDefinition, bool) {
	for _, f := range fields {
		if HitTest(screenX, screenY, scale, pageHeight, f) {
			return f, true
		}
	}
	return fieldmap.FieldDefinition{}, false
}

// OverlayRect returns the screen-space box an overlay for f is drawn in. It covers exactly the
// region HitTest accepts. The top edge is (H - y - height)·scale, not (H - y)·scale: y is the
// bottom edge of the field, so anchoring at H - y would draw the overlay one field height low.
func OverlayRect(f fieldmap.FieldDefinition, scale, pageHeight float64) Rect {
	topLeft := DocToScreen(f.X, f.Y+f.Height, scale, pageHeight)
	return Rect{
		X:      topLeft.X,
		Y:      topLeft.Y,
		Width:  f.Width * scale,
		Height: f.Height * scale,
	}
}

// ClampPage limits page to [1, total]. A document without pages clamps to 1.
func ClampPage(page, total int) int {
	if total < 1 {
		total = 1
	}
	if page < 1 {
		return 1
	}
	if page > total {
		return total
	}
	return page
}

// ClampScale limits scale to [minScale, maxScale]
func ClampScale(scale, minScale, maxScale float64) float64 {
	if scale < minScale {
		return minScale
	}
	if scale > maxScale {
		return maxScale
	}
	return scale
}
