package viewer

import (
	"context"
	"image"
)

// Size is a page's intrinsic size in document points (scale 1)
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Document reports the page geometry of the template being mapped
type Document interface {
	PageCount() int
	PageSize(page int) (Size, error)
}

// Renderer rasterizes a page at a display scale
type Renderer interface {
	RenderPage(ctx context.Context, page int, scale float64) (image.Image, error)
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(ctx context.Context, page int, scale float64) (image.Image, error)

// RenderPage calls fn
func (fn RendererFunc) RenderPage(ctx context.Context, page int, scale float64) (image.Image, error) {
	return fn(ctx, page, scale)
}
