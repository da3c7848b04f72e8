package pdf

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"github.com/a3tai/pdf-field-mapper/internal/coords"
	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/metrics"
	"github.com/a3tai/pdf-field-mapper/internal/viewer"
)

// FieldSource supplies the fields drawn on a preview and a revision that changes on every mutation
type FieldSource interface {
	ListByPage(page int) []fieldmap.FieldDefinition
	Revision() uint64
}

// DefaultPreviewCacheBytes bounds the memory held by cached previews
const DefaultPreviewCacheBytes = 64 << 20

var (
	pageColor    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	borderColor  = color.RGBA{R: 203, G: 213, B: 225, A: 255}
	overlayFill  = color.NRGBA{R: 59, G: 130, B: 246, A: 48}
	overlayColor = color.RGBA{R: 37, G: 99, B: 235, A: 255}
)

// Preview rasterizes pages as blank sheets at the display scale with the mapped field boxes drawn
// on top. Results are cached per page, scale and field revision.
type Preview struct {
	doc    viewer.Document
	fields FieldSource
	cache  *ristretto.Cache
	group  singleflight.Group
}

// NewPreview creates a preview renderer. maxCost is the cache budget in bytes; zero uses
// DefaultPreviewCacheBytes.
func NewPreview(doc viewer.Document, fields FieldSource, maxCost int64) (*Preview, error) {
	if doc == nil || fields == nil {
		return nil, fmt.Errorf("preview needs a document and a field source")
	}
	if maxCost <= 0 {
		maxCost = DefaultPreviewCacheBytes
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create preview cache: %w", err)
	}

	return &Preview{doc: doc, fields: fields, cache: cache}, nil
}

// RenderPage implements viewer.Renderer
func (p *Preview) RenderPage(ctx context.Context, page int, scale float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scale <= 0 {
		return nil, fmt.Errorf("invalid scale %g", scale)
	}

	key := fmt.Sprintf("%d:%.4f:%d", page, scale, p.fields.Revision())
	if v, ok := p.cache.Get(key); ok {
		metrics.Renders.WithLabelValues("cached").Inc()
		return v.(image.Image), nil
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		img, err := p.draw(page, scale)
		if err != nil {
			return nil, err
		}
		b := img.Bounds()
		p.cache.Set(key, img, int64(b.Dx()*b.Dy()*4))
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}

func (p *Preview) draw(page int, scale float64) (*image.RGBA, error) {
	size, err := p.doc.PageSize(page)
	if err != nil {
		return nil, err
	}

	w := int(math.Ceil(size.Width * scale))
	h := int(math.Ceil(size.Height * scale))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(pageColor), image.Point{}, draw.Src)
	outline(img, img.Bounds(), borderColor)

	for _, f := range p.fields.ListByPage(page) {
		r := coords.OverlayRect(f, scale, size.Height)
		box := image.Rect(
			int(math.Round(r.X)), int(math.Round(r.Y)),
			int(math.Round(r.X+r.Width)), int(math.Round(r.Y+r.Height)),
		).Intersect(img.Bounds())
		if box.Empty() {
			continue
		}
		draw.Draw(img, box, image.NewUniform(overlayFill), image.Point{}, draw.Over)
		outline(img, box, overlayColor)
	}
	return img, nil
}

func outline(img draw.Image, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
		image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y),
		image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// Close releases the cache
func (p *Preview) Close() {
	p.cache.Close()
}

// EncodePNG writes img as PNG
func EncodePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}
