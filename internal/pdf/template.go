package pdf

import (
	"fmt"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/viewer"
)

// Template is the PDF form being mapped. Page sizes are read once when it is opened.
type Template struct {
	path  string
	sizes []viewer.Size
}

// OpenTemplate reads the page geometry of the PDF at path
func OpenTemplate(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fieldmap.WrapError(fieldmap.ErrorTypeLoad, "failed to open template", err).WithContext(path)
	}
	defer f.Close()

	ctx, err := readContext(f)
	if err != nil {
		return nil, fieldmap.WrapError(fieldmap.ErrorTypeLoad, "failed to read template", err).WithContext(path)
	}

	sizes, err := pageSizes(ctx)
	if err != nil {
		return nil, fieldmap.WrapError(fieldmap.ErrorTypeLoad, "failed to read page sizes", err).WithContext(path)
	}

	return &Template{path: path, sizes: sizes}, nil
}

// NewTemplate builds a template from known page sizes, for callers that already have the geometry
func NewTemplate(path string, sizes []viewer.Size) *Template {
	return &Template{path: path, sizes: append([]viewer.Size(nil), sizes...)}
}

// Path returns the template file path
func (t *Template) Path() string {
	return t.path
}

// PageCount returns the number of pages
func (t *Template) PageCount() int {
	return len(t.sizes)
}

// PageSize returns the intrinsic size of a 1-based page
func (t *Template) PageSize(page int) (viewer.Size, error) {
	if page < 1 || page > len(t.sizes) {
		return viewer.Size{}, fieldmap.NewError(fieldmap.ErrorTypeNotFound,
			fmt.Sprintf("page %d out of range [1, %d]", page, len(t.sizes))).WithPage(page)
	}
	return t.sizes[page-1], nil
}

func readContext(rs io.ReadSeeker) (*model.Context, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(rs, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}
	return ctx, nil
}

// pageSizes uses the inherited MediaBox of every page, since templates often only set it on the
// page tree root
func pageSizes(ctx *model.Context) ([]viewer.Size, error) {
	if ctx.PageCount < 1 {
		return nil, fmt.Errorf("template has no pages")
	}

	sizes := make([]viewer.Size, 0, ctx.PageCount)
	for p := 1; p <= ctx.PageCount; p++ {
		_, _, inh, err := ctx.PageDict(p, true)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", p, err)
		}
		if inh == nil || inh.MediaBox == nil {
			return nil, fmt.Errorf("page %d has no media box", p)
		}
		sizes = append(sizes, viewer.Size{
			Width:  inh.MediaBox.Width(),
			Height: inh.MediaBox.Height(),
		})
	}
	return sizes, nil
}
