// Package viewer drives the field mapping session: which page is shown at which zoom, routing
// clicks on the rendered page to the field editor, and guarding asynchronous page renders.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/a3tai/pdf-field-mapper/internal/coords"
	"github.com/a3tai/pdf-field-mapper/internal/editor"
	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/logging"
	"github.com/a3tai/pdf-field-mapper/internal/metrics"
	"github.com/a3tai/pdf-field-mapper/internal/store"
)

// Mode is the viewer state
type Mode string

const (
	ModeIdle    Mode = "idle"
	ModeEditing Mode = "editing"
)

// ErrStaleRender is returned when a render finished after the view moved to another page or scale
var ErrStaleRender = errors.New("render result is stale")

// Options bounds the zoom
type Options struct {
	MinScale     float64
	MaxScale     float64
	ScaleStep    float64
	InitialScale float64
}

// DefaultOptions returns the standard zoom range 0.5..2.0 in steps of 0.25
func DefaultOptions() Options {
	return Options{
		MinScale:     0.5,
		MaxScale:     2.0,
		ScaleStep:    0.25,
		InitialScale: 1.0,
	}
}

// Ticket identifies one requested render. A render is committed only if the view still shows
// the ticket's page at the ticket's scale and no newer render was requested.
type Ticket struct {
	Page  int     `json:"page"`
	Scale float64 `json:"scale"`
	Seq   uint64  `json:"seq"`
}

// Frame is a committed render
type Frame struct {
	Ticket
	Image image.Image
}

// Overlay is a field drawn on the current page
type Overlay struct {
	Field fieldmap.FieldDefinition `json:"field"`
	Rect  coords.Rect              `json:"rect"`
}

// Snapshot is the derived view state
type Snapshot struct {
	Mode         Mode         `json:"mode"`
	Page         int          `json:"page"`
	TotalPages   int          `json:"totalPages"`
	Scale        float64      `json:"scale"`
	PageSize     Size         `json:"pageSize"`
	CanPrev      bool         `json:"canPrev"`
	CanNext      bool         `json:"canNext"`
	Loading      bool         `json:"loading"`
	LoadError    string       `json:"loadError,omitempty"`
	Form         *editor.Form `json:"form,omitempty"`
	CanDelete    bool         `json:"canDelete"`
	Overlays     []Overlay    `json:"overlays"`
	FieldsOnPage int          `json:"fieldsOnPage"`
	TotalFields  int          `json:"totalFields"`
}

// Viewer is one operator's mapping session over a shared field store
type Viewer struct {
	mu       sync.Mutex
	doc      Document
	renderer Renderer
	store    *store.Store
	logger   logging.Logger
	opts     Options

	page  int
	scale float64
	form  *editor.Form

	seq     uint64
	pending *Ticket
	loadErr error
	frame   *Frame
}

// New creates a viewer on page 1 at the initial scale. renderer may be nil when the caller never
// rasterizes pages.
func New(doc Document, renderer Renderer, s *store.Store, opts Options, logger logging.Logger) (*Viewer, error) {
	if doc == nil {
		return nil, fmt.Errorf("document cannot be nil")
	}
	if s == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if opts.MinScale <= 0 || opts.MaxScale < opts.MinScale {
		return nil, fmt.Errorf("invalid scale range [%g, %g]", opts.MinScale, opts.MaxScale)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Viewer{
		doc:      doc,
		renderer: renderer,
		store:    s,
		logger:   logger,
		opts:     opts,
		page:     1,
		scale:    coords.ClampScale(opts.InitialScale, opts.MinScale, opts.MaxScale),
	}, nil
}

// Mode returns the current state
func (v *Viewer) Mode() Mode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode()
}

func (v *Viewer) mode() Mode {
	if v.form != nil {
		return ModeEditing
	}
	return ModeIdle
}

// Page returns the current 1-indexed page
func (v *Viewer) Page() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

// Scale returns the current zoom
func (v *Viewer) Scale() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scale
}

// Form returns a copy of the open editor form, or nil when idle
func (v *Viewer) Form() *editor.Form {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.form == nil {
		return nil
	}
	f := *v.form
	return &f
}

// Click routes a click at screen position (sx, sy), relative to the rendered page's top-left
// corner. A click on a field opens it for editing (the first field in list order wins when
// boxes overlap); a click on empty space opens a draft at the click position.
func (v *Viewer) Click(sx, sy float64) (*editor.Form, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.form != nil {
		return nil, fieldmap.NewError(fieldmap.ErrorTypeState, "a field is already being edited")
	}
	if v.pending != nil {
		return nil, fieldmap.NewError(fieldmap.ErrorTypeState, "page is still loading").WithPage(v.page)
	}
	if v.loadErr != nil {
		return nil, v.loadErr
	}

	if math.IsNaN(sx) || math.IsNaN(sy) || math.IsInf(sx, 0) || math.IsInf(sy, 0) {
		return nil, fieldmap.NewError(fieldmap.ErrorTypeValidation, "click position must be finite").WithPage(v.page)
	}

	size, err := v.doc.PageSize(v.page)
	if err != nil {
		return nil, fieldmap.WrapError(fieldmap.ErrorTypeLoad, "failed to read page size", err).WithPage(v.page)
	}

	if hit, ok := coords.FirstHit(sx, sy, v.scale, size.Height, v.store.ListByPage(v.page)); ok {
		v.form = editor.NewEditForm(hit)
		v.logger.Debugw("editing field", "id", hit.ID, "page", v.page)
	} else {
		p := coords.ScreenToDoc(sx, sy, v.scale, size.Height)
		v.form = editor.NewCreateForm(editor.NewDraft(v.page, p.X, p.Y))
		v.logger.Debugw("drafting field", "page", v.page, "x", p.X, "y", p.Y)
	}

	f := *v.form
	return &f, nil
}

// Save applies form values to the draft and commits it. The editor stays open on failure.
func (v *Viewer) Save(values editor.Values) (fieldmap.FieldDefinition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.form == nil {
		return fieldmap.FieldDefinition{}, fieldmap.NewError(fieldmap.ErrorTypeState, "no field is being edited")
	}

	submitted, err := values.Apply(v.form.Draft)
	if err != nil {
		return fieldmap.FieldDefinition{}, fieldmap.WrapError(fieldmap.ErrorTypeValidation, "field not saved", err)
	}
	return v.commit(submitted)
}

// SaveField commits a fully specified field. The editor stays open on failure.
func (v *Viewer) SaveField(f fieldmap.FieldDefinition) (fieldmap.FieldDefinition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.form == nil {
		return fieldmap.FieldDefinition{}, fieldmap.NewError(fieldmap.ErrorTypeState, "no field is being edited")
	}
	return v.commit(f)
}

func (v *Viewer) commit(f fieldmap.FieldDefinition) (fieldmap.FieldDefinition, error) {
	saved, err := v.form.Commit(v.store, f)
	if err != nil {
		return fieldmap.FieldDefinition{}, err
	}
	v.logger.Infow("field saved", "id", saved.ID, "page", saved.Page)
	v.form = nil
	return saved, nil
}

// Cancel discards the draft and closes the editor
func (v *Viewer) Cancel() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.form == nil {
		return fieldmap.NewError(fieldmap.ErrorTypeState, "no field is being edited")
	}
	v.form = nil
	return nil
}

// Delete removes the field being edited and closes the editor
func (v *Viewer) Delete() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.form == nil {
		return fieldmap.NewError(fieldmap.ErrorTypeState, "no field is being edited")
	}
	if err := v.form.Delete(v.store); err != nil {
		return err
	}
	v.logger.Infow("field deleted", "id", v.form.OriginalID)
	v.form = nil
	return nil
}

// GoToPage moves to page, clamped to the document's pages
func (v *Viewer) GoToPage(page int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.form != nil {
		return fieldmap.NewError(fieldmap.ErrorTypeState, "close the field editor before changing pages")
	}
	v.setView(coords.ClampPage(page, v.doc.PageCount()), v.scale)
	return nil
}

// NextPage moves forward one page; it stays put on the last page
func (v *Viewer) NextPage() error {
	return v.GoToPage(v.Page() + 1)
}

// PrevPage moves back one page; it stays put on the first page
func (v *Viewer) PrevPage() error {
	return v.GoToPage(v.Page() - 1)
}

// CanPrev reports whether the previous-page control is enabled
func (v *Viewer) CanPrev() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page > 1
}

// CanNext reports whether the next-page control is enabled
func (v *Viewer) CanNext() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page < v.doc.PageCount()
}

// SetScale changes the zoom, clamped to the configured range
func (v *Viewer) SetScale(scale float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.form != nil {
		return fieldmap.NewError(fieldmap.ErrorTypeState, "close the field editor before zooming")
	}
	v.setView(v.page, coords.ClampScale(scale, v.opts.MinScale, v.opts.MaxScale))
	return nil
}

// ZoomIn increases the zoom by one step
func (v *Viewer) ZoomIn() error {
	return v.SetScale(v.Scale() + v.opts.ScaleStep)
}

// ZoomOut decreases the zoom by one step
func (v *Viewer) ZoomOut() error {
	return v.SetScale(v.Scale() - v.opts.ScaleStep)
}

// setView updates page and scale. Navigation clears a blocking load error so the operator can
// recover by moving to another page or zoom.
func (v *Viewer) setView(page int, scale float64) {
	if page == v.page && scale == v.scale {
		return
	}
	v.page = page
	v.scale = scale
	v.loadErr = nil
	v.frame = nil
}

// BeginRender records a render request for the current view and marks the page as loading
func (v *Viewer) BeginRender() Ticket {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.seq++
	t := Ticket{Page: v.page, Scale: v.scale, Seq: v.seq}
	v.pending = &t
	return t
}

// CompleteRender commits the outcome of the render for t. Results for a page or scale the view
// has left, or superseded by a newer request, are dropped with ErrStaleRender.
func (v *Viewer) CompleteRender(t Ticket, img image.Image, renderErr error) (Frame, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	current := v.pending != nil && v.pending.Seq == t.Seq
	if current {
		v.pending = nil
	}

	if !current || t.Page != v.page || t.Scale != v.scale {
		metrics.Renders.WithLabelValues("stale").Inc()
		v.logger.Debugw("dropping stale render", "page", t.Page, "scale", t.Scale, "current_page", v.page, "current_scale", v.scale)
		return Frame{}, ErrStaleRender
	}

	if renderErr != nil {
		metrics.Renders.WithLabelValues("error").Inc()
		v.loadErr = fieldmap.WrapError(fieldmap.ErrorTypeRender, "failed to render page", renderErr).WithPage(t.Page)
		v.logger.Errorw("page render failed", "page", t.Page, "scale", t.Scale, "error", renderErr)
		return Frame{}, v.loadErr
	}

	metrics.Renders.WithLabelValues("ok").Inc()
	v.loadErr = nil
	v.frame = &Frame{Ticket: t, Image: img}
	return *v.frame, nil
}

// Render rasterizes the current view. The renderer runs without holding the viewer lock.
func (v *Viewer) Render(ctx context.Context) (Frame, error) {
	if v.renderer == nil {
		return Frame{}, fieldmap.NewError(fieldmap.ErrorTypeRender, "no page renderer configured")
	}

	t := v.BeginRender()
	img, err := v.renderer.RenderPage(ctx, t.Page, t.Scale)
	return v.CompleteRender(t, img, err)
}

// LastFrame returns the most recent committed render of the current view
func (v *Viewer) LastFrame() (Frame, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.frame == nil {
		return Frame{}, false
	}
	return *v.frame, true
}

// Snapshot derives the view state, including overlays and field counters, from the store
func (v *Viewer) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	total := v.doc.PageCount()
	snap := Snapshot{
		Mode:        v.mode(),
		Page:        v.page,
		TotalPages:  total,
		Scale:       v.scale,
		CanPrev:     v.page > 1,
		CanNext:     v.page < total,
		Loading:     v.pending != nil,
		TotalFields: v.store.Count(),
		Overlays:    []Overlay{},
	}

	if v.loadErr != nil {
		snap.LoadError = v.loadErr.Error()
	}
	if v.form != nil {
		f := *v.form
		snap.Form = &f
		snap.CanDelete = f.CanDelete()
	}

	fields := v.store.ListByPage(v.page)
	snap.FieldsOnPage = len(fields)

	size, err := v.doc.PageSize(v.page)
	if err != nil {
		if snap.LoadError == "" {
			snap.LoadError = err.Error()
		}
		return snap
	}
	snap.PageSize = size

	for _, f := range fields {
		snap.Overlays = append(snap.Overlays, Overlay{
			Field: f,
			Rect:  coords.OverlayRect(f, v.scale, size.Height),
		})
	}
	return snap
}
