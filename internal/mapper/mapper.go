// Package mapper ties the field store, the template and the transfer operations together for the
// MCP and HTTP front ends.
package mapper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/logging"
	"github.com/a3tai/pdf-field-mapper/internal/pdf"
	"github.com/a3tai/pdf-field-mapper/internal/store"
	"github.com/a3tai/pdf-field-mapper/internal/transfer"
	"github.com/a3tai/pdf-field-mapper/internal/viewer"
)

// Deps are the collaborators of a Mapper. Preview and Publisher are optional.
type Deps struct {
	Store     *store.Store
	Template  *pdf.Template
	Files     *pdf.Service
	Preview   *pdf.Preview
	Publisher transfer.Publisher
	Logger    logging.Logger

	// TemplateName is written as pdfTemplate in exports
	TemplateName   string
	ViewerOptions  viewer.Options
	MaxImportBytes int64
	Now            func() time.Time
}

// Mapper is the field mapping application shared by every session
type Mapper struct {
	Deps
}

// New validates deps and returns a Mapper
func New(deps Deps) (*Mapper, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if deps.Template == nil {
		return nil, fmt.Errorf("template cannot be nil")
	}
	if deps.Files == nil {
		return nil, fmt.Errorf("file service cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TemplateName == "" {
		deps.TemplateName = deps.Template.Path()
	}
	if deps.ViewerOptions == (viewer.Options{}) {
		deps.ViewerOptions = viewer.DefaultOptions()
	}
	return &Mapper{Deps: deps}, nil
}

// NewViewer starts a viewer on page 1. Pages are rendered by the preview renderer when configured.
func (m *Mapper) NewViewer() (*viewer.Viewer, error) {
	var renderer viewer.Renderer
	if m.Preview != nil {
		renderer = m.Preview
	}
	return viewer.New(m.Template, renderer, m.Store, m.ViewerOptions, m.Logger)
}

// Export writes the export document to w
func (m *Mapper) Export(w io.Writer) error {
	return transfer.Export(w, m.Store, m.TemplateName, m.Now())
}

// ExportFile writes the export document to path inside the workspace and returns the resolved path
func (m *Mapper) ExportFile(path string) (string, error) {
	out, err := m.Files.ResolvePath(path)
	if err != nil {
		return "", fieldmap.WrapError(fieldmap.ErrorTypeValidation, "export path rejected", err).WithContext(path)
	}

	var buf bytes.Buffer
	if err := m.Export(&buf); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o640); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}

	m.Logger.Infow("exported field map", "path", out, "fields", m.Store.Count())
	return out, nil
}

// Import replaces the store's contents with the document read from r
func (m *Mapper) Import(r io.Reader) (transfer.ImportResult, error) {
	result, err := transfer.Import(r, m.Store, m.maxImport())
	if err != nil {
		m.Logger.Warnw("import rejected", "error", err)
		return result, err
	}
	m.Logger.Infow("imported field map", "fields", result.Count)
	return result, nil
}

// ImportFile imports the document at path inside the workspace
func (m *Mapper) ImportFile(path string) (transfer.ImportResult, error) {
	in, err := m.Files.ResolvePath(path)
	if err != nil {
		return transfer.ImportResult{}, fieldmap.WrapError(fieldmap.ErrorTypeImportParse, "import path rejected", err).WithContext(path)
	}

	f, err := os.Open(in)
	if err != nil {
		return transfer.ImportResult{}, fieldmap.WrapError(fieldmap.ErrorTypeImportParse, "failed to open import file", err).WithContext(in)
	}
	defer f.Close()

	return m.Import(f)
}

// Publish uploads the current export to the configured publisher
func (m *Mapper) Publish(ctx context.Context) (string, error) {
	if m.Publisher == nil {
		return "", fieldmap.NewError(fieldmap.ErrorTypeState, "publishing is not configured")
	}
	return transfer.PublishStore(ctx, m.Publisher, m.Store, m.TemplateName, m.Now())
}

// Fill writes the template filled with values to w
func (m *Mapper) Fill(ctx context.Context, values map[string]string, w io.Writer) (*pdf.FillResult, error) {
	return pdf.NewFiller(m.Template.Path(), m.Store, m.Logger).Fill(ctx, values, w)
}

// FillFile writes the filled template to a file inside the workspace
func (m *Mapper) FillFile(ctx context.Context, req pdf.FillRequest) (*pdf.FillResult, error) {
	return m.Files.FillFile(ctx, m.Template, m.Store, req)
}

// ValidateTemplate checks the template at path, or the mapped template when path is empty
func (m *Mapper) ValidateTemplate(path string) (*pdf.ValidateTemplateResult, error) {
	if path == "" {
		path = m.Template.Path()
	}
	return m.Files.ValidateTemplate(path)
}

// DetectFields lists the form widgets already defined in the template
func (m *Mapper) DetectFields() ([]fieldmap.FieldDefinition, error) {
	return pdf.DetectFields(m.Template.Path())
}

// SeedFromTemplate fills an empty field map with the template's own form widgets and returns
// how many were added
func (m *Mapper) SeedFromTemplate() (int, error) {
	if n := m.Store.Count(); n > 0 {
		return 0, fieldmap.NewError(fieldmap.ErrorTypeState,
			fmt.Sprintf("field map already has %d fields; clear it before seeding", n))
	}

	detected, err := m.DetectFields()
	if err != nil {
		return 0, err
	}
	if err := fieldmap.ValidateCollection(detected); err != nil {
		return 0, fieldmap.WrapError(fieldmap.ErrorTypeValidation, "template widgets do not form a valid field map", err)
	}

	m.Store.ReplaceAll(detected)
	m.Logger.Infow("seeded field map from template widgets", "fields", len(detected))
	return len(detected), nil
}

func (m *Mapper) maxImport() int64 {
	if m.MaxImportBytes > 0 {
		return m.MaxImportBytes
	}
	return transfer.DefaultMaxImportBytes
}
