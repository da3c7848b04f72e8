package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/logging"
	"github.com/a3tai/pdf-field-mapper/internal/pdf/security"
)

// Service handles template file operations inside the workspace directory
type Service struct {
	maxFileSize   int64
	validator     *Validator
	pathValidator *security.PathValidator
	logger        logging.Logger
}

// NewService creates a template service confined to workspace
func NewService(maxFileSize int64, workspace string, logger logging.Logger) (*Service, error) {
	pathValidator, err := security.NewPathValidator(workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to create path validator: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Service{
		maxFileSize:   maxFileSize,
		validator:     NewValidator(maxFileSize),
		pathValidator: pathValidator,
		logger:        logger,
	}, nil
}

// Workspace returns the absolute workspace directory
func (s *Service) Workspace() string {
	return s.pathValidator.Workspace()
}

// GetMaxFileSize returns the configured maximum file size
func (s *Service) GetMaxFileSize() int64 {
	return s.maxFileSize
}

// ResolvePath resolves a workspace-relative or absolute path, rejecting anything outside the
// workspace
func (s *Service) ResolvePath(path string) (string, error) {
	resolved, err := s.pathValidator.Resolve(path)
	if err != nil {
		return "", fmt.Errorf("security validation failed: %w", err)
	}
	return resolved, nil
}

// ValidateTemplate checks the template file at path
func (s *Service) ValidateTemplate(path string) (*ValidateTemplateResult, error) {
	resolved, err := s.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	return s.validator.ValidateTemplate(resolved), nil
}

// OpenTemplate validates the template at path and reads its page geometry
func (s *Service) OpenTemplate(path string) (*Template, error) {
	resolved, err := s.ResolvePath(path)
	if err != nil {
		return nil, fieldmap.WrapError(fieldmap.ErrorTypeLoad, "template path rejected", err).WithContext(path)
	}

	report := s.validator.ValidateTemplate(resolved)
	if !report.Valid {
		return nil, fieldmap.NewError(fieldmap.ErrorTypeLoad, report.Message).WithContext(resolved)
	}

	tmpl, err := OpenTemplate(resolved)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("opened template", "path", resolved, "pages", tmpl.PageCount())
	return tmpl, nil
}

// FillFile fills the template with req.Values and writes it to req.OutputPath inside the workspace.
// The output is written to a temporary file and renamed into place.
func (s *Service) FillFile(ctx context.Context, tmpl *Template, fields FieldLister, req FillRequest) (*FillResult, error) {
	if !strings.HasSuffix(strings.ToLower(req.OutputPath), ".pdf") {
		return nil, fieldmap.NewError(fieldmap.ErrorTypeValidation, "output path must end in .pdf").WithContext(req.OutputPath)
	}

	out, err := s.ResolvePath(req.OutputPath)
	if err != nil {
		return nil, fieldmap.WrapError(fieldmap.ErrorTypeValidation, "output path rejected", err).WithContext(req.OutputPath)
	}
	if out == tmpl.Path() {
		return nil, fieldmap.NewError(fieldmap.ErrorTypeValidation, "output path cannot overwrite the template").WithContext(out)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(out), ".fill-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	result, err := NewFiller(tmpl.Path(), fields, s.logger).Fill(ctx, req.Values, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output file: %w", cerr)
	}
	if err != nil {
		return nil, err
	}

	if err := os.Rename(tmp.Name(), out); err != nil {
		return nil, fmt.Errorf("failed to move output into place: %w", err)
	}
	result.OutputPath = out
	return result, nil
}
