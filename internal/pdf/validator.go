package pdf

import (
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Validator checks that a template file is a readable PDF within the size limit
type Validator struct {
	maxFileSize int64
}

// NewValidator creates a new template validator with the specified size limit
func NewValidator(maxFileSize int64) *Validator {
	return &Validator{
		maxFileSize: maxFileSize,
	}
}

// ValidateTemplate reports whether the file at path can be used as a template. An unusable file
// is reported in the result, not as an error.
func (v *Validator) ValidateTemplate(path string) *ValidateTemplateResult {
	result := &ValidateTemplateResult{
		Path:  path,
		Valid: false,
	}

	pages, size, err := v.inspect(path)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	result.Valid = true
	result.PageCount = pages
	result.FileSize = size
	return result
}

// IsValidTemplate performs a quick check to see if a file is a usable template
func (v *Validator) IsValidTemplate(path string) bool {
	_, _, err := v.inspect(path)
	return err == nil
}

func (v *Validator) inspect(filePath string) (int, int64, error) {
	if filePath == "" {
		return 0, 0, fmt.Errorf("path cannot be empty")
	}

	fileInfo, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return 0, 0, fmt.Errorf("file does not exist: %s", filePath)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("cannot access file: %w", err)
	}

	if err := v.ValidateFileInfo(filePath, fileInfo); err != nil {
		return 0, 0, err
	}

	f, r, err := pdf.Open(filePath)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid PDF file: %w", err)
	}
	defer f.Close()

	pages := r.NumPage()
	if pages < 1 {
		return 0, 0, fmt.Errorf("PDF has no pages: %s", filePath)
	}
	return pages, fileInfo.Size(), nil
}

// ValidateFileInfo performs basic validation on file info without opening the PDF
func (v *Validator) ValidateFileInfo(filePath string, fileInfo os.FileInfo) error {
	if fileInfo.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", filePath)
	}

	if !strings.HasSuffix(strings.ToLower(filePath), ".pdf") {
		return fmt.Errorf("file is not a PDF: %s", filePath)
	}

	if fileInfo.Size() == 0 {
		return fmt.Errorf("file is empty: %s", filePath)
	}

	if v.maxFileSize > 0 && fileInfo.Size() > v.maxFileSize {
		return fmt.Errorf("file too large: %d bytes (max: %d bytes)",
			fileInfo.Size(), v.maxFileSize)
	}

	return nil
}
