package pdf

import (
	"fmt"
	"strings"
)

// ValidateTemplateResult describes whether a template file is usable
type ValidateTemplateResult struct {
	Path      string `json:"path"`
	Valid     bool   `json:"valid"`
	Message   string `json:"message,omitempty"`
	PageCount int    `json:"pageCount,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
}

// FillRequest asks for the template to be filled with values keyed by field id
type FillRequest struct {
	OutputPath string            `json:"outputPath"`
	Values     map[string]string `json:"values"`
}

// FillResult summarizes a fill
type FillResult struct {
	OutputPath string   `json:"outputPath"`
	Filled     int      `json:"filled"`
	Skipped    []string `json:"skipped"`
	Unknown    []string `json:"unknown"`
}

// MissingRequiredError lists required fields that were given no value
type MissingRequiredError struct {
	IDs []string
}

func (e *MissingRequiredError) Error() string {
	return fmt.Sprintf("missing values for required fields: %s", strings.Join(e.IDs, ", "))
}
