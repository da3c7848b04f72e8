package editor

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
)

// Violation is one failed rule, keyed by the attribute it concerns
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every violation found in one submission, in rule order
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) add(field, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: message})
}

// HasViolations reports whether any rule failed
func (e *ValidationError) HasViolations() bool {
	return len(e.Violations) > 0
}

// First returns the first violation
func (e *ValidationError) First() Violation {
	if len(e.Violations) == 0 {
		return Violation{}
	}
	return e.Violations[0]
}

// Error joins all violation messages
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return strings.Join(msgs, "; ")
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// positive is false for NaN and infinities
func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// Validate applies the editor rules to f: a non-empty id that does not collide with another
// field (originalID is the id of the field being edited, empty for a new field), a non-empty
// label, a finite position, and positive page, size and font size. NaN and infinities fail.
func Validate(f fieldmap.FieldDefinition, originalID string, existingIDs []string) error {
	var verr ValidationError

	id := strings.TrimSpace(f.ID)
	if id == "" {
		verr.add("id", "Field ID is required")
	} else if id != originalID {
		for _, existing := range existingIDs {
			if existing == id {
				verr.add("id", fmt.Sprintf("Field ID %q already exists", id))
				break
			}
		}
	}

	if strings.TrimSpace(f.Label) == "" {
		verr.add("label", "Label is required")
	}
	if f.Page < 1 {
		verr.add("page", "Page must be 1 or greater")
	}
	if !finite(f.X) {
		verr.add("x", "X must be a finite number")
	}
	if !finite(f.Y) {
		verr.add("y", "Y must be a finite number")
	}
	if !positive(f.Width) {
		verr.add("width", "Width must be greater than 0")
	}
	if !positive(f.Height) {
		verr.add("height", "Height must be greater than 0")
	}
	if !positive(f.FontSize) {
		verr.add("fontSize", "Font size must be greater than 0")
	}

	switch k := f.Kind.(type) {
	case fieldmap.Checkbox:
		if utf8.RuneCountInString(k.CheckChar) > fieldmap.MaxCheckCharLen {
			verr.add("checkChar", fmt.Sprintf("Check character must be at most %d characters", fieldmap.MaxCheckCharLen))
		}
	case fieldmap.Text, fieldmap.Date, fieldmap.Signature, fieldmap.Number:
	default:
		verr.add("type", "Field type is required")
	}

	if verr.HasViolations() {
		return &verr
	}
	return nil
}
