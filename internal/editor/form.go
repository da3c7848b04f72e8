// Package editor validates operator input for one field and commits it to the field store
package editor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
)

// Defaults applied to a field created by clicking empty page space
const (
	DefaultWidth    = 150.0
	DefaultHeight   = 14.0
	DefaultFontSize = 10.0
)

// FieldStore is the part of the field store the editor needs
type FieldStore interface {
	IDs() []string
	Upsert(f fieldmap.FieldDefinition) fieldmap.FieldDefinition
	Rename(oldID string, f fieldmap.FieldDefinition) fieldmap.FieldDefinition
	Remove(id string)
}

// NewDraft returns the provisional field for a click at (docX, docY) on page. Id and label are
// left empty for the operator to fill in.
func NewDraft(page int, docX, docY float64) fieldmap.FieldDefinition {
	return fieldmap.FieldDefinition{
		Kind:     fieldmap.Text{},
		Page:     page,
		X:        docX,
		Y:        docY,
		Width:    DefaultWidth,
		Height:   DefaultHeight,
		FontSize: DefaultFontSize,
		Required: true,
	}
}

// Form is an open editor: the field being edited plus the id it had when the editor opened.
// OriginalID is empty when the form creates a new field.
type Form struct {
	Draft      fieldmap.FieldDefinition `json:"draft"`
	OriginalID string                   `json:"originalId,omitempty"`
}

// NewCreateForm opens the editor for a new field
func NewCreateForm(draft fieldmap.FieldDefinition) *Form {
	return &Form{Draft: draft}
}

// NewEditForm opens the editor on an existing field
func NewEditForm(existing fieldmap.FieldDefinition) *Form {
	return &Form{Draft: existing, OriginalID: existing.ID}
}

// IsEdit reports whether the form edits an existing field
func (f *Form) IsEdit() bool {
	return f.OriginalID != ""
}

// CanDelete reports whether the delete action is available
func (f *Form) CanDelete() bool {
	return f.IsEdit()
}

// Commit validates the submitted field against the ids already in the store and upserts it. On
// a validation failure the store is untouched and the returned error wraps a *ValidationError.
// Renaming an existing field replaces the old record at its position in the list.
func (f *Form) Commit(s FieldStore, submitted fieldmap.FieldDefinition) (fieldmap.FieldDefinition, error) {
	submitted.ID = fieldmap.NormalizeID(submitted.ID)
	submitted.Label = strings.TrimSpace(submitted.Label)
	submitted.Section = strings.TrimSpace(submitted.Section)

	if err := Validate(submitted, f.OriginalID, s.IDs()); err != nil {
		f.Draft = submitted
		return fieldmap.FieldDefinition{}, fieldmap.WrapError(fieldmap.ErrorTypeValidation, "field not saved", err).
			WithField(submitted.ID)
	}

	var stored fieldmap.FieldDefinition
	if f.IsEdit() && f.OriginalID != submitted.ID {
		stored = s.Rename(f.OriginalID, submitted)
	} else {
		stored = s.Upsert(submitted)
	}
	f.Draft = stored
	return stored, nil
}

// Delete removes the edited field from the store
func (f *Form) Delete(s FieldStore) error {
	if !f.CanDelete() {
		return fieldmap.NewError(fieldmap.ErrorTypeState, "delete is only available when editing an existing field")
	}
	s.Remove(f.OriginalID)
	return nil
}

// Values are raw form inputs keyed by field attribute name (id, label, type, page, x, y, width,
// height, fontSize, required, section, checkChar). Missing keys keep the value from the base
// field.
type Values map[string]string

// Keys lists the editable field attributes in form order
var Keys = []string{
	"id", "label", "type", "checkChar", "page", "x", "y",
	"width", "height", "fontSize", "required", "section",
}

// ValuesFrom converts decoded JSON scalars to form values. Unknown keys and nulls are dropped.
func ValuesFrom(raw map[string]interface{}) Values {
	v := Values{}
	for _, key := range Keys {
		switch t := raw[key].(type) {
		case nil:
		case string:
			v[key] = t
		case float64:
			v[key] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			v[key] = strconv.FormatBool(t)
		default:
			v[key] = fmt.Sprint(t)
		}
	}
	return v
}

// Apply coerces values onto base. Unparseable numbers and booleans are reported as violations.
func (v Values) Apply(base fieldmap.FieldDefinition) (fieldmap.FieldDefinition, error) {
	out := base
	var verr ValidationError

	if s, ok := v["id"]; ok {
		out.ID = s
	}
	if s, ok := v["label"]; ok {
		out.Label = s
	}
	if s, ok := v["section"]; ok {
		out.Section = s
	}

	parseFloat := func(key string, dst *float64) {
		s, ok := v[key]
		if !ok {
			return
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			verr.add(key, fmt.Sprintf("%s must be a number", key))
			return
		}
		*dst = n
	}
	parseFloat("x", &out.X)
	parseFloat("y", &out.Y)
	parseFloat("width", &out.Width)
	parseFloat("height", &out.Height)
	parseFloat("fontSize", &out.FontSize)

	if s, ok := v["page"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			verr.add("page", "page must be a whole number")
		} else {
			out.Page = n
		}
	}

	if s, ok := v["required"]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			verr.add("required", "required must be true or false")
		} else {
			out.Required = b
		}
	}

	typ := out.Type()
	if s, ok := v["type"]; ok {
		typ = fieldmap.FieldType(strings.TrimSpace(s))
	}
	checkChar := ""
	if cb, ok := base.Kind.(fieldmap.Checkbox); ok {
		checkChar = cb.CheckChar
	}
	if s, ok := v["checkChar"]; ok {
		checkChar = s
	}
	kind, err := fieldmap.KindFor(typ, checkChar)
	if err != nil {
		verr.add("type", err.Error())
	} else {
		out.Kind = kind
	}

	if verr.HasViolations() {
		return out, &verr
	}
	return out, nil
}
