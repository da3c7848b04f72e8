// Package fieldmap defines the field definitions that describe where values are written when the
// PDF template is auto-filled, and the collection envelope they are persisted and exchanged in.
package fieldmap

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// CollectionVersion is the version tag carried by persisted and exported collections
const CollectionVersion = 1

// SuggestedSections lists the grouping labels offered by the editor. A field's section is not
// constrained to this list.
var SuggestedSections = []string{
	"Applicant Information",
	"Address History",
	"License Information",
	"Employment History",
	"Accident Record",
	"Traffic Convictions",
	"Driving Experience",
	"Certification",
	"Signature",
}

// FieldDefinition is one positioned, labeled region on one page of the template. X and Y are in
// document points with the origin at the bottom-left corner of the page.
type FieldDefinition struct {
	ID       string
	Label    string
	Kind     Kind
	Page     int
	X        float64
	Y        float64
	Width    float64
	Height   float64
	FontSize float64
	Required bool
	Section  string
}

// Type returns the field's type tag. A field without a kind reports text.
func (f FieldDefinition) Type() FieldType {
	if f.Kind == nil {
		return TypeText
	}
	return f.Kind.Type()
}

// Collection is the envelope used for persisted state
type Collection struct {
	Version int               `json:"version"`
	Fields  []FieldDefinition `json:"fields"`
}

// NewCollection wraps fields in a versioned envelope
func NewCollection(fields []FieldDefinition) Collection {
	if fields == nil {
		fields = []FieldDefinition{}
	}
	return Collection{Version: CollectionVersion, Fields: fields}
}

// fieldJSON is the flat wire shape of a field definition
type fieldJSON struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Type      FieldType `json:"type"`
	Page      int       `json:"page"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	FontSize  float64   `json:"fontSize"`
	Required  bool      `json:"required"`
	Section   string    `json:"section,omitempty"`
	CheckChar string    `json:"checkChar,omitempty"`
}

// MarshalJSON flattens the kind union into the type/checkChar keys
func (f FieldDefinition) MarshalJSON() ([]byte, error) {
	out := fieldJSON{
		ID:       f.ID,
		Label:    f.Label,
		Type:     f.Type(),
		Page:     f.Page,
		X:        f.X,
		Y:        f.Y,
		Width:    f.Width,
		Height:   f.Height,
		FontSize: f.FontSize,
		Required: f.Required,
		Section:  f.Section,
	}
	if cb, ok := f.Kind.(Checkbox); ok {
		out.CheckChar = cb.CheckChar
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the kind union from the type/checkChar keys
func (f *FieldDefinition) UnmarshalJSON(data []byte) error {
	var in fieldJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	kind, err := KindFor(in.Type, in.CheckChar)
	if err != nil {
		return err
	}

	*f = FieldDefinition{
		ID:       in.ID,
		Label:    in.Label,
		Kind:     kind,
		Page:     in.Page,
		X:        in.X,
		Y:        in.Y,
		Width:    in.Width,
		Height:   in.Height,
		FontSize: in.FontSize,
		Required: in.Required,
		Section:  in.Section,
	}
	return nil
}

// NormalizeID removes all whitespace from an operator-supplied id
func NormalizeID(id string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, id)
}

// Validate checks the data-model invariants of a single field. Ids must already be normalized.
// Coordinates and sizes must be finite since non-finite numbers cannot be encoded.
func Validate(f FieldDefinition) error {
	switch {
	case strings.TrimSpace(f.ID) == "":
		return fmt.Errorf("field id cannot be empty")
	case NormalizeID(f.ID) != f.ID:
		return fmt.Errorf("field id %q cannot contain whitespace", f.ID)
	case strings.TrimSpace(f.Label) == "":
		return fmt.Errorf("field %s: label cannot be empty", f.ID)
	case f.Page < 1:
		return fmt.Errorf("field %s: page must be at least 1, got %d", f.ID, f.Page)
	case !finite(f.X) || !finite(f.Y):
		return fmt.Errorf("field %s: position must be finite, got (%g, %g)", f.ID, f.X, f.Y)
	case !positive(f.Width):
		return fmt.Errorf("field %s: width must be positive, got %g", f.ID, f.Width)
	case !positive(f.Height):
		return fmt.Errorf("field %s: height must be positive, got %g", f.ID, f.Height)
	case !positive(f.FontSize):
		return fmt.Errorf("field %s: font size must be positive, got %g", f.ID, f.FontSize)
	case f.Kind == nil:
		return fmt.Errorf("field %s: type is required", f.ID)
	}
	return ValidateKind(f.Kind)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// ValidateCollection validates every field and checks ids are unique
func ValidateCollection(fields []FieldDefinition) error {
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if err := Validate(f); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
		if seen[f.ID] {
			return fmt.Errorf("field %d: duplicate id %q", i, f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}
