package fieldmap

import (
	"fmt"
	"unicode/utf8"
)

// FieldType is the closed set of type tags a field can carry
type FieldType string

const (
	TypeText      FieldType = "text"
	TypeCheckbox  FieldType = "checkbox"
	TypeDate      FieldType = "date"
	TypeSignature FieldType = "signature"
	TypeNumber    FieldType = "number"
)

// MaxCheckCharLen is the longest glyph a checkbox may write when checked
const MaxCheckCharLen = 2

// DefaultCheckChar is written for checked checkboxes that do not set their own glyph
const DefaultCheckChar = "X"

// FieldTypes lists every valid type tag in display order
var FieldTypes = []FieldType{TypeText, TypeCheckbox, TypeDate, TypeSignature, TypeNumber}

// Valid reports whether t is one of the known tags
func (t FieldType) Valid() bool {
	switch t {
	case TypeText, TypeCheckbox, TypeDate, TypeSignature, TypeNumber:
		return true
	default:
		return false
	}
}

// Kind carries the type-specific attributes of a field. Implementations are Text, Checkbox,
// Date, Signature and Number.
type Kind interface {
	Type() FieldType
	isKind()
}

// Text is a free-form text field
type Text struct{}

// Checkbox writes CheckChar when its value is checked
type Checkbox struct {
	CheckChar string
}

// Date is a date field
type Date struct{}

// Signature marks where a signature goes
type Signature struct{}

// Number is a numeric field
type Number struct{}

func (Text) Type() FieldType      { return TypeText }
func (Checkbox) Type() FieldType  { return TypeCheckbox }
func (Date) Type() FieldType      { return TypeDate }
func (Signature) Type() FieldType { return TypeSignature }
func (Number) Type() FieldType    { return TypeNumber }

func (Text) isKind()      {}
func (Checkbox) isKind()  {}
func (Date) isKind()      {}
func (Signature) isKind() {}
func (Number) isKind()    {}

// Glyph returns the character written for a checked box
func (c Checkbox) Glyph() string {
	if c.CheckChar == "" {
		return DefaultCheckChar
	}
	return c.CheckChar
}

// KindFor builds the kind for a type tag. checkChar is only accepted for checkboxes; for other
// types it is ignored.
func KindFor(t FieldType, checkChar string) (Kind, error) {
	switch t {
	case TypeText, "":
		return Text{}, nil
	case TypeCheckbox:
		cb := Checkbox{CheckChar: checkChar}
		if err := ValidateKind(cb); err != nil {
			return nil, err
		}
		return cb, nil
	case TypeDate:
		return Date{}, nil
	case TypeSignature:
		return Signature{}, nil
	case TypeNumber:
		return Number{}, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", t)
	}
}

// ValidateKind checks type-specific constraints
func ValidateKind(k Kind) error {
	switch v := k.(type) {
	case Checkbox:
		if utf8.RuneCountInString(v.CheckChar) > MaxCheckCharLen {
			return fmt.Errorf("check character %q is longer than %d characters", v.CheckChar, MaxCheckCharLen)
		}
		return nil
	case Text, Date, Signature, Number:
		return nil
	case nil:
		return fmt.Errorf("field type is required")
	default:
		return fmt.Errorf("unsupported field kind %T", k)
	}
}
