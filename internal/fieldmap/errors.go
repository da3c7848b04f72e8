package fieldmap

import (
	"errors"
	"fmt"
	"time"
)

// Error is a field mapper failure carrying the category it belongs to, so the boundary that
// catches it can pick the right user-visible treatment
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Context   string    `json:"context,omitempty"`
	FieldID   string    `json:"field_id,omitempty"`
	Page      int       `json:"page,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

// ErrorType represents the categories of failures the mapper reports
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeValidation
	ErrorTypeLoad
	ErrorTypeRender
	ErrorTypeImportParse
	ErrorTypePersistence
	ErrorTypeNotFound
	ErrorTypeState
)

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Type.String(), e.Message)
	if e.Context != "" {
		msg += ": " + e.Context
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// String returns a string representation of the ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeLoad:
		return "LOAD"
	case ErrorTypeRender:
		return "RENDER"
	case ErrorTypeImportParse:
		return "IMPORT_PARSE"
	case ErrorTypePersistence:
		return "PERSISTENCE"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeState:
		return "STATE"
	default:
		return "UNKNOWN"
	}
}

// IsRecoverable reports whether the operator can correct the failure without reloading.
// Load and render failures need the operator to navigate or reload.
func (et ErrorType) IsRecoverable() bool {
	switch et {
	case ErrorTypeValidation, ErrorTypeImportParse, ErrorTypePersistence, ErrorTypeNotFound, ErrorTypeState:
		return true
	default:
		return false
	}
}

// NewError creates a new Error
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:      errorType,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError creates a new Error around a cause
func WrapError(errorType ErrorType, message string, err error) *Error {
	e := NewError(errorType, message)
	e.Err = err
	return e
}

// WithContext adds context information
func (e *Error) WithContext(context string) *Error {
	e.Context = context
	return e
}

// WithField records the field the error concerns
func (e *Error) WithField(id string) *Error {
	e.FieldID = id
	return e
}

// WithPage records the page the error concerns
func (e *Error) WithPage(page int) *Error {
	e.Page = page
	return e
}

// TypeOf returns the category of err, or ErrorTypeUnknown when err is not an *Error
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err is an *Error of the given category
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}
