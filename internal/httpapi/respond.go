package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/a3tai/pdf-field-mapper/internal/editor"
	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/pdf"
	"github.com/a3tai/pdf-field-mapper/internal/transfer"
	"github.com/a3tai/pdf-field-mapper/internal/viewer"
)

// maximum size of a JSON request body other than imports
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Message    string             `json:"message"`
	Type       string             `json:"type,omitempty"`
	Violations []editor.Violation `json:"violations,omitempty"`
	Missing    []string           `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Message: msg})
}

// writeError maps err to a status code and writes it as an ErrorResponse
func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Message: err.Error()}
	status := statusFor(err)

	var fe *fieldmap.Error
	if errors.As(err, &fe) {
		resp.Type = fe.Type.String()
	}
	var verr *editor.ValidationError
	if errors.As(err, &verr) {
		resp.Violations = verr.Violations
	}
	var missing *pdf.MissingRequiredError
	if errors.As(err, &missing) {
		resp.Missing = missing.IDs
	}

	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, viewer.ErrStaleRender):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrAlreadyPublished):
		return http.StatusConflict
	}

	switch fieldmap.TypeOf(err) {
	case fieldmap.ErrorTypeValidation, fieldmap.ErrorTypeImportParse:
		return http.StatusBadRequest
	case fieldmap.ErrorTypeNotFound:
		return http.StatusNotFound
	case fieldmap.ErrorTypeState:
		return http.StatusConflict
	case fieldmap.ErrorTypeRender, fieldmap.ErrorTypeLoad:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON object body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fieldmap.WrapError(fieldmap.ErrorTypeValidation, "failed to read request body", err)
	}
	if len(data) > maxBodyBytes {
		return fieldmap.NewError(fieldmap.ErrorTypeValidation, fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes))
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fieldmap.WrapError(fieldmap.ErrorTypeValidation, "invalid JSON body", err)
	}
	return nil
}
