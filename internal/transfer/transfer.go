// Package transfer serializes the field map to the JSON document committed alongside the
// template, and loads such documents back into the store.
package transfer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/metrics"
)

// DefaultMaxImportBytes bounds the size of an uploaded field map
const DefaultMaxImportBytes = 10 << 20

// Lister supplies the fields to export
type Lister interface {
	List() []fieldmap.FieldDefinition
}

// Replacer installs an imported collection
type Replacer interface {
	ReplaceAll(fields []fieldmap.FieldDefinition)
}

// Document is the exported file. ExportedAt and PDFTemplate are informational and ignored on import.
type Document struct {
	Version     int                        `json:"version"`
	ExportedAt  string                     `json:"exportedAt,omitempty"`
	PDFTemplate string                     `json:"pdfTemplate,omitempty"`
	Fields      []fieldmap.FieldDefinition `json:"fields"`
}

// ImportResult summarizes an import
type ImportResult struct {
	Version int `json:"version"`
	Count   int `json:"count"`
}

// Marshal builds the export document for fields
func Marshal(fields []fieldmap.FieldDefinition, template string, now time.Time) ([]byte, error) {
	if fields == nil {
		fields = []fieldmap.FieldDefinition{}
	}
	doc := Document{
		Version:     fieldmap.CollectionVersion,
		ExportedAt:  now.UTC().Format(time.RFC3339),
		PDFTemplate: template,
		Fields:      fields,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode field map: %w", err)
	}
	return append(data, '\n'), nil
}

// Export writes the export document for the store's current fields to w
func Export(w io.Writer, s Lister, template string, now time.Time) error {
	data, err := Marshal(s.List(), template, now)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write field map: %w", err)
	}
	return nil
}

// Parse decodes and validates an uploaded document. Any object with a fields array is accepted;
// other top-level keys are ignored.
func Parse(data []byte) (Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fieldmap.WrapError(fieldmap.ErrorTypeImportParse, "file is not a JSON object", err)
	}

	fieldsRaw, ok := raw["fields"]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(fieldsRaw), []byte("[")) {
		return Document{}, fieldmap.NewError(fieldmap.ErrorTypeImportParse, "file has no fields array")
	}

	doc := Document{Version: fieldmap.CollectionVersion}
	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &doc.Version); err != nil {
			return Document{}, fieldmap.WrapError(fieldmap.ErrorTypeImportParse, "version must be a number", err)
		}
	}

	if err := json.Unmarshal(fieldsRaw, &doc.Fields); err != nil {
		return Document{}, fieldmap.WrapError(fieldmap.ErrorTypeImportParse, "fields do not match the field shape", err)
	}
	if err := fieldmap.ValidateCollection(doc.Fields); err != nil {
		return Document{}, fieldmap.WrapError(fieldmap.ErrorTypeImportParse, "invalid field", err)
	}
	return doc, nil
}

// Import reads a document from r and replaces the store's contents with its fields. On any error
// the store is left untouched.
func Import(r io.Reader, s Replacer, maxBytes int64) (ImportResult, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImportBytes
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		metrics.Imports.WithLabelValues("rejected").Inc()
		return ImportResult{}, fieldmap.WrapError(fieldmap.ErrorTypeImportParse, "failed to read file", err)
	}
	if int64(len(data)) > maxBytes {
		metrics.Imports.WithLabelValues("rejected").Inc()
		return ImportResult{}, fieldmap.NewError(fieldmap.ErrorTypeImportParse,
			fmt.Sprintf("file exceeds %d bytes", maxBytes))
	}

	doc, err := Parse(data)
	if err != nil {
		metrics.Imports.WithLabelValues("rejected").Inc()
		return ImportResult{}, err
	}

	s.ReplaceAll(doc.Fields)
	metrics.Imports.WithLabelValues("ok").Inc()
	return ImportResult{Version: doc.Version, Count: len(doc.Fields)}, nil
}
