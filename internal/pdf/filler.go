package pdf

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/logging"
	"github.com/a3tai/pdf-field-mapper/internal/metrics"
)

// FieldLister supplies the mapped fields in stamping order
type FieldLister interface {
	List() []fieldmap.FieldDefinition
}

// annotation flags: Print, ReadOnly, Locked
const stampFlags = (1 << 2) | (1 << 6) | (1 << 7)

// Filler stamps values into a copy of the template at the mapped field boxes
type Filler struct {
	templatePath string
	fields       FieldLister
	logger       logging.Logger
}

// NewFiller creates a filler for the template at templatePath
func NewFiller(templatePath string, fields FieldLister, logger logging.Logger) *Filler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Filler{templatePath: templatePath, fields: fields, logger: logger}
}

// Fill writes the filled template to w. Each value is drawn as a locked annotation with its own
// appearance stream. Checkboxes print their check glyph when the value is truthy. Fails with a
// validation error wrapping *MissingRequiredError before touching the template when a required
// field has no value.
func (fl *Filler) Fill(ctx context.Context, values map[string]string, w io.Writer) (*FillResult, error) {
	result, err := fl.fill(ctx, values, w)
	if err != nil {
		metrics.Fills.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Fills.WithLabelValues("ok").Inc()
	return result, nil
}

func (fl *Filler) fill(ctx context.Context, values map[string]string, w io.Writer) (*FillResult, error) {
	fields := fl.fields.List()

	known := make(map[string]bool, len(fields))
	var missing []string
	for _, f := range fields {
		known[f.ID] = true
		if f.Required && strings.TrimSpace(values[f.ID]) == "" {
			missing = append(missing, f.ID)
		}
	}
	if len(missing) > 0 {
		return nil, fieldmap.WrapError(fieldmap.ErrorTypeValidation, "cannot fill template",
			&MissingRequiredError{IDs: missing})
	}

	result := &FillResult{Skipped: []string{}, Unknown: []string{}}
	for id := range values {
		if !known[id] {
			result.Unknown = append(result.Unknown, id)
		}
	}
	sort.Strings(result.Unknown)

	file, err := os.Open(fl.templatePath)
	if err != nil {
		return nil, fieldmap.WrapError(fieldmap.ErrorTypeLoad, "failed to open template", err).WithContext(fl.templatePath)
	}
	defer file.Close()

	pdfCtx, err := readContext(file)
	if err != nil {
		return nil, fieldmap.WrapError(fieldmap.ErrorTypeLoad, "failed to read template", err).WithContext(fl.templatePath)
	}

	for _, f := range fields {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, ok := stampText(f, values[f.ID])
		if !ok {
			result.Skipped = append(result.Skipped, f.ID)
			continue
		}
		if f.Page > pdfCtx.PageCount {
			fl.logger.Warnw("field is beyond the last template page", "field", f.ID, "page", f.Page, "pages", pdfCtx.PageCount)
			result.Skipped = append(result.Skipped, f.ID)
			continue
		}

		if err := stamp(pdfCtx, f, text); err != nil {
			return nil, fieldmap.WrapError(fieldmap.ErrorTypeRender, "failed to stamp field", err).WithField(f.ID).WithPage(f.Page)
		}
		result.Filled++
	}

	if err := api.WriteContext(pdfCtx, w); err != nil {
		return nil, fmt.Errorf("failed to write filled PDF: %w", err)
	}

	fl.logger.Infow("filled template", "template", fl.templatePath, "filled", result.Filled, "skipped", len(result.Skipped))
	return result, nil
}

// stampText returns the text drawn for a field, or false when nothing is drawn
func stampText(f fieldmap.FieldDefinition, value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	if cb, ok := f.Kind.(fieldmap.Checkbox); ok {
		if !truthy(value) {
			return "", false
		}
		return cb.Glyph(), true
	}
	return value, true
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "yes", "y", "on", "x", "checked":
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func stamp(ctx *model.Context, f fieldmap.FieldDefinition, text string) error {
	pageDict, _, _, err := ctx.PageDict(f.Page, false)
	if err != nil {
		return err
	}
	if pageDict == nil {
		return fmt.Errorf("page %d not found", f.Page)
	}

	ap, err := appearance(ctx, f, text)
	if err != nil {
		return err
	}
	apRef, err := ctx.IndRefForNewObject(*ap)
	if err != nil {
		return err
	}

	annot := types.Dict{
		"Type":     types.Name("Annot"),
		"Subtype":  types.Name("FreeText"),
		"Rect":     types.Array{types.Float(f.X), types.Float(f.Y), types.Float(f.X + f.Width), types.Float(f.Y + f.Height)},
		"Contents": types.StringLiteral(escapeText(text)),
		"NM":       types.StringLiteral(escapeText(f.ID)),
		"DA":       types.StringLiteral(fmt.Sprintf("/Helv %s Tf 0 g", num(f.FontSize))),
		"BS":       types.Dict{"W": types.Integer(0)},
		"F":        types.Integer(stampFlags),
		"AP":       types.Dict{"N": *apRef},
	}
	ref, err := ctx.IndRefForNewObject(annot)
	if err != nil {
		return err
	}

	annots, err := ctx.DereferenceArray(pageDict["Annots"])
	if err != nil {
		return fmt.Errorf("invalid annotations on page %d: %w", f.Page, err)
	}
	pageDict["Annots"] = append(annots, *ref)
	return nil
}

// appearance builds the form XObject drawing text inside the field box, vertically centered
func appearance(ctx *model.Context, f fieldmap.FieldDefinition, text string) (*types.StreamDict, error) {
	baseline := (f.Height-f.FontSize)/2 + f.FontSize*0.22
	if baseline < 0 {
		baseline = 0
	}

	content := fmt.Sprintf("q\nBT\n/Helv %s Tf\n0 g\n2 %s Td\n(%s) Tj\nET\nQ\n",
		num(f.FontSize), num(baseline), escapeText(text))

	sd, err := ctx.NewStreamDictForBuf([]byte(content))
	if err != nil {
		return nil, err
	}
	sd.Dict["Type"] = types.Name("XObject")
	sd.Dict["Subtype"] = types.Name("Form")
	sd.Dict["BBox"] = types.Array{types.Float(0), types.Float(0), types.Float(f.Width), types.Float(f.Height)}
	sd.Dict["Resources"] = types.Dict{
		"Font": types.Dict{
			"Helv": types.Dict{
				"Type":     types.Name("Font"),
				"Subtype":  types.Name("Type1"),
				"BaseFont": types.Name("Helvetica"),
				"Encoding": types.Name("WinAnsiEncoding"),
			},
		},
	}
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return sd, nil
}

// escapeText makes s safe inside a PDF literal string. Characters outside Latin-1 become '?'.
func escapeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\\' || r == '(' || r == ')':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 0x20:
		case r > 0xff:
			b.WriteByte('?')
		default:
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
