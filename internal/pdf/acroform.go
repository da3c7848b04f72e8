package pdf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/a3tai/pdf-field-mapper/internal/editor"
	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
)

// field flag bits (PDF 32000-1, 12.7.3.1 and 12.7.4.2)
const (
	flagRequired   = 1 << 1
	flagRadio      = 1 << 15
	flagPushButton = 1 << 16
)

// parent chains deeper than this are treated as malformed
const maxFieldDepth = 32

// DetectFields reads the interactive form widgets already present in the template at path and
// returns them as field definitions in page order. Radio groups and push buttons have no
// counterpart and are skipped. Widgets sharing a field name get numbered ids.
func DetectFields(path string) ([]fieldmap.FieldDefinition, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fieldmap.WrapError(fieldmap.ErrorTypeLoad, "failed to open template", err).WithContext(path)
	}
	defer file.Close()

	ctx, err := readContext(file)
	if err != nil {
		return nil, fieldmap.WrapError(fieldmap.ErrorTypeLoad, "failed to read template", err).WithContext(path)
	}

	var fields []fieldmap.FieldDefinition
	seen := make(map[string]int)

	for page := 1; page <= ctx.PageCount; page++ {
		pageDict, _, _, err := ctx.PageDict(page, false)
		if err != nil || pageDict == nil {
			continue
		}
		annots, err := ctx.DereferenceArray(pageDict["Annots"])
		if err != nil {
			continue
		}

		for _, obj := range annots {
			d, err := ctx.DereferenceDict(obj)
			if err != nil || d == nil || !isWidget(ctx, d) {
				continue
			}
			f, ok := widgetField(ctx, d, page)
			if !ok {
				continue
			}

			seen[f.ID]++
			if n := seen[f.ID]; n > 1 {
				f.ID = fmt.Sprintf("%s_%d", f.ID, n)
			}
			fields = append(fields, f)
		}
	}

	return fields, nil
}

func isWidget(ctx *model.Context, d types.Dict) bool {
	obj, found := d.Find("Subtype")
	if !found {
		return false
	}
	name, err := ctx.DereferenceName(obj, model.V10, nil)
	return err == nil && name == "Widget"
}

// widgetField converts one widget annotation. Field attributes may live on the widget or be
// inherited from its parent field.
func widgetField(ctx *model.Context, d types.Dict, page int) (fieldmap.FieldDefinition, bool) {
	rect, ok := widgetRect(ctx, d)
	if !ok {
		return fieldmap.FieldDefinition{}, false
	}

	flags := 0
	if obj := inherited(ctx, d, "Ff"); obj != nil {
		if n, err := ctx.DereferenceInteger(obj); err == nil && n != nil {
			flags = int(*n)
		}
	}

	var kind fieldmap.Kind
	ft := ""
	if obj := inherited(ctx, d, "FT"); obj != nil {
		if name, err := ctx.DereferenceName(obj, model.V10, nil); err == nil {
			ft = string(name)
		}
	}
	switch ft {
	case "Tx", "Ch":
		kind = fieldmap.Text{}
	case "Btn":
		if flags&(flagRadio|flagPushButton) != 0 {
			return fieldmap.FieldDefinition{}, false
		}
		kind = fieldmap.Checkbox{}
	case "Sig":
		kind = fieldmap.Signature{}
	default:
		return fieldmap.FieldDefinition{}, false
	}

	id := fieldmap.NormalizeID(qualifiedName(ctx, d))
	if id == "" {
		id = fmt.Sprintf("page%d_field", page)
	}
	label := id
	if obj := inherited(ctx, d, "TU"); obj != nil {
		if tu, err := ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil); err == nil && strings.TrimSpace(tu) != "" {
			label = strings.TrimSpace(tu)
		}
	}

	fontSize := editor.DefaultFontSize
	if obj := inherited(ctx, d, "DA"); obj != nil {
		if da, err := ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil); err == nil {
			if size := fontSizeFromDA(da); size > 0 {
				fontSize = size
			}
		}
	}

	return fieldmap.FieldDefinition{
		ID:       id,
		Label:    label,
		Kind:     kind,
		Page:     page,
		X:        rect[0],
		Y:        rect[1],
		Width:    rect[2] - rect[0],
		Height:   rect[3] - rect[1],
		FontSize: fontSize,
		Required: flags&flagRequired != 0,
	}, true
}

// widgetRect returns the normalized Rect of d, rejecting degenerate boxes
func widgetRect(ctx *model.Context, d types.Dict) ([4]float64, bool) {
	var r [4]float64
	obj, found := d.Find("Rect")
	if !found {
		return r, false
	}
	arr, err := ctx.DereferenceArray(obj)
	if err != nil || len(arr) != 4 {
		return r, false
	}
	for i, v := range arr {
		n, err := ctx.DereferenceNumber(v)
		if err != nil {
			return r, false
		}
		r[i] = n
	}
	if r[0] > r[2] {
		r[0], r[2] = r[2], r[0]
	}
	if r[1] > r[3] {
		r[1], r[3] = r[3], r[1]
	}
	return r, r[2] > r[0] && r[3] > r[1]
}

// inherited looks key up on d and then up the Parent chain
func inherited(ctx *model.Context, d types.Dict, key string) types.Object {
	for depth := 0; d != nil && depth < maxFieldDepth; depth++ {
		if obj, found := d.Find(key); found {
			return obj
		}
		parent, found := d.Find("Parent")
		if !found {
			return nil
		}
		next, err := ctx.DereferenceDict(parent)
		if err != nil {
			return nil
		}
		d = next
	}
	return nil
}

// qualifiedName joins the partial T names of d and its parents with dots
func qualifiedName(ctx *model.Context, d types.Dict) string {
	var parts []string
	for depth := 0; d != nil && depth < maxFieldDepth; depth++ {
		if obj, found := d.Find("T"); found {
			if t, err := ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil); err == nil && strings.TrimSpace(t) != "" {
				parts = append([]string{strings.TrimSpace(t)}, parts...)
			}
		}
		parent, found := d.Find("Parent")
		if !found {
			break
		}
		next, err := ctx.DereferenceDict(parent)
		if err != nil {
			break
		}
		d = next
	}
	return strings.Join(parts, ".")
}

// fontSizeFromDA returns the size operand of the Tf operator in a default appearance string, or
// 0 when absent or auto-sized
func fontSizeFromDA(da string) float64 {
	parts := strings.Fields(da)
	for i, p := range parts {
		if p == "Tf" && i >= 1 {
			size, err := strconv.ParseFloat(parts[i-1], 64)
			if err != nil {
				return 0
			}
			return size
		}
	}
	return 0
}
