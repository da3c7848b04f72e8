// Package pdftest builds small, well-formed PDF files for tests
package pdftest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Letter is a US Letter page in points
var Letter = [2]float64{612, 792}

// Generate builds a PDF with one page per size and accurate xref offsets. When inherit is set
// the first size is declared on the page tree root and pages carry no MediaBox of their own.
func Generate(sizes [][2]float64, inherit bool) []byte {
	doc := "%PDF-1.4\n"
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, len(doc))
		doc += fmt.Sprintf("%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	obj("<<\n/Type /Catalog\n/Pages 2 0 R\n>>")

	kids := ""
	for i := range sizes {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	pages := fmt.Sprintf("<<\n/Type /Pages\n/Kids [%s]\n/Count %d\n", kids, len(sizes))
	if inherit {
		pages += fmt.Sprintf("/MediaBox [0 0 %g %g]\n", sizes[0][0], sizes[0][1])
	}
	obj(pages + ">>")

	for _, s := range sizes {
		page := "<<\n/Type /Page\n/Parent 2 0 R\n/Resources <<>>\n"
		if !inherit {
			page += fmt.Sprintf("/MediaBox [0 0 %g %g]\n", s[0], s[1])
		}
		obj(page + ">>")
	}

	xref := len(doc)
	doc += fmt.Sprintf("xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		doc += fmt.Sprintf("%010d 00000 n \n", off)
	}
	doc += fmt.Sprintf("trailer\n<<\n/Size %d\n/Root 1 0 R\n>>\nstartxref\n%d\n%%%%EOF", len(offsets)+1, xref)
	return []byte(doc)
}

// Widget is a form field widget annotation placed on a Letter page
type Widget struct {
	Page    int
	Name    string
	Tooltip string
	FT      string // Tx, Btn, Ch or Sig
	Flags   int
	Rect    [4]float64
	DA      string
}

// GenerateForm builds a PDF of n Letter pages carrying the given widgets, each a merged field and
// widget dictionary listed in the AcroForm.
func GenerateForm(n int, widgets []Widget) []byte {
	doc := "%PDF-1.4\n"
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, len(doc))
		doc += fmt.Sprintf("%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}
	widgetRef := func(i int) string { return fmt.Sprintf("%d 0 R", 3+n+i) }

	var fields []string
	for i := range widgets {
		fields = append(fields, widgetRef(i))
	}
	obj(fmt.Sprintf("<<\n/Type /Catalog\n/Pages 2 0 R\n/AcroForm << /Fields [%s] /DA (/Helv 0 Tf 0 g) >>\n>>",
		strings.Join(fields, " ")))

	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	obj(fmt.Sprintf("<<\n/Type /Pages\n/Kids [%s]\n/Count %d\n>>", kids, n))

	for p := 1; p <= n; p++ {
		var annots []string
		for i, w := range widgets {
			if w.Page == p {
				annots = append(annots, widgetRef(i))
			}
		}
		obj(fmt.Sprintf("<<\n/Type /Page\n/Parent 2 0 R\n/Resources <<>>\n/MediaBox [0 0 %g %g]\n/Annots [%s]\n>>",
			Letter[0], Letter[1], strings.Join(annots, " ")))
	}

	for _, w := range widgets {
		body := fmt.Sprintf("<<\n/Type /Annot\n/Subtype /Widget\n/FT /%s\n/T (%s)\n/Rect [%g %g %g %g]\n/P %d 0 R\n",
			w.FT, w.Name, w.Rect[0], w.Rect[1], w.Rect[2], w.Rect[3], 2+w.Page)
		if w.Tooltip != "" {
			body += fmt.Sprintf("/TU (%s)\n", w.Tooltip)
		}
		if w.Flags != 0 {
			body += fmt.Sprintf("/Ff %d\n", w.Flags)
		}
		if w.DA != "" {
			body += fmt.Sprintf("/DA (%s)\n", w.DA)
		}
		obj(body + ">>")
	}

	xref := len(doc)
	doc += fmt.Sprintf("xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		doc += fmt.Sprintf("%010d 00000 n \n", off)
	}
	doc += fmt.Sprintf("trailer\n<<\n/Size %d\n/Root 1 0 R\n>>\nstartxref\n%d\n%%%%EOF", len(offsets)+1, xref)
	return []byte(doc)
}

// WriteLetter writes a PDF of n Letter pages to dir/name and returns its path
func WriteLetter(t testing.TB, dir, name string, n int) string {
	t.Helper()
	sizes := make([][2]float64, n)
	for i := range sizes {
		sizes[i] = Letter
	}
	return Write(t, dir, name, Generate(sizes, false))
}

// Write writes data to dir/name and returns its path
func Write(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
