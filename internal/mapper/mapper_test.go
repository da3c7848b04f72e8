package mapper

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/pdf"
	"github.com/a3tai/pdf-field-mapper/internal/pdf/pdftest"
	"github.com/a3tai/pdf-field-mapper/internal/store"
)

type recordingPublisher struct {
	data []byte
}

func (p *recordingPublisher) Publish(_ context.Context, data []byte) (string, error) {
	p.data = data
	return "gs://assets/field-map.json", nil
}

func newMapper(t *testing.T, pub *recordingPublisher) (*Mapper, string) {
	t.Helper()
	dir := t.TempDir()
	pdftest.WriteLetter(t, dir, "driver-application.pdf", 2)

	files, err := pdf.NewService(1<<20, dir, nil)
	require.NoError(t, err)
	tmpl, err := files.OpenTemplate("driver-application.pdf")
	require.NoError(t, err)
	s, err := store.New(context.Background(), store.DefaultKey, store.NewMemoryBackend())
	require.NoError(t, err)

	deps := Deps{
		Store:        s,
		Template:     tmpl,
		Files:        files,
		TemplateName: "driver-application.pdf",
		Now:          func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) },
	}
	if pub != nil {
		deps.Publisher = pub
	}
	m, err := New(deps)
	require.NoError(t, err)
	return m, dir
}

func seed(m *Mapper) {
	m.Store.Upsert(fieldmap.FieldDefinition{
		ID: "driver_name", Label: "Driver Name", Kind: fieldmap.Text{}, Page: 1,
		X: 100, Y: 700, Width: 150, Height: 14, FontSize: 10, Required: true,
	})
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestMapper_NewViewerUsesTemplate(t *testing.T) {
	m, _ := newMapper(t, nil)
	v, err := m.NewViewer()
	require.NoError(t, err)

	snap := v.Snapshot()
	assert.Equal(t, 2, snap.TotalPages)
	assert.Equal(t, 612.0, snap.PageSize.Width)
	assert.Equal(t, 1.0, snap.Scale)
}

func TestMapper_ExportImportFiles(t *testing.T) {
	m, dir := newMapper(t, nil)
	seed(m)
	want := m.Store.List()

	path, err := m.ExportFile("exports/field-map.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "exports", "field-map.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pdfTemplate": "driver-application.pdf"`)
	assert.Contains(t, string(data), `"exportedAt": "2026-05-01T08:00:00Z"`)

	m.Store.Clear()
	result, err := m.ImportFile("exports/field-map.json")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, want, m.Store.List())

	_, err = m.ExportFile("../outside.json")
	assert.True(t, fieldmap.IsType(err, fieldmap.ErrorTypeValidation))
	_, err = m.ImportFile("missing.json")
	assert.True(t, fieldmap.IsType(err, fieldmap.ErrorTypeImportParse))
}

func TestMapper_ImportRejectsOversizedPayload(t *testing.T) {
	m, _ := newMapper(t, nil)
	m.MaxImportBytes = 8
	seed(m)

	_, err := m.Import(strings.NewReader(`{"fields": []}`))
	assert.True(t, fieldmap.IsType(err, fieldmap.ErrorTypeImportParse))
	assert.Equal(t, 1, m.Store.Count())
}

func TestMapper_Publish(t *testing.T) {
	m, _ := newMapper(t, nil)
	_, err := m.Publish(context.Background())
	assert.True(t, fieldmap.IsType(err, fieldmap.ErrorTypeState))

	pub := &recordingPublisher{}
	m, _ = newMapper(t, pub)
	seed(m)
	url, err := m.Publish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gs://assets/field-map.json", url)
	assert.Contains(t, string(pub.data), "driver_name")
}

func TestMapper_Fill(t *testing.T) {
	m, dir := newMapper(t, nil)
	seed(m)

	var buf bytes.Buffer
	result, err := m.Fill(context.Background(), map[string]string{"driver_name": "Jane"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Filled)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))

	result, err = m.FillFile(context.Background(), pdf.FillRequest{
		OutputPath: "filled.pdf",
		Values:     map[string]string{"driver_name": "Jane"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "filled.pdf"), result.OutputPath)
}

func TestMapper_ValidateTemplate(t *testing.T) {
	m, _ := newMapper(t, nil)

	report, err := m.ValidateTemplate("")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.PageCount)

	report, err = m.ValidateTemplate("nope.pdf")
	require.NoError(t, err)
	assert.False(t, report.Valid)
}

func TestMapper_SeedFromTemplate(t *testing.T) {
	m, dir := newMapper(t, nil)
	pdftest.Write(t, dir, "driver-application.pdf", pdftest.GenerateForm(2, []pdftest.Widget{
		{Page: 1, Name: "driver_name", Tooltip: "Driver Name", FT: "Tx", Flags: 2, Rect: [4]float64{100, 700, 250, 714}, DA: "/Helv 9 Tf 0 g"},
		{Page: 2, Name: "agree", FT: "Btn", Rect: [4]float64{72, 100, 84, 112}},
	}))

	n, err := m.SeedFromTemplate()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"driver_name", "agree"}, m.Store.IDs())

	_, err = m.SeedFromTemplate()
	assert.True(t, fieldmap.IsType(err, fieldmap.ErrorTypeState))
}
