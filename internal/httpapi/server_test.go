package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/pdf-field-mapper/internal/editor"
	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/mapper"
	"github.com/a3tai/pdf-field-mapper/internal/pdf"
	"github.com/a3tai/pdf-field-mapper/internal/pdf/pdftest"
	"github.com/a3tai/pdf-field-mapper/internal/session"
	"github.com/a3tai/pdf-field-mapper/internal/store"
	"github.com/a3tai/pdf-field-mapper/internal/transfer"
	"github.com/a3tai/pdf-field-mapper/internal/viewer"
)

type stubPublisher struct {
	err error
}

func (p stubPublisher) Publish(context.Context, []byte) (string, error) {
	return "gs://assets/field-map.json", p.err
}

type testEnv struct {
	srv    *httptest.Server
	mapper *mapper.Mapper
}

func newEnv(t *testing.T, pub transfer.Publisher) *testEnv {
	t.Helper()
	dir := t.TempDir()
	pdftest.WriteLetter(t, dir, "driver-application.pdf", 2)

	files, err := pdf.NewService(1<<20, dir, nil)
	require.NoError(t, err)
	tmpl, err := files.OpenTemplate("driver-application.pdf")
	require.NoError(t, err)
	s, err := store.New(context.Background(), store.DefaultKey, store.NewMemoryBackend())
	require.NoError(t, err)
	preview, err := pdf.NewPreview(tmpl, s, 1<<20)
	require.NoError(t, err)
	t.Cleanup(preview.Close)

	m, err := mapper.New(mapper.Deps{
		Store:        s,
		Template:     tmpl,
		Files:        files,
		Preview:      preview,
		Publisher:    pub,
		TemplateName: "driver-application.pdf",
		Now:          func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	registry := session.NewRegistry(m.NewViewer, time.Hour, nil)
	api := NewServer(m, registry, Options{AllowedOrigins: []string{"http://localhost:3000"}}, nil)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, mapper: m}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created SessionResponse
	decode(t, resp, &created)
	require.NotEmpty(t, created.ID)
	return created.ID
}

func seedField(m *mapper.Mapper) {
	m.Store.Upsert(fieldmap.FieldDefinition{
		ID: "driver_name", Label: "Driver Name", Kind: fieldmap.Text{}, Page: 1,
		X: 100, Y: 700, Width: 150, Height: 14, FontSize: 10, Required: true,
	})
}

func TestHealthz(t *testing.T) {
	env := newEnv(t, nil)
	resp := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "success", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t, nil)
	env.do(t, http.MethodGet, "/healthz", nil)

	resp := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "field_mapper_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t, nil)

	req, err := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/v1/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSessionFlow(t *testing.T) {
	env := newEnv(t, nil)
	id := env.newSession(t)
	base := "/api/v1/sessions/" + id

	resp := env.do(t, http.MethodPost, base+"/click", map[string]float64{"x": 50, "y": 50})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var form editor.Form
	decode(t, resp, &form)
	assert.InDelta(t, 742, form.Draft.Y, 0.01)

	resp = env.do(t, http.MethodPost, base+"/navigate", map[string]string{"direction": "next"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "navigation is blocked while editing")

	resp = env.do(t, http.MethodPost, base+"/save", map[string]interface{}{
		"id": "driver_name", "label": "Driver Name", "required": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/fields/driver_name", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var saved fieldmap.FieldDefinition
	decode(t, resp, &saved)
	assert.True(t, saved.Required)

	resp = env.do(t, http.MethodPost, base+"/zoom", map[string]string{"direction": "in"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap viewer.Snapshot
	decode(t, resp, &snap)
	assert.Equal(t, 1.25, snap.Scale)
	require.Len(t, snap.Overlays, 1)

	resp = env.do(t, http.MethodPost, base+"/navigate", map[string]int{"page": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &snap)
	assert.Equal(t, 2, snap.Page)
	assert.Empty(t, snap.Overlays)

	resp = env.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionsShareStore(t *testing.T) {
	env := newEnv(t, nil)
	first := env.newSession(t)
	second := env.newSession(t)

	env.do(t, http.MethodPost, "/api/v1/sessions/"+first+"/click", map[string]float64{"x": 50, "y": 50})
	resp := env.do(t, http.MethodPost, "/api/v1/sessions/"+first+"/save", map[string]string{"id": "a", "label": "A"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/sessions/"+second, nil)
	var snap viewer.Snapshot
	decode(t, resp, &snap)
	assert.Equal(t, 1, snap.TotalFields)
	assert.Nil(t, snap.Form)
}

func TestSave_Violations(t *testing.T) {
	env := newEnv(t, nil)
	base := "/api/v1/sessions/" + env.newSession(t)

	env.do(t, http.MethodPost, base+"/click", map[string]float64{"x": 50, "y": 50})
	resp := env.do(t, http.MethodPost, base+"/save", map[string]interface{}{"x": "left"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "VALIDATION", body.Type)
	require.NotEmpty(t, body.Violations)
	assert.Equal(t, "x", body.Violations[0].Field)
}

func TestSessionErrors(t *testing.T) {
	env := newEnv(t, nil)
	base := "/api/v1/sessions/" + env.newSession(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{name: "unknown session", method: http.MethodGet, path: "/api/v1/sessions/6f1c1b8e-0000-4000-8000-000000000000", want: http.StatusNotFound},
		{name: "malformed session id", method: http.MethodGet, path: "/api/v1/sessions/abc", want: http.StatusNotFound},
		{name: "click missing y", method: http.MethodPost, path: base + "/click", body: map[string]float64{"x": 1}, want: http.StatusBadRequest},
		{name: "click bad json", method: http.MethodPost, path: base + "/click", body: "{", want: http.StatusBadRequest},
		{name: "cancel without form", method: http.MethodPost, path: base + "/cancel", want: http.StatusConflict},
		{name: "delete without form", method: http.MethodPost, path: base + "/delete", want: http.StatusConflict},
		{name: "save without form", method: http.MethodPost, path: base + "/save", body: map[string]string{"id": "a"}, want: http.StatusConflict},
		{name: "navigate without target", method: http.MethodPost, path: base + "/navigate", body: map[string]string{}, want: http.StatusBadRequest},
		{name: "zoom without target", method: http.MethodPost, path: base + "/zoom", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestPageImage(t *testing.T) {
	env := newEnv(t, nil)
	seedField(env.mapper)
	base := "/api/v1/sessions/" + env.newSession(t)

	resp := env.do(t, http.MethodGet, base+"/page.png", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "1", resp.Header.Get("X-Page"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 612, img.Bounds().Dx())
	assert.Equal(t, 792, img.Bounds().Dy())
}

func TestFieldsEndpoints(t *testing.T) {
	env := newEnv(t, nil)
	seedField(env.mapper)

	resp := env.do(t, http.MethodGet, "/api/v1/fields?page=2", nil)
	var fields []fieldmap.FieldDefinition
	decode(t, resp, &fields)
	assert.Empty(t, fields)

	resp = env.do(t, http.MethodGet, "/api/v1/fields?page=one", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/fields/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/v1/fields", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1, env.mapper.Store.Count())

	resp = env.do(t, http.MethodDelete, "/api/v1/fields/driver_name", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, env.mapper.Store.Count())

	seedField(env.mapper)
	resp = env.do(t, http.MethodDelete, "/api/v1/fields?confirm=true", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, env.mapper.Store.Count())
}

func TestExportImport(t *testing.T) {
	env := newEnv(t, nil)
	seedField(env.mapper)

	resp := env.do(t, http.MethodGet, "/api/v1/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "field-map.json")
	exported, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	env.mapper.Store.Clear()
	resp = env.do(t, http.MethodPost, "/api/v1/import", string(exported))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result transfer.ImportResult
	decode(t, resp, &result)
	assert.Equal(t, 1, result.Count)

	resp = env.do(t, http.MethodPost, "/api/v1/import", `{"fields": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1, env.mapper.Store.Count())
}

func TestPublish(t *testing.T) {
	resp := newEnv(t, nil).do(t, http.MethodPost, "/api/v1/publish", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = newEnv(t, stubPublisher{}).do(t, http.MethodPost, "/api/v1/publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "gs://assets/field-map.json", body["url"])

	resp = newEnv(t, stubPublisher{err: transfer.ErrAlreadyPublished}).do(t, http.MethodPost, "/api/v1/publish", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestFill(t *testing.T) {
	env := newEnv(t, nil)
	seedField(env.mapper)

	resp := env.do(t, http.MethodPost, "/api/v1/fill", map[string]interface{}{"values": map[string]interface{}{}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, []string{"driver_name"}, body.Missing)

	resp = env.do(t, http.MethodPost, "/api/v1/fill", map[string]interface{}{
		"values": map[string]interface{}{"driver_name": "Ada Lovelace"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, "1", resp.Header.Get("X-Filled-Fields"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestTemplate(t *testing.T) {
	env := newEnv(t, nil)
	resp := env.do(t, http.MethodGet, "/api/v1/template", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report pdf.ValidateTemplateResult
	decode(t, resp, &report)
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.PageCount)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fieldmap.NewError(fieldmap.ErrorTypeValidation, "x"), http.StatusBadRequest},
		{fieldmap.NewError(fieldmap.ErrorTypeImportParse, "x"), http.StatusBadRequest},
		{fieldmap.NewError(fieldmap.ErrorTypeNotFound, "x"), http.StatusNotFound},
		{fieldmap.NewError(fieldmap.ErrorTypeState, "x"), http.StatusConflict},
		{fieldmap.NewError(fieldmap.ErrorTypeRender, "x"), http.StatusBadGateway},
		{viewer.ErrStaleRender, http.StatusConflict},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	env := newEnv(t, nil)
	api := NewServer(env.mapper, session.NewRegistry(env.mapper.NewViewer, 0, nil), Options{Addr: "127.0.0.1:0"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- api.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTemplateFields(t *testing.T) {
	env := newEnv(t, nil)
	pdftest.Write(t, filepath.Dir(env.mapper.Template.Path()), "driver-application.pdf", pdftest.GenerateForm(2, []pdftest.Widget{
		{Page: 2, Name: "agree", FT: "Btn", Rect: [4]float64{72, 100, 84, 112}},
	}))

	resp := env.do(t, http.MethodGet, "/api/v1/template/fields", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fields []fieldmap.FieldDefinition
	decode(t, resp, &fields)
	require.Len(t, fields, 1)
	assert.Equal(t, 2, fields[0].Page)

	resp = env.do(t, http.MethodPost, "/api/v1/template/fields/seed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"agree"}, env.mapper.Store.IDs())

	resp = env.do(t, http.MethodPost, "/api/v1/template/fields/seed", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
