package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/a3tai/pdf-field-mapper/internal/editor"
	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/pdf"
	"github.com/a3tai/pdf-field-mapper/internal/viewer"
)

type viewerHandler func(w http.ResponseWriter, r *http.Request, v *viewer.Viewer)

// withViewer resolves the session in the URL and passes its viewer to h
func (s *Server) withViewer(h viewerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, err)
			return
		}
		h(w, r, v)
	}
}

// SessionResponse is returned when a session is created
type SessionResponse struct {
	ID    string          `json:"id"`
	State viewer.Snapshot `json:"state"`
}

type clickRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type navigateRequest struct {
	Page      *int   `json:"page"`
	Direction string `json:"direction"`
}

type zoomRequest struct {
	Scale     *float64 `json:"scale"`
	Direction string   `json:"direction"`
}

type fillRequest struct {
	Values map[string]interface{} `json:"values"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	id, v, err := s.sessions.Create()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{ID: id, State: v.Snapshot()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.sessions.Delete(id) {
		writeError(w, fieldmap.NewError(fieldmap.ErrorTypeNotFound, "session not found").WithContext(id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request, v *viewer.Viewer) {
	writeJSON(w, http.StatusOK, v.Snapshot())
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request, v *viewer.Viewer) {
	var req clickRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.X == nil || req.Y == nil {
		writeMessage(w, http.StatusBadRequest, "x and y are required")
		return
	}

	form, err := v.Click(*req.X, *req.Y)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request, v *viewer.Viewer) {
	raw := map[string]interface{}{}
	if err := decodeJSON(r, &raw); err != nil {
		writeError(w, err)
		return
	}

	saved, err := v.Save(editor.ValuesFrom(raw))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request, v *viewer.Viewer) {
	if err := v.Cancel(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot())
}

func (s *Server) handleDeleteField(w http.ResponseWriter, _ *http.Request, v *viewer.Viewer) {
	if err := v.Delete(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot())
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request, v *viewer.Viewer) {
	var req navigateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var err error
	switch {
	case req.Page != nil:
		err = v.GoToPage(*req.Page)
	case req.Direction == "next":
		err = v.NextPage()
	case req.Direction == "prev":
		err = v.PrevPage()
	default:
		writeMessage(w, http.StatusBadRequest, "provide page or direction (next, prev)")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot())
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request, v *viewer.Viewer) {
	var req zoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var err error
	switch {
	case req.Scale != nil:
		err = v.SetScale(*req.Scale)
	case req.Direction == "in":
		err = v.ZoomIn()
	case req.Direction == "out":
		err = v.ZoomOut()
	default:
		writeMessage(w, http.StatusBadRequest, "provide scale or direction (in, out)")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot())
}

func (s *Server) handlePageImage(w http.ResponseWriter, r *http.Request, v *viewer.Viewer) {
	frame, err := v.Render(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := pdf.EncodePNG(&buf, frame.Image); err != nil {
		writeError(w, fieldmap.WrapError(fieldmap.ErrorTypeRender, "failed to encode page image", err).WithPage(frame.Page))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Page", strconv.Itoa(frame.Page))
	w.Header().Set("X-Scale", strconv.FormatFloat(frame.Scale, 'f', -1, 64))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("page")
	if q == "" {
		writeJSON(w, http.StatusOK, s.mapper.Store.List())
		return
	}

	page, err := strconv.Atoi(q)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "page must be a whole number")
		return
	}
	writeJSON(w, http.StatusOK, s.mapper.Store.ListByPage(page))
}

func (s *Server) handleGetField(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fieldID")
	f, ok := s.mapper.Store.Get(id)
	if !ok {
		writeError(w, fieldmap.NewError(fieldmap.ErrorTypeNotFound, "field not found").WithField(id))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleRemoveField(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fieldID")
	if _, ok := s.mapper.Store.Get(id); !ok {
		writeError(w, fieldmap.NewError(fieldmap.ErrorTypeNotFound, "field not found").WithField(id))
		return
	}
	s.mapper.Store.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearFields(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeMessage(w, http.StatusBadRequest, "clearing every field requires confirm=true")
		return
	}
	s.mapper.Store.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := s.mapper.Export(&buf); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="field-map.json"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	result, err := s.mapper.Import(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	url, err := s.mapper.Publish(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	result, err := s.mapper.Fill(r.Context(), stringValues(req.Values), &buf)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="filled.pdf"`)
	w.Header().Set("X-Filled-Fields", strconv.Itoa(result.Filled))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleTemplate(w http.ResponseWriter, _ *http.Request) {
	result, err := s.mapper.ValidateTemplate("")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDetectFields(w http.ResponseWriter, _ *http.Request) {
	fields, err := s.mapper.DetectFields()
	if err != nil {
		writeError(w, err)
		return
	}
	if fields == nil {
		fields = []fieldmap.FieldDefinition{}
	}
	writeJSON(w, http.StatusOK, fields)
}

func (s *Server) handleSeedFields(w http.ResponseWriter, _ *http.Request) {
	n, err := s.mapper.SeedFromTemplate()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// stringValues renders decoded JSON scalars as fill values; nulls are dropped
func stringValues(raw map[string]interface{}) map[string]string {
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case nil:
		case string:
			values[k] = t
		case float64:
			values[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			values[k] = strconv.FormatBool(t)
		default:
			values[k] = fmt.Sprint(t)
		}
	}
	return values
}
