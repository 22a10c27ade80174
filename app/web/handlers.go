package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"

	"github.com/umputun/vigil/app/api"
	"github.com/umputun/vigil/app/desk"
	"github.com/umputun/vigil/app/export"
)

// UnitsResponse is the JSON response for GET /api/v1/units
type UnitsResponse struct {
	Units  []desk.UnitView `json:"units"`
	Active string          `json:"active,omitempty"`
	Stats  UnitsStats      `json:"stats"`
}

// UnitsStats aggregates unit counts by kind
type UnitsStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Results int `json:"results"`
	Errors  int `json:"errors"`
}

// UploadResponse is the JSON response for POST /api/v1/upload
type UploadResponse struct {
	TaskID string `json:"task_id"`
}

// handleUnits renders all display units with aggregate stats
func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	units := s.Desk.Units()

	stats := UnitsStats{Total: len(units)}
	for _, u := range units {
		switch u.Kind {
		case desk.KindPending:
			stats.Pending++
		case desk.KindResult:
			stats.Results++
		case desk.KindError:
			stats.Errors++
		}
	}

	rest.RenderJSON(w, UnitsResponse{Units: units, Active: s.Desk.ActiveID(), Stats: stats})
}

// handleUnit renders a single display unit
func (s *Server) handleUnit(w http.ResponseWriter, r *http.Request) {
	u, ok := s.Desk.Unit(r.PathValue("id"))
	if !ok {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, desk.ErrUnknownUnit, "unit not found")
		return
	}
	rest.RenderJSON(w, u)
}

// handleUpload accepts a multipart submission (profile_id + files) and passes
// it to the desk manager. The backend's rejection body is surfaced verbatim.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't parse multipart form")
		return
	}

	profileID := r.FormValue("profile_id")
	var files []api.File
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't read uploaded file "+fh.Filename)
				return
			}
			defer f.Close() // nolint
			files = append(files, api.File{Name: fh.Filename, Reader: f})
		}
	}

	taskID, err := s.Desk.Upload(r.Context(), profileID, files)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, desk.ErrNoInput) {
			code = http.StatusBadRequest
		}
		rest.SendErrorJSON(w, r, log.Default(), code, err, "upload failed")
		return
	}

	w.WriteHeader(http.StatusCreated)
	rest.RenderJSON(w, UploadResponse{TaskID: taskID})
}

// handleActivate selects a unit; all others are deactivated
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := s.Desk.Activate(r.PathValue("id")); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, err, "can't activate unit")
		return
	}
	rest.RenderJSON(w, rest.JSON{"status": "ok"})
}

// handleLabel renames a unit from {"label": "..."} body
func (s *Server) handleLabel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't decode label request")
		return
	}
	if err := s.Desk.Rename(r.PathValue("id"), req.Label); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, err, "can't rename unit")
		return
	}
	rest.RenderJSON(w, rest.JSON{"status": "ok"})
}

// handleText stores user-edited text from {"text": "..."} body
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't decode text request")
		return
	}
	if err := s.Desk.EditText(r.PathValue("id"), req.Text); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, err, "can't edit unit text")
		return
	}
	rest.RenderJSON(w, rest.JSON{"status": "ok"})
}

// handleRemove closes a unit and purges its persisted traces
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.Desk.Remove(r.PathValue("id")); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, err, "can't remove unit")
		return
	}
	rest.RenderJSON(w, rest.JSON{"status": "ok"})
}

// handleExport streams a unit's current text rendered in the requested
// format (?format=txt|pdf|docx) as an attachment
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "bad export format")
		return
	}

	doc, err := s.Exporter.Single(r.PathValue("id"), format)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, desk.ErrUnknownUnit) {
			code = http.StatusNotFound
		}
		rest.SendErrorJSON(w, r, log.Default(), code, err, "export failed")
		return
	}

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
	if _, err := w.Write(doc.Data); err != nil {
		log.Printf("[WARN] failed to write export response: %v", err)
	}
}

// handleArchive sends the client to the backend's server-built archive for
// the whole batch; no client-side assembly, the body is never inspected
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.Backend.DownloadURL(r.PathValue("id")), http.StatusTemporaryRedirect)
}

// handleProfiles proxies the backend's profile listing
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.Backend.Profiles(r.Context())
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadGateway, err, "can't fetch profiles")
		return
	}
	rest.RenderJSON(w, profiles)
}
