package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/satindergrewal/duet/internal/engine"
	"github.com/satindergrewal/duet/internal/export"
	"github.com/satindergrewal/duet/internal/project"
)

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		engine.Status
		Export *export.JobInfo `json:"export,omitempty"`
	}{Status: s.engine.Status()}
	if job := s.exports.Active(); job != nil {
		info := job.Info()
		resp.Export = &info
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// --- Tracks ---

func kindParam(w http.ResponseWriter, r *http.Request) (engine.Kind, bool) {
	kind, err := engine.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return kind, true
}

// readUpload accepts either a multipart form with an "audio" file or a raw
// body named by the "name" query parameter.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return "", nil, fmt.Errorf("read upload: %w", err)
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			return "", nil, errors.New("missing \"audio\" file field")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, fmt.Errorf("read upload: %w", err)
		}
		return filepath.Base(header.Filename), data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}
	return filepath.Base(name), data, nil
}

func (s *Server) handleLoadTrack(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	name, data, err := s.readUpload(w, r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		writeMessage(w, http.StatusBadRequest, "empty upload")
		return
	}
	track, err := s.engine.LoadTrack(r.Context(), kind, name, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, track.Info())
}

func (s *Server) handleUnloadTrack(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	s.engine.UnloadTrack(kind)
	w.WriteHeader(http.StatusNoContent)
}

// --- Settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Settings(kind))
}

// handlePutSettings merges the fields present in the body into the current
// settings, so a client may send a single knob.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	st := s.engine.Settings(kind)
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid settings: "+err.Error())
		return
	}
	s.engine.ApplySettings(kind, st)
	writeJSON(w, http.StatusOK, s.engine.Settings(kind))
}

// --- Transport ---

type timeRequest struct {
	Time   *float64 `json:"time"`
	Offset *float64 `json:"offset"`
}

// seconds converts a request time, saturating far outside any session so
// the Duration conversion cannot overflow.
func seconds(v float64) time.Duration {
	limit := engine.MaxOffset.Seconds()
	return time.Duration(max(-limit, min(v, limit)) * float64(time.Second))
}

func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

func (s *Server) handleTransport(w http.ResponseWriter, r *http.Request) {
	var req timeRequest
	if err := decodeOptional(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	switch chi.URLParam(r, "action") {
	case "play":
		if req.Time != nil {
			s.engine.Play(seconds(*req.Time))
		} else {
			s.engine.Resume()
		}
	case "pause":
		s.engine.Pause()
	case "stop":
		s.engine.Stop()
	case "toggle":
		s.engine.Toggle()
	case "seek":
		if req.Time == nil {
			writeMessage(w, http.StatusBadRequest, "seek needs a time")
			return
		}
		s.engine.Seek(seconds(*req.Time))
	default:
		writeMessage(w, http.StatusNotFound, "unknown transport action")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleOffset(w http.ResponseWriter, r *http.Request) {
	var req timeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Offset == nil {
		writeMessage(w, http.StatusBadRequest, "offset needs a value in seconds")
		return
	}
	s.engine.SetOffset(seconds(*req.Offset))
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// --- Microphone ---

func (s *Server) handleMicStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StartMicCapture(s.ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleMicStop(w http.ResponseWriter, r *http.Request) {
	track, err := s.engine.StopMicCapture()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, track.Info())
}

// --- Export ---

func (s *Server) handleExportStart(kind export.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.exports.Start(kind)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job.Info())
	}
}

func (s *Server) exportJob(w http.ResponseWriter, r *http.Request) *export.Job {
	job := s.exports.Get(chi.URLParam(r, "id"))
	if job == nil {
		writeMessage(w, http.StatusNotFound, "export job not found")
	}
	return job
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	if job := s.exportJob(w, r); job != nil {
		writeJSON(w, http.StatusOK, job.Info())
	}
}

func (s *Server) handleExportCancel(w http.ResponseWriter, r *http.Request) {
	if job := s.exportJob(w, r); job != nil {
		job.Cancel()
		writeJSON(w, http.StatusAccepted, job.Info())
	}
}

func (s *Server) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	job := s.exportJob(w, r)
	if job == nil {
		return
	}
	switch job.Status() {
	case export.StatusRecording:
		writeMessage(w, http.StatusConflict, "export still recording")
		return
	case export.StatusFailed:
		writeError(w, job.Err())
		return
	}
	name := fmt.Sprintf("duet-mix-%s.%s", job.CreatedAt.Format("2006-01-02-150405"), job.Kind.Extension())
	writeFile(w, job.Kind.ContentType(), name, job.Data())
}

func writeFile(w http.ResponseWriter, contentType, name string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.Write(data)
}

// --- Projects ---

func (s *Server) handleProjectGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, project.FromEngine(s.engine))
}

func (s *Server) handleProjectPut(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := project.Decode(data)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	doc.Apply(s.engine)
	writeJSON(w, http.StatusOK, project.FromEngine(s.engine))
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeMessage(w, http.StatusServiceUnavailable, "project store not configured")
		return false
	}
	return true
}

func (s *Server) handleProjectsList(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	list, err := s.store.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleProjectsGet(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	doc, err := s.store.Load(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleProjectsSave stores the body if one is sent, otherwise the current
// session.
func (s *Server) handleProjectsSave(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	doc := project.FromEngine(s.engine)
	if len(strings.TrimSpace(string(data))) > 0 {
		if doc, err = project.Decode(data); err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	name := chi.URLParam(r, "name")
	if err := s.store.Save(name, doc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleProjectsDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if err := s.store.Delete(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProjectsLoad(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	doc, err := s.store.Load(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	doc.Apply(s.engine)
	writeJSON(w, http.StatusOK, s.engine.Status())
}
