package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"modelgen/internal/domain"
	"modelgen/internal/imageio"
	"modelgen/internal/jobs"
)

const (
	maxUploadBytes   = imageio.MaxFileSize + 1<<20
	multipartMemory  = 8 << 20
	maxJSONBodyBytes = 64 << 10
)

type listResponse struct {
	Items   []domain.Job `json:"items"`
	Polling bool         `json:"polling"`
}

// ListJobs returns every job, newest first.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, listResponse{Items: a.registry.List(), Polling: a.scheduler.Running()})
}

// GetJob returns one job.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.registry.Get(chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

// CreateJob accepts a multipart upload with an image file, an optional name
// and optional JSON settings, and starts a generation job.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", imageio.ErrTooLarge.Error())
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "image is required")
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read image")
		return
	}

	var settings *domain.Settings
	if raw := strings.TrimSpace(r.FormValue("settings")); raw != "" {
		settings = &domain.Settings{}
		if err := json.Unmarshal([]byte(raw), settings); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "settings must be a JSON object")
			return
		}
	}

	job, err := a.manager.Submit(r.Context(), jobs.SubmitInput{
		Filename: header.Filename,
		Image:    image,
		Name:     r.FormValue("name"),
		Settings: settings,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, job)
}

// RenameJob changes the display name: {"name": "..."}.
func (a *App) RenameJob(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if !a.decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	job, err := a.manager.Rename(chi.URLParam(r, "job_id"), in.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

// DeleteJob forgets a job locally.
func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if _, err := a.manager.Delete(r.Context(), chi.URLParam(r, "job_id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DownloadJob saves one model output of a completed job to the output
// directory.
func (a *App) DownloadJob(w http.ResponseWriter, r *http.Request) {
	saved, err := a.manager.Download(r.Context(), chi.URLParam(r, "job_id"), chi.URLParam(r, "format"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, saved)
}

// ExportJob writes the project file of a job. The body is optional and
// includeAssets defaults to true.
func (a *App) ExportJob(w http.ResponseWriter, r *http.Request) {
	in := struct {
		IncludeAssets *bool `json:"includeAssets"`
	}{}
	if r.ContentLength != 0 && !a.decode(w, r, &in) {
		return
	}
	include := in.IncludeAssets == nil || *in.IncludeAssets
	saved, err := a.manager.Export(r.Context(), chi.URLParam(r, "job_id"), include)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, saved)
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid json")
		return false
	}
	return true
}
