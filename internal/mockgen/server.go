package mockgen

import (
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"modelgen/internal/imageio"
	"modelgen/internal/infra"
)

const maxUploadBytes = imageio.MaxFileSize + 1<<20

// Server exposes a Simulator over the generation service HTTP contract.
type Server struct {
	sim    *Simulator
	logger *infra.Logger
}

func NewServer(sim *Simulator, logger *infra.Logger) *Server {
	return &Server{sim: sim, logger: infra.OrDiscard(logger)}
}

// Routes builds the chi router for the mock service.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.Recoverer)

	r.Post("/generate", s.generate)
	r.Get("/jobs", s.list)
	r.Get("/jobs/{job_id}", s.status)
	r.Delete("/jobs/{job_id}", s.remove)
	r.Get("/files/{file}", s.file)
	return r
}

func (s *Server) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) error(w http.ResponseWriter, code int, message string) {
	s.json(w, code, map[string]string{"message": message})
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		s.error(w, http.StatusBadRequest, "Invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		s.error(w, http.StatusBadRequest, "Image is required")
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		s.error(w, http.StatusBadRequest, "Failed to read image")
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = imageio.DeriveName(header.Filename)
	}
	var settings json.RawMessage
	if raw := strings.TrimSpace(r.FormValue("settings")); raw != "" {
		if !json.Valid([]byte(raw)) {
			s.error(w, http.StatusBadRequest, "Settings must be JSON")
			return
		}
		settings = json.RawMessage(raw)
	}

	job := s.sim.Create(name, settings, image)
	s.logger.Info().Str("job_id", job.ID).Str("name", name).Msg("mockgen: generation accepted")
	s.json(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	s.json(w, http.StatusOK, s.sim.List())
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	job, ok := s.sim.Get(chi.URLParam(r, "job_id"))
	if !ok {
		s.error(w, http.StatusNotFound, "Job not found")
		return
	}
	s.json(w, http.StatusOK, job)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	if !s.sim.Delete(chi.URLParam(r, "job_id")) {
		s.error(w, http.StatusNotFound, "Job not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// file serves placeholder outputs named <job id>.<format>, and the uploaded
// image as <job id>.source.
func (s *Server) file(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	ext := path.Ext(name)
	id := strings.TrimSuffix(name, ext)
	job, ok := s.sim.Get(id)
	if !ok {
		s.error(w, http.StatusNotFound, "File not found")
		return
	}
	if ext == ".source" {
		data, ok := s.sim.Image(id)
		if !ok {
			s.error(w, http.StatusNotFound, "File not found")
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		_, _ = w.Write(data)
		return
	}
	if job.Status != "completed" || job.Downloads[strings.TrimPrefix(ext, ".")] == "" {
		s.error(w, http.StatusNotFound, "File not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(placeholder(strings.TrimPrefix(ext, "."), job))
}

func placeholder(format string, job Job) []byte {
	switch format {
	case "glb":
		return []byte("glTF mock model for " + job.Name)
	case "ply":
		return []byte("ply\nformat ascii 1.0\ncomment mock model " + job.ID + "\nend_header\n")
	default:
		return []byte("mock " + format + " for " + job.ID)
	}
}
