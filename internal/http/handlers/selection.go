package handlers

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"modelgen/internal/domain"
	"modelgen/internal/jobs"
)

// Selection tracks the job currently shown in the viewer. It clears itself
// when that job leaves the registry.
type Selection struct {
	mu       sync.Mutex
	jobID    string
	registry *jobs.Registry
	cancel   func()
}

func NewSelection(registry *jobs.Registry) *Selection {
	s := &Selection{registry: registry}
	s.cancel = registry.Subscribe(s.onChange)
	return s
}

func (s *Selection) onChange(c jobs.Change) {
	switch c.Kind {
	case jobs.ChangeDeleted:
		s.mu.Lock()
		if s.jobID == c.JobID {
			s.jobID = ""
		}
		s.mu.Unlock()
	case jobs.ChangeRestored:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.jobID == "" {
			return
		}
		if _, err := s.registry.Get(s.jobID); err != nil {
			s.jobID = ""
		}
	}
}

// Get returns the selected job id, or "" when nothing is selected.
func (s *Selection) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

// Set selects id. An empty id clears the selection; unknown ids are rejected.
func (s *Selection) Set(id string) error {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	// Checked under s.mu: a concurrent delete's onChange then runs after
	// the write and clears it.
	if id != "" {
		if _, err := s.registry.Get(id); err != nil {
			return err
		}
	}
	s.jobID = id
	return nil
}

func (s *Selection) Close() {
	s.cancel()
}

type selectionBody struct {
	JobID string      `json:"jobId"`
	Job   *domain.Job `json:"job"`
}

// GetSelection returns the selected job, if any.
func (a *App) GetSelection(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.selectionBody())
}

// PutSelection selects a job. {"jobId": ""} clears the selection.
func (a *App) PutSelection(w http.ResponseWriter, r *http.Request) {
	var in struct {
		JobID string `json:"jobId"`
	}
	if !a.decode(w, r, &in) {
		return
	}
	if err := a.selection.Set(in.JobID); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.selectionBody())
}

func (a *App) selectionBody() selectionBody {
	id := a.selection.Get()
	if id == "" {
		return selectionBody{}
	}
	job, err := a.registry.Get(id)
	if errors.Is(err, domain.ErrNotFound) {
		return selectionBody{}
	}
	return selectionBody{JobID: id, Job: &job}
}
