package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"modelgen/internal/domain"
	"modelgen/internal/imageio"
	"modelgen/internal/infra"
	"modelgen/internal/jobs"
	"modelgen/internal/notify"
)

// APIEndpoint exposes the generation service base URL for the settings panel.
type APIEndpoint interface {
	BaseURL() string
	SetBaseURL(raw string)
}

// SettingsStore persists the settings panel between runs.
type SettingsStore interface {
	Save(ctx context.Context, settings domain.Settings) error
}

// Deps groups what the handlers need.
type Deps struct {
	Registry  *jobs.Registry
	Manager   *jobs.Manager
	Scheduler *jobs.Scheduler
	Saver     *jobs.Saver
	Hub       *notify.Hub
	Endpoint  APIEndpoint
	Settings  SettingsStore
	Logger    *infra.Logger
	// OriginPatterns are host patterns accepted for WebSocket upgrades.
	OriginPatterns []string
}

// App holds the state shared by every handler.
type App struct {
	registry  *jobs.Registry
	manager   *jobs.Manager
	scheduler *jobs.Scheduler
	saver     *jobs.Saver
	hub       *notify.Hub
	endpoint  APIEndpoint
	prefs     SettingsStore
	selection *Selection
	logger    *infra.Logger
	origins   []string
}

func NewApp(deps Deps) *App {
	return &App{
		registry:  deps.Registry,
		manager:   deps.Manager,
		scheduler: deps.Scheduler,
		saver:     deps.Saver,
		hub:       deps.Hub,
		endpoint:  deps.Endpoint,
		prefs:     deps.Settings,
		selection: NewSelection(deps.Registry),
		logger:    infra.OrDiscard(deps.Logger),
		origins:   deps.OriginPatterns,
	}
}

// Close releases the registry subscription held by the selection.
func (a *App) Close() {
	a.selection.Close()
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": msg},
	})
}

// fail maps domain errors onto HTTP responses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var transport *domain.TransportError
	var persistence *domain.PersistenceError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrDuplicateID):
		a.error(w, http.StatusConflict, "duplicate", err.Error())
	case errors.Is(err, imageio.ErrUnsupportedFormat),
		errors.Is(err, imageio.ErrTooLarge),
		errors.Is(err, imageio.ErrEmpty),
		errors.Is(err, jobs.ErrUnsupportedFormat):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, jobs.ErrDownloadUnavailable):
		a.error(w, http.StatusConflict, "unavailable", err.Error())
	case errors.As(err, &transport):
		a.error(w, http.StatusBadGateway, "upstream_error", transport.Error())
	case errors.As(err, &persistence):
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("persistence failed")
		a.error(w, http.StatusInternalServerError, "persistence_error", persistence.Error())
	default:
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("handler failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
