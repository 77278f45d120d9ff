package handlers

import (
	"net/http"
	"strings"

	"modelgen/internal/domain"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs":   a.registry.Len(),
	})
}

type pollingResponse struct {
	Running bool     `json:"running"`
	Active  []string `json:"active"`
}

// Polling reports whether the scheduler is running and which jobs it tracks.
func (a *App) Polling(w http.ResponseWriter, r *http.Request) {
	active := a.registry.Active()
	if active == nil {
		active = []string{}
	}
	a.json(w, http.StatusOK, pollingResponse{Running: a.scheduler.Running(), Active: active})
}

func (a *App) GetSettings(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.settings())
}

// PutSettings updates the mutable client settings and stores them for the
// next run. Omitted fields keep their value.
func (a *App) PutSettings(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AutoDownload *bool   `json:"autoDownload"`
		APIURL       *string `json:"apiUrl"`
		MaxHistory   *int    `json:"maxHistory"`
	}
	if !a.decode(w, r, &in) {
		return
	}

	var apiURL string
	if in.APIURL != nil {
		if a.endpoint == nil {
			a.error(w, http.StatusBadRequest, "bad_request", "apiUrl is not configurable")
			return
		}
		apiURL = strings.TrimSpace(*in.APIURL)
		if !strings.HasPrefix(apiURL, "http://") && !strings.HasPrefix(apiURL, "https://") {
			a.error(w, http.StatusBadRequest, "bad_request", "apiUrl must be an http(s) URL")
			return
		}
	}
	if in.MaxHistory != nil {
		if a.saver == nil {
			a.error(w, http.StatusBadRequest, "bad_request", "maxHistory is not configurable")
			return
		}
		if *in.MaxHistory < 1 {
			a.error(w, http.StatusBadRequest, "bad_request", "maxHistory must be at least 1")
			return
		}
	}

	if in.APIURL != nil {
		a.endpoint.SetBaseURL(apiURL)
		a.logger.Info().Str("api_url", apiURL).Msg("generation api url changed")
	}
	if in.AutoDownload != nil {
		a.manager.SetAutoDownload(*in.AutoDownload)
	}
	if in.MaxHistory != nil {
		a.saver.SetMaxHistory(*in.MaxHistory)
	}

	out := a.settings()
	if a.prefs != nil {
		if err := a.prefs.Save(r.Context(), out); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	a.json(w, http.StatusOK, out)
}

func (a *App) settings() domain.Settings {
	out := domain.Settings{AutoDownload: a.manager.AutoDownload()}
	if a.endpoint != nil {
		out.APIURL = a.endpoint.BaseURL()
	}
	if a.saver != nil {
		out.MaxHistory = a.saver.MaxHistory()
	}
	return out
}
