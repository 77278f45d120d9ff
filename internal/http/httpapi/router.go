package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"modelgen/internal/http/handlers"
	"modelgen/internal/middleware"
)

// Options configures the studio router.
type Options struct {
	Logger          zerolog.Logger
	AllowedOrigins  []string
	RateLimitPerMin int
}

func NewRouter(ctx context.Context, app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		chimw.Recoverer,
	)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", app.ListJobs)
			r.With(middleware.RateLimit(ctx, opts.RateLimitPerMin, time.Minute)).Post("/", app.CreateJob)
			r.Get("/{job_id}", app.GetJob)
			r.Patch("/{job_id}", app.RenameJob)
			r.Delete("/{job_id}", app.DeleteJob)
			r.Post("/{job_id}/downloads/{format}", app.DownloadJob)
			r.Post("/{job_id}/export", app.ExportJob)
		})

		r.Get("/selection", app.GetSelection)
		r.Put("/selection", app.PutSelection)
		r.Get("/settings", app.GetSettings)
		r.Put("/settings", app.PutSettings)
		r.Get("/polling", app.Polling)
		r.Get("/events", app.Events)
	})

	return r
}

// OriginPatterns turns CORS origins into the host patterns the WebSocket
// upgrade checks against.
func OriginPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
