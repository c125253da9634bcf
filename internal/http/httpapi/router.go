package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"charactercam/server/internal/http/handlers"
	"charactercam/server/internal/middleware"
)

// Options configures the router's middleware chain.
type Options struct {
	SessionSecret   string
	AllowedOrigins  []string
	RateLimitPerMin int
	CountryLookup   middleware.CountryLookup
	Logger          func(http.Handler) http.Handler
	// StaticDir, when set, serves stored result videos under /static/.
	StaticDir string
}

// NewRouter assembles the HTTP surface: health is public, everything under
// /v1/generations requires a session.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.RequestID,
		middleware.CORS(opts.AllowedOrigins),
		middleware.Locale(opts.CountryLookup),
	)
	if opts.Logger != nil {
		r.Use(opts.Logger)
	}

	r.Get("/v1/healthz", app.Health)

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Handle("/static/*", fs)
	}

	r.Route("/v1/generations", func(r chi.Router) {
		r.Use(middleware.Auth(opts.SessionSecret))
		r.Get("/", app.ListGenerations)
		r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/", app.SubmitGeneration)
		r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/reserve", app.ReserveGeneration)
		r.Delete("/{id}", app.DeleteGeneration)
	})

	return r
}
