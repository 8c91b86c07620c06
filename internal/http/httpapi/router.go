package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nguyen2715-hue/web/internal/http/handlers"
	"github.com/nguyen2715-hue/web/internal/infra"
	"github.com/nguyen2715-hue/web/internal/middleware"
)

// RouterOptions configures the cross-cutting middleware.
type RouterOptions struct {
	Logger         *infra.Logger
	Metrics        stdhttp.Handler
	AllowedOrigins []string
	SubmitLimiter  *middleware.SubmitLimiter
}

func NewRouter(app *handlers.App, opts RouterOptions) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(*infra.LoggerOrDiscard(opts.Logger)))
	r.Use(middleware.CORS(opts.AllowedOrigins))

	r.Get("/v1/healthz", app.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/v1/batches", func(r chi.Router) {
		if opts.SubmitLimiter != nil {
			r.With(opts.SubmitLimiter.Middleware).Post("/", app.CreateBatch)
		} else {
			r.Post("/", app.CreateBatch)
		}
		r.Get("/current", app.CurrentBatch)
		r.Get("/current/events", app.BatchEvents)
		r.Post("/current/cancel", app.CancelBatch)
		r.Get("/current/archive", app.BatchArchive)
	})

	return r
}
