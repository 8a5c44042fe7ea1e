package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions configures middleware
type RouterOptions struct {
	CORSOrigins []string      // Default allows any localhost origin
	Timeout     time.Duration // Per-request deadline; sync runs need minutes
}

// NewRouter configures all routes and middleware
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}

	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.Timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.HandleHealth)

	r.Route("/v1/kb", func(r chi.Router) {
		r.Post("/search", h.HandleSearch)
		r.Post("/sync", h.HandleSync)
		r.Get("/stats", h.HandleStats)
		r.Delete("/", h.HandleClear)
		r.Get("/sources", h.HandleListSources)
		r.Delete("/sources/*", h.HandleDeleteSource)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = WriteNotFound(w, "endpoint not found")
	})

	return r
}

// requestLogger logs one line per request through zap
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
