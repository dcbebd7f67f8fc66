// Package api exposes the ask pipeline, document bookkeeping and the
// conversation ledger over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/docsage/internal/model"
	"github.com/sells-group/docsage/internal/qa"
	"github.com/sells-group/docsage/internal/store"
)

// DefaultMaxUploadSize caps multipart uploads when Options leaves it unset.
const DefaultMaxUploadSize = 50 << 20

// Asker runs the ask pipeline.
type Asker interface {
	Ask(ctx context.Context, userID, fingerprint, question string) (*qa.Result, error)
}

// Documents manages uploaded documents.
type Documents interface {
	Upload(ctx context.Context, userID, filename, contentType string, body []byte) (*model.Document, bool, error)
	Get(ctx context.Context, userID, fingerprint string) (*model.Document, error)
	List(ctx context.Context, userID string) ([]model.Document, error)
	Delete(ctx context.Context, userID, fingerprint string) error
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the routes.
type Deps struct {
	Asker     Asker
	Documents Documents
	Ledger    store.Ledger
	Health    Pinger
}

// Options configure the router.
type Options struct {
	// Auth authenticates /v1 routes and stores the user in the context.
	Auth          func(http.Handler) http.Handler
	CORSOrigins   []string
	MaxUploadSize int64
}

type handler struct {
	Deps
	maxUpload int64
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps, opts Options) http.Handler {
	h := &handler{Deps: deps, maxUpload: opts.MaxUploadSize}
	if h.maxUpload <= 0 {
		h.maxUpload = DefaultMaxUploadSize
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(tracing)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", RequestIDHeader},
			ExposedHeaders:   []string{RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}
		r.Post("/ask", h.ask)

		r.Get("/documents", h.listDocuments)
		r.Post("/documents", h.uploadDocument)
		r.Delete("/documents", h.deleteAllDocuments)
		r.Get("/documents/{fingerprint}", h.getDocument)
		r.Delete("/documents/{fingerprint}", h.deleteDocument)

		r.Get("/conversations", h.listConversations)
		r.Delete("/conversations", h.deleteAllConversations)
		r.Get("/conversations/{fingerprint}", h.documentConversations)
		r.Delete("/conversations/{fingerprint}", h.deleteDocumentConversations)
		r.Delete("/conversations/{fingerprint}/{timestamp}", h.deleteConversation)
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
