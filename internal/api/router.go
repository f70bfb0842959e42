package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kabir325/fogpool/internal/engine"
)

// Options configures the REST routes.
type Options struct {
	APIKey         string
	StatusInterval time.Duration
}

// NewRouter builds the /api router. The caller mounts it and applies the
// shared middleware chain.
func NewRouter(e *engine.Engine, opts Options) chi.Router {
	a := &API{Engine: e}
	r := chi.NewRouter()
	r.Get("/openapi.json", OpenAPIHandler())
	r.Get("/docs", SwaggerHandler())
	r.Group(func(g chi.Router) {
		g.Use(APIKeyMiddleware(opts.APIKey))
		g.Post("/query", a.PostQuery)
		g.Get("/status", a.GetStatus)
		g.Method(http.MethodGet, "/status/stream", &StatusStreamHandler{Engine: e, Interval: opts.StatusInterval})
		g.Post("/reassign", a.PostReassign)
		g.Route("/clients", func(cr chi.Router) {
			cr.Get("/", a.GetClients)
			cr.Get("/{id}", a.GetClient)
			cr.Delete("/{id}", a.DeleteClient)
		})
		g.Route("/rag", func(rr chi.Router) {
			rr.Get("/documents", a.GetDocuments)
			rr.Post("/documents", a.PostDocument)
			rr.Get("/documents/{id}", a.GetDocument)
			rr.Delete("/documents/{id}", a.DeleteDocument)
			rr.Get("/search", a.GetSearch)
			rr.Get("/stats", a.GetRAGStats)
		})
		g.Route("/chat", func(cr chi.Router) {
			cr.Get("/sessions", a.GetSessions)
			cr.Post("/sessions", a.PostSession)
			cr.Get("/sessions/{id}", a.GetSession)
			cr.Patch("/sessions/{id}", a.PatchSession)
			cr.Delete("/sessions/{id}", a.DeleteSession)
			cr.Get("/stats", a.GetChatStats)
		})
	})
	return r
}
