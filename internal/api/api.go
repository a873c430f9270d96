// Package api exposes the registry sessions, region index and statistics over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/burial-registry/internal/core/middleware"
	"github.com/mohammed-shakir/burial-registry/internal/dataservice"
	"github.com/mohammed-shakir/burial-registry/internal/locator"
	"github.com/mohammed-shakir/burial-registry/internal/overview"
	"github.com/mohammed-shakir/burial-registry/internal/searchevents"
	"github.com/mohammed-shakir/burial-registry/internal/session"
)

// Deps wires the handlers. Overview and Locator are optional; their routes
// answer 503 when nil.
type Deps struct {
	Logger    *slog.Logger
	Sessions  *session.Registry
	Hierarchy dataservice.Hierarchy
	Overview  *overview.Service
	Locator   *locator.Locator
	Search    searchevents.Sink
	// StatsWaitMax caps the wait parameter of the statistics snapshot.
	StatsWaitMax time.Duration

	Liveness  http.HandlerFunc
	Readiness http.HandlerFunc
	Metrics   http.Handler
}

type handlers struct {
	Deps
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Search == nil {
		d.Search = searchevents.Nop{}
	}
	if d.StatsWaitMax <= 0 {
		d.StatsWaitMax = 10 * time.Second
	}
	h := &handlers{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.Recover(d.Logger))
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.CORS())

	if d.Liveness != nil {
		r.Get("/healthz", d.Liveness)
	}
	if d.Readiness != nil {
		r.Get("/readyz", d.Readiness)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/index", h.getIndex)
		r.Get("/overview", h.getOverview)

		r.Post("/sessions", h.createSession)
		r.Route("/sessions/{sid}", func(r chi.Router) {
			r.Use(h.withSession)
			r.Delete("/", h.deleteSession)

			r.Get("/facets", h.getFacets)
			r.Post("/facets/toggle", h.toggleFacets)
			r.Put("/facets/{facet}", h.setFacet)
			r.Delete("/facets/{facet}", h.clearFacet)

			r.Put("/query", h.setQuery)
			r.Post("/search", h.submitSearch)

			r.Get("/region", h.getRegion)
			r.Put("/region", h.selectRegion)
			r.Post("/region/locate", h.locateRegion)
		})
	})
	return r
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey{}).(*session.Session)
	return s
}
