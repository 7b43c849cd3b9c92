// Package server exposes the session engine over HTTP: the app API the phone
// screen drives, and the API-key-protected ingest routes the companion device
// relay posts to.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kinevo/sessiond/internal/engine"
	"github.com/kinevo/sessiond/internal/identity"
	"github.com/kinevo/sessiond/internal/reconcile"
	"github.com/kinevo/sessiond/internal/storage"
	"github.com/kinevo/sessiond/internal/substitute"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	db     *storage.DB
	engine *engine.Engine
	rec    *reconcile.Reconciler
	subs   *substitute.Resolver
	id     identity.Provider
	log    *slog.Logger
	apiKey string
	router chi.Router
}

// New creates a new Server with all routes configured.
func New(db *storage.DB, eng *engine.Engine, rec *reconcile.Reconciler, subs *substitute.Resolver, id identity.Provider, apiKey string, log *slog.Logger) *Server {
	s := &Server{
		db:     db,
		engine: eng,
		rec:    rec,
		subs:   subs,
		id:     id,
		log:    log,
		apiKey: apiKey,
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetMCP mounts the MCP handler under /mcp.
func (s *Server) SetMCP(h http.Handler) {
	s.router.Mount("/mcp", h)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	// Companion-device ingest (API key required)
	s.router.Route("/api/v1/device", func(r chi.Router) {
		r.Use(APIKeyAuth(s.apiKey))
		r.Post("/finish", s.handleDeviceFinish)
		r.Post("/set", s.handleDeviceSet)
		r.Post("/replay", s.handleDeviceReplay)
	})

	// App API (no auth — tsnet handles access)
	s.router.Post("/api/v1/sessions", s.handleOpenSession)
	s.router.Route("/api/v1/sessions/{workoutID}", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)
		r.Get("/finished", s.handleFinishedCheck)
		r.Post("/sets/value", s.handleSetValue)
		r.Post("/sets/toggle", s.handleToggleSet)
		r.Post("/finish", s.handleFinish)
		r.Post("/discard", s.handleDiscard)
		r.Get("/substitutes", s.handleProposeSubstitutes)
		r.Get("/substitutes/search", s.handleSearchSubstitutes)
		r.Post("/swap", s.handleSwap)
	})
}
