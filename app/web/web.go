// Package web implements the local JSON API for the vigil desk. It is a pure
// projection of the desk registry: handlers read and mutate manager state and
// render it, nothing here holds task or unit state of its own.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/vigil/app/api"
	"github.com/umputun/vigil/app/desk"
	"github.com/umputun/vigil/app/export"
)

// uploads are operator-driven, a couple per second is already generous
var uploadLimiter = tollbooth.NewLimiter(2, nil)

// Desk defines the subset of the desk manager used by handlers
type Desk interface {
	Upload(ctx context.Context, profileID string, files []api.File) (string, error)
	Units() []desk.UnitView
	Unit(displayID string) (desk.UnitView, bool)
	ActiveID() string
	Activate(displayID string) error
	Rename(displayID, label string) error
	EditText(displayID, text string) error
	Remove(displayID string) error
}

// Exporter renders a single unit into a downloadable document
type Exporter interface {
	Single(displayID string, format export.Format) (export.Doc, error)
}

// Backend is the part of the api client the projection needs directly:
// batch archive location and the profiles listing
type Backend interface {
	DownloadURL(taskID string) string
	Profiles(ctx context.Context) ([]string, error)
}

// Server represents the local projection API server
type Server struct {
	Desk     Desk
	Exporter Exporter
	Backend  Backend
	Version  string
}

// Run starts the web server and blocks until ctx canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown web server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(100),
		rest.AppInfo("vigil", "umputun", s.Version),
		rest.Ping,
		rest.Trace,
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	router.Mount("/api/v1").Route(func(apiGroup *routegroup.Bundle) {
		apiGroup.Use(rest.NoCache)

		apiGroup.HandleFunc("GET /units", s.handleUnits)
		apiGroup.HandleFunc("GET /units/{id}", s.handleUnit)
		apiGroup.HandleFunc("POST /units/{id}/activate", s.handleActivate)
		apiGroup.HandleFunc("PUT /units/{id}/label", s.handleLabel)
		apiGroup.HandleFunc("PUT /units/{id}/text", s.handleText)
		apiGroup.HandleFunc("DELETE /units/{id}", s.handleRemove)
		apiGroup.HandleFunc("GET /units/{id}/export", s.handleExport)
		apiGroup.HandleFunc("GET /tasks/{id}/archive", s.handleArchive)
		apiGroup.HandleFunc("GET /profiles", s.handleProfiles)
		apiGroup.With(tollbooth.HTTPMiddleware(uploadLimiter)).HandleFunc("POST /upload", s.handleUpload)
	})

	return router
}
