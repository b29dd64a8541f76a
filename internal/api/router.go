package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/micro-nova/pulsemix/internal/auth"
	"github.com/micro-nova/pulsemix/internal/config"
	"github.com/micro-nova/pulsemix/internal/models"
)

// Deps are the router's collaborators. Backups may be nil.
type Deps struct {
	Engine   Engine
	Bus      EventBus
	Settings config.Store
	Backups  Backups
	Auth     *auth.Service
	Info     models.Info
}

// NewRouter creates and returns the main HTTP router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	h := &Handlers{eng: d.Engine, events: d.Bus, settings: d.Settings, backups: d.Backups, info: d.Info}

	// Read-only routes
	r.Group(func(r chi.Router) {
		r.Get("/api", h.getStatus)
		r.Get("/api/", h.getStatus)
		r.Get("/api/status", h.getStatus)
		r.Get("/api/calibration", h.getCalibration)
		r.Get("/api/settings", h.getSettings)
		r.Get("/api/info", h.getInfo)
		r.Get("/api/backups", h.listBackups)
		r.Get("/api/subscribe", h.sseEvents)
	})

	// Mutating routes (API key required once keys are configured)
	r.Group(func(r chi.Router) {
		if d.Auth != nil {
			r.Use(d.Auth.Middleware)
		}
		r.Post("/api/calibration/reload", h.reloadCalibration)
		r.Patch("/api/settings", h.setSettings)
		r.Post("/api/backup", h.createBackup)
	})

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Api-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
