// Package api implements the pulsemix HTTP API: status, calibration, settings
// and a server-sent event stream of status snapshots.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/micro-nova/pulsemix/internal/calibration"
	"github.com/micro-nova/pulsemix/internal/config"
	"github.com/micro-nova/pulsemix/internal/models"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	eng      Engine
	events   EventBus
	settings config.Store
	backups  Backups
	info     models.Info
}

// Engine is the interface the handlers use to read and steer the engine.
type Engine interface {
	Snapshot() models.Status
	Record() (calibration.Record, bool)
	Reload(ctx context.Context) error
}

// EventBus is the interface for subscribing to status snapshots.
type EventBus interface {
	Subscribe(id string) <-chan models.Status
	Unsubscribe(id string)
}

// Backups creates and lists data directory archives.
type Backups interface {
	RunBackupNow() (string, error)
	ListBackups() ([]string, error)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the AppError in err's chain as a JSON response; any other
// error is reported as internal.
func writeError(w http.ResponseWriter, err error) {
	appErr := models.AsAppError(err)
	writeJSON(w, appErr.Status, appErr)
}
