package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/micro-nova/pulsemix/internal/config"
	"github.com/micro-nova/pulsemix/internal/engine"
	"github.com/micro-nova/pulsemix/internal/models"
)

func (h *Handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Snapshot())
}

func (h *Handlers) getInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.info)
}

func (h *Handlers) getCalibration(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.eng.Record()
	if !ok {
		writeError(w, models.ErrNotFound("no valid calibration record"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// reloadCalibration re-reads the stored record. A record that fails its
// checksum leaves the outputs inert and is reported as 503.
func (h *Handlers) reloadCalibration(w http.ResponseWriter, r *http.Request) {
	err := h.eng.Reload(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.eng.Snapshot())
	case errors.Is(err, engine.ErrNotRunning):
		writeError(w, models.ErrConflict("calibration in progress"))
	default:
		writeError(w, models.ErrUnavailable("").Because(err))
	}
}

func (h *Handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Load()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// setSettings merges a partial settings document over the stored settings.
// Changes take effect on the next start.
func (h *Handlers) setSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Load()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(s); err != nil {
		writeError(w, models.ErrBadRequest("invalid JSON: "+err.Error()))
		return
	}
	if err := h.settings.Save(s); err != nil {
		if errors.Is(err, config.ErrInvalidSettings) {
			writeError(w, models.ErrBadRequest("").Because(err))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// createBackup triggers an immediate backup and returns the file path.
func (h *Handlers) createBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeError(w, models.ErrUnavailable("backups not configured"))
		return
	}
	file, err := h.backups.RunBackupNow()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"file": file,
	})
}

// listBackups returns a list of available backup files.
func (h *Handlers) listBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"backups": []string{}})
		return
	}
	files, err := h.backups.ListBackups()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backups": files,
	})
}
