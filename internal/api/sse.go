package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/micro-nova/pulsemix/internal/models"
)

// sseKeepalive is how often an idle stream gets a comment line, so proxies
// keep the connection open while the engine state is steady.
const sseKeepalive = 15 * time.Second

// sseEvents streams engine status as server-sent events. The client gets the
// current snapshot first, then one "status" event per published change.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, models.ErrInternal("streaming not supported"))
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	id := uuid.NewString()
	ch := h.events.Subscribe(id)
	defer h.events.Unsubscribe(id)
	slog.Debug("api: status subscriber joined", "id", id)

	var seq uint64
	send := func(st models.Status) bool {
		seq++
		if err := writeStatusEvent(w, seq, st); err != nil {
			slog.Debug("api: status subscriber gone", "id", id, "err", err)
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(h.eng.Snapshot()) {
		return
	}

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case st, ok := <-ch:
			if !ok || !send(st) {
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeStatusEvent(w http.ResponseWriter, seq uint64, st models.Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: status\ndata: %s\n\n", seq, data)
	return err
}
