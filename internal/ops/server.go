// Package ops exposes the operational HTTP surface: health, prometheus
// metrics, and pool/worker status.
package ops

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thanosengine/ChandraGen/internal/pool"
	"github.com/thanosengine/ChandraGen/internal/store"
)

// statusResponse is the JSON body for /status.
type statusResponse struct {
	State   string            `json:"state"`
	Workers []uuid.UUID       `json:"workers"`
	Queue   store.QueueStatus `json:"queue"`
}

// NewRouter builds the ops router over the supervisor and the queue gateway.
func NewRouter(sup *pool.Supervisor, gw pool.Gateway) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		qs, err := gw.QueueStatus(req.Context())
		if err != nil {
			slog.ErrorContext(req.Context(), "status: queue status failed", "error", err)
			http.Error(w, "queue status unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, statusResponse{
			State:   sup.State().String(),
			Workers: sup.WorkerIDs(),
			Queue:   qs,
		})
	})

	// Status round-trip against one worker's control channel. Replies with
	// the raw control frame; a worker that never answers yields the
	// ["no response", false] sentinel after the control timeout.
	r.Get("/workers/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, err := uuid.Parse(chi.URLParam(req, "id"))
		if err != nil {
			http.Error(w, "invalid worker id", http.StatusBadRequest)
			return
		}
		writeJSON(w, sup.WorkerStatus(id))
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("ops: failed to encode response", "error", err)
	}
}
