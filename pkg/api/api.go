// Package api exposes the run status endpoints served next to a training
// run: liveness, progress counters and Prometheus metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/treadmill-rl/treadmill/pkg/counter"
)

const contentType = "application/json"

// Progress reports the live counters of a running agent.
type Progress interface {
	StepCounter() counter.StepSnapshot
	EpisodeCounter() counter.EpisodeSnapshot
}

type healthRes struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
	Time   string `json:"time"`
}

type countersRes struct {
	Steps    counter.StepSnapshot    `json:"steps"`
	Episodes counter.EpisodeSnapshot `json:"episodes"`
}

// MakeHandler builds the status router for one run.
func MakeHandler(progress Progress, logger *slog.Logger, runID string) http.Handler {
	mux := chi.NewRouter()

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		encodeResponse(w, logger, healthRes{
			Status: "ok",
			RunID:  runID,
			Time:   time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.Get("/counters", func(w http.ResponseWriter, _ *http.Request) {
		encodeResponse(w, logger, countersRes{
			Steps:    progress.StepCounter(),
			Episodes: progress.EpisodeCounter(),
		})
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func encodeResponse(w http.ResponseWriter, logger *slog.Logger, res any) {
	w.Header().Set("Content-Type", contentType)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		logger.Warn("Failed to encode response", slog.Any("error", err))
		w.WriteHeader(http.StatusInternalServerError)
	}
}
