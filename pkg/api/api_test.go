package api_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadmill-rl/treadmill/pkg/api"
	"github.com/treadmill-rl/treadmill/pkg/counter"
)

type stubProgress struct {
	steps    counter.StepSnapshot
	episodes counter.EpisodeSnapshot
}

func (s stubProgress) StepCounter() counter.StepSnapshot {
	return s.steps
}

func (s stubProgress) EpisodeCounter() counter.EpisodeSnapshot {
	return s.episodes
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	handler := api.MakeHandler(stubProgress{}, slog.New(slog.NewTextHandler(io.Discard, nil)), "run-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "run-1", body["run_id"])
}

func TestCountersEndpoint(t *testing.T) {
	t.Parallel()

	progress := stubProgress{
		steps:    counter.StepSnapshot{Heatup: 5, Exploration: 100, Update: 90},
		episodes: counter.EpisodeSnapshot{Exploration: 3},
	}
	handler := api.MakeHandler(progress, slog.New(slog.NewTextHandler(io.Discard, nil)), "run-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/counters", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Steps    counter.StepSnapshot    `json:"steps"`
		Episodes counter.EpisodeSnapshot `json:"episodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, progress.steps, body.Steps)
	assert.Equal(t, progress.episodes, body.Episodes)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	handler := api.MakeHandler(stubProgress{}, slog.New(slog.NewTextHandler(io.Discard, nil)), "run-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
