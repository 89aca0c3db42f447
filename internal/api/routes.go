package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		RequestID(),
		Logging(h.logger),
	)

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/runs", chain(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("GET /api/v1/runs/{id}/tasks", chain(http.HandlerFunc(h.ListRunTasks)))

	// Planning
	mux.Handle("POST /api/v1/plan", chain(http.HandlerFunc(h.Plan)))
	mux.Handle("GET /api/v1/params", chain(http.HandlerFunc(h.ListParams)))

	// Launch presets
	mux.Handle("GET /api/v1/presets", chain(http.HandlerFunc(h.ListPresets)))
	mux.Handle("GET /api/v1/presets/{name}", chain(http.HandlerFunc(h.GetPreset)))
}
