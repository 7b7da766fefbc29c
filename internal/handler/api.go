// Package handler contains the HTTP handlers and middleware exposing the
// execution core to the dashboard UI.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"playbookd/internal/coordinator"
	"playbookd/internal/history"
	"playbookd/internal/model"
	"playbookd/internal/registry"
	"playbookd/internal/stats"
	"playbookd/internal/workspace"
)

// API bundles the handlers with their collaborators.
type API struct {
	logger *log.Logger
	ws     *workspace.Workspace
	coord  *coordinator.Coordinator
	reg    *registry.Registry
	hist   *history.Store
	stats  *stats.Aggregator
}

func NewAPI(logger *log.Logger, ws *workspace.Workspace, coord *coordinator.Coordinator, reg *registry.Registry, hist *history.Store, agg *stats.Aggregator) *API {
	return &API{logger: logger, ws: ws, coord: coord, reg: reg, hist: hist, stats: agg}
}

// Routes builds the routing tree, CORS included so that preflight requests
// are answered even for method mismatches. Clients poll GET /api/jobs/{jobId}
// until the status is terminal; reads are cheap and tolerate any number of
// pollers.
func (a *API) Routes() http.Handler {
	r := mux.NewRouter().StrictSlash(true)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/folders", a.ListFolders).Methods(http.MethodGet)
	api.HandleFunc("/folders/{folder}/inventory", a.GetInventory).Methods(http.MethodGet)
	api.HandleFunc("/folders/{folder}/inventory", a.UpdateInventory).Methods(http.MethodPost)
	api.HandleFunc("/folders/{folder}/vars", a.GetVars).Methods(http.MethodGet)
	api.HandleFunc("/folders/{folder}/vars", a.UpdateVars).Methods(http.MethodPost)

	api.HandleFunc("/run", a.RunPlaybook).Methods(http.MethodPost)
	api.HandleFunc("/jobs", a.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobId}", a.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobId}", a.CancelJob).Methods(http.MethodDelete)

	api.HandleFunc("/history", a.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/history", a.ClearHistory).Methods(http.MethodDelete)
	api.HandleFunc("/history/{jobId}", a.GetHistoryItem).Methods(http.MethodGet)

	api.HandleFunc("/statistics", a.GetStatistics).Methods(http.MethodGet)
	return CORS(r)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	marshalled, err := json.Marshal(v)
	if err != nil {
		a.logger.Printf("An error occurred while preparing output: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(marshalled)
}

// writeError maps the core's error taxonomy onto status codes, with the
// message under "detail".
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidTarget):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyRunning), errors.Is(err, model.ErrNotRunning):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		a.logger.Printf("Internal error: %v", err)
	}
	a.writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.logger.Printf("An error occurred while unmarshaling input: %v", err)
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return false
	}
	return true
}
