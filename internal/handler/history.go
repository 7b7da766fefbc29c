package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// GetHistory lists finished executions, newest first, previews only.
func (a *API) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid limit"})
			return
		}
		limit = n
	}
	recs, err := a.hist.List(r.Context(), limit, 0)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, recs)
}

// GetHistoryItem returns one record with its full output.
func (a *API) GetHistoryItem(w http.ResponseWriter, r *http.Request) {
	rec, err := a.hist.Get(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rec)
}

// ClearHistory irreversibly deletes every record.
func (a *API) ClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := a.hist.Clear(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.logger.Printf("History cleared: %d records removed", n)
	a.writeJSON(w, http.StatusOK, map[string]any{"success": true, "cleared": n})
}

// GetStatistics serves the derived metrics snapshot.
func (a *API) GetStatistics(w http.ResponseWriter, r *http.Request) {
	snap, err := a.stats.Snapshot(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}
