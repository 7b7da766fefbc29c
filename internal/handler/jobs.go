package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

type runRequest struct {
	Folder    string         `json:"folder"`
	Playbook  string         `json:"playbook"`
	Inventory string         `json:"inventory"`
	Vars      map[string]any `json:"vars"`
}

// RunPlaybook submits a playbook execution and returns its job id. The call
// returns as soon as the job is admitted; progress is observed via GetJob.
func (a *API) RunPlaybook(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	jobID, err := a.coord.Submit(req.Folder, req.Playbook, req.Inventory, req.Vars)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

// ListJobs returns all jobs still held by the registry.
func (a *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.reg.List())
}

// GetJob is the polling endpoint. After the retention window an evicted job
// is a 404 here; its record lives on under /api/history.
func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.reg.Get(mux.Vars(r)["jobId"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, job)
}

// CancelJob kills a running job's process. The job settles as cancelled
// through the normal completion path.
func (a *API) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	if err := a.coord.Cancel(jobID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"success": true, "job_id": jobID})
}
