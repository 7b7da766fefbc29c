// Package model provides the data model shared by the playbookd components.
package model

import "time"

// Status is the lifecycle state of a Job. Transitions are monotonic:
// queued -> running -> exactly one terminal state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusErrored   Status = "errored"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusErrored, StatusCancelled:
		return true
	}
	return false
}

// A Job represents one execution attempt of a playbook against a folder's
// inventory. The mapping is one-to-one -- one OS process per job.
type Job struct {
	ID        string `json:"job_id"`
	Folder    string `json:"folder"`
	Playbook  string `json:"playbook"`
	Inventory string `json:"inventory"`

	// Variables is the snapshot supplied at submission time. Later edits to
	// the folder's vars file never reach a running job.
	Variables map[string]any `json:"-"`

	Status      Status     `json:"status"`
	Output      string     `json:"output"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	ReturnCode  *int       `json:"return_code"`
	Duration    *float64   `json:"duration"`
}

// Target identifies what the job runs: the (folder, playbook) pair. At most
// one job per target may be active at a time.
func (j *Job) Target() string { return j.Folder + "/" + j.Playbook }
