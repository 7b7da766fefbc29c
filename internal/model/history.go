package model

import "time"

// PreviewLimit is how much of a job's output is kept inline on history
// records for list views. The full output stays retrievable by id.
const PreviewLimit = 500

// A HistoryRecord is the immutable archived projection of a finished Job.
// It is created exactly once, when the job reaches a terminal state.
type HistoryRecord struct {
	JobID         string    `json:"job_id"`
	Folder        string    `json:"folder"`
	Playbook      string    `json:"playbook"`
	Status        Status    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	Duration      float64   `json:"duration"`
	ReturnCode    *int      `json:"return_code"`
	OutputPreview string    `json:"output_preview"`
	Output        string    `json:"output,omitempty"`
}

// FolderCount is one entry of the most-used-folders ranking.
type FolderCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Statistics is a derived snapshot over the history store. It is computed on
// demand and never persisted.
type Statistics struct {
	TotalExecutions int             `json:"total_executions"`
	Successful      int             `json:"successful"`
	Failed          int             `json:"failed"`
	SuccessRate     float64         `json:"success_rate"`
	AverageDuration float64         `json:"average_duration"`
	MostUsedFolders []FolderCount   `json:"most_used_folders"`
	RecentActivity  []HistoryRecord `json:"recent_activity"`
}
