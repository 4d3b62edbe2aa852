package jobModel

import (
	"context"
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "Queued"
	JobStatusProcessing JobStatus = "Processing"
	JobStatusCompleted  JobStatus = "Completed"
	JobStatusFailed     JobStatus = "Failed"
)

// Job is the process-wide record for one archive processing run. It is
// created at submission, mutated only through the progress tracker as
// document groups complete, and read-only to the status endpoint.
type Job struct {
	Id              string    `json:"job_id"`
	TraceId         string    `json:"trace_id"`
	UploadName      string    `json:"upload_name,omitempty"`
	ArchivePath     string    `json:"archive_path,omitempty"`
	Status          JobStatus `json:"status"`
	Details         string    `json:"details"`
	TotalGroups     int       `json:"total_groups"`
	GroupsProcessed int       `json:"groups_processed"`
	ProgressPercent float64   `json:"progress_percent"`
	ResultPath      string    `json:"result_path,omitempty"`
	ResultXLSXPath  string    `json:"result_xlsx_path,omitempty"`
	CreatedTime     time.Time `json:"created_time"`
	EndTime         time.Time `json:"end_time,omitempty"`
}

type JobStore interface {
	GetJob(ctx context.Context, jobId string) (Job, bool)
	SaveJob(ctx context.Context, job Job) error
	DeleteJob(ctx context.Context, jobID string)
}
