package adapter

import (
	"fmt"
	"time"

	"docpipe/internal/api"
	"docpipe/internal/domain/jobModel"
)

func ToInitJobResponse(id string) api.InitJobResponse {
	return api.InitJobResponse{
		Id:        id,
		StatusURL: fmt.Sprintf("status/%s", id),
	}
}

func ToAPIResponse(job jobModel.Job) api.JobResponse {
	result := api.Result{
		Status:          string(job.Status),
		Details:         job.Details,
		TotalGroups:     job.TotalGroups,
		GroupsProcessed: job.GroupsProcessed,
		ProgressPercent: job.ProgressPercent,
	}
	if job.Status == jobModel.JobStatusCompleted && job.ResultPath != "" {
		result.DownloadURL = fmt.Sprintf("download/%s", job.Id)
	}

	return api.JobResponse{
		Id:        job.Id,
		StartTime: job.CreatedTime,
		EndTime:   job.EndTime,
		Result:    result,
	}
}

func BadRequest(id string, message string, code int) api.JobResponse {
	return api.JobResponse{
		Id:        id,
		StartTime: time.Time{},
		EndTime:   time.Time{},
		Result: api.Result{
			Status: string(api.JobStatusError),
		},
		Error: &api.JobOutgoingError{
			Code:    code,
			Message: message,
			Retry:   false,
		},
	}
}
