// Package progress keeps a job's externally visible state current in the job
// store while group workers complete in arbitrary order.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docpipe/internal/domain/jobModel"
	"docpipe/pkg/logger_i"
)

type Tracker struct {
	mu     sync.Mutex
	store  jobModel.JobStore
	job    jobModel.Job
	logger *logger_i.Logger
}

func NewTracker(store jobModel.JobStore, job jobModel.Job) *Tracker {
	return &Tracker{
		store:  store,
		job:    job,
		logger: logger_i.NewLogger("ProgressTracker").With("jobId", job.Id),
	}
}

// Begin records the total group count and moves the job to Processing.
func (t *Tracker) Begin(ctx context.Context, totalGroups int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job.Status = jobModel.JobStatusProcessing
	t.job.TotalGroups = totalGroups
	t.job.GroupsProcessed = 0
	t.job.ProgressPercent = 0
	t.job.Details = fmt.Sprintf("Processing %d group(s)", totalGroups)
	t.save(ctx)
}

// GroupDone advances the counter by one completed group, whatever its outcome.
func (t *Tracker) GroupDone(ctx context.Context, groupName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job.GroupsProcessed++
	if t.job.TotalGroups > 0 {
		t.job.ProgressPercent = 100 * float64(t.job.GroupsProcessed) / float64(t.job.TotalGroups)
	}
	t.job.Details = fmt.Sprintf("Processed %d/%d: Group '%s'",
		t.job.GroupsProcessed, t.job.TotalGroups, groupName)
	t.save(ctx)
}

func (t *Tracker) Complete(ctx context.Context, resultPath string, xlsxPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job.Status = jobModel.JobStatusCompleted
	t.job.ProgressPercent = 100
	t.job.Details = fmt.Sprintf("Completed %d group(s)", t.job.GroupsProcessed)
	t.job.ResultPath = resultPath
	t.job.ResultXLSXPath = xlsxPath
	t.job.EndTime = time.Now()
	t.save(ctx)
}

func (t *Tracker) Fail(ctx context.Context, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job.Status = jobModel.JobStatusFailed
	t.job.Details = reason
	t.job.EndTime = time.Now()
	t.save(ctx)
}

func (t *Tracker) Snapshot() jobModel.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job
}

// save runs under the tracker lock. A store failure only costs status
// visibility, never the pipeline itself.
func (t *Tracker) save(ctx context.Context) {
	if err := t.store.SaveJob(ctx, t.job); err != nil {
		t.logger.Warn("Job progress save failed", "error", err)
	}
}
