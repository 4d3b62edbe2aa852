package worker

import (
	"context"
	"sync/atomic"

	"docpipe/internal/config"
	"docpipe/internal/domain/jobModel"
	"docpipe/internal/metrics"
)

// executeJob hands one queued job to the pipeline. Archive runs are long;
// the only deadline is the per-call timeout inside the model gateway.
func executeJob(currentJob jobModel.Job) {
	ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, currentJob.TraceId)
	logger.Info("Processing job", "jobId", currentJob.Id, "traceId", currentJob.TraceId)
	_pipeline.Run(ctx, currentJob)
}

func removeWorker(reason string) {
	workerWaitGroup.Done()
	atomic.AddInt64(&currentWorkerCount, -1)
	logger.Info("Removed worker", "reason", reason, "workerCount", atomic.LoadInt64(&currentWorkerCount))
	metrics.DecrementActiveWorkerCount()
}
