// Package pipeline runs one submitted archive end to end: extraction to a
// scratch directory, case discovery, page grouping, concurrent group
// processing and the result files. One job, one Run call, one result CSV.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"docpipe/internal/archive"
	"docpipe/internal/config"
	"docpipe/internal/domain/docModel"
	"docpipe/internal/domain/jobModel"
	"docpipe/internal/grouping"
	"docpipe/internal/metrics"
	"docpipe/internal/orchestrate"
	"docpipe/internal/progress"
	"docpipe/internal/schema"
	"docpipe/internal/sink"
	"docpipe/pkg/logger_i"
)

type Pipeline struct {
	orchestrator *orchestrate.Orchestrator
	registry     *schema.Registry
	store        jobModel.JobStore
	resultsDir   string
	logger       *logger_i.Logger
}

func New(orchestrator *orchestrate.Orchestrator, registry *schema.Registry, store jobModel.JobStore, resultsDir string) *Pipeline {
	return &Pipeline{
		orchestrator: orchestrator,
		registry:     registry,
		store:        store,
		resultsDir:   resultsDir,
		logger:       logger_i.NewLogger("Pipeline"),
	}
}

// Run processes one job's archive. All failure modes end in the tracker, as
// a Failed status with details; Run itself never panics out.
func (p *Pipeline) Run(ctx context.Context, job jobModel.Job) {
	tracker := progress.NewTracker(p.store, job)
	logger := p.logger.With("jobId", job.Id, "traceId", job.TraceId)
	start := time.Now()

	workDir := filepath.Join(config.TempDirName, job.Id)
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("Scratch dir cleanup failed", "dir", workDir, "error", err)
		}
		if err := os.Remove(job.ArchivePath); err != nil && !os.IsNotExist(err) {
			logger.Warn("Archive cleanup failed", "path", job.ArchivePath, "error", err)
		}
	}()

	if err := os.MkdirAll(workDir, 0750); err != nil {
		p.fail(ctx, tracker, logger, start, fmt.Sprintf("Failed to create scratch directory: %v", err))
		return
	}
	if err := archive.ExtractZip(job.ArchivePath, workDir); err != nil {
		p.fail(ctx, tracker, logger, start, fmt.Sprintf("Failed to extract archive: %v", err))
		return
	}

	cases, err := archive.DiscoverCases(workDir)
	if err != nil {
		p.fail(ctx, tracker, logger, start, fmt.Sprintf("Failed to scan archive contents: %v", err))
		return
	}
	if len(cases) == 0 {
		p.fail(ctx, tracker, logger, start, "No processable document files found in the archive.")
		return
	}

	groups := collectGroups(cases)
	logger.Info("Archive prepared", "cases", len(cases), "groups", len(groups))
	tracker.Begin(ctx, len(groups))

	if err := os.MkdirAll(p.resultsDir, 0750); err != nil {
		p.fail(ctx, tracker, logger, start, fmt.Sprintf("Failed to create results directory: %v", err))
		return
	}
	csvPath := filepath.Join(p.resultsDir, fmt.Sprintf("%s_%s.csv", config.OutputBaseName, job.Id))
	writer, err := sink.NewCSVWriter(csvPath, p.registry.ColumnOrder())
	if err != nil {
		p.fail(ctx, tracker, logger, start, fmt.Sprintf("Failed to open result file: %v", err))
		return
	}

	p.processGroups(ctx, groups, writer, tracker, logger)

	if writer.RowCount() == 0 {
		placeholder := docModel.ResultRow{}
		placeholder.SetStatus("No data processed.")
		if err := writer.Append(placeholder); err != nil {
			logger.Error("Placeholder row write failed", "error", err)
		}
	}
	if err := writer.Close(); err != nil {
		p.fail(ctx, tracker, logger, start, fmt.Sprintf("Failed to finalize result file: %v", err))
		return
	}

	xlsxPath := filepath.Join(p.resultsDir, fmt.Sprintf("%s_%s.xlsx", config.OutputBaseName, job.Id))
	if err := sink.ExportXLSX(csvPath, xlsxPath); err != nil {
		logger.Warn("XLSX export failed, CSV remains available", "error", err)
		xlsxPath = ""
	}

	metrics.CaptureJobMetrics("completed", time.Since(start))
	tracker.Complete(ctx, csvPath, xlsxPath)
	logger.Info("Job completed",
		"groups", len(groups), "elapsed_ms", time.Since(start).Milliseconds(), "result", csvPath)
}

func (p *Pipeline) processGroups(
	ctx context.Context,
	groups []docModel.DocumentGroup,
	writer *sink.CSVWriter,
	tracker *progress.Tracker,
	logger *logger_i.Logger,
) {
	limit := config.GroupConcurrency
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for _, group := range groups {
		wg.Add(1)
		go func(group docModel.DocumentGroup) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			row := p.processGroupSafe(ctx, group)
			if err := writer.Append(row); err != nil {
				logger.Error("Result row write failed",
					"case_id", group.CaseID, "group", group.BaseName, "error", err)
			}
			tracker.GroupDone(ctx, group.BaseName)
		}(group)
	}
	wg.Wait()
}

// processGroupSafe guarantees the one-row-per-group contract even when a
// group's processing panics.
func (p *Pipeline) processGroupSafe(ctx context.Context, group docModel.DocumentGroup) (row docModel.ResultRow) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Group processing panicked",
				"case_id", group.CaseID, "group", group.BaseName, "cause", r)
			row = docModel.NewResultRow(group)
			row.SetStatus(fmt.Sprintf("Processing Failed: internal error: %v", r))
			metrics.CaptureGroupProcessed("panic")
		}
	}()
	return p.orchestrator.ProcessGroup(ctx, group)
}

func (p *Pipeline) fail(ctx context.Context, tracker *progress.Tracker, logger *logger_i.Logger, start time.Time, reason string) {
	logger.Error("Job failed", "reason", reason)
	metrics.CaptureJobMetrics("failed", time.Since(start))
	tracker.Fail(ctx, reason)
}

// collectGroups flattens discovered cases into one deterministic group list.
func collectGroups(cases map[string][]docModel.PageRef) []docModel.DocumentGroup {
	caseIDs := make([]string, 0, len(cases))
	for caseID := range cases {
		caseIDs = append(caseIDs, caseID)
	}
	sort.Strings(caseIDs)

	var groups []docModel.DocumentGroup
	for _, caseID := range caseIDs {
		groups = append(groups, grouping.GroupCase(caseID, cases[caseID])...)
	}
	return groups
}
