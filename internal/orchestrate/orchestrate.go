// Package orchestrate drives one document group from page bytes to a result
// row: classification, per-section extraction, payload repair and the re-ask
// pass for empty fields. Failures degrade per group and per section; one
// group's outcome never touches another's.
package orchestrate

import (
	"context"
	"fmt"
	"os"

	"docpipe/internal/correction"
	"docpipe/internal/domain/docModel"
	"docpipe/internal/gateway"
	"docpipe/internal/metrics"
	"docpipe/internal/normalize"
	"docpipe/internal/prompts"
	"docpipe/internal/schema"
	"docpipe/pkg/logger_i"
)

type Orchestrator struct {
	registry *schema.Registry
	invoker  gateway.Invoker
	loop     *correction.Loop
	policy   correction.MergePolicy
	logger   *logger_i.Logger
}

func New(registry *schema.Registry, invoker gateway.Invoker, loop *correction.Loop, policy correction.MergePolicy) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		invoker:  invoker,
		loop:     loop,
		policy:   policy,
		logger:   logger_i.NewLogger("Orchestrator"),
	}
}

// ProcessGroup always returns a row; every failure mode lands in the row's
// Processing_Status instead of an error return.
func (o *Orchestrator) ProcessGroup(ctx context.Context, group docModel.DocumentGroup) docModel.ResultRow {
	row := docModel.NewResultRow(group)
	logger := o.logger.With("case_id", group.CaseID, "group", group.BaseName)

	parts, numPages, err := loadParts(group, logger)
	if err != nil {
		row.SetStatus(fmt.Sprintf("Classification Failed: %v", err))
		metrics.CaptureGroupProcessed("classification_failed")
		return row
	}

	classification, err := o.classify(ctx, parts, numPages)
	if err != nil {
		logger.Error("Classification failed", "error", err)
		row.SetStatus(fmt.Sprintf("Classification Failed: %v", err))
		metrics.CaptureGroupProcessed("classification_failed")
		return row
	}
	row.SetClassification(classification)
	logger.Info("Group classified",
		"type", classification.ClassifiedType, "confidence", classification.Confidence)

	if classification.ClassifiedType == docModel.UnknownType {
		row.SetStatus(docModel.StatusUnknownType)
		metrics.CaptureGroupProcessed("unknown_type")
		return row
	}

	docType := classification.ClassifiedType
	sections, _ := o.registry.Sections(docType)

	combined := make(docModel.ExtractionResult)
	sectionFailures := 0
	var lastSectionErr error
	for _, section := range sections {
		extracted, err := o.extractSection(ctx, parts, docType, group.CaseID, numPages, section)
		if err != nil {
			logger.Warn("Section extraction failed, fields degrade to null",
				"section", section.Name, "error", err)
			sectionFailures++
			lastSectionErr = err
			for _, f := range section.Fields {
				combined[f.Name] = docModel.NewFieldExtraction(nil, 0, "")
			}
			continue
		}
		combined = correction.Merge(combined, extracted, correction.MergeNeverOverwrite)
	}

	combined = o.reAskMissing(ctx, parts, docType, combined)

	allFields := o.registry.AllFields(docType)
	nullFields := 0
	for _, f := range allFields {
		fe, ok := combined[f.Name]
		if !ok {
			fe = docModel.NewFieldExtraction(nil, 0, "")
		}
		if fe.Value == nil {
			nullFields++
		}
		row.SetField(docType, f.Name, fe)
	}

	// A row is a full success only when every field holds a value. Fields
	// still null after the re-ask pass degrade the row, and a group where
	// every section failed and nothing was recovered failed outright.
	switch {
	case len(sections) > 0 && sectionFailures == len(sections) && nullFields == len(allFields):
		row.SetStatus(fmt.Sprintf("Extraction Failed: %v", lastSectionErr))
		metrics.CaptureGroupProcessed("extraction_failed")
	case sectionFailures > 0 || nullFields > 0:
		row.SetStatus(docModel.StatusPartialSuccess)
		metrics.CaptureGroupProcessed("partial_success")
	default:
		row.SetStatus(docModel.StatusSuccess)
		metrics.CaptureGroupProcessed("success")
	}
	return row
}

func (o *Orchestrator) classify(ctx context.Context, parts []gateway.Part, numPages int) (docModel.ClassificationResult, error) {
	acceptable := o.registry.AcceptableTypes()
	toolSchema := prompts.ClassificationToolSchema(acceptable)
	resp, err := o.invoker.Invoke(ctx, gateway.Request{
		Instruction: prompts.Classification(numPages, acceptable),
		Pages:       parts,
		ToolName:    "record_classification",
		ToolSchema:  toolSchema,
	})
	if err != nil {
		return docModel.ClassificationResult{}, err
	}

	var result docModel.ClassificationResult
	decode := func(text string) error {
		obj, err := normalize.DecodeObject(text)
		if err != nil {
			return err
		}
		if verr := normalize.Validate(obj, toolSchema); verr != nil {
			return &normalize.Error{Reason: "classification payload violates the response schema", RawText: text, Err: verr}
		}
		result, err = normalize.Classification(text, acceptable)
		return err
	}
	if err := decode(resp.Payload()); err != nil {
		if recErr := o.loop.Recover(ctx, resp.Payload(), err, decode); recErr != nil {
			return docModel.ClassificationResult{}, recErr
		}
	}
	return result, nil
}

func (o *Orchestrator) extractSection(
	ctx context.Context,
	parts []gateway.Part,
	docType string,
	caseID string,
	numPages int,
	section schema.Section,
) (docModel.ExtractionResult, error) {
	toolSchema := prompts.ExtractionToolSchema(section.Fields)
	resp, err := o.invoker.Invoke(ctx, gateway.Request{
		Instruction: prompts.Extraction(docType, caseID, numPages, section),
		Pages:       parts,
		ToolName:    "record_extracted_fields",
		ToolSchema:  toolSchema,
	})
	if err != nil {
		return nil, err
	}

	var result docModel.ExtractionResult
	decode := func(text string) error {
		obj, err := normalize.DecodeObject(text)
		if err != nil {
			return err
		}
		if verr := normalize.Validate(obj, toolSchema); verr != nil {
			return &normalize.Error{Reason: "extraction payload violates the response schema", RawText: text, Err: verr}
		}
		result, err = normalize.Extraction(text, section.Fields)
		return err
	}
	if err := decode(resp.Payload()); err != nil {
		if recErr := o.loop.Recover(ctx, resp.Payload(), err, decode); recErr != nil {
			return nil, recErr
		}
	}
	return result, nil
}

func (o *Orchestrator) reAskMissing(ctx context.Context, parts []gateway.Part, docType string, combined docModel.ExtractionResult) docModel.ExtractionResult {
	allFields := o.registry.AllFields(docType)
	names := make([]string, len(allFields))
	byName := make(map[string]schema.FieldDefinition, len(allFields))
	for i, f := range allFields {
		names[i] = f.Name
		byName[f.Name] = f
	}

	var missing []schema.FieldDefinition
	for _, name := range combined.MissingFields(names) {
		missing = append(missing, byName[name])
	}
	if len(missing) == 0 {
		return combined
	}
	return o.loop.FillMissing(ctx, parts, docType, missing, combined, o.policy)
}

// loadParts reads the group's page files. Unreadable pages are skipped with a
// warning; a group with no readable page at all is an error.
func loadParts(group docModel.DocumentGroup, logger *logger_i.Logger) ([]gateway.Part, int, error) {
	var parts []gateway.Part
	numPages := 0
	for _, page := range group.Pages {
		data, err := os.ReadFile(page.Path)
		if err != nil {
			logger.Warn("Skipping unreadable page", "path", page.Path, "error", err)
			continue
		}
		parts = append(parts, gateway.Part{MIMEType: page.MIMEType, Data: data})
		if page.PDFPages > 1 {
			numPages += page.PDFPages
		} else {
			numPages++
		}
	}
	if len(parts) == 0 {
		return nil, 0, fmt.Errorf("no readable pages in group %q", group.BaseName)
	}
	return parts, numPages, nil
}
