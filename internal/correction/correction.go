// Package correction repairs model output the normalizer rejected and fills
// fields a first extraction pass left empty. Repair is escalating: a cheap
// local sanitizer first, model-assisted correction rounds only when that
// fails.
package correction

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"docpipe/internal/domain/docModel"
	"docpipe/internal/gateway"
	"docpipe/internal/normalize"
	"docpipe/internal/prompts"
	"docpipe/internal/schema"
	"docpipe/pkg/logger_i"
)

var trailingCommaPattern = regexp.MustCompile(`,\s*([\]}])`)

// SanitizeJSONText applies the local repairs that fix the common model
// mistakes without a round trip: code fences, prose around the object, and
// trailing commas. Idempotent; sanitizing twice changes nothing.
func SanitizeJSONText(s string) string {
	s = normalize.StripCodeFences(s)

	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first >= 0 && last > first {
		s = s[first : last+1]
	}

	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

type MergePolicy int

const (
	// MergeNeverOverwrite fills gaps only; an existing value is never replaced.
	MergeNeverOverwrite MergePolicy = iota
	// MergeBestConfidence keeps whichever extraction is more confident.
	MergeBestConfidence
	// MergeLastWrite prefers the newer extraction for every answered field.
	MergeLastWrite
)

// ParsePolicy maps a configuration name to a policy, defaulting to
// never-overwrite for unrecognized names.
func ParsePolicy(name string) MergePolicy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "best-confidence":
		return MergeBestConfidence
	case "last-write":
		return MergeLastWrite
	default:
		return MergeNeverOverwrite
	}
}

func (p MergePolicy) String() string {
	switch p {
	case MergeBestConfidence:
		return "best-confidence"
	case MergeLastWrite:
		return "last-write"
	default:
		return "never-overwrite"
	}
}

// Merge folds an update into a base extraction under the policy. Whatever
// the policy, an answered field is never degraded back to nil.
func Merge(base docModel.ExtractionResult, update docModel.ExtractionResult, policy MergePolicy) docModel.ExtractionResult {
	merged := make(docModel.ExtractionResult, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for name, next := range update {
		prev, exists := merged[name]
		if !exists {
			merged[name] = next
			continue
		}
		if next.Value == nil {
			continue
		}
		if prev.Value == nil {
			merged[name] = next
			continue
		}
		switch policy {
		case MergeBestConfidence:
			if next.Confidence > prev.Confidence {
				merged[name] = next
			}
		case MergeLastWrite:
			merged[name] = next
		}
	}
	return merged
}

// Loop owns the repair budget shared by every call site.
type Loop struct {
	invoker  gateway.Invoker
	attempts int
	logger   *logger_i.Logger
}

func NewLoop(invoker gateway.Invoker, attempts int) *Loop {
	if attempts < 0 {
		attempts = 0
	}
	return &Loop{
		invoker:  invoker,
		attempts: attempts,
		logger:   logger_i.NewLogger("CorrectionLoop"),
	}
}

// Recover drives the escalation for a payload decode rejected. The decode
// callback returns nil once it accepted a candidate text; its closure keeps
// the decoded result. Order: local sanitizer, then model-assisted corrections
// up to the budget.
func (l *Loop) Recover(ctx context.Context, raw string, decodeErr error, decode func(text string) error) error {
	sanitized := SanitizeJSONText(raw)
	if sanitized != raw {
		if err := decode(sanitized); err == nil {
			l.logger.Info("Recovered payload with local sanitizer")
			return nil
		}
	}

	lastText := raw
	lastErr := decodeErr
	for attempt := 1; attempt <= l.attempts; attempt++ {
		l.logger.Warn("Requesting model-assisted correction",
			"attempt", attempt, "attempts_budget", l.attempts, "error", lastErr)

		resp, err := l.invoker.Invoke(ctx, gateway.Request{
			Instruction: prompts.Correction(lastText, lastErr),
		})
		if err != nil {
			return fmt.Errorf("correction call failed: %w", err)
		}

		candidate := SanitizeJSONText(resp.Payload())
		if err := decode(candidate); err == nil {
			l.logger.Info("Recovered payload with model correction", "attempt", attempt)
			return nil
		} else {
			lastText = resp.Payload()
			lastErr = err
		}
	}

	return fmt.Errorf("correction budget of %d attempts exhausted: %w", l.attempts, lastErr)
}

// FillMissing re-asks for the fields an extraction left empty and folds the
// answers into the base under the merge policy. A failed re-ask degrades to
// the base result rather than erroring; the first pass already answered.
func (l *Loop) FillMissing(
	ctx context.Context,
	pages []gateway.Part,
	docType string,
	missing []schema.FieldDefinition,
	base docModel.ExtractionResult,
	policy MergePolicy,
) docModel.ExtractionResult {
	if len(missing) == 0 {
		return base
	}
	names := make([]string, len(missing))
	for i, f := range missing {
		names[i] = f.Name
	}
	l.logger.Info("Re-asking for empty fields", "doc_type", docType, "fields", names)

	resp, err := l.invoker.Invoke(ctx, gateway.Request{
		Instruction: prompts.ReAsk(docType, missing, len(pages)),
		Pages:       pages,
		ToolName:    "record_extracted_fields",
		ToolSchema:  prompts.ExtractionToolSchema(missing),
	})
	if err != nil {
		l.logger.Warn("Re-ask call failed, keeping first-pass result", "doc_type", docType, "error", err)
		return base
	}

	var update docModel.ExtractionResult
	decode := func(text string) error {
		var err error
		update, err = normalize.Extraction(text, missing)
		return err
	}
	if err := decode(resp.Payload()); err != nil {
		if recErr := l.Recover(ctx, resp.Payload(), err, decode); recErr != nil {
			l.logger.Warn("Re-ask payload unrecoverable, keeping first-pass result",
				"doc_type", docType, "error", recErr)
			return base
		}
	}

	return Merge(base, update, policy)
}
