// Package prompts builds the model instructions and the tool schemas that
// constrain structured answers. Property names in the schemas use the same
// canonical form the normalizer matches on, so a compliant answer reconciles
// without drift handling.
package prompts

import (
	"fmt"
	"strings"

	"docpipe/internal/normalize"
	"docpipe/internal/schema"
)

// Classification asks for the document type of a page group. All pages of
// the group ride along on the same request so multi-page documents are
// classified as one unit.
func Classification(numPages int, acceptableTypes []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a document classification expert. You are given all %d page(s) of a single scanned business document, in order.\n\n", numPages)
	b.WriteString("Examine the page(s) and respond with a single JSON object with exactly these keys:\n")
	b.WriteString("  \"image_description\": a one-sentence description of what the page(s) show.\n")
	b.WriteString("  \"image_type\": the physical artifact kind, e.g. \"scanned letter\", \"form\", \"photograph\".\n")
	fmt.Fprintf(&b, "  \"classified_type\": exactly one of: %s.\n", strings.Join(acceptableTypes, ", "))
	b.WriteString("  \"confidence\": your confidence in the classification, a number between 0.0 and 1.0.\n")
	b.WriteString("  \"reasoning\": a short justification for the chosen type.\n\n")
	b.WriteString("Use \"UNKNOWN\" when the document matches none of the listed types. Respond with the JSON object only, no surrounding text.")
	return b.String()
}

// Extraction asks for one section's fields from an already-classified group.
func Extraction(docType string, caseID string, numPages int, section schema.Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a data extraction expert for %s documents. You are given all %d page(s) of document case %s, in order.\n\n", docType, numPages, caseID)
	fmt.Fprintf(&b, "Extract the following %s fields:\n", section.Name)
	for _, f := range section.Fields {
		fmt.Fprintf(&b, "  - %s: %s\n", f.Name, f.Guidance)
	}
	b.WriteString("\nRespond with a single JSON object. For each field use the key ")
	b.WriteString("shown above and an object value with exactly these keys:\n")
	b.WriteString("  \"value\": the extracted value as a string, or null when the document does not contain it.\n")
	b.WriteString("  \"confidence\": a number between 0.0 and 1.0; use 0.0 when the value is null.\n")
	b.WriteString("  \"reasoning\": where on the page the value was found, or why it is null.\n\n")
	b.WriteString("Never guess. A null value with an honest reasoning beats a fabricated one. Respond with the JSON object only.")
	return b.String()
}

// Correction feeds a broken payload back for repair. The parser diagnosis is
// included verbatim so the model sees what the decoder choked on.
func Correction(badText string, parseErr error) string {
	var b strings.Builder
	b.WriteString("Your previous response could not be parsed as JSON.\n\n")
	if parseErr != nil {
		fmt.Fprintf(&b, "Parser error: %v\n\n", parseErr)
	}
	b.WriteString("Previous response:\n")
	b.WriteString(badText)
	b.WriteString("\n\nReturn the same content as one syntactically valid JSON object. ")
	b.WriteString("Fix the syntax only; do not change any values. Respond with the JSON object only, no code fences, no commentary.")
	return b.String()
}

// ReAsk targets only the fields a prior extraction left empty.
func ReAsk(docType string, fields []schema.FieldDefinition, numPages int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You previously extracted data from this %s document (%d page(s)), but the following fields came back empty. Look again, carefully:\n", docType, numPages)
	for _, f := range fields {
		fmt.Fprintf(&b, "  - %s: %s\n", f.Name, f.Guidance)
	}
	b.WriteString("\nRespond with a single JSON object holding only these fields. For each field the value is an object with keys ")
	b.WriteString("\"value\" (string or null), \"confidence\" (0.0 to 1.0, 0.0 when null) and \"reasoning\".\n")
	b.WriteString("If a field is genuinely absent from the document, keep it null. Respond with the JSON object only.")
	return b.String()
}

// ClassificationToolSchema constrains structured classification answers.
func ClassificationToolSchema(acceptableTypes []string) map[string]any {
	anyTypes := make([]any, len(acceptableTypes))
	for i, t := range acceptableTypes {
		anyTypes[i] = t
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"image_description": map[string]any{"type": "string"},
			"image_type":        map[string]any{"type": "string"},
			"classified_type":   map[string]any{"type": "string", "enum": anyTypes},
			"confidence":        map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"reasoning":         map[string]any{"type": "string"},
		},
		"required": []any{"image_description", "image_type", "classified_type", "confidence", "reasoning"},
	}
}

// ExtractionToolSchema constrains structured extraction answers. Property
// names are the fields' canonical fingerprints.
func ExtractionToolSchema(fields []schema.FieldDefinition) map[string]any {
	properties := make(map[string]any, len(fields))
	required := make([]any, 0, len(fields))
	for _, f := range fields {
		key := normalize.Fingerprint(f.Name)
		properties[key] = map[string]any{
			"type":        "object",
			"description": f.Guidance,
			"properties": map[string]any{
				"value":      map[string]any{"type": []any{"string", "null"}},
				"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				"reasoning":  map[string]any{"type": "string"},
			},
			"required": []any{"value", "confidence", "reasoning"},
		}
		required = append(required, key)
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
