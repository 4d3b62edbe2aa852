// Package normalize turns raw model output into typed domain values. Models
// drift: they wrap JSON in code fences, rename keys, or return scalars where
// an object was asked for. Everything here is tolerant on input and strict on
// output.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"docpipe/internal/domain/docModel"
	"docpipe/internal/schema"
)

// Error reports why a model payload could not be normalized. RawText is kept
// so the correction loop can feed it back to the model.
type Error struct {
	Reason  string
	RawText string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize: %s: %v", e.Reason, e.Err)
	}
	return "normalize: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// StripCodeFences removes a surrounding markdown code fence, with or without
// a language tag. Text without fences passes through unchanged.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if len(firstLine) <= 20 && !strings.ContainsAny(firstLine, "{}[]\":,") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Fingerprint canonicalizes a key for drift-tolerant matching: uppercase with
// every non-alphanumeric run collapsed to a single underscore. "Swift Code",
// "SWIFT_CODE" and "swift-code" all fingerprint identically.
func Fingerprint(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingSep := false
	for _, r := range strings.ToUpper(name) {
		isAlnum := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DecodeObject parses a model payload into a generic JSON object, stripping
// code fences first and tolerating trailing noise around the object. The
// returned error carries the strict parser's diagnosis for correction prompts.
func DecodeObject(raw string) (map[string]any, error) {
	text := StripCodeFences(raw)
	if text == "" {
		return nil, &Error{Reason: "empty response", RawText: raw}
	}

	if gjson.Valid(text) {
		parsed := gjson.Parse(text)
		if parsed.IsObject() {
			return parsed.Value().(map[string]any), nil
		}
		return nil, &Error{Reason: "payload is not a JSON object", RawText: raw}
	}

	// Derive the exact parse failure for the correction prompt.
	var probe any
	err := json.Unmarshal([]byte(text), &probe)
	if err == nil {
		err = fmt.Errorf("malformed JSON")
	}
	return nil, &Error{Reason: "payload is not valid JSON", RawText: raw, Err: err}
}

// Classification normalizes a classification payload and resolves the
// predicted type against the acceptable set, tolerating case and separator
// drift. An unresolvable type is an error; UNKNOWN is a valid resolution.
func Classification(raw string, acceptable []string) (docModel.ClassificationResult, error) {
	obj, err := DecodeObject(raw)
	if err != nil {
		return docModel.ClassificationResult{}, err
	}

	result := docModel.ClassificationResult{
		ImageDescription: lookupString(obj, "image_description"),
		ImageType:        lookupString(obj, "image_type"),
		ClassifiedType:   lookupString(obj, "classified_type"),
		Confidence:       lookupFloat(obj, "confidence"),
		Reasoning:        lookupString(obj, "reasoning"),
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	if result.ClassifiedType == "" {
		return result, &Error{Reason: "classification payload has no classified_type", RawText: raw}
	}
	canonical, ok := resolveType(result.ClassifiedType, acceptable)
	if !ok {
		return result, &Error{
			Reason:  fmt.Sprintf("classified type %q is not in the acceptable set", result.ClassifiedType),
			RawText: raw,
		}
	}
	result.ClassifiedType = canonical
	return result, nil
}

func resolveType(got string, acceptable []string) (string, bool) {
	fp := Fingerprint(got)
	for _, a := range acceptable {
		if got == a || fp == Fingerprint(a) {
			return a, true
		}
	}
	return "", false
}

// Extraction reshapes an extraction payload into one entry per expected
// field. Keys are matched by fingerprint, field payloads may be
// value/confidence/reasoning objects or bare scalars, and every expected
// field gets an entry; unanswered fields come back nil with zero confidence.
func Extraction(raw string, fields []schema.FieldDefinition) (docModel.ExtractionResult, error) {
	obj, err := DecodeObject(raw)
	if err != nil {
		return nil, err
	}

	byFingerprint := make(map[string]any, len(obj))
	for k, v := range obj {
		byFingerprint[Fingerprint(k)] = v
	}

	result := make(docModel.ExtractionResult, len(fields))
	for _, f := range fields {
		payload, ok := byFingerprint[Fingerprint(f.Name)]
		if !ok {
			result[f.Name] = docModel.NewFieldExtraction(nil, 0, "")
			continue
		}
		result[f.Name] = fieldFromPayload(payload)
	}
	return result, nil
}

// fieldFromPayload accepts the canonical {value, confidence, reasoning}
// object or a bare scalar standing in for the value.
func fieldFromPayload(payload any) docModel.FieldExtraction {
	obj, ok := payload.(map[string]any)
	if !ok {
		return docModel.NewFieldExtraction(docModel.RenderValue(payload), 0, "")
	}

	inner := make(map[string]any, len(obj))
	for k, v := range obj {
		inner[Fingerprint(k)] = v
	}

	value, hasValue := inner["VALUE"]
	if !hasValue {
		// An object without a value key is itself the value.
		return docModel.NewFieldExtraction(docModel.RenderValue(obj), 0, "")
	}
	return docModel.NewFieldExtraction(
		docModel.RenderValue(value),
		coerceFloat(inner["CONFIDENCE"]),
		coerceString(inner["REASONING"]),
	)
}

// Validate checks a decoded payload against a JSON schema given as a generic
// map, as carried on gateway requests.
func Validate(payload map[string]any, schemaMap map[string]any) error {
	schemaJSON, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("payload.json", bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("payload.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return compiled.Validate(payload)
}

func lookupString(obj map[string]any, key string) string {
	fp := Fingerprint(key)
	for k, v := range obj {
		if Fingerprint(k) == fp {
			return coerceString(v)
		}
	}
	return ""
}

func lookupFloat(obj map[string]any, key string) float64 {
	fp := Fingerprint(key)
	for k, v := range obj {
		if Fingerprint(k) == fp {
			return coerceFloat(v)
		}
	}
	return 0
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func coerceFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
