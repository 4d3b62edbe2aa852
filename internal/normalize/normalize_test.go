package normalize

import (
	"errors"
	"testing"

	"docpipe/internal/domain/docModel"
	"docpipe/internal/schema"
)

func TestFingerprint(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Swift Code", "SWIFT_CODE"},
		{"SWIFT_CODE", "SWIFT_CODE"},
		{"swift-code", "SWIFT_CODE"},
		{"HS CODE", "HS_CODE"},
		{"  Amount (USD)  ", "AMOUNT_USD"},
		{"confidence", "CONFIDENCE"},
	}
	for _, tc := range cases {
		if got := Fingerprint(tc.in); got != tc.want {
			t.Errorf("Fingerprint(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStripCodeFences(t *testing.T) {
	t.Run("Fenced with language tag", func(t *testing.T) {
		in := "```json\n{\"a\": 1}\n```"
		if got := StripCodeFences(in); got != `{"a": 1}` {
			t.Errorf("got %q", got)
		}
	})
	t.Run("Fenced without language tag", func(t *testing.T) {
		in := "```\n{\"a\": 1}\n```"
		if got := StripCodeFences(in); got != `{"a": 1}` {
			t.Errorf("got %q", got)
		}
	})
	t.Run("No fences pass through", func(t *testing.T) {
		in := `{"a": 1}`
		if got := StripCodeFences(in); got != in {
			t.Errorf("got %q", got)
		}
	})
}

func TestDecodeObject(t *testing.T) {
	t.Run("Plain object", func(t *testing.T) {
		obj, err := DecodeObject(`{"a": "b"}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if obj["a"] != "b" {
			t.Errorf("got %v", obj)
		}
	})

	t.Run("Fenced object", func(t *testing.T) {
		if _, err := DecodeObject("```json\n{\"a\": 1}\n```"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Broken JSON reports the parse failure", func(t *testing.T) {
		_, err := DecodeObject(`{"a": "b",}`)
		if err == nil {
			t.Fatal("expected an error")
		}
		var nerr *Error
		if !errors.As(err, &nerr) {
			t.Fatalf("expected *Error, got %T", err)
		}
		if nerr.RawText == "" {
			t.Error("raw text should be preserved for the correction loop")
		}
	})

	t.Run("Array is rejected", func(t *testing.T) {
		if _, err := DecodeObject(`[1, 2]`); err == nil {
			t.Error("expected an error for non-object payload")
		}
	})
}

func TestClassification(t *testing.T) {
	acceptable := []string{"CRL", "INVOICE", "UNKNOWN"}

	t.Run("Exact type", func(t *testing.T) {
		raw := `{"image_description": "a letter", "image_type": "scan", "classified_type": "CRL", "confidence": 0.92, "reasoning": "header"}`
		result, err := Classification(raw, acceptable)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.ClassifiedType != "CRL" || result.Confidence != 0.92 {
			t.Errorf("got %+v", result)
		}
	})

	t.Run("Case and separator drift resolve to the canonical type", func(t *testing.T) {
		raw := `{"classified_type": "invoice", "confidence": 0.8}`
		result, err := Classification(raw, acceptable)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.ClassifiedType != "INVOICE" {
			t.Errorf("got %q, want INVOICE", result.ClassifiedType)
		}
	})

	t.Run("Drifted key names still match", func(t *testing.T) {
		raw := `{"Classified Type": "CRL", "Confidence": "0.7"}`
		result, err := Classification(raw, acceptable)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.ClassifiedType != "CRL" || result.Confidence != 0.7 {
			t.Errorf("got %+v", result)
		}
	})

	t.Run("Unacceptable type is an error", func(t *testing.T) {
		raw := `{"classified_type": "FOO", "confidence": 0.99}`
		if _, err := Classification(raw, acceptable); err == nil {
			t.Error("expected an error for type outside the acceptable set")
		}
	})

	t.Run("Confidence clamped into range", func(t *testing.T) {
		raw := `{"classified_type": "CRL", "confidence": 1.7}`
		result, err := Classification(raw, acceptable)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Confidence != 1 {
			t.Errorf("confidence = %v, want 1", result.Confidence)
		}
	})
}

func TestExtraction(t *testing.T) {
	fields := []schema.FieldDefinition{
		{Name: "Applicant Name"},
		{Name: "SWIFT Code"},
		{Name: "Amount"},
	}

	t.Run("Full triple payload", func(t *testing.T) {
		raw := `{
			"APPLICANT_NAME": {"value": "Acme GmbH", "confidence": 0.9, "reasoning": "top left"},
			"SWIFT_CODE": {"value": null, "confidence": 0.4, "reasoning": "not present"},
			"AMOUNT": {"value": 1250.5, "confidence": 0.8, "reasoning": "totals row"}
		}`
		result, err := Extraction(raw, fields)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		applicant := result["Applicant Name"]
		if applicant.Value == nil || *applicant.Value != "Acme GmbH" {
			t.Errorf("applicant = %+v", applicant)
		}

		swift := result["SWIFT Code"]
		if swift.Value != nil {
			t.Errorf("swift value should be nil, got %q", *swift.Value)
		}
		if swift.Confidence != 0 {
			t.Errorf("nil value must carry zero confidence, got %v", swift.Confidence)
		}

		amount := result["Amount"]
		if amount.Value == nil || *amount.Value != "1250.5" {
			t.Errorf("non-string value should render as JSON, got %+v", amount)
		}
	})

	t.Run("Missing fields come back nil with zero confidence", func(t *testing.T) {
		result, err := Extraction(`{}`, fields)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result) != len(fields) {
			t.Fatalf("expected %d entries, got %d", len(fields), len(result))
		}
		for name, fe := range result {
			if fe.Value != nil || fe.Confidence != 0 {
				t.Errorf("field %q should be nil/0, got %+v", name, fe)
			}
		}
	})

	t.Run("Bare scalar stands in for the value", func(t *testing.T) {
		result, err := Extraction(`{"amount": "99 USD"}`, fields)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		amount := result["Amount"]
		if amount.Value == nil || *amount.Value != "99 USD" {
			t.Errorf("got %+v", amount)
		}
	})

	t.Run("Unexpected keys are dropped", func(t *testing.T) {
		result, err := Extraction(`{"NOT_A_FIELD": {"value": "x", "confidence": 1}}`, fields)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, fe := range result {
			if fe.Value != nil {
				t.Errorf("no expected field should have a value, got %+v", result)
			}
		}
	})
}

func TestValidate(t *testing.T) {
	schemaMap := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required": []any{"confidence"},
	}

	if err := Validate(map[string]any{"confidence": 0.5}, schemaMap); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}
	if err := Validate(map[string]any{"confidence": "high"}, schemaMap); err == nil {
		t.Error("invalid payload accepted")
	}
}

func TestExtractionInvariant_NilValueZeroConfidence(t *testing.T) {
	fe := docModel.NewFieldExtraction(nil, 0.9, "looked confident")
	if fe.Confidence != 0 {
		t.Errorf("nil value must zero the confidence, got %v", fe.Confidence)
	}
}
