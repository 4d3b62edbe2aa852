package correction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docpipe/internal/domain/docModel"
	"docpipe/internal/gateway"
	"docpipe/internal/normalize"
	"docpipe/internal/schema"
)

// MockInvoker scripts gateway responses per call.
type MockInvoker struct {
	Responses []string
	Errs      []error
	Calls     []gateway.Request
}

func (m *MockInvoker) Invoke(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	idx := len(m.Calls)
	m.Calls = append(m.Calls, req)
	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return nil, m.Errs[idx]
	}
	if idx >= len(m.Responses) {
		return nil, errors.New("mock exhausted")
	}
	return &gateway.Response{Text: m.Responses[idx]}, nil
}

func TestSanitizeJSONText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"Trailing comma in object", `{"a": "b",}`, `{"a": "b"}`},
		{"Trailing comma in array", `{"a": [1, 2,]}`, `{"a": [1, 2]}`},
		{"Prose around the object", `Sure! Here it is: {"a": 1} Hope that helps.`, `{"a": 1}`},
		{"Code fences", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"Already clean", `{"a": 1}`, `{"a": 1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeJSONText(tc.in)
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
			if again := SanitizeJSONText(got); again != got {
				t.Errorf("sanitizer is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func strPtr(s string) *string { return &s }

func TestMerge(t *testing.T) {
	base := docModel.ExtractionResult{
		"A": docModel.NewFieldExtraction(strPtr("old"), 0.5, "first pass"),
		"B": docModel.NewFieldExtraction(nil, 0, ""),
	}
	update := docModel.ExtractionResult{
		"A": docModel.NewFieldExtraction(strPtr("new"), 0.9, "second pass"),
		"B": docModel.NewFieldExtraction(strPtr("filled"), 0.7, "second pass"),
	}

	t.Run("NeverOverwrite fills gaps only", func(t *testing.T) {
		merged := Merge(base, update, MergeNeverOverwrite)
		if *merged["A"].Value != "old" {
			t.Errorf("existing value was overwritten: %q", *merged["A"].Value)
		}
		if merged["B"].Value == nil || *merged["B"].Value != "filled" {
			t.Errorf("gap was not filled: %+v", merged["B"])
		}
	})

	t.Run("BestConfidence takes the stronger answer", func(t *testing.T) {
		merged := Merge(base, update, MergeBestConfidence)
		if *merged["A"].Value != "new" {
			t.Errorf("higher-confidence value lost: %q", *merged["A"].Value)
		}
	})

	t.Run("LastWrite prefers the update", func(t *testing.T) {
		merged := Merge(base, update, MergeLastWrite)
		if *merged["A"].Value != "new" {
			t.Errorf("got %q", *merged["A"].Value)
		}
	})

	t.Run("Nil never erases an answer under any policy", func(t *testing.T) {
		withAnswer := docModel.ExtractionResult{
			"A": docModel.NewFieldExtraction(strPtr("kept"), 0.6, ""),
		}
		nilUpdate := docModel.ExtractionResult{
			"A": docModel.NewFieldExtraction(nil, 0, "could not find it"),
		}
		for _, policy := range []MergePolicy{MergeNeverOverwrite, MergeBestConfidence, MergeLastWrite} {
			merged := Merge(withAnswer, nilUpdate, policy)
			if merged["A"].Value == nil {
				t.Errorf("policy %v erased an answered field", policy)
			}
		}
	})

	t.Run("Merge does not mutate its inputs", func(t *testing.T) {
		_ = Merge(base, update, MergeLastWrite)
		if *base["A"].Value != "old" {
			t.Error("base was mutated")
		}
	})
}

func TestParsePolicy(t *testing.T) {
	if ParsePolicy("best-confidence") != MergeBestConfidence {
		t.Error("best-confidence not recognized")
	}
	if ParsePolicy("last-write") != MergeLastWrite {
		t.Error("last-write not recognized")
	}
	if ParsePolicy("whatever") != MergeNeverOverwrite {
		t.Error("unknown names must default to never-overwrite")
	}
}

func TestLoop_Recover(t *testing.T) {
	fields := []schema.FieldDefinition{{Name: "Subject"}}

	decodeInto := func(result *docModel.ExtractionResult) func(string) error {
		return func(text string) error {
			r, err := normalize.Extraction(text, fields)
			if err != nil {
				return err
			}
			*result = r
			return nil
		}
	}

	t.Run("Local sanitizer repairs trailing comma without a model call", func(t *testing.T) {
		mock := &MockInvoker{}
		loop := NewLoop(mock, 3)
		raw := `{"SUBJECT": {"value": "hello", "confidence": 0.9, "reasoning": "x"},}`

		var result docModel.ExtractionResult
		decode := decodeInto(&result)
		err := loop.Recover(context.Background(), raw, decode(raw), decode)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(mock.Calls) != 0 {
			t.Errorf("sanitizer-fixable payload should not hit the model, got %d calls", len(mock.Calls))
		}
		if result["Subject"].Value == nil || *result["Subject"].Value != "hello" {
			t.Errorf("got %+v", result["Subject"])
		}
	})

	t.Run("Model correction kicks in when the sanitizer cannot help", func(t *testing.T) {
		mock := &MockInvoker{Responses: []string{
			`still broken [[[`,
			`{"SUBJECT": {"value": "fixed", "confidence": 0.8, "reasoning": "r"}}`,
		}}
		loop := NewLoop(mock, 3)
		raw := `not json at all`

		var result docModel.ExtractionResult
		decode := decodeInto(&result)
		err := loop.Recover(context.Background(), raw, decode(raw), decode)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(mock.Calls) != 2 {
			t.Errorf("expected 2 correction calls, got %d", len(mock.Calls))
		}
		if result["Subject"].Value == nil || *result["Subject"].Value != "fixed" {
			t.Errorf("got %+v", result["Subject"])
		}
	})

	t.Run("Budget exhaustion surfaces the last decode error", func(t *testing.T) {
		mock := &MockInvoker{Responses: []string{"bad", "bad", "bad"}}
		loop := NewLoop(mock, 3)
		raw := `bad`

		var result docModel.ExtractionResult
		decode := decodeInto(&result)
		err := loop.Recover(context.Background(), raw, decode(raw), decode)
		if err == nil {
			t.Fatal("expected an error after exhausting the budget")
		}
		if !strings.Contains(err.Error(), "3 attempts") {
			t.Errorf("error should name the budget: %v", err)
		}
		if len(mock.Calls) != 3 {
			t.Errorf("expected exactly 3 calls, got %d", len(mock.Calls))
		}
	})

	t.Run("Correction prompts carry the broken payload", func(t *testing.T) {
		mock := &MockInvoker{Responses: []string{
			`{"SUBJECT": {"value": "ok", "confidence": 1, "reasoning": "r"}}`,
		}}
		loop := NewLoop(mock, 1)
		raw := `broken <<payload-marker>>`

		var result docModel.ExtractionResult
		decode := decodeInto(&result)
		if err := loop.Recover(context.Background(), raw, decode(raw), decode); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(mock.Calls[0].Instruction, "payload-marker") {
			t.Error("correction prompt should embed the broken payload")
		}
	})
}

func TestLoop_FillMissing(t *testing.T) {
	fields := []schema.FieldDefinition{{Name: "Sender"}, {Name: "Subject"}}
	base := docModel.ExtractionResult{
		"Sender":  docModel.NewFieldExtraction(strPtr("Acme"), 0.9, "letterhead"),
		"Subject": docModel.NewFieldExtraction(nil, 0, ""),
	}

	t.Run("Missing field filled from re-ask", func(t *testing.T) {
		mock := &MockInvoker{Responses: []string{
			`{"SUBJECT": {"value": "Payment notice", "confidence": 0.8, "reasoning": "title"}}`,
		}}
		loop := NewLoop(mock, 3)

		merged := loop.FillMissing(context.Background(), nil, "CRL",
			[]schema.FieldDefinition{fields[1]}, base, MergeNeverOverwrite)

		if merged["Subject"].Value == nil || *merged["Subject"].Value != "Payment notice" {
			t.Errorf("got %+v", merged["Subject"])
		}
		if *merged["Sender"].Value != "Acme" {
			t.Error("answered field must survive the re-ask merge")
		}
	})

	t.Run("Failed re-ask keeps the first-pass result", func(t *testing.T) {
		mock := &MockInvoker{Errs: []error{errors.New("boom")}}
		loop := NewLoop(mock, 3)

		merged := loop.FillMissing(context.Background(), nil, "CRL",
			[]schema.FieldDefinition{fields[1]}, base, MergeNeverOverwrite)

		if *merged["Sender"].Value != "Acme" {
			t.Error("first-pass data lost on re-ask failure")
		}
		if merged["Subject"].Value != nil {
			t.Error("unanswered field should stay nil")
		}
	})

	t.Run("No missing fields means no model call", func(t *testing.T) {
		mock := &MockInvoker{}
		loop := NewLoop(mock, 3)
		_ = loop.FillMissing(context.Background(), nil, "CRL", nil, base, MergeNeverOverwrite)
		if len(mock.Calls) != 0 {
			t.Errorf("expected no calls, got %d", len(mock.Calls))
		}
	})
}
