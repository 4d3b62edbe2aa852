package docModel

import "encoding/json"

// UnknownType is the sentinel classification for documents that match none of
// the registry's types. It is a successful terminal state, not an error.
const UnknownType = "UNKNOWN"

type PageRef struct {
	Path      string `json:"path"`
	PageIndex int    `json:"page_index"`
	MIMEType  string `json:"mime_type"`
	PDFPages  int    `json:"pdf_pages,omitempty"`
}

// DocumentGroup is one logical multi-page document inside a case folder.
// Pages are kept in ascending PageIndex order; multi-page semantics depend on it.
type DocumentGroup struct {
	CaseID   string    `json:"case_id"`
	BaseName string    `json:"base_name"`
	Pages    []PageRef `json:"pages"`
}

type ClassificationResult struct {
	ImageDescription string  `json:"image_description"`
	ImageType        string  `json:"image_type"`
	ClassifiedType   string  `json:"classified_type"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning"`
}

// FieldExtraction holds one extracted field. A nil Value always carries a
// zero Confidence.
type FieldExtraction struct {
	Value      *string `json:"value"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// NewFieldExtraction clamps confidence to [0,1] and zeroes it when the value
// is absent.
func NewFieldExtraction(value *string, confidence float64, reasoning string) FieldExtraction {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if value == nil {
		confidence = 0
	}
	return FieldExtraction{Value: value, Confidence: confidence, Reasoning: reasoning}
}

// ExtractionResult maps field names to their extractions, one entry per
// FieldDefinition of the classified document type.
type ExtractionResult map[string]FieldExtraction

// MissingFields returns the names of fields that are absent or hold a nil value.
func (r ExtractionResult) MissingFields(expected []string) []string {
	var missing []string
	for _, name := range expected {
		fe, ok := r[name]
		if !ok || fe.Value == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// Processing status strings carried by the Processing_Status column.
const (
	StatusSuccess        = "Success"
	StatusPartialSuccess = "Partial Success"
	StatusUnknownType    = "Classification OK: UNKNOWN"
)

// Well-known result columns; field columns are derived from the registry.
const (
	ColCaseID                   = "CASE_ID"
	ColBaseName                 = "GROUP_Basename"
	ColImageDescription         = "IMAGE_Description"
	ColImageType                = "IMAGE_Type"
	ColClassifiedType           = "CLASSIFIED_Type"
	ColClassificationConfidence = "CLASSIFICATION_Confidence"
	ColClassificationReasoning  = "CLASSIFICATION_Reasoning"
	ColProcessingStatus         = "Processing_Status"
)

// ResultRow is the flat record appended to the result sink, keyed by column
// name. Values are strings, float64s or nil. Immutable once handed to the sink.
type ResultRow map[string]any

func NewResultRow(group DocumentGroup) ResultRow {
	return ResultRow{
		ColCaseID:   group.CaseID,
		ColBaseName: group.BaseName,
	}
}

func (row ResultRow) SetClassification(c ClassificationResult) {
	row[ColImageDescription] = c.ImageDescription
	row[ColImageType] = c.ImageType
	row[ColClassifiedType] = c.ClassifiedType
	row[ColClassificationConfidence] = c.Confidence
	row[ColClassificationReasoning] = c.Reasoning
}

func (row ResultRow) SetStatus(status string) {
	row[ColProcessingStatus] = status
}

func (row ResultRow) Status() string {
	s, _ := row[ColProcessingStatus].(string)
	return s
}

// SetField writes the three parallel columns for one extracted field.
func (row ResultRow) SetField(docType, fieldName string, fe FieldExtraction) {
	prefix := docType + "_" + fieldName
	if fe.Value != nil {
		row[prefix+"_Value"] = *fe.Value
	} else {
		row[prefix+"_Value"] = nil
	}
	row[prefix+"_Confidence"] = fe.Confidence
	row[prefix+"_Reasoning"] = fe.Reasoning
}

// RenderValue turns a structured model value into the string stored in
// FieldExtraction.Value. Non-string values keep their compact JSON form.
func RenderValue(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return &t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		s := string(b)
		return &s
	}
}
