// Package schema holds the static, data-driven description of document types
// and the fields extracted for each. Adding a field or a type is a registry
// data change only; no code change is required.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"docpipe/internal/domain/docModel"
)

//go:embed registry.json
var registryJSON []byte

type FieldDefinition struct {
	Name     string `json:"name"`
	Guidance string `json:"guidance"`
}

type Section struct {
	Name   string            `json:"name"`
	Fields []FieldDefinition `json:"fields"`
}

type DocumentType struct {
	Name     string    `json:"name"`
	Sections []Section `json:"sections"`
}

type Registry struct {
	types []DocumentType
	index map[string]*DocumentType
}

type registryFile struct {
	DocumentTypes []DocumentType `json:"document_types"`
}

// Load parses the embedded registry.
func Load() (*Registry, error) {
	return parse(registryJSON)
}

// LoadFrom parses an external registry file, overriding the embedded one.
func LoadFrom(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if len(file.DocumentTypes) == 0 {
		return nil, fmt.Errorf("registry declares no document types")
	}

	reg := &Registry{
		types: file.DocumentTypes,
		index: make(map[string]*DocumentType, len(file.DocumentTypes)),
	}
	for i := range reg.types {
		t := &reg.types[i]
		if t.Name == "" {
			return nil, fmt.Errorf("registry document type %d has no name", i)
		}
		if _, dup := reg.index[t.Name]; dup {
			return nil, fmt.Errorf("registry declares document type %q twice", t.Name)
		}
		for _, s := range t.Sections {
			if len(s.Fields) == 0 {
				return nil, fmt.Errorf("registry type %q section %q has no fields", t.Name, s.Name)
			}
		}
		reg.index[t.Name] = t
	}
	return reg, nil
}

// Types returns the known document type names in registry order.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.types))
	for _, t := range r.types {
		names = append(names, t.Name)
	}
	return names
}

// AcceptableTypes is the classification label set: every known type plus the
// UNKNOWN sentinel.
func (r *Registry) AcceptableTypes() []string {
	return append(r.Types(), docModel.UnknownType)
}

func (r *Registry) IsKnownType(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Sections returns the ordered sections of a document type.
func (r *Registry) Sections(docType string) ([]Section, bool) {
	t, ok := r.index[docType]
	if !ok {
		return nil, false
	}
	return t.Sections, true
}

// AllFields flattens a type's sections into one ordered field list.
func (r *Registry) AllFields(docType string) []FieldDefinition {
	t, ok := r.index[docType]
	if !ok {
		return nil
	}
	var fields []FieldDefinition
	for _, s := range t.Sections {
		fields = append(fields, s.Fields...)
	}
	return fields
}

// ColumnOrder is the fixed column layout of the result sink: identity and
// classification columns, then Value/Confidence/Reasoning triples per field
// of every type, then the processing status.
func (r *Registry) ColumnOrder() []string {
	cols := []string{
		docModel.ColCaseID,
		docModel.ColBaseName,
		docModel.ColImageDescription,
		docModel.ColImageType,
		docModel.ColClassifiedType,
		docModel.ColClassificationConfidence,
		docModel.ColClassificationReasoning,
	}
	for _, t := range r.types {
		for _, f := range r.AllFields(t.Name) {
			prefix := t.Name + "_" + f.Name
			cols = append(cols, prefix+"_Value", prefix+"_Confidence", prefix+"_Reasoning")
		}
	}
	return append(cols, docModel.ColProcessingStatus)
}
