// Package formschema parses the declarative form documents that drive the
// registration wizard, splits them into pages and validates page answers.
package formschema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lojf/academy/internal/apperr"
)

type FieldType string

const (
	ShortText      FieldType = "short-text"
	Email          FieldType = "email"
	Phone          FieldType = "phone"
	LongText       FieldType = "long-text"
	SingleSelect   FieldType = "single-select"
	MultiSelect    FieldType = "multi-select"
	SingleChoice   FieldType = "single-choice"
	Date           FieldType = "date"
	Time           FieldType = "time"
	DateTime       FieldType = "date-time"
	Number         FieldType = "number"
	File           FieldType = "file"
	SectionDivider FieldType = "section-divider"
)

var knownTypes = map[FieldType]bool{
	ShortText: true, Email: true, Phone: true, LongText: true,
	SingleSelect: true, MultiSelect: true, SingleChoice: true,
	Date: true, Time: true, DateTime: true, Number: true, File: true,
	SectionDivider: true,
}

type FieldDef struct {
	ID       string            `json:"id"`
	Type     FieldType         `json:"type"`
	Label    string            `json:"label"`
	Required bool              `json:"required,omitempty"`
	Options  []string          `json:"options,omitempty"`
	Style    map[string]string `json:"style,omitempty"`
}

func (f FieldDef) hasOptions() bool {
	return f.Type == SingleSelect || f.Type == MultiSelect || f.Type == SingleChoice
}

type Schema struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Fields      []FieldDef `json:"fields"`
}

// Page is the run of fields following one section divider.
type Page struct {
	Index  int        `json:"index"`
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Fields []FieldDef `json:"fields"`
}

// Parse decodes, normalizes and checks a schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: schema json: %v", apperr.ErrInvalid, err)
	}
	s.Normalize()
	if err := s.Check(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Normalize makes sure the first entry is a section divider.
func (s *Schema) Normalize() {
	if len(s.Fields) > 0 && s.Fields[0].Type == SectionDivider {
		return
	}
	id := "section-start"
	for s.hasID(id) {
		id += "_"
	}
	lead := FieldDef{ID: id, Type: SectionDivider, Label: s.Title}
	s.Fields = append([]FieldDef{lead}, s.Fields...)
}

func (s *Schema) hasID(id string) bool {
	for _, f := range s.Fields {
		if f.ID == id {
			return true
		}
	}
	return false
}

// Check enforces unique ids, the closed type set and options on choice fields.
func (s *Schema) Check() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("%w: schema title is required", apperr.ErrInvalid)
	}
	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if strings.TrimSpace(f.ID) == "" {
			return fmt.Errorf("%w: field %d has no id", apperr.ErrInvalid, i)
		}
		if seen[f.ID] {
			return fmt.Errorf("%w: duplicate field id %q", apperr.ErrInvalid, f.ID)
		}
		seen[f.ID] = true
		if !knownTypes[f.Type] {
			return fmt.Errorf("%w: field %q has unknown type %q", apperr.ErrInvalid, f.ID, f.Type)
		}
		if f.hasOptions() && len(f.Options) == 0 {
			return fmt.Errorf("%w: field %q needs options", apperr.ErrInvalid, f.ID)
		}
	}
	return nil
}

// Pages splits the schema on section dividers. Dividers with no fields after them yield no page.
func (s *Schema) Pages() []Page {
	var (
		pages []Page
		cur   *Page
	)
	for _, f := range s.Fields {
		if f.Type == SectionDivider {
			if cur != nil && len(cur.Fields) > 0 {
				pages = append(pages, *cur)
			}
			cur = &Page{ID: f.ID, Title: f.Label}
			continue
		}
		if cur == nil {
			cur = &Page{Title: s.Title}
		}
		cur.Fields = append(cur.Fields, f)
	}
	if cur != nil && len(cur.Fields) > 0 {
		pages = append(pages, *cur)
	}
	for i := range pages {
		pages[i].Index = i
	}
	return pages
}

// Validate checks answers against every input field of the schema.
func (s *Schema) Validate(answers map[string]interface{}) (map[string]interface{}, error) {
	all := Page{Title: s.Title}
	for _, f := range s.Fields {
		if f.Type != SectionDivider {
			all.Fields = append(all.Fields, f)
		}
	}
	return all.Validate(answers)
}

// JSON encodes the schema for storage.
func (s *Schema) JSON() ([]byte, error) {
	return json.Marshal(s)
}
