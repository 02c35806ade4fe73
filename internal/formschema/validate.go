package formschema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/identity"
)

const (
	timePattern     = `^([01][0-9]|2[0-3]):[0-5][0-9](:[0-5][0-9])?$`
	datePattern     = `^[0-9]{4}-[0-9]{2}-[0-9]{2}$`
	dateTimePattern = `^[0-9]{4}-[0-9]{2}-[0-9]{2}T([01][0-9]|2[0-3]):[0-5][0-9]`
)

// ValidationError lists per-field problems. It matches apperr.ErrInvalid.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "invalid answers: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return apperr.ErrInvalid }

// JSONSchema renders the page as a JSON Schema document.
func (p Page) JSONSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(p.Fields))
	required := []interface{}{}
	for _, f := range p.Fields {
		props[f.ID] = fieldSchema(f)
		if f.Required {
			required = append(required, f.ID)
		}
	}
	doc := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func fieldSchema(f FieldDef) map[string]interface{} {
	str := func() map[string]interface{} {
		m := map[string]interface{}{"type": "string"}
		if f.Required {
			m["minLength"] = 1
		}
		return m
	}
	switch f.Type {
	case Email:
		m := str()
		m["format"] = "email"
		return m
	case SingleSelect, SingleChoice:
		m := str()
		m["enum"] = toAny(f.Options)
		return m
	case MultiSelect:
		m := map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string", "enum": toAny(f.Options)},
			"uniqueItems": true,
		}
		if f.Required {
			m["minItems"] = 1
		}
		return m
	case Date:
		m := str()
		m["pattern"] = datePattern
		return m
	case Time:
		m := str()
		m["pattern"] = timePattern
		return m
	case DateTime:
		m := str()
		m["pattern"] = dateTimePattern
		return m
	case Number:
		return map[string]interface{}{"type": "number"}
	default:
		return str()
	}
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Validate checks answers for this page and returns the cleaned copy: unknown keys
// dropped, blank optional answers removed, numbers coerced, emails and phones normalized.
func (p Page) Validate(answers map[string]interface{}) (map[string]interface{}, error) {
	clean := p.prepare(answers)

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(p.JSONSchema()),
		gojsonschema.NewGoLoader(clean),
	)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	problems := map[string]string{}
	if !result.Valid() {
		for _, desc := range result.Errors() {
			field := desc.Field()
			if desc.Type() == "required" {
				if prop, ok := desc.Details()["property"].(string); ok {
					field = prop
				}
			}
			if i := strings.IndexByte(field, '.'); i > 0 {
				field = field[:i]
			}
			if _, dup := problems[field]; !dup {
				problems[field] = desc.Description()
			}
		}
	}

	for _, f := range p.Fields {
		v, ok := clean[f.ID].(string)
		if !ok || problems[f.ID] != "" {
			continue
		}
		switch f.Type {
		case Phone:
			if !identity.ValidPhone(v) {
				problems[f.ID] = "invalid phone number"
				continue
			}
			clean[f.ID] = identity.NormPhone(v)
		case Email:
			e, _ := identity.NormEmail(v)
			clean[f.ID] = e
		case Date:
			if _, err := time.Parse("2006-01-02", v); err != nil {
				problems[f.ID] = "invalid date"
			}
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}
	return clean, nil
}

func (p Page) prepare(answers map[string]interface{}) map[string]interface{} {
	clean := make(map[string]interface{}, len(p.Fields))
	for _, f := range p.Fields {
		v, ok := answers[f.ID]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr {
			s = strings.TrimSpace(s)
			if s == "" {
				if f.Required {
					clean[f.ID] = s
				}
				continue
			}
			if f.Type == Number {
				if n, err := strconv.ParseFloat(s, 64); err == nil {
					clean[f.ID] = n
					continue
				}
			}
			v = s
		}
		if f.Type == MultiSelect {
			if items, isList := v.([]string); isList {
				v = toAny(items)
			}
		}
		clean[f.ID] = v
	}
	return clean
}
