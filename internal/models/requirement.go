package models

import (
	"fmt"
	"time"
)

// FieldKind is the closed set of renter input field types an owner can attach
// to a rental item.
type FieldKind string

const (
	FieldString    FieldKind = "string"
	FieldNumber    FieldKind = "number"
	FieldDate      FieldKind = "date"
	FieldFile      FieldKind = "file"
	FieldSelection FieldKind = "selection"
	FieldTextarea  FieldKind = "textarea"
	FieldContract  FieldKind = "contract"
)

// RequirementField describes one owner-defined renter input. Options is only
// meaningful for selection fields.
type RequirementField struct {
	Name     string    `yaml:"name" json:"field_name"`
	Kind     FieldKind `yaml:"type" json:"field_type"`
	Required bool      `yaml:"required" json:"required"`
	Options  []string  `yaml:"options,omitempty" json:"options,omitempty"`
}

// ValidateValue checks a submitted value against the field's kind. The switch
// is exhaustive over FieldKind; unknown kinds are a schema error, not a user
// error.
func (f RequirementField) ValidateValue(value any) error {
	switch f.Kind {
	case FieldString, FieldTextarea:
		s, ok := value.(string)
		if !ok || s == "" {
			return fmt.Errorf("field %q requires a non-empty string", f.Name)
		}
	case FieldNumber:
		switch v := value.(type) {
		case float64:
		case int:
		case int64:
		case string:
			return fmt.Errorf("field %q requires a number, got string %q", f.Name, v)
		default:
			return fmt.Errorf("field %q requires a number", f.Name)
		}
	case FieldDate:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q requires a date string", f.Name)
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return fmt.Errorf("field %q: invalid date %q, expected YYYY-MM-DD", f.Name, s)
		}
	case FieldFile:
		s, ok := value.(string)
		if !ok || s == "" {
			return fmt.Errorf("field %q requires an uploaded file reference", f.Name)
		}
	case FieldSelection:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q requires one of its options", f.Name)
		}
		for _, opt := range f.Options {
			if s == opt {
				return nil
			}
		}
		return fmt.Errorf("field %q: %q is not a valid option", f.Name, s)
	case FieldContract:
		b, ok := value.(bool)
		if !ok || !b {
			return fmt.Errorf("field %q: contract terms must be accepted", f.Name)
		}
	default:
		return fmt.Errorf("field %q has unknown type %q", f.Name, f.Kind)
	}
	return nil
}

// ValidateRequirements checks submitted requirements data against an item's
// field schema. Required fields must be present and well-formed; optional
// fields are validated only when supplied.
func ValidateRequirements(fields []RequirementField, data map[string]any) error {
	for _, f := range fields {
		value, ok := data[f.Name]
		if !ok || value == nil || value == "" {
			if f.Required {
				return fmt.Errorf("required field %q is missing", f.Name)
			}
			continue
		}
		if err := f.ValidateValue(value); err != nil {
			return err
		}
	}
	return nil
}
