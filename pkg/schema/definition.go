package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// PropertyType enumerates the value types a property can declare.
type PropertyType string

const (
	// PropertyTypeText stores free text.
	PropertyTypeText PropertyType = "text"
	// PropertyTypeNumber stores a number rendered from its string form.
	PropertyTypeNumber PropertyType = "number"
	// PropertyTypeDate stores an ISO date string.
	PropertyTypeDate PropertyType = "date"
	// PropertyTypeBoolean stores a checkbox flag.
	PropertyTypeBoolean PropertyType = "boolean"
	// PropertyTypeSelect stores one of the definition's options.
	PropertyTypeSelect PropertyType = "select"
	// PropertyTypeRelation stores a list of linked note ids.
	PropertyTypeRelation PropertyType = "relation"
	// PropertyTypeStatus is only valid for ad-hoc properties of freeform notes.
	PropertyTypeStatus PropertyType = "status"

	legacyBooleanSpelling = "bool"
	maxIdentifierLength   = 190
	maxNameLength         = 190
)

var (
	// ErrUnknownPropertyType indicates an unsupported type name.
	ErrUnknownPropertyType = errors.New("schema: unknown property type")
	// ErrDuplicateDefinition indicates two definitions share an id.
	ErrDuplicateDefinition = errors.New("schema: duplicate property definition id")
)

// ParsePropertyType normalises raw input into a PropertyType.
func ParsePropertyType(raw string) (PropertyType, error) {
	normalized := normalizeTypeName(raw)
	switch normalized {
	case PropertyTypeText, PropertyTypeNumber, PropertyTypeDate, PropertyTypeBoolean,
		PropertyTypeSelect, PropertyTypeRelation, PropertyTypeStatus:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPropertyType, raw)
	}
}

func normalizeTypeName(raw string) PropertyType {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == legacyBooleanSpelling {
		return PropertyTypeBoolean
	}
	return PropertyType(trimmed)
}

// UnmarshalJSON accepts the legacy "bool" spelling.
func (t *PropertyType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		*t = ""
		return nil
	}
	*t = normalizeTypeName(raw)
	return nil
}

// IsSchemaType reports whether the type may appear in a collection schema.
func (t PropertyType) IsSchemaType() bool {
	switch t {
	case PropertyTypeText, PropertyTypeNumber, PropertyTypeDate, PropertyTypeBoolean,
		PropertyTypeSelect, PropertyTypeRelation:
		return true
	}
	return false
}

// IsAdHocType reports whether the type may be used by an ad-hoc property.
func (t PropertyType) IsAdHocType() bool {
	switch t {
	case PropertyTypeText, PropertyTypeNumber, PropertyTypeDate, PropertyTypeStatus:
		return true
	}
	return false
}

// PropertyDefinition describes one column of a collection schema.
type PropertyDefinition struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Type                 PropertyType `json:"type"`
	Options              []string     `json:"options,omitempty"`
	RelationCollectionID string       `json:"relation_collection_id,omitempty"`
}

// Validate checks the definition's shape.
func (d PropertyDefinition) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.ID, validation.Required, validation.Length(1, maxIdentifierLength)),
		validation.Field(&d.Name, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&d.Type, validation.Required, validation.In(
			PropertyTypeText, PropertyTypeNumber, PropertyTypeDate,
			PropertyTypeBoolean, PropertyTypeSelect, PropertyTypeRelation,
		)),
		validation.Field(&d.Options, validation.When(d.Type != PropertyTypeSelect, validation.Empty)),
		validation.Field(&d.RelationCollectionID, validation.When(d.Type != PropertyTypeRelation, validation.Empty)),
	)
}

// HasOption reports whether value is one of the select options.
func (d PropertyDefinition) HasOption(value string) bool {
	for _, option := range d.Options {
		if option == value {
			return true
		}
	}
	return false
}

// Schema is the ordered list of definitions of a collection. Order is display order.
type Schema []PropertyDefinition

// Find returns the definition with the given id.
func (s Schema) Find(id string) (PropertyDefinition, bool) {
	for _, definition := range s {
		if definition.ID == id {
			return definition, true
		}
	}
	return PropertyDefinition{}, false
}

// Append returns a copy of the schema with the definition added at the end.
func (s Schema) Append(definition PropertyDefinition) (Schema, error) {
	if err := definition.Validate(); err != nil {
		return nil, err
	}
	if _, exists := s.Find(definition.ID); exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateDefinition, definition.ID)
	}
	next := s.Clone()
	return append(next, definition), nil
}

// Validate checks every definition and id uniqueness.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for index, definition := range s {
		if err := definition.Validate(); err != nil {
			return fmt.Errorf("schema[%d]: %w", index, err)
		}
		if _, exists := seen[definition.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateDefinition, definition.ID)
		}
		seen[definition.ID] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy.
func (s Schema) Clone() Schema {
	if s == nil {
		return Schema{}
	}
	next := make(Schema, len(s))
	for index, definition := range s {
		definition.Options = append([]string(nil), definition.Options...)
		next[index] = definition
	}
	return next
}

// DecodeSchema parses stored schema JSON. Malformed input yields an empty schema and
// definitions without an id are dropped.
func DecodeSchema(raw []byte) Schema {
	var definitions []PropertyDefinition
	if len(raw) == 0 || json.Unmarshal(raw, &definitions) != nil {
		return Schema{}
	}
	decoded := make(Schema, 0, len(definitions))
	for _, definition := range definitions {
		if strings.TrimSpace(definition.ID) == "" {
			continue
		}
		decoded = append(decoded, definition)
	}
	return decoded
}

// ParseOptions splits a comma separated option list, trimming blanks and duplicates.
func ParseOptions(csv string) []string {
	parts := strings.Split(csv, ",")
	options := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		option := strings.TrimSpace(part)
		if option == "" {
			continue
		}
		if _, exists := seen[option]; exists {
			continue
		}
		seen[option] = struct{}{}
		options = append(options, option)
	}
	return options
}
