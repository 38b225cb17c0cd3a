// Package properties derives property controls for a note and services relation lookups.
package properties

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/insanus-notes/backend/pkg/notes"
	"github.com/insanus-notes/backend/pkg/schema"
)

// ErrUnknownOption indicates a select value that is not among the definition's options.
var ErrUnknownOption = errors.New("properties: value is not a select option")

// Control is one editable property of a note. Schema-bound controls carry a DefinitionID
// and ad-hoc controls a PropertyID.
type Control struct {
	DefinitionID         string
	PropertyID           string
	Label                string
	Type                 schema.PropertyType
	Options              []string
	RelationCollectionID string
	Value                schema.EditValue
}

// IsSchemaBound reports whether note is a collection row.
func IsSchemaBound(note notes.Note) bool {
	return note.CollectionID != ""
}

// Panel emits one control per schema definition for bound notes, and one per ad-hoc property
// for freeform notes. A missing stored value renders as the type's empty state.
func Panel(note notes.Note, collection *notes.Collection) []Control {
	if !IsSchemaBound(note) {
		list := note.Properties.List()
		controls := make([]Control, 0, len(list))
		for _, property := range list {
			controls = append(controls, Control{
				PropertyID: property.ID,
				Label:      property.Label,
				Type:       property.Type,
				Value:      schema.EditValue{Kind: schema.EditText, Text: property.Value},
			})
		}
		return controls
	}

	if collection == nil {
		return []Control{}
	}
	values := note.Properties.Values()
	controls := make([]Control, 0, len(collection.Schema))
	for _, definition := range collection.Schema {
		controls = append(controls, Control{
			DefinitionID:         definition.ID,
			Label:                definition.Name,
			Type:                 definition.Type,
			Options:              append([]string{}, definition.Options...),
			RelationCollectionID: definition.RelationCollectionID,
			Value:                schema.CoerceForEdit(definition.Type, values.Get(definition.ID)),
		})
	}
	return controls
}

// ReferencedIDs collects the note ids referenced by relation values of a bound note.
func ReferencedIDs(note notes.Note, collection *notes.Collection) []string {
	if !IsSchemaBound(note) || collection == nil {
		return nil
	}
	values := note.Properties.Values()
	seen := map[string]struct{}{}
	ids := []string{}
	for _, definition := range collection.Schema {
		if definition.Type != schema.PropertyTypeRelation {
			continue
		}
		edit := schema.CoerceForEdit(definition.Type, values.Get(definition.ID))
		for _, id := range edit.IDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// ValidateSchemaValue rejects select values that are neither empty nor a declared option.
func ValidateSchemaValue(definition schema.PropertyDefinition, value schema.EditValue) error {
	if definition.Type != schema.PropertyTypeSelect {
		return nil
	}
	options := make([]any, 0, len(definition.Options))
	for _, option := range definition.Options {
		options = append(options, option)
	}
	err := validation.Validate(value.Text, validation.When(value.Text != "", validation.In(options...)))
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownOption, value.Text)
	}
	return nil
}

// ApplySchemaValue returns a copy of a bound note with the definition's value replaced.
// Freeform notes and unknown definitions are returned unchanged with false.
func ApplySchemaValue(note notes.Note, collection notes.Collection, definitionID string, value schema.EditValue) (notes.Note, bool) {
	if !IsSchemaBound(note) || note.CollectionID != collection.ID {
		return note, false
	}
	definition, ok := collection.Schema.Find(definitionID)
	if !ok || ValidateSchemaValue(definition, value) != nil {
		return note, false
	}
	next := note.Clone()
	next.Properties = notes.BoundProperties(note.Properties.Values().With(definitionID, value.Stored()))
	return next, true
}

// ApplyAdHocValue returns a copy of a freeform note with one ad-hoc value replaced.
func ApplyAdHocValue(note notes.Note, propertyID, value string) (notes.Note, bool) {
	if IsSchemaBound(note) {
		return note, false
	}
	list := note.Properties.List()
	for index := range list {
		if list[index].ID == propertyID {
			list[index].Value = value
			next := note.Clone()
			next.Properties = notes.FreeformProperties(list)
			return next, true
		}
	}
	return note, false
}

// PrependAdHoc returns a copy of a freeform note with property added at the front.
func PrependAdHoc(note notes.Note, property notes.Property) notes.Note {
	if IsSchemaBound(note) {
		return note
	}
	next := note.Clone()
	next.Properties = notes.FreeformProperties(append([]notes.Property{property}, note.Properties.List()...))
	return next
}

// NormalizeLabel trims a new property label. It reports false for blank labels.
func NormalizeLabel(label string) (string, bool) {
	trimmed := strings.TrimSpace(label)
	return trimmed, trimmed != ""
}
