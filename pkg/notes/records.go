package notes

import (
	"encoding/json"
	"time"

	"github.com/insanus-notes/backend/pkg/schema"
)

// CollectionRecord is the persisted form of a Collection.
type CollectionRecord struct {
	ID              string `gorm:"column:id;primaryKey;size:190;not null"`
	Name            string `gorm:"column:name;size:190;not null"`
	Icon            string `gorm:"column:icon;size:64;not null;default:''"`
	Description     string `gorm:"column:description;type:text;not null;default:''"`
	SchemaJSON      string `gorm:"column:schema_json;type:text;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_collections_created"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CollectionRecord) TableName() string {
	return "collections"
}

// NoteRecord is the persisted form of a Note. Ad-hoc properties of freeform notes live in
// note_properties; PropertiesJSON only holds the schema-keyed values of collection notes.
type NoteRecord struct {
	ID              string  `gorm:"column:id;primaryKey;size:190;not null"`
	CollectionID    *string `gorm:"column:collection_id;size:190;index:idx_notes_collection_created,priority:1"`
	Title           string  `gorm:"column:title;size:512;not null"`
	SearchTitle     string  `gorm:"column:search_title;size:512;not null;default:''"`
	ContentJSON     string  `gorm:"column:content_json;type:text;not null"`
	PropertiesJSON  string  `gorm:"column:properties_json;type:text;not null"`
	CreatedAtMillis int64   `gorm:"column:created_at_ms;not null;index:idx_notes_collection_created,priority:2"`
	UpdatedAtMillis int64   `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (NoteRecord) TableName() string {
	return "notes"
}

// PropertyRecord is the persisted form of an ad-hoc Property.
type PropertyRecord struct {
	ID              string `gorm:"column:id;primaryKey;size:190;not null"`
	NoteID          string `gorm:"column:note_id;size:190;not null;index:idx_note_properties_note,priority:1"`
	Label           string `gorm:"column:label;size:190;not null"`
	ValueType       string `gorm:"column:value_type;size:32;not null"`
	Value           string `gorm:"column:value;type:text;not null;default:''"`
	Position        int64  `gorm:"column:position;not null;default:0;index:idx_note_properties_note,priority:2"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PropertyRecord) TableName() string {
	return "note_properties"
}

// Models lists every record type the store persists, for schema migration.
func Models() []any {
	return []any{&CollectionRecord{}, &NoteRecord{}, &PropertyRecord{}}
}

func millisToTime(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func (record CollectionRecord) toCollection() Collection {
	return Collection{
		ID:          record.ID,
		Name:        record.Name,
		Icon:        record.Icon,
		Description: record.Description,
		Schema:      schema.DecodeSchema([]byte(record.SchemaJSON)),
		CreatedAt:   millisToTime(record.CreatedAtMillis),
		UpdatedAt:   millisToTime(record.UpdatedAtMillis),
	}
}

func (record NoteRecord) collectionID() string {
	if record.CollectionID == nil {
		return ""
	}
	return *record.CollectionID
}

// toNote decodes the record. properties is consulted only for freeform notes.
func (record NoteRecord) toNote(properties []Property) Note {
	collectionID := record.collectionID()
	note := Note{
		ID:           record.ID,
		Title:        record.Title,
		CollectionID: collectionID,
		Content:      DecodeContent([]byte(record.ContentJSON)),
		CreatedAt:    millisToTime(record.CreatedAtMillis),
		UpdatedAt:    millisToTime(record.UpdatedAtMillis),
	}
	if collectionID == "" {
		note.Properties = FreeformProperties(properties)
	} else {
		note.Properties = BoundProperties(schema.DecodeValues([]byte(record.PropertiesJSON)))
	}
	return note
}

func (record PropertyRecord) toProperty() Property {
	propertyType, err := schema.ParsePropertyType(record.ValueType)
	if err != nil || !propertyType.IsAdHocType() {
		propertyType = schema.PropertyTypeText
	}
	return Property{
		ID:     record.ID,
		NoteID: record.NoteID,
		Label:  record.Label,
		Type:   propertyType,
		Value:  record.Value,
	}
}

func encodeJSON(value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
