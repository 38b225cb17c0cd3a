package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/insanus-notes/backend/pkg/notes"
	"github.com/insanus-notes/backend/pkg/schema"
)

var errInvalidPropertiesPayload = errors.New("properties must be a list or an object")

type collectionPayload struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Icon        string        `json:"icon"`
	Description string        `json:"description"`
	Schema      schema.Schema `json:"schema"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func newCollectionPayload(collection notes.Collection) collectionPayload {
	definitions := collection.Schema
	if definitions == nil {
		definitions = schema.Schema{}
	}
	return collectionPayload{
		ID:          collection.ID,
		Name:        collection.Name,
		Icon:        collection.Icon,
		Description: collection.Description,
		Schema:      definitions,
		CreatedAt:   collection.CreatedAt,
		UpdatedAt:   collection.UpdatedAt,
	}
}

type notePayload struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	CollectionID *string          `json:"collection_id"`
	Content      notes.Content    `json:"content"`
	Properties   notes.Properties `json:"properties"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func newNotePayload(note notes.Note) notePayload {
	payload := notePayload{
		ID:         note.ID,
		Title:      note.Title,
		Content:    note.Content,
		Properties: note.Properties,
		CreatedAt:  note.CreatedAt,
		UpdatedAt:  note.UpdatedAt,
	}
	if !note.IsFreeform() {
		collectionID := note.CollectionID
		payload.CollectionID = &collectionID
	}
	return payload
}

func newNotePayloads(list []notes.Note) []notePayload {
	payloads := make([]notePayload, 0, len(list))
	for _, note := range list {
		payloads = append(payloads, newNotePayload(note))
	}
	return payloads
}

type createCollectionRequest struct {
	Name string `json:"name"`
}

type updateCollectionRequest struct {
	Name        *string `json:"name"`
	Icon        *string `json:"icon"`
	Description *string `json:"description"`
}

type addColumnRequest struct {
	Name                 string              `json:"name"`
	Type                 schema.PropertyType `json:"type"`
	Options              string              `json:"options"`
	RelationCollectionID string              `json:"relation_collection_id"`
}

type createNoteRequest struct {
	CollectionID string `json:"collection_id"`
}

type lookupNotesRequest struct {
	IDs []string `json:"ids"`
}

type updateNoteRequest struct {
	Title      *string         `json:"title"`
	Content    *notes.Content  `json:"content"`
	Properties json.RawMessage `json:"properties"`
}

func (r updateNoteRequest) patch() (notes.NotePatch, error) {
	patch := notes.NotePatch{Title: r.Title, Content: r.Content}
	trimmed := bytes.TrimSpace(r.Properties)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return patch, nil
	}

	var properties notes.Properties
	switch trimmed[0] {
	case '[':
		var list []notes.Property
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return notes.NotePatch{}, err
		}
		properties = notes.FreeformProperties(list)
	case '{':
		var values schema.Values
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return notes.NotePatch{}, err
		}
		properties = notes.BoundProperties(values)
	default:
		return notes.NotePatch{}, errInvalidPropertiesPayload
	}
	patch.Properties = &properties
	return patch, nil
}

type createPropertyRequest struct {
	Label string              `json:"label"`
	Type  schema.PropertyType `json:"type"`
}

type updatePropertyRequest struct {
	Value *string `json:"value"`
}

type realtimePayload struct {
	IDs       []string `json:"ids"`
	Deleted   bool     `json:"deleted,omitempty"`
	Source    string   `json:"source"`
	Timestamp string   `json:"timestamp"`
}

type settingsPayload struct {
	AutosaveDelayMS int64 `json:"autosave_delay_ms"`
	SearchLimit     int   `json:"search_limit"`
}
