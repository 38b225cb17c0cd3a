package server

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestCreateAndFetchFreeformNote(t *testing.T) {
	handler := newTestHandler(t, Dependencies{})

	created := performJSON(t, handler, http.MethodPost, "/notes", nil)
	if created.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", created.Code, created.Body.String())
	}
	note := decodeBody[noteBody](t, created)
	if note.Title != "Untitled" || note.CollectionID != nil {
		t.Fatalf("unexpected note: %#v", note)
	}
	if string(note.Properties) != "[]" {
		t.Fatalf("expected empty ad-hoc list, got %s", note.Properties)
	}

	fetched := performJSON(t, handler, http.MethodGet, "/notes/"+note.ID, nil)
	if fetched.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", fetched.Code)
	}

	listed := performJSON(t, handler, http.MethodGet, "/notes", nil)
	list := decodeBody[[]noteBody](t, listed)
	if len(list) != 1 || list[0].ID != note.ID {
		t.Fatalf("unexpected list: %#v", list)
	}
}

func TestUpdateNoteKeepsUnknownContentKeys(t *testing.T) {
	handler := newTestHandler(t, Dependencies{})
	note := decodeBody[noteBody](t, performJSON(t, handler, http.MethodPost, "/notes", nil))

	first := performJSON(t, handler, http.MethodPatch, "/notes/"+note.ID, `{"content":{"text":"a","cover":"blue"}}`)
	if first.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", first.Code, first.Body.String())
	}
	second := performJSON(t, handler, http.MethodPatch, "/notes/"+note.ID, `{"title":"Plan"}`)
	updated := decodeBody[noteBody](t, second)
	if updated.Title != "Plan" {
		t.Fatalf("unexpected title %q", updated.Title)
	}
	var content map[string]any
	if err := json.Unmarshal(updated.Content, &content); err != nil {
		t.Fatalf("failed to decode content: %v", err)
	}
	if content["text"] != "a" || content["cover"] != "blue" {
		t.Fatalf("unexpected content: %s", updated.Content)
	}
}

func TestCollectionRowsCarrySchemaValues(t *testing.T) {
	handler := newTestHandler(t, Dependencies{})

	collection := decodeBody[collectionBody](t, performJSON(t, handler, http.MethodPost, "/collections", map[string]string{"name": "Tasks"}))
	schemaResponse := performJSON(t, handler, http.MethodPut, "/collections/"+collection.ID+"/schema",
		`[{"id":"status","name":"Status","type":"select","options":["todo","done"]}]`)
	if schemaResponse.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", schemaResponse.Code, schemaResponse.Body.String())
	}
	if updated := decodeBody[collectionBody](t, schemaResponse); len(updated.Schema) != 1 {
		t.Fatalf("expected one definition, got %d", len(updated.Schema))
	}

	row := decodeBody[noteBody](t, performJSON(t, handler, http.MethodPost, "/notes", map[string]string{"collection_id": collection.ID}))
	if row.CollectionID == nil || *row.CollectionID != collection.ID {
		t.Fatalf("expected row to belong to the collection: %#v", row)
	}

	patched := performJSON(t, handler, http.MethodPatch, "/notes/"+row.ID, `{"properties":{"status":"done"}}`)
	if patched.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", patched.Code, patched.Body.String())
	}
	var values map[string]any
	if err := json.Unmarshal(decodeBody[noteBody](t, patched).Properties, &values); err != nil {
		t.Fatalf("failed to decode values: %v", err)
	}
	if values["status"] != "done" {
		t.Fatalf("unexpected values: %v", values)
	}

	rows := decodeBody[[]noteBody](t, performJSON(t, handler, http.MethodGet, "/notes?collection_id="+collection.ID, nil))
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	freeform := decodeBody[[]noteBody](t, performJSON(t, handler, http.MethodGet, "/notes", nil))
	if len(freeform) != 0 {
		t.Fatalf("expected collection rows to stay out of the freeform list")
	}
}

func TestPropertiesShapeMismatchIsRejected(t *testing.T) {
	handler := newTestHandler(t, Dependencies{})
	note := decodeBody[noteBody](t, performJSON(t, handler, http.MethodPost, "/notes", nil))

	response := performJSON(t, handler, http.MethodPatch, "/notes/"+note.ID, `{"properties":{"status":"done"}}`)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d: %s", response.Code, response.Body.String())
	}

	scalar := performJSON(t, handler, http.MethodPatch, "/notes/"+note.ID, `{"properties":"done"}`)
	if body := decodeBody[errorBody](t, scalar); scalar.Code != http.StatusBadRequest || body.Error != "invalid_request" {
		t.Fatalf("expected invalid request, got %d %#v", scalar.Code, body)
	}
}

func TestMissingNoteReturnsNotFound(t *testing.T) {
	handler := newTestHandler(t, Dependencies{})

	response := performJSON(t, handler, http.MethodGet, "/notes/missing", nil)
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", response.Code)
	}
	body := decodeBody[errorBody](t, response)
	if body.Error != "not_found" || body.Code == "" {
		t.Fatalf("unexpected error body: %#v", body)
	}
}

func TestBlankCollectionNameIsRejected(t *testing.T) {
	handler := newTestHandler(t, Dependencies{})

	response := performJSON(t, handler, http.MethodPost, "/collections", map[string]string{"name": "  "})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", response.Code)
	}
	if body := decodeBody[errorBody](t, response); body.Error != "invalid_name" {
		t.Fatalf("unexpected error body: %#v", body)
	}

	malformed := performJSON(t, handler, http.MethodPost, "/collections", `{"name":`)
	if malformed.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for malformed json, got %d", malformed.Code)
	}
}

func TestDeleteNoteThenNotFound(t *testing.T) {
	handler := newTestHandler(t, Dependencies{})
	note := decodeBody[noteBody](t, performJSON(t, handler, http.MethodPost, "/notes", nil))

	deleted := performJSON(t, handler, http.MethodDelete, "/notes/"+note.ID, nil)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("expected no content, got %d", deleted.Code)
	}
	again := performJSON(t, handler, http.MethodDelete, "/notes/"+note.ID, nil)
	if again.Code != http.StatusNotFound {
		t.Fatalf("expected not found on second delete, got %d", again.Code)
	}
}

func TestSearchAndLookup(t *testing.T) {
	handler := newTestHandler(t, Dependencies{})
	collection := decodeBody[collectionBody](t, performJSON(t, handler, http.MethodPost, "/collections", map[string]string{"name": "People"}))
	first := decodeBody[noteBody](t, performJSON(t, handler, http.MethodPost, "/notes", map[string]string{"collection_id": collection.ID}))
	second := decodeBody[noteBody](t, performJSON(t, handler, http.MethodPost, "/notes", map[string]string{"collection_id": collection.ID}))
	performJSON(t, handler, http.MethodPatch, "/notes/"+first.ID, map[string]string{"title": "Ana Lima"})
	performJSON(t, handler, http.MethodPatch, "/notes/"+second.ID, map[string]string{"title": "Bruno"})

	found := decodeBody[[]noteBody](t, performJSON(t, handler, http.MethodGet, "/notes/search?q=ANA&collection_id="+collection.ID, nil))
	if len(found) != 1 || found[0].ID != first.ID {
		t.Fatalf("unexpected search results: %#v", found)
	}
	excluded := decodeBody[[]noteBody](t, performJSON(t, handler, http.MethodGet, "/notes/search?q=a&exclude_id="+first.ID, nil))
	for _, note := range excluded {
		if note.ID == first.ID {
			t.Fatalf("expected excluded note to be missing")
		}
	}
	badLimit := performJSON(t, handler, http.MethodGet, "/notes/search?q=a&limit=x", nil)
	if badLimit.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for invalid limit, got %d", badLimit.Code)
	}

	lookup := decodeBody[[]noteBody](t, performJSON(t, handler, http.MethodPost, "/notes/lookup",
		map[string][]string{"ids": {second.ID, first.ID, second.ID, "missing"}}))
	if len(lookup) != 2 {
		t.Fatalf("expected two distinct notes, got %d", len(lookup))
	}
}

func TestAdHocPropertyLifecycle(t *testing.T) {
	handler := newTestHandler(t, Dependencies{})
	note := decodeBody[noteBody](t, performJSON(t, handler, http.MethodPost, "/notes", nil))

	created := performJSON(t, handler, http.MethodPost, "/notes/"+note.ID+"/properties", map[string]string{"label": "Mood", "type": "text"})
	if created.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", created.Code, created.Body.String())
	}
	var property struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}
	if err := json.Unmarshal(created.Body.Bytes(), &property); err != nil {
		t.Fatalf("failed to decode property: %v", err)
	}

	updated := performJSON(t, handler, http.MethodPatch, "/properties/"+property.ID, map[string]string{"value": "calm"})
	if updated.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", updated.Code)
	}
	missingValue := performJSON(t, handler, http.MethodPatch, "/properties/"+property.ID, `{}`)
	if missingValue.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request without a value, got %d", missingValue.Code)
	}

	fetched := decodeBody[noteBody](t, performJSON(t, handler, http.MethodGet, "/notes/"+note.ID, nil))
	var list []map[string]any
	if err := json.Unmarshal(fetched.Properties, &list); err != nil {
		t.Fatalf("failed to decode properties: %v", err)
	}
	if len(list) != 1 || list[0]["value"] != "calm" {
		t.Fatalf("unexpected properties: %s", fetched.Properties)
	}
}
