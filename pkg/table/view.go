// Package table renders a collection as rows and columns and applies cell edits.
package table

import (
	"github.com/insanus-notes/backend/pkg/notes"
	"github.com/insanus-notes/backend/pkg/schema"
)

// Column mirrors one schema definition.
type Column struct {
	ID                   string              `json:"id"`
	Name                 string              `json:"name"`
	Type                 schema.PropertyType `json:"type"`
	Options              []string            `json:"options,omitempty"`
	RelationCollectionID string              `json:"relation_collection_id,omitempty"`
}

// Cell is a row value coerced for its column type.
type Cell struct {
	ColumnID string           `json:"column_id"`
	Value    schema.EditValue `json:"value"`
}

// Row is one note of the collection.
type Row struct {
	NoteID string `json:"note_id"`
	Title  string `json:"title"`
	Cells  []Cell `json:"cells"`
}

// View is the rendered table.
type View struct {
	CollectionID string   `json:"collection_id"`
	Name         string   `json:"name"`
	Columns      []Column `json:"columns"`
	Rows         []Row    `json:"rows"`
}

// Build renders rows in the given order with one cell per column.
func Build(collection notes.Collection, rows []notes.Note) View {
	view := View{
		CollectionID: collection.ID,
		Name:         collection.Name,
		Columns:      make([]Column, 0, len(collection.Schema)),
		Rows:         make([]Row, 0, len(rows)),
	}
	for _, definition := range collection.Schema {
		view.Columns = append(view.Columns, Column{
			ID:                   definition.ID,
			Name:                 definition.Name,
			Type:                 definition.Type,
			Options:              append([]string{}, definition.Options...),
			RelationCollectionID: definition.RelationCollectionID,
		})
	}
	for _, note := range rows {
		values := note.Properties.Values()
		row := Row{NoteID: note.ID, Title: note.Title, Cells: make([]Cell, 0, len(collection.Schema))}
		for _, definition := range collection.Schema {
			row.Cells = append(row.Cells, Cell{
				ColumnID: definition.ID,
				Value:    schema.CoerceForEdit(definition.Type, values.Get(definition.ID)),
			})
		}
		view.Rows = append(view.Rows, row)
	}
	return view
}

// Cell returns the cell of columnID, or false when the column is unknown.
func (r Row) Cell(columnID string) (Cell, bool) {
	for _, cell := range r.Cells {
		if cell.ColumnID == columnID {
			return cell, true
		}
	}
	return Cell{}, false
}
