package table

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/insanus-notes/backend/pkg/notes"
	"github.com/insanus-notes/backend/pkg/properties"
	"github.com/insanus-notes/backend/pkg/schema"
	"go.uber.org/zap"
)

// ErrNotLoaded is returned by edits issued before Load succeeded.
var ErrNotLoaded = errors.New("table: collection not loaded")

// Store is the slice of the store a table needs.
type Store interface {
	GetCollection(ctx context.Context, id string) (notes.Collection, error)
	ListNotes(ctx context.Context, collectionID string) ([]notes.Note, error)
	CreateNote(ctx context.Context, collectionID string) (notes.Note, error)
	UpdateNote(ctx context.Context, id string, patch notes.NotePatch) (notes.Note, error)
	UpdateCollectionSchema(ctx context.Context, id string, definitions schema.Schema) (notes.Collection, error)
}

// ColumnRequest describes a column to add. Options is a comma separated list used by select
// columns.
type ColumnRequest struct {
	Name                 string
	Type                 schema.PropertyType
	Options              string
	RelationCollectionID string
}

// Controller keeps the rows of one collection and writes edits straight through.
type Controller struct {
	store  Store
	ids    notes.IDProvider
	logger *zap.Logger

	mu         sync.Mutex
	loaded     bool
	collection notes.Collection
	rows       []notes.Note
}

// NewController constructs a table controller.
func NewController(store Store, ids notes.IDProvider, logger *zap.Logger) *Controller {
	if ids == nil {
		ids = notes.NewUUIDProvider()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{store: store, ids: ids, logger: logger}
}

// Load fetches the collection and its rows.
func (c *Controller) Load(ctx context.Context, collectionID string) (View, error) {
	collection, err := c.store.GetCollection(ctx, collectionID)
	if err != nil {
		return View{}, err
	}
	rows, err := c.store.ListNotes(ctx, collectionID)
	if err != nil {
		return View{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = true
	c.collection = collection
	c.rows = rows
	return Build(c.collection, c.rows), nil
}

// View renders the current local state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Build(c.collection, c.rows)
}

// Collection returns the loaded collection.
func (c *Controller) Collection() notes.Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collection
}

// CreateRow adds a note to the collection and shows it first.
func (c *Controller) CreateRow(ctx context.Context) (notes.Note, error) {
	collectionID, err := c.loadedID()
	if err != nil {
		return notes.Note{}, err
	}
	note, err := c.store.CreateNote(ctx, collectionID)
	if err != nil {
		return notes.Note{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append([]notes.Note{note}, c.rows...)
	return note, nil
}

// SetTitle shows the new title immediately and persists it.
func (c *Controller) SetTitle(ctx context.Context, noteID, title string) error {
	if _, err := c.loadedID(); err != nil {
		return err
	}
	found := c.mutateRow(noteID, func(note notes.Note) (notes.Note, bool) {
		note.Title = title
		return note, true
	})
	if !found {
		return nil
	}
	return c.persist(ctx, noteID, notes.NotePatch{Title: &title})
}

// SetCell shows the new value immediately and persists the row's full value map, so other
// cells of the row are kept.
func (c *Controller) SetCell(ctx context.Context, noteID, columnID string, value schema.EditValue) error {
	if _, err := c.loadedID(); err != nil {
		return err
	}

	var merged notes.Properties
	collection := c.Collection()
	found := c.mutateRow(noteID, func(note notes.Note) (notes.Note, bool) {
		next, ok := properties.ApplySchemaValue(note, collection, columnID, value)
		if !ok {
			return note, false
		}
		merged = next.Properties
		return next, true
	})
	if !found {
		return nil
	}
	return c.persist(ctx, noteID, notes.NotePatch{Properties: &merged})
}

// AddColumn appends a definition and replaces the whole schema. A blank name, a type that
// cannot be declared in a schema, or a relation to an unknown collection is skipped. A relation
// without target links notes of any collection.
func (c *Controller) AddColumn(ctx context.Context, request ColumnRequest) (schema.PropertyDefinition, bool, error) {
	collectionID, err := c.loadedID()
	if err != nil {
		return schema.PropertyDefinition{}, false, err
	}

	name := strings.TrimSpace(request.Name)
	relationTarget := strings.TrimSpace(request.RelationCollectionID)
	if name == "" || !request.Type.IsSchemaType() {
		return schema.PropertyDefinition{}, false, nil
	}
	if request.Type == schema.PropertyTypeRelation && relationTarget != "" {
		if _, err := c.store.GetCollection(ctx, relationTarget); err != nil {
			if errors.Is(err, notes.ErrNotFound) {
				return schema.PropertyDefinition{}, false, nil
			}
			return schema.PropertyDefinition{}, false, err
		}
	}

	id, err := c.ids.NewID()
	if err != nil {
		return schema.PropertyDefinition{}, false, err
	}
	definition := schema.PropertyDefinition{ID: id, Name: name, Type: request.Type}
	switch request.Type {
	case schema.PropertyTypeSelect:
		definition.Options = schema.ParseOptions(request.Options)
	case schema.PropertyTypeRelation:
		definition.RelationCollectionID = relationTarget
	}

	next, err := c.Collection().Schema.Append(definition)
	if err != nil {
		return schema.PropertyDefinition{}, false, err
	}
	updated, err := c.store.UpdateCollectionSchema(ctx, collectionID, next)
	if err != nil {
		c.logger.Warn("column creation failed", zap.String("collection_id", collectionID), zap.Error(err))
		return schema.PropertyDefinition{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.collection = updated
	return definition, true, nil
}

func (c *Controller) loadedID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return "", ErrNotLoaded
	}
	return c.collection.ID, nil
}

func (c *Controller) mutateRow(noteID string, mutate func(notes.Note) (notes.Note, bool)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for index, note := range c.rows {
		if note.ID != noteID {
			continue
		}
		next, ok := mutate(note)
		if !ok {
			return false
		}
		c.rows[index] = next
		return true
	}
	return false
}

// persist writes patch and swaps in the stored record. On failure the optimistic value stays.
func (c *Controller) persist(ctx context.Context, noteID string, patch notes.NotePatch) error {
	stored, err := c.store.UpdateNote(ctx, noteID, patch)
	if err != nil {
		c.logger.Warn("table write failed", zap.String("note_id", noteID), zap.Error(err))
		return err
	}
	c.mutateRow(noteID, func(notes.Note) (notes.Note, bool) {
		return stored, true
	})
	return nil
}
