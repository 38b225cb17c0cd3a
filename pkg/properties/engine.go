package properties

import (
	"context"

	"github.com/insanus-notes/backend/pkg/notes"
	"github.com/insanus-notes/backend/pkg/schema"
	"go.uber.org/zap"
)

// PropertyStore is the slice of the store that ad-hoc property edits need.
type PropertyStore interface {
	CreateProperty(ctx context.Context, noteID, label string, propertyType schema.PropertyType) (notes.Property, error)
	UpdateProperty(ctx context.Context, id, value string) error
}

// Engine creates and edits the ad-hoc properties of freeform notes.
type Engine struct {
	store  PropertyStore
	logger *zap.Logger
}

// NewEngine constructs an Engine backed by store.
func NewEngine(store PropertyStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, logger: logger}
}

// CreateProperty adds an ad-hoc property to a freeform note. A blank label, an unsupported
// type or a bound note is skipped without an error and reported through the bool.
func (e *Engine) CreateProperty(ctx context.Context, note notes.Note, label string, propertyType schema.PropertyType) (notes.Property, bool, error) {
	trimmed, ok := NormalizeLabel(label)
	if !ok || IsSchemaBound(note) || !propertyType.IsAdHocType() {
		e.logger.Debug("property creation skipped",
			zap.String("note_id", note.ID),
			zap.String("type", string(propertyType)),
		)
		return notes.Property{}, false, nil
	}

	property, err := e.store.CreateProperty(ctx, note.ID, trimmed, propertyType)
	if err != nil {
		return notes.Property{}, false, err
	}
	return property, true, nil
}

// UpdateValue writes an ad-hoc property value.
func (e *Engine) UpdateValue(ctx context.Context, propertyID, value string) error {
	return e.store.UpdateProperty(ctx, propertyID, value)
}
