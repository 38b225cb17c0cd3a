package notes

import (
	"context"

	"github.com/insanus-notes/backend/pkg/schema"
)

// Gateway is the record-store contract the editing engines depend on. Every operation either
// returns the post-operation record or an error; there are no partial successes.
type Gateway interface {
	ListCollections(ctx context.Context) ([]Collection, error)
	GetCollection(ctx context.Context, id string) (Collection, error)
	CreateCollection(ctx context.Context, name string) (Collection, error)
	UpdateCollection(ctx context.Context, id string, patch CollectionPatch) (Collection, error)
	UpdateCollectionSchema(ctx context.Context, id string, definitions schema.Schema) (Collection, error)

	ListNotes(ctx context.Context, collectionID string) ([]Note, error)
	GetNote(ctx context.Context, id string) (Note, error)
	GetNotesByIDs(ctx context.Context, ids []string) ([]Note, error)
	SearchNotes(ctx context.Context, query SearchQuery) ([]Note, error)
	CreateNote(ctx context.Context, collectionID string) (Note, error)
	UpdateNote(ctx context.Context, id string, patch NotePatch) (Note, error)
	DeleteNote(ctx context.Context, id string) error

	CreateProperty(ctx context.Context, noteID, label string, propertyType schema.PropertyType) (Property, error)
	GetProperty(ctx context.Context, id string) (Property, error)
	UpdateProperty(ctx context.Context, id, value string) error
}

var _ Gateway = (*Service)(nil)
