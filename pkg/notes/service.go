package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/insanus-notes/backend/pkg/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates that the requested entity does not exist.
	ErrNotFound = errors.New("notes: not found")
	// ErrValidation indicates that the request was rejected before reaching storage.
	ErrValidation = errors.New("notes: validation failed")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// DefaultSearchLimit bounds SearchNotes results when the query sets no limit.
const DefaultSearchLimit = 20

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew              = "notes.service.new"
	opListCollections         = "notes.list_collections"
	opGetCollection           = "notes.get_collection"
	opCreateCollection        = "notes.create_collection"
	opUpdateCollection        = "notes.update_collection"
	opUpdateCollectionSchema  = "notes.update_collection_schema"
	opListNotes               = "notes.list_notes"
	opGetNote                 = "notes.get_note"
	opGetNotesByIDs           = "notes.get_notes_by_ids"
	opSearchNotes             = "notes.search_notes"
	opCreateNote              = "notes.create_note"
	opUpdateNote              = "notes.update_note"
	opDeleteNote              = "notes.delete_note"
	opCreateProperty          = "notes.create_property"
	opGetProperty             = "notes.get_property"
	opUpdateProperty          = "notes.update_property"
	reasonMissingDatabase     = "missing_database"
	reasonInvalidID           = "invalid_id"
	reasonInvalidName         = "invalid_name"
	reasonInvalidSchema       = "invalid_schema"
	reasonInvalidLabel        = "invalid_label"
	reasonInvalidType         = "invalid_type"
	reasonInvalidShape        = "invalid_properties_shape"
	reasonNoteNotFreeform     = "note_not_freeform"
	reasonNotFound            = "not_found"
	reasonQueryFailed         = "query_failed"
	reasonInsertFailed        = "insert_failed"
	reasonUpdateFailed        = "update_failed"
	reasonDeleteFailed        = "delete_failed"
	reasonEncodeFailed        = "encode_failed"
	reasonIDGenerationFailed  = "id_generation_failed"
	fieldCollectionID         = "collection_id"
	fieldNoteID               = "note_id"
	fieldPropertyID           = "property_id"
	orderCreatedAsc           = "created_at_ms ASC, id ASC"
	orderPositionAsc          = "position ASC, created_at_ms ASC"
	queryByID                 = "id = ?"
	queryByIDs                = "id IN ?"
	queryByNoteIDs            = "note_id IN ?"
	queryFreeform             = "collection_id IS NULL"
	queryByCollection         = "collection_id = ?"
	queryTitleContains        = "search_title LIKE ? ESCAPE '\\'"
	queryExcludeID            = "id <> ?"
	emptyFreeformPropertyJSON = "[]"
	emptyBoundPropertyJSON    = "{}"
	maxCollectionNameLength   = 190
	maxPropertyLabelLength    = 190
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the store service.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  IDProvider
	Logger      *zap.Logger
	SearchLimit int
}

// Service implements Gateway on top of a gorm database.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	idProvider  IDProvider
	logger      *zap.Logger
	searchLimit int
}

// NewService validates the configuration and constructs the store service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	searchLimit := cfg.SearchLimit
	if searchLimit <= 0 {
		searchLimit = DefaultSearchLimit
	}

	return &Service{
		db:          cfg.Database,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		logger:      logger,
		searchLimit: searchLimit,
	}, nil
}

func (s *Service) ready(operation string) error {
	if s == nil || s.db == nil {
		s.logError(operation, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(operation, reasonMissingDatabase, errMissingDatabase)
	}
	return nil
}

func (s *Service) nowMillis() int64 {
	return s.clock().UTC().UnixMilli()
}

// ListCollections returns every collection ordered by creation time.
func (s *Service) ListCollections(ctx context.Context) ([]Collection, error) {
	if err := s.ready(opListCollections); err != nil {
		return nil, err
	}

	var records []CollectionRecord
	if err := s.db.WithContext(ctx).Order(orderCreatedAsc).Find(&records).Error; err != nil {
		s.logError(opListCollections, reasonQueryFailed, err)
		return nil, newServiceError(opListCollections, reasonQueryFailed, err)
	}

	collections := make([]Collection, 0, len(records))
	for _, record := range records {
		collections = append(collections, record.toCollection())
	}
	return collections, nil
}

// GetCollection returns one collection or an error wrapping ErrNotFound.
func (s *Service) GetCollection(ctx context.Context, id string) (Collection, error) {
	if err := s.ready(opGetCollection); err != nil {
		return Collection{}, err
	}
	collectionID, err := normalizeIdentifier(id, ErrInvalidCollectionID)
	if err != nil {
		return Collection{}, newServiceError(opGetCollection, reasonInvalidID, errors.Join(ErrValidation, err))
	}

	record, err := s.loadCollection(s.db.WithContext(ctx), opGetCollection, collectionID)
	if err != nil {
		return Collection{}, err
	}
	return record.toCollection(), nil
}

// CreateCollection stores a new collection with an empty schema.
func (s *Service) CreateCollection(ctx context.Context, name string) (Collection, error) {
	if err := s.ready(opCreateCollection); err != nil {
		return Collection{}, err
	}
	trimmed := strings.TrimSpace(name)
	if err := validation.Validate(trimmed, validation.Required, validation.Length(1, maxCollectionNameLength)); err != nil {
		return Collection{}, newServiceError(opCreateCollection, reasonInvalidName, errors.Join(ErrValidation, err))
	}

	collectionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateCollection, reasonIDGenerationFailed, err)
		return Collection{}, newServiceError(opCreateCollection, reasonIDGenerationFailed, err)
	}

	now := s.nowMillis()
	record := CollectionRecord{
		ID:              collectionID,
		Name:            trimmed,
		SchemaJSON:      "[]",
		CreatedAtMillis: now,
		UpdatedAtMillis: now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreateCollection, reasonInsertFailed, err, zap.String(fieldCollectionID, collectionID))
		return Collection{}, newServiceError(opCreateCollection, reasonInsertFailed, err)
	}
	return record.toCollection(), nil
}

// UpdateCollection patches the descriptive fields of a collection.
func (s *Service) UpdateCollection(ctx context.Context, id string, patch CollectionPatch) (Collection, error) {
	if err := s.ready(opUpdateCollection); err != nil {
		return Collection{}, err
	}
	collectionID, err := normalizeIdentifier(id, ErrInvalidCollectionID)
	if err != nil {
		return Collection{}, newServiceError(opUpdateCollection, reasonInvalidID, errors.Join(ErrValidation, err))
	}

	updates := map[string]any{}
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		if err := validation.Validate(trimmed, validation.Required, validation.Length(1, maxCollectionNameLength)); err != nil {
			return Collection{}, newServiceError(opUpdateCollection, reasonInvalidName, errors.Join(ErrValidation, err))
		}
		updates["name"] = trimmed
	}
	if patch.Icon != nil {
		updates["icon"] = strings.TrimSpace(*patch.Icon)
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}

	var record CollectionRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadCollection(tx, opUpdateCollection, collectionID)
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			updates["updated_at_ms"] = s.nowMillis()
			if err := tx.Model(&CollectionRecord{}).Where(queryByID, collectionID).Updates(updates).Error; err != nil {
				s.logError(opUpdateCollection, reasonUpdateFailed, err, zap.String(fieldCollectionID, collectionID))
				return newServiceError(opUpdateCollection, reasonUpdateFailed, err)
			}
			loaded, err = s.loadCollection(tx, opUpdateCollection, collectionID)
			if err != nil {
				return err
			}
		}
		record = loaded
		return nil
	})
	if err != nil {
		return Collection{}, err
	}
	return record.toCollection(), nil
}

// UpdateCollectionSchema replaces the whole schema. Callers are responsible for keeping
// existing definitions they do not mean to drop.
func (s *Service) UpdateCollectionSchema(ctx context.Context, id string, definitions schema.Schema) (Collection, error) {
	if err := s.ready(opUpdateCollectionSchema); err != nil {
		return Collection{}, err
	}
	collectionID, err := normalizeIdentifier(id, ErrInvalidCollectionID)
	if err != nil {
		return Collection{}, newServiceError(opUpdateCollectionSchema, reasonInvalidID, errors.Join(ErrValidation, err))
	}
	if definitions == nil {
		definitions = schema.Schema{}
	}
	if err := definitions.Validate(); err != nil {
		return Collection{}, newServiceError(opUpdateCollectionSchema, reasonInvalidSchema, errors.Join(ErrValidation, err))
	}
	schemaJSON, err := encodeJSON(definitions)
	if err != nil {
		return Collection{}, newServiceError(opUpdateCollectionSchema, reasonEncodeFailed, err)
	}

	var record CollectionRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadCollection(tx, opUpdateCollectionSchema, collectionID); err != nil {
			return err
		}
		updates := map[string]any{"schema_json": schemaJSON, "updated_at_ms": s.nowMillis()}
		if err := tx.Model(&CollectionRecord{}).Where(queryByID, collectionID).Updates(updates).Error; err != nil {
			s.logError(opUpdateCollectionSchema, reasonUpdateFailed, err, zap.String(fieldCollectionID, collectionID))
			return newServiceError(opUpdateCollectionSchema, reasonUpdateFailed, err)
		}
		loaded, err := s.loadCollection(tx, opUpdateCollectionSchema, collectionID)
		record = loaded
		return err
	})
	if err != nil {
		return Collection{}, err
	}
	return record.toCollection(), nil
}

// ListNotes returns the notes of a collection, or the freeform notes when collectionID is
// empty, ordered by creation time.
func (s *Service) ListNotes(ctx context.Context, collectionID string) ([]Note, error) {
	if err := s.ready(opListNotes); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Order(orderCreatedAsc)
	trimmed := strings.TrimSpace(collectionID)
	if trimmed == "" {
		query = query.Where(queryFreeform)
	} else {
		query = query.Where(queryByCollection, trimmed)
	}

	var records []NoteRecord
	if err := query.Find(&records).Error; err != nil {
		s.logError(opListNotes, reasonQueryFailed, err, zap.String(fieldCollectionID, trimmed))
		return nil, newServiceError(opListNotes, reasonQueryFailed, err)
	}
	return s.hydrate(ctx, opListNotes, records)
}

// GetNote returns one note or an error wrapping ErrNotFound.
func (s *Service) GetNote(ctx context.Context, id string) (Note, error) {
	if err := s.ready(opGetNote); err != nil {
		return Note{}, err
	}
	noteID, err := normalizeIdentifier(id, ErrInvalidNoteID)
	if err != nil {
		return Note{}, newServiceError(opGetNote, reasonInvalidID, errors.Join(ErrValidation, err))
	}

	record, err := s.loadNote(s.db.WithContext(ctx), opGetNote, noteID)
	if err != nil {
		return Note{}, err
	}
	notes, err := s.hydrate(ctx, opGetNote, []NoteRecord{record})
	if err != nil {
		return Note{}, err
	}
	return notes[0], nil
}

// GetNotesByIDs returns the notes that exist among ids. Order is not guaranteed.
func (s *Service) GetNotesByIDs(ctx context.Context, ids []string) ([]Note, error) {
	if err := s.ready(opGetNotesByIDs); err != nil {
		return nil, err
	}

	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		unique = append(unique, trimmed)
	}
	if len(unique) == 0 {
		return []Note{}, nil
	}

	var records []NoteRecord
	if err := s.db.WithContext(ctx).Where(queryByIDs, unique).Find(&records).Error; err != nil {
		s.logError(opGetNotesByIDs, reasonQueryFailed, err, zap.Int("id_count", len(unique)))
		return nil, newServiceError(opGetNotesByIDs, reasonQueryFailed, err)
	}
	return s.hydrate(ctx, opGetNotesByIDs, records)
}

// SearchNotes matches the term as a case-insensitive substring of note titles.
func (s *Service) SearchNotes(ctx context.Context, search SearchQuery) ([]Note, error) {
	if err := s.ready(opSearchNotes); err != nil {
		return nil, err
	}
	term := strings.TrimSpace(search.Term)
	if term == "" {
		return []Note{}, nil
	}

	limit := search.Limit
	if limit <= 0 {
		limit = s.searchLimit
	}

	query := s.db.WithContext(ctx).
		Where(queryTitleContains, "%"+escapeLike(SearchKey(term))+"%").
		Order(orderCreatedAsc).
		Limit(limit)
	if collectionID := strings.TrimSpace(search.CollectionID); collectionID != "" {
		query = query.Where(queryByCollection, collectionID)
	}
	if excludeID := strings.TrimSpace(search.ExcludeID); excludeID != "" {
		query = query.Where(queryExcludeID, excludeID)
	}

	var records []NoteRecord
	if err := query.Find(&records).Error; err != nil {
		s.logError(opSearchNotes, reasonQueryFailed, err, zap.String("term", term))
		return nil, newServiceError(opSearchNotes, reasonQueryFailed, err)
	}
	return s.hydrate(ctx, opSearchNotes, records)
}

// CreateNote stores a new note with the default title, empty content and the empty
// properties variant matching collectionID.
func (s *Service) CreateNote(ctx context.Context, collectionID string) (Note, error) {
	if err := s.ready(opCreateNote); err != nil {
		return Note{}, err
	}
	trimmedCollectionID := strings.TrimSpace(collectionID)

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateNote, reasonIDGenerationFailed, err)
		return Note{}, newServiceError(opCreateNote, reasonIDGenerationFailed, err)
	}

	contentJSON, err := encodeJSON(Content{})
	if err != nil {
		return Note{}, newServiceError(opCreateNote, reasonEncodeFailed, err)
	}

	now := s.nowMillis()
	record := NoteRecord{
		ID:              noteID,
		Title:           DefaultTitle,
		SearchTitle:     SearchKey(DefaultTitle),
		ContentJSON:     contentJSON,
		PropertiesJSON:  emptyFreeformPropertyJSON,
		CreatedAtMillis: now,
		UpdatedAtMillis: now,
	}
	if trimmedCollectionID != "" {
		record.CollectionID = &trimmedCollectionID
		record.PropertiesJSON = emptyBoundPropertyJSON
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if trimmedCollectionID != "" {
			if _, err := s.loadCollection(tx, opCreateNote, trimmedCollectionID); err != nil {
				return err
			}
		}
		if err := tx.Create(&record).Error; err != nil {
			s.logError(opCreateNote, reasonInsertFailed, err, zap.String(fieldNoteID, noteID))
			return newServiceError(opCreateNote, reasonInsertFailed, err)
		}
		return nil
	})
	if err != nil {
		return Note{}, err
	}
	return record.toNote(nil), nil
}

// UpdateNote applies a partial update and returns the stored note. A properties patch whose
// variant does not match the note's collection membership is rejected.
func (s *Service) UpdateNote(ctx context.Context, id string, patch NotePatch) (Note, error) {
	if err := s.ready(opUpdateNote); err != nil {
		return Note{}, err
	}
	noteID, err := normalizeIdentifier(id, ErrInvalidNoteID)
	if err != nil {
		return Note{}, newServiceError(opUpdateNote, reasonInvalidID, errors.Join(ErrValidation, err))
	}

	var updated NoteRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.loadNote(tx, opUpdateNote, noteID)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			updated = record
			return nil
		}

		updates := map[string]any{"updated_at_ms": s.nowMillis()}
		if patch.Title != nil {
			title := NormalizeTitle(*patch.Title)
			updates["title"] = title
			updates["search_title"] = SearchKey(title)
		}
		if patch.Content != nil {
			contentJSON, err := encodeJSON(*patch.Content)
			if err != nil {
				return newServiceError(opUpdateNote, reasonEncodeFailed, err)
			}
			updates["content_json"] = contentJSON
		}
		if patch.Properties != nil {
			if !patch.Properties.MatchesCollection(record.collectionID()) {
				return newServiceError(opUpdateNote, reasonInvalidShape, errors.Join(ErrValidation, ErrPropertiesShape))
			}
			if patch.Properties.IsBound() {
				propertiesJSON, err := encodeJSON(*patch.Properties)
				if err != nil {
					return newServiceError(opUpdateNote, reasonEncodeFailed, err)
				}
				updates["properties_json"] = propertiesJSON
			} else if err := s.replaceProperties(tx, noteID, patch.Properties.List()); err != nil {
				return err
			}
		}

		if err := tx.Model(&NoteRecord{}).Where(queryByID, noteID).Updates(updates).Error; err != nil {
			s.logError(opUpdateNote, reasonUpdateFailed, err, zap.String(fieldNoteID, noteID))
			return newServiceError(opUpdateNote, reasonUpdateFailed, err)
		}
		updated, err = s.loadNote(tx, opUpdateNote, noteID)
		return err
	})
	if err != nil {
		return Note{}, err
	}

	notes, err := s.hydrate(ctx, opUpdateNote, []NoteRecord{updated})
	if err != nil {
		return Note{}, err
	}
	return notes[0], nil
}

// DeleteNote removes a note and its ad-hoc properties.
func (s *Service) DeleteNote(ctx context.Context, id string) error {
	if err := s.ready(opDeleteNote); err != nil {
		return err
	}
	noteID, err := normalizeIdentifier(id, ErrInvalidNoteID)
	if err != nil {
		return newServiceError(opDeleteNote, reasonInvalidID, errors.Join(ErrValidation, err))
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("note_id = ?", noteID).Delete(&PropertyRecord{}).Error; err != nil {
			s.logError(opDeleteNote, reasonDeleteFailed, err, zap.String(fieldNoteID, noteID))
			return newServiceError(opDeleteNote, reasonDeleteFailed, err)
		}
		result := tx.Where(queryByID, noteID).Delete(&NoteRecord{})
		if result.Error != nil {
			s.logError(opDeleteNote, reasonDeleteFailed, result.Error, zap.String(fieldNoteID, noteID))
			return newServiceError(opDeleteNote, reasonDeleteFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opDeleteNote, reasonNotFound, ErrNotFound)
		}
		return nil
	})
}

// CreateProperty prepends an ad-hoc property to a freeform note.
func (s *Service) CreateProperty(ctx context.Context, noteID, label string, propertyType schema.PropertyType) (Property, error) {
	if err := s.ready(opCreateProperty); err != nil {
		return Property{}, err
	}
	ownerID, err := normalizeIdentifier(noteID, ErrInvalidNoteID)
	if err != nil {
		return Property{}, newServiceError(opCreateProperty, reasonInvalidID, errors.Join(ErrValidation, err))
	}
	trimmedLabel := strings.TrimSpace(label)
	if err := validation.Validate(trimmedLabel, validation.Required, validation.Length(1, maxPropertyLabelLength)); err != nil {
		return Property{}, newServiceError(opCreateProperty, reasonInvalidLabel, errors.Join(ErrValidation, err))
	}
	if !propertyType.IsAdHocType() {
		return Property{}, newServiceError(opCreateProperty, reasonInvalidType,
			errors.Join(ErrValidation, fmt.Errorf("%w: %q", schema.ErrUnknownPropertyType, propertyType)))
	}

	propertyID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateProperty, reasonIDGenerationFailed, err)
		return Property{}, newServiceError(opCreateProperty, reasonIDGenerationFailed, err)
	}

	var record PropertyRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note, err := s.loadNote(tx, opCreateProperty, ownerID)
		if err != nil {
			return err
		}
		if note.collectionID() != "" {
			return newServiceError(opCreateProperty, reasonNoteNotFreeform, errors.Join(ErrValidation, ErrPropertiesShape))
		}

		var first PropertyRecord
		position := int64(0)
		lookup := tx.Where("note_id = ?", ownerID).Order(orderPositionAsc).Limit(1).Find(&first)
		if lookup.Error != nil {
			s.logError(opCreateProperty, reasonQueryFailed, lookup.Error, zap.String(fieldNoteID, ownerID))
			return newServiceError(opCreateProperty, reasonQueryFailed, lookup.Error)
		}
		if lookup.RowsAffected > 0 {
			position = first.Position - 1
		}

		record = PropertyRecord{
			ID:              propertyID,
			NoteID:          ownerID,
			Label:           trimmedLabel,
			ValueType:       string(propertyType),
			Position:        position,
			CreatedAtMillis: s.nowMillis(),
		}
		if err := tx.Create(&record).Error; err != nil {
			s.logError(opCreateProperty, reasonInsertFailed, err, zap.String(fieldNoteID, ownerID))
			return newServiceError(opCreateProperty, reasonInsertFailed, err)
		}
		return nil
	})
	if err != nil {
		return Property{}, err
	}
	return record.toProperty(), nil
}

// GetProperty loads one ad-hoc property.
func (s *Service) GetProperty(ctx context.Context, id string) (Property, error) {
	if err := s.ready(opGetProperty); err != nil {
		return Property{}, err
	}
	propertyID, err := normalizeIdentifier(id, ErrInvalidPropertyID)
	if err != nil {
		return Property{}, newServiceError(opGetProperty, reasonInvalidID, errors.Join(ErrValidation, err))
	}

	var record PropertyRecord
	err = s.db.WithContext(ctx).Where(queryByID, propertyID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Property{}, newServiceError(opGetProperty, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opGetProperty, reasonQueryFailed, err, zap.String(fieldPropertyID, propertyID))
		return Property{}, newServiceError(opGetProperty, reasonQueryFailed, err)
	}
	return record.toProperty(), nil
}

// UpdateProperty replaces the value of an ad-hoc property.
func (s *Service) UpdateProperty(ctx context.Context, id, value string) error {
	if err := s.ready(opUpdateProperty); err != nil {
		return err
	}
	propertyID, err := normalizeIdentifier(id, ErrInvalidPropertyID)
	if err != nil {
		return newServiceError(opUpdateProperty, reasonInvalidID, errors.Join(ErrValidation, err))
	}

	result := s.db.WithContext(ctx).Model(&PropertyRecord{}).Where(queryByID, propertyID).Update("value", value)
	if result.Error != nil {
		s.logError(opUpdateProperty, reasonUpdateFailed, result.Error, zap.String(fieldPropertyID, propertyID))
		return newServiceError(opUpdateProperty, reasonUpdateFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUpdateProperty, reasonNotFound, ErrNotFound)
	}
	return nil
}

func (s *Service) loadCollection(tx *gorm.DB, operation, collectionID string) (CollectionRecord, error) {
	var record CollectionRecord
	err := tx.Where(queryByID, collectionID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CollectionRecord{}, newServiceError(operation, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String(fieldCollectionID, collectionID))
		return CollectionRecord{}, newServiceError(operation, reasonQueryFailed, err)
	}
	return record, nil
}

func (s *Service) loadNote(tx *gorm.DB, operation, noteID string) (NoteRecord, error) {
	var record NoteRecord
	err := tx.Where(queryByID, noteID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NoteRecord{}, newServiceError(operation, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String(fieldNoteID, noteID))
		return NoteRecord{}, newServiceError(operation, reasonQueryFailed, err)
	}
	return record, nil
}

// hydrate decodes records, loading ad-hoc properties of freeform notes in one query.
func (s *Service) hydrate(ctx context.Context, operation string, records []NoteRecord) ([]Note, error) {
	freeformIDs := make([]string, 0, len(records))
	for _, record := range records {
		if record.collectionID() == "" {
			freeformIDs = append(freeformIDs, record.ID)
		}
	}

	propertiesByNote := map[string][]Property{}
	if len(freeformIDs) > 0 {
		var propertyRecords []PropertyRecord
		if err := s.db.WithContext(ctx).
			Where(queryByNoteIDs, freeformIDs).
			Order(orderPositionAsc).
			Find(&propertyRecords).Error; err != nil {
			s.logError(operation, reasonQueryFailed, err)
			return nil, newServiceError(operation, reasonQueryFailed, err)
		}
		for _, propertyRecord := range propertyRecords {
			propertiesByNote[propertyRecord.NoteID] = append(propertiesByNote[propertyRecord.NoteID], propertyRecord.toProperty())
		}
	}

	notes := make([]Note, 0, len(records))
	for _, record := range records {
		notes = append(notes, record.toNote(propertiesByNote[record.ID]))
	}
	return notes, nil
}

// replaceProperties makes the stored ad-hoc list of noteID equal to list, in order.
func (s *Service) replaceProperties(tx *gorm.DB, noteID string, list []Property) error {
	keep := make([]string, 0, len(list))
	for _, property := range list {
		if strings.TrimSpace(property.ID) != "" {
			keep = append(keep, property.ID)
		}
	}

	removal := tx.Where("note_id = ?", noteID)
	if len(keep) > 0 {
		removal = removal.Where("id NOT IN ?", keep)
	}
	if err := removal.Delete(&PropertyRecord{}).Error; err != nil {
		s.logError(opUpdateNote, reasonDeleteFailed, err, zap.String(fieldNoteID, noteID))
		return newServiceError(opUpdateNote, reasonDeleteFailed, err)
	}

	now := s.nowMillis()
	for position, property := range list {
		if strings.TrimSpace(property.ID) == "" {
			continue
		}
		propertyType := property.Type
		if !propertyType.IsAdHocType() {
			propertyType = schema.PropertyTypeText
		}
		record := PropertyRecord{
			ID:              property.ID,
			NoteID:          noteID,
			Label:           strings.TrimSpace(property.Label),
			ValueType:       string(propertyType),
			Value:           property.Value,
			Position:        int64(position),
			CreatedAtMillis: now,
		}

		var existing PropertyRecord
		lookup := tx.Where(queryByID, property.ID).Limit(1).Find(&existing)
		if lookup.Error != nil {
			s.logError(opUpdateNote, reasonQueryFailed, lookup.Error, zap.String(fieldPropertyID, property.ID))
			return newServiceError(opUpdateNote, reasonQueryFailed, lookup.Error)
		}
		if lookup.RowsAffected > 0 {
			if existing.NoteID != noteID {
				return newServiceError(opUpdateNote, reasonInvalidShape, errors.Join(ErrValidation, ErrInvalidPropertyID))
			}
			record.CreatedAtMillis = existing.CreatedAtMillis
		}
		if err := tx.Save(&record).Error; err != nil {
			s.logError(opUpdateNote, reasonUpdateFailed, err, zap.String(fieldPropertyID, property.ID))
			return newServiceError(opUpdateNote, reasonUpdateFailed, err)
		}
	}
	return nil
}

func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
