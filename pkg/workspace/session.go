// Package workspace ties the store, the autosave scheduler and the editing engines into one
// editing session.
package workspace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/insanus-notes/backend/pkg/autosave"
	"github.com/insanus-notes/backend/pkg/editor"
	"github.com/insanus-notes/backend/pkg/notes"
	"github.com/insanus-notes/backend/pkg/properties"
	"github.com/insanus-notes/backend/pkg/schema"
	"go.uber.org/zap"
)

// Status line values.
const (
	StatusLoading      = "Loading..."
	StatusEmpty        = "Create your first note."
	StatusLoadFailed   = "Could not load notes."
	StatusCreateFailed = "Could not create the note."
	StatusSaveFailed   = "Could not save changes."
	StatusNotFound     = "Note not found."
)

// Save indicator values.
const (
	IndicatorSaving = "Saving..."
	IndicatorSaved  = "All changes saved"
)

var errMissingStore = errors.New("workspace: store is required")

// Config describes the dependencies of a Session.
type Config struct {
	Store       notes.Gateway
	Clock       autosave.Clock
	Delay       time.Duration
	IDProvider  notes.IDProvider
	Logger      *zap.Logger
	SearchLimit int
}

// Session is one user's editing context. Edits show up immediately and are written after the
// autosave delay; the server's record then replaces the saved copy of that one note.
type Session struct {
	store          notes.Gateway
	scheduler      *autosave.Scheduler
	resolver       *properties.RelationResolver
	propertyEngine *properties.Engine
	ids            notes.IDProvider
	logger         *zap.Logger
	searchLimit    int

	mu          sync.Mutex
	saved       map[string]notes.Note
	sidebar     []string
	collections []notes.Collection
	selectedID  string
	title       string
	editor      *editor.Engine
	schemaEdits map[string]schema.Values
	adHocEdits  map[string]map[string]string
	status      string
}

// NewSession constructs a Session. Call Load before editing and Close when done.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = notes.NewUUIDProvider()
	}

	session := &Session{
		store:          cfg.Store,
		resolver:       properties.NewRelationResolver(cfg.Store, logger),
		propertyEngine: properties.NewEngine(cfg.Store, logger),
		ids:            ids,
		logger:         logger,
		searchLimit:    cfg.SearchLimit,
		saved:          make(map[string]notes.Note),
		schemaEdits:    make(map[string]schema.Values),
		adHocEdits:     make(map[string]map[string]string),
		status:         StatusLoading,
	}
	session.scheduler = autosave.New(autosave.Config{
		Delay:    cfg.Delay,
		Clock:    cfg.Clock,
		Logger:   logger,
		OnStatus: session.onSaveStatus,
	})
	return session, nil
}

// Load fetches the freeform notes and the collections. The current selection is kept when it
// still exists, otherwise the first note is selected.
func (s *Session) Load(ctx context.Context) error {
	s.setStatus(StatusLoading)

	freeform, err := s.store.ListNotes(ctx, "")
	if err != nil {
		s.logger.Warn("notes load failed", zap.Error(err))
		s.setStatus(StatusLoadFailed)
		return err
	}
	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		s.logger.Warn("collections load failed", zap.Error(err))
		s.setStatus(StatusLoadFailed)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.collections = collections
	s.sidebar = make([]string, 0, len(freeform))
	for _, note := range freeform {
		s.saved[note.ID] = note
		s.sidebar = append(s.sidebar, note.ID)
	}

	if len(freeform) == 0 {
		s.status = StatusEmpty
		if s.selectedID == "" {
			return nil
		}
	} else {
		s.status = ""
	}

	if _, ok := s.saved[s.selectedID]; ok && s.selectedID != "" {
		s.refreshCollectionOptionsLocked()
		return nil
	}
	if len(freeform) > 0 {
		s.openLocked(freeform[0])
	}
	return nil
}

// Notes returns the sidebar notes in display order with unsaved edits applied.
func (s *Session) Notes() []notes.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]notes.Note, 0, len(s.sidebar))
	for _, id := range s.sidebar {
		list = append(list, s.viewLocked(id))
	}
	return list
}

// Collections returns the loaded collections.
func (s *Session) Collections() []notes.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notes.Collection{}, s.collections...)
}

// Saved returns the last server-confirmed record of a note.
func (s *Session) Saved(id string) (notes.Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.saved[id]
	return note.Clone(), ok
}

// Selected returns the selected note with unsaved property edits applied.
func (s *Session) Selected() (notes.Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedID == "" {
		return notes.Note{}, false
	}
	return s.viewLocked(s.selectedID), true
}

// Title returns the title being edited.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// Document returns the content being edited.
func (s *Session) Document() (notes.Content, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return notes.Content{}, false
	}
	return s.editor.Document(), true
}

// Status returns the status line.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SaveIndicator reports whether a write for the selected note is running.
func (s *Session) SaveIndicator() string {
	s.mu.Lock()
	selected := s.selectedID
	s.mu.Unlock()
	if selected != "" && s.scheduler.SavingOwner(selected) {
		return IndicatorSaving
	}
	return IndicatorSaved
}

// SelectNote switches the editor to id, fetching it when it is not a sidebar note. Pending
// writes of the previous note are dropped, not flushed.
func (s *Session) SelectNote(ctx context.Context, id string) error {
	s.mu.Lock()
	if id == s.selectedID {
		s.mu.Unlock()
		return nil
	}
	note, ok := s.saved[id]
	s.mu.Unlock()

	if !ok {
		fetched, err := s.store.GetNote(ctx, id)
		if err != nil {
			if errors.Is(err, notes.ErrNotFound) {
				s.setStatus(StatusNotFound)
			} else {
				s.setStatus(StatusLoadFailed)
			}
			return err
		}
		note = fetched
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[note.ID] = note
	s.openLocked(note)
	return nil
}

// SetTitle edits the selected note's title.
func (s *Session) SetTitle(title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return false
	}
	s.title = title
	s.scheduleBodyLocked()
	return true
}

// SetContent edits the text buffer. cursor is a rune offset used for slash detection.
func (s *Session) SetContent(text string, cursor int) bool {
	return s.editBody(func(engine *editor.Engine) bool {
		engine.OnBufferChange(text, cursor)
		return true
	})
}

// BlockKey forwards a key press inside a block.
func (s *Session) BlockKey(index int, key editor.Key) bool {
	return s.editBody(func(engine *editor.Engine) bool {
		return engine.BlockKey(index, key)
	})
}

// SetBlockText edits the text of a block.
func (s *Session) SetBlockText(index int, text string) bool {
	return s.editBody(func(engine *editor.Engine) bool {
		return engine.SetBlockText(index, text)
	})
}

// SelectCommand applies a command menu entry.
func (s *Session) SelectCommand(blockType notes.BlockType) bool {
	return s.editBody(func(engine *editor.Engine) bool {
		return engine.SelectCommand(blockType)
	})
}

// SelectCollection embeds a collection from the command menu.
func (s *Session) SelectCollection(collectionID string) bool {
	return s.editBody(func(engine *editor.Engine) bool {
		return engine.SelectCollection(collectionID)
	})
}

// Menu returns the open command menu.
func (s *Session) Menu() (editor.Menu, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return editor.Menu{}, false
	}
	return s.editor.Menu()
}

// DrainFocus hands over a pending focus request once its control exists.
func (s *Session) DrainFocus(exists func(editor.FocusTarget) bool) (editor.FocusTarget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return editor.FocusTarget{}, false
	}
	return s.editor.DrainFocus(exists)
}

// Panel returns the property controls of the selected note.
func (s *Session) Panel() []properties.Control {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedID == "" {
		return nil
	}
	note := s.viewLocked(s.selectedID)
	collection, _ := s.collectionLocked(note.CollectionID)
	return properties.Panel(note, collection)
}

// SetPropertyValue edits an ad-hoc property of the selected note. Each property is debounced
// on its own.
func (s *Session) SetPropertyValue(propertyID, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner := s.selectedID
	if owner == "" {
		return false
	}
	if _, ok := properties.ApplyAdHocValue(s.viewLocked(owner), propertyID, value); !ok {
		return false
	}
	if s.adHocEdits[owner] == nil {
		s.adHocEdits[owner] = make(map[string]string)
	}
	s.adHocEdits[owner][propertyID] = value

	key := autosave.Key{Kind: autosave.KindProperty, ID: propertyID, Owner: owner}
	s.scheduleLocked(key, func(ctx context.Context) error {
		s.mu.Lock()
		pending, ok := s.adHocEdits[owner][propertyID]
		s.mu.Unlock()
		if !ok {
			return nil
		}
		if err := s.store.UpdateProperty(ctx, propertyID, pending); err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if current, ok := s.adHocEdits[owner][propertyID]; ok && current == pending {
			delete(s.adHocEdits[owner], propertyID)
		}
		if saved, ok := s.saved[owner]; ok {
			if next, applied := properties.ApplyAdHocValue(saved, propertyID, pending); applied {
				s.saved[owner] = next
			}
		}
		return nil
	})
	return true
}

// SetSchemaValue edits one schema value of the selected collection note. Each definition is
// debounced on its own; the write carries the whole value map so siblings are kept.
func (s *Session) SetSchemaValue(definitionID string, value schema.EditValue) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner := s.selectedID
	if owner == "" {
		return false
	}
	note := s.viewLocked(owner)
	collection, ok := s.collectionLocked(note.CollectionID)
	if !ok {
		return false
	}
	if _, ok := properties.ApplySchemaValue(note, *collection, definitionID, value); !ok {
		return false
	}
	s.schemaEdits[owner] = s.schemaEdits[owner].With(definitionID, value.Stored())

	key := autosave.Key{Kind: autosave.KindPropertyValue, ID: definitionID, Owner: owner}
	s.scheduleLocked(key, func(ctx context.Context) error {
		s.mu.Lock()
		merged := s.viewLocked(owner).Properties
		pending := s.schemaEdits[owner].Get(definitionID)
		s.mu.Unlock()

		stored, err := s.store.UpdateNote(ctx, owner, notes.NotePatch{Properties: &merged})
		if err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if edits := s.schemaEdits[owner]; edits != nil && edits.Get(definitionID).Equal(pending) {
			delete(edits, definitionID)
		}
		s.reconcileLocked(stored)
		return nil
	})
	return true
}

// AddRelation links target to a relation definition of the selected note.
func (s *Session) AddRelation(definitionID, targetID string) bool {
	current, ok := s.relationIDs(definitionID)
	if !ok {
		return false
	}
	return s.SetSchemaValue(definitionID, schema.EditValue{Kind: schema.EditIDs, IDs: properties.AppendRelation(current, targetID)})
}

// LinkRelation adds a picked search result and caches its summary so the chip renders
// without another lookup.
func (s *Session) LinkRelation(definitionID string, summary properties.Summary) bool {
	if !s.AddRelation(definitionID, summary.ID) {
		return false
	}
	s.resolver.Remember(summary)
	return true
}

// RemoveRelation unlinks target from a relation definition of the selected note.
func (s *Session) RemoveRelation(definitionID, targetID string) bool {
	current, ok := s.relationIDs(definitionID)
	if !ok {
		return false
	}
	return s.SetSchemaValue(definitionID, schema.EditValue{Kind: schema.EditIDs, IDs: properties.RemoveRelation(current, targetID)})
}

// RelationSearch opens a search box for a relation definition of the selected note.
func (s *Session) RelationSearch(definitionID string) (*properties.RelationSearch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedID == "" {
		return nil, false
	}
	note := s.viewLocked(s.selectedID)
	collection, ok := s.collectionLocked(note.CollectionID)
	if !ok {
		return nil, false
	}
	definition, ok := collection.Schema.Find(definitionID)
	if !ok || definition.Type != schema.PropertyTypeRelation {
		return nil, false
	}
	return properties.NewRelationSearch(s.store, definition.RelationCollectionID, note.ID, s.searchLimit), true
}

// ResolveRelations loads the titles of every note the selected note links to.
func (s *Session) ResolveRelations(ctx context.Context) error {
	s.mu.Lock()
	if s.selectedID == "" {
		s.mu.Unlock()
		return nil
	}
	note := s.viewLocked(s.selectedID)
	collection, _ := s.collectionLocked(note.CollectionID)
	s.mu.Unlock()
	return s.resolver.ResolveReferences(ctx, note, collection)
}

// RelationSummary returns a resolved relation target.
func (s *Session) RelationSummary(id string) (properties.Summary, bool) {
	return s.resolver.Lookup(id)
}

// CreateProperty prepends an ad-hoc property to the selected freeform note. Blank labels are
// ignored.
func (s *Session) CreateProperty(ctx context.Context, label string, propertyType schema.PropertyType) (notes.Property, bool, error) {
	note, ok := s.Selected()
	if !ok {
		return notes.Property{}, false, nil
	}
	property, created, err := s.propertyEngine.CreateProperty(ctx, note, label, propertyType)
	if err != nil {
		s.setStatus(StatusSaveFailed)
		return notes.Property{}, false, err
	}
	if !created {
		return notes.Property{}, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if saved, ok := s.saved[note.ID]; ok {
		s.saved[note.ID] = properties.PrependAdHoc(saved, property)
	}
	return property, true, nil
}

// CreateNote creates a freeform note, shows it first and selects it.
func (s *Session) CreateNote(ctx context.Context) (notes.Note, error) {
	note, err := s.store.CreateNote(ctx, "")
	if err != nil {
		s.logger.Warn("note creation failed", zap.Error(err))
		s.setStatus(StatusCreateFailed)
		return notes.Note{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[note.ID] = note
	s.sidebar = append([]string{note.ID}, s.sidebar...)
	s.status = ""
	s.openLocked(note)
	return note, nil
}

// CreateCollection creates a collection and lists it first. Blank names are ignored.
func (s *Session) CreateCollection(ctx context.Context, name string) (notes.Collection, bool, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return notes.Collection{}, false, nil
	}
	collection, err := s.store.CreateCollection(ctx, trimmed)
	if err != nil {
		s.logger.Warn("collection creation failed", zap.Error(err))
		return notes.Collection{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = append([]notes.Collection{collection}, s.collections...)
	s.refreshCollectionOptionsLocked()
	return collection, true, nil
}

// DeleteNote removes a note, dropping its pending writes first.
func (s *Session) DeleteNote(ctx context.Context, id string) error {
	s.scheduler.CancelOwner(id)
	if err := s.store.DeleteNote(ctx, id); err != nil {
		if errors.Is(err, notes.ErrNotFound) {
			s.setStatus(StatusNotFound)
		} else {
			s.setStatus(StatusSaveFailed)
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, id)
	delete(s.schemaEdits, id)
	delete(s.adHocEdits, id)
	remaining := s.sidebar[:0]
	for _, existing := range s.sidebar {
		if existing != id {
			remaining = append(remaining, existing)
		}
	}
	s.sidebar = remaining

	if s.selectedID == id {
		s.selectedID = ""
		s.title = ""
		s.editor = nil
		if len(s.sidebar) > 0 {
			s.openLocked(s.saved[s.sidebar[0]])
		}
	}
	if len(s.sidebar) == 0 {
		s.status = StatusEmpty
	}
	return nil
}

// Close drops every pending write. The session must not be used afterwards.
func (s *Session) Close() {
	s.scheduler.Close()
}

// Preview is the sidebar excerpt of a note.
func Preview(note notes.Note) string {
	const previewLength = 48
	runes := []rune(note.Content.Text)
	if len(runes) > previewLength {
		runes = runes[:previewLength]
	}
	if len(runes) == 0 {
		return "No content"
	}
	return string(runes)
}

func (s *Session) editBody(edit func(*editor.Engine) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return false
	}
	if !edit(s.editor) {
		return false
	}
	s.scheduleBodyLocked()
	return true
}

// scheduleBodyLocked captures the current title and document as one pending write.
func (s *Session) scheduleBodyLocked() {
	owner := s.selectedID
	saved, ok := s.saved[owner]
	if !ok {
		return
	}

	title := strings.TrimSpace(s.title)
	if title == "" {
		title = notes.DefaultTitle
	}
	content := notes.MergeContentText(saved.Content, s.editor.Buffer()).WithBlocks(s.editor.Blocks())
	patch := notes.NotePatch{Title: &title, Content: &content}

	key := autosave.Key{Kind: autosave.KindNoteBody, ID: owner, Owner: owner}
	s.scheduleLocked(key, func(ctx context.Context) error {
		stored, err := s.store.UpdateNote(ctx, owner, patch)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.reconcileLocked(stored)
		return nil
	})
}

func (s *Session) scheduleLocked(key autosave.Key, commit autosave.CommitFunc) {
	if err := s.scheduler.Schedule(key, commit); err != nil {
		s.logger.Debug("autosave rejected", zap.String("owner", key.Owner), zap.Error(err))
	}
}

// reconcileLocked replaces the saved copy of one note with the server's record.
func (s *Session) reconcileLocked(stored notes.Note) {
	if _, ok := s.saved[stored.ID]; !ok {
		return
	}
	s.saved[stored.ID] = stored
}

// openLocked makes note the selected note. Pending writes and unsaved property edits of the
// previous note are discarded.
func (s *Session) openLocked(note notes.Note) {
	previous := s.selectedID
	if previous != "" && previous != note.ID {
		s.scheduler.CancelOwner(previous)
		delete(s.schemaEdits, previous)
		delete(s.adHocEdits, previous)
	}
	s.selectedID = note.ID
	s.title = note.Title
	s.editor = editor.New(note.Content, s.ids)
	s.refreshCollectionOptionsLocked()
}

func (s *Session) refreshCollectionOptionsLocked() {
	if s.editor == nil {
		return
	}
	options := make([]editor.CollectionOption, 0, len(s.collections))
	for _, collection := range s.collections {
		options = append(options, editor.CollectionOption{ID: collection.ID, Name: collection.Name})
	}
	s.editor.SetCollections(options)
}

func (s *Session) viewLocked(id string) notes.Note {
	note := s.saved[id].Clone()
	if note.IsFreeform() {
		for propertyID, value := range s.adHocEdits[id] {
			if next, ok := properties.ApplyAdHocValue(note, propertyID, value); ok {
				note = next
			}
		}
		return note
	}
	if edits := s.schemaEdits[id]; len(edits) > 0 {
		values := note.Properties.Values()
		for definitionID, value := range edits {
			values = values.With(definitionID, value)
		}
		note.Properties = notes.BoundProperties(values)
	}
	return note
}

func (s *Session) collectionLocked(id string) (*notes.Collection, bool) {
	if id == "" {
		return nil, false
	}
	for index := range s.collections {
		if s.collections[index].ID == id {
			collection := s.collections[index]
			return &collection, true
		}
	}
	return nil, false
}

func (s *Session) relationIDs(definitionID string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedID == "" {
		return nil, false
	}
	note := s.viewLocked(s.selectedID)
	collection, ok := s.collectionLocked(note.CollectionID)
	if !ok {
		return nil, false
	}
	definition, ok := collection.Schema.Find(definitionID)
	if !ok || definition.Type != schema.PropertyTypeRelation {
		return nil, false
	}
	return schema.CoerceForEdit(definition.Type, note.Properties.Values().Get(definitionID)).IDs, true
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Session) onSaveStatus(status autosave.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch status.State {
	case autosave.StateFailed:
		s.status = StatusSaveFailed
	case autosave.StateSaved:
		if s.status == StatusSaveFailed {
			s.status = ""
		}
	}
}
