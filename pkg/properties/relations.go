package properties

import (
	"context"
	"strings"
	"sync"

	"github.com/insanus-notes/backend/pkg/notes"
	"go.uber.org/zap"
)

// NoteFinder is the slice of the store that relation lookups need.
type NoteFinder interface {
	GetNotesByIDs(ctx context.Context, ids []string) ([]notes.Note, error)
	SearchNotes(ctx context.Context, query notes.SearchQuery) ([]notes.Note, error)
}

// Summary is what a relation chip shows for a linked note.
type Summary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CollectionID string `json:"collection_id,omitempty"`
}

func summarize(note notes.Note) Summary {
	return Summary{ID: note.ID, Title: note.Title, CollectionID: note.CollectionID}
}

// RelationResolver caches note summaries for the lifetime of a session. Entries are never
// evicted, so a renamed target keeps its old title until the session is rebuilt.
type RelationResolver struct {
	finder NoteFinder
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]Summary
}

// NewRelationResolver constructs a resolver backed by finder.
func NewRelationResolver(finder NoteFinder, logger *zap.Logger) *RelationResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelationResolver{finder: finder, logger: logger, cache: make(map[string]Summary)}
}

// Resolve fetches every id not yet cached in a single batch. Ids the store does not return
// stay unresolved and are retried on the next call.
func (r *RelationResolver) Resolve(ctx context.Context, ids []string) error {
	missing := r.unresolved(ids)
	if len(missing) == 0 {
		return nil
	}

	found, err := r.finder.GetNotesByIDs(ctx, missing)
	if err != nil {
		r.logger.Warn("relation lookup failed", zap.Int("id_count", len(missing)), zap.Error(err))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, note := range found {
		r.cache[note.ID] = summarize(note)
	}
	return nil
}

// ResolveReferences resolves every relation target referenced by a bound note.
func (r *RelationResolver) ResolveReferences(ctx context.Context, note notes.Note, collection *notes.Collection) error {
	return r.Resolve(ctx, ReferencedIDs(note, collection))
}

// Lookup returns the cached summary for id.
func (r *RelationResolver) Lookup(id string) (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary, ok := r.cache[id]
	return summary, ok
}

// Remember stores a summary obtained elsewhere, such as a search result.
func (r *RelationResolver) Remember(summary Summary) {
	if summary.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[summary.ID] = summary
}

// Size returns the number of cached summaries.
func (r *RelationResolver) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

func (r *RelationResolver) unresolved(ids []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(ids))
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := r.cache[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	return missing
}

// RelationSearch drives the search box of one relation field. Every keystroke issues a
// search; responses that arrive after a newer keystroke are dropped.
type RelationSearch struct {
	finder       NoteFinder
	collectionID string
	excludeID    string
	limit        int

	mu      sync.Mutex
	seq     uint64
	term    string
	results []Summary
}

// NewRelationSearch scopes a search to collectionID and never returns excludeID.
func NewRelationSearch(finder NoteFinder, collectionID, excludeID string, limit int) *RelationSearch {
	return &RelationSearch{finder: finder, collectionID: collectionID, excludeID: excludeID, limit: limit}
}

// Search records term and queries the store. A blank term clears the results without a
// request.
func (s *RelationSearch) Search(ctx context.Context, term string) ([]Summary, error) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.term = term
	if strings.TrimSpace(term) == "" {
		s.results = nil
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()

	found, err := s.finder.SearchNotes(ctx, notes.SearchQuery{
		Term:         term,
		CollectionID: s.collectionID,
		ExcludeID:    s.excludeID,
		Limit:        s.limit,
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(found))
	for _, note := range found {
		summaries = append(summaries, summarize(note))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return s.copyResults(), nil
	}
	s.results = summaries
	return s.copyResults(), nil
}

// Term returns the current search box text.
func (s *RelationSearch) Term() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

// Results returns the latest applied results.
func (s *RelationSearch) Results() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyResults()
}

// Select appends id to current without duplicating it, then clears the search box.
func (s *RelationSearch) Select(current []string, id string) []string {
	s.mu.Lock()
	s.seq++
	s.term = ""
	s.results = nil
	s.mu.Unlock()
	return AppendRelation(current, id)
}

func (s *RelationSearch) copyResults() []Summary {
	if s.results == nil {
		return nil
	}
	return append([]Summary{}, s.results...)
}

// AppendRelation adds id to ids unless it is already present.
func AppendRelation(ids []string, id string) []string {
	next := append([]string{}, ids...)
	id = strings.TrimSpace(id)
	if id == "" {
		return next
	}
	for _, existing := range next {
		if existing == id {
			return next
		}
	}
	return append(next, id)
}

// RemoveRelation unlinks id from ids.
func RemoveRelation(ids []string, id string) []string {
	next := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			next = append(next, existing)
		}
	}
	return next
}
