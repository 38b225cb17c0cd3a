package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/insanus-notes/backend/pkg/schema"
	"golang.org/x/text/cases"
)

// DefaultTitle replaces blank note titles.
const DefaultTitle = "Untitled"

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidCollectionID indicates that a collection identifier is empty or exceeds storage bounds.
	ErrInvalidCollectionID = errors.New("notes: invalid collection id")
	// ErrInvalidPropertyID indicates that a property identifier is empty or exceeds storage bounds.
	ErrInvalidPropertyID = errors.New("notes: invalid property id")
	// ErrPropertiesShape indicates that a note's properties do not match its collection membership.
	ErrPropertiesShape = errors.New("notes: properties shape does not match collection membership")
)

func normalizeIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// NormalizeTitle substitutes DefaultTitle for blank titles.
func NormalizeTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return DefaultTitle
	}
	return title
}

// SearchKey folds a title for case-insensitive matching. SQLite's LOWER only folds ASCII, so
// titles are folded here and stored next to the original.
func SearchKey(title string) string {
	return cases.Fold().String(title)
}

// Note is a freeform note or a row of a collection.
type Note struct {
	ID           string
	Title        string
	CollectionID string
	Content      Content
	Properties   Properties
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsFreeform reports whether the note belongs to no collection.
func (n Note) IsFreeform() bool {
	return n.CollectionID == ""
}

// Validate checks the properties/collection invariant.
func (n Note) Validate() error {
	if !n.Properties.MatchesCollection(n.CollectionID) {
		return ErrPropertiesShape
	}
	return nil
}

// Clone returns a deep copy so callers can mutate it freely.
func (n Note) Clone() Note {
	n.Content = n.Content.Clone()
	n.Properties = n.Properties.Clone()
	return n
}

// Collection is a typed table of notes.
type Collection struct {
	ID          string
	Name        string
	Icon        string
	Description string
	Schema      schema.Schema
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Property is an ad-hoc property attached to a freeform note. Its value is always a string;
// the declared type only affects rendering.
type Property struct {
	ID     string              `json:"id"`
	NoteID string              `json:"note_id"`
	Label  string              `json:"label"`
	Type   schema.PropertyType `json:"type"`
	Value  string              `json:"value"`
}

// Properties holds either the ad-hoc list of a freeform note or the schema-keyed values of a
// collection note. Construct it with FreeformProperties or BoundProperties.
type Properties struct {
	bound  bool
	list   []Property
	values schema.Values
}

// FreeformProperties builds the list variant.
func FreeformProperties(list []Property) Properties {
	return Properties{list: append([]Property{}, list...)}
}

// BoundProperties builds the schema-keyed variant.
func BoundProperties(values schema.Values) Properties {
	return Properties{bound: true, values: values.Clone()}
}

// EmptyPropertiesFor returns the empty variant matching collectionID.
func EmptyPropertiesFor(collectionID string) Properties {
	if collectionID == "" {
		return FreeformProperties(nil)
	}
	return BoundProperties(nil)
}

// IsBound reports whether this is the schema-keyed variant.
func (p Properties) IsBound() bool { return p.bound }

// List returns a copy of the ad-hoc list, or nil for the bound variant.
func (p Properties) List() []Property {
	if p.bound {
		return nil
	}
	return append([]Property{}, p.list...)
}

// Values returns a copy of the schema values, or nil for the freeform variant.
func (p Properties) Values() schema.Values {
	if !p.bound {
		return nil
	}
	return p.values.Clone()
}

// MatchesCollection reports whether the variant fits collectionID's nullability.
func (p Properties) MatchesCollection(collectionID string) bool {
	return p.bound == (collectionID != "")
}

// Clone returns a deep copy.
func (p Properties) Clone() Properties {
	if p.bound {
		return BoundProperties(p.values)
	}
	return FreeformProperties(p.list)
}

// MarshalJSON encodes the list variant as an array and the bound variant as an object.
func (p Properties) MarshalJSON() ([]byte, error) {
	if p.bound {
		if p.values == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(p.values)
	}
	if p.list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.list)
}

// DecodeProperties parses stored or transported properties for a note in collectionID.
// Input of the wrong shape yields the empty variant.
func DecodeProperties(collectionID string, raw []byte) Properties {
	if collectionID != "" {
		return BoundProperties(schema.DecodeValues(raw))
	}
	var list []Property
	if len(raw) == 0 || json.Unmarshal(raw, &list) != nil {
		return FreeformProperties(nil)
	}
	return FreeformProperties(list)
}

// NotePatch is a partial note update; nil fields are left untouched.
type NotePatch struct {
	Title      *string
	Content    *Content
	Properties *Properties
}

// IsEmpty reports whether the patch changes nothing.
func (p NotePatch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.Properties == nil
}

// CollectionPatch is a partial update of a collection's descriptive fields.
type CollectionPatch struct {
	Name        *string
	Icon        *string
	Description *string
}

// SearchQuery describes a title search.
type SearchQuery struct {
	Term         string
	CollectionID string
	ExcludeID    string
	Limit        int
}
