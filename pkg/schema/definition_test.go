package schema

import (
	"errors"
	"reflect"
	"testing"
)

func TestParsePropertyTypeAcceptsLegacyBool(t *testing.T) {
	parsed, err := ParsePropertyType(" Bool ")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed != PropertyTypeBoolean {
		t.Fatalf("expected boolean, got %q", parsed)
	}

	if _, err := ParsePropertyType("formula"); !errors.Is(err, ErrUnknownPropertyType) {
		t.Fatalf("expected ErrUnknownPropertyType, got %v", err)
	}
}

func TestPropertyDefinitionValidate(t *testing.T) {
	valid := PropertyDefinition{ID: "status", Name: "Status", Type: PropertyTypeSelect, Options: []string{"Open"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected select definition to validate, got %v", err)
	}

	invalid := map[string]PropertyDefinition{
		"missing name":           {ID: "p", Type: PropertyTypeText},
		"options on text":        {ID: "p", Name: "P", Type: PropertyTypeText, Options: []string{"x"}},
		"relation target on date": {ID: "p", Name: "P", Type: PropertyTypeDate, RelationCollectionID: "c"},
		"status in schema":       {ID: "p", Name: "P", Type: PropertyTypeStatus},
	}
	for name, definition := range invalid {
		if err := definition.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestRelationDefinitionWithoutTargetIsValid(t *testing.T) {
	anyCollection := PropertyDefinition{ID: "rel-1", Name: "Links", Type: PropertyTypeRelation}
	if err := anyCollection.Validate(); err != nil {
		t.Fatalf("expected relation without target to validate, got %v", err)
	}
	scoped := PropertyDefinition{ID: "rel-2", Name: "Owner", Type: PropertyTypeRelation, RelationCollectionID: "people"}
	if err := (Schema{anyCollection, scoped}).Validate(); err != nil {
		t.Fatalf("expected schema to validate, got %v", err)
	}
}

func TestSchemaAppendRejectsDuplicates(t *testing.T) {
	base := Schema{{ID: "a", Name: "A", Type: PropertyTypeText}}

	next, err := base.Append(PropertyDefinition{ID: "b", Name: "B", Type: PropertyTypeNumber})
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if len(next) != 2 || len(base) != 1 {
		t.Fatalf("expected append to copy, got next=%d base=%d", len(next), len(base))
	}

	if _, err := next.Append(PropertyDefinition{ID: "a", Name: "Again", Type: PropertyTypeText}); !errors.Is(err, ErrDuplicateDefinition) {
		t.Fatalf("expected ErrDuplicateDefinition, got %v", err)
	}
}

func TestDecodeSchemaNormalisesAndDrops(t *testing.T) {
	decoded := DecodeSchema([]byte(`[{"id":"done","name":"Done","type":"bool"},{"name":"orphan","type":"text"}]`))
	if len(decoded) != 1 {
		t.Fatalf("expected one definition, got %#v", decoded)
	}
	if decoded[0].Type != PropertyTypeBoolean {
		t.Fatalf("expected legacy bool to normalise, got %q", decoded[0].Type)
	}

	if got := DecodeSchema([]byte(`{"id":"x"}`)); len(got) != 0 {
		t.Fatalf("expected non-list schema to decode empty, got %#v", got)
	}
}

func TestParseOptions(t *testing.T) {
	if got := ParseOptions(" Open, ,Closed,Open "); !reflect.DeepEqual(got, []string{"Open", "Closed"}) {
		t.Fatalf("unexpected options %#v", got)
	}
	if got := ParseOptions(""); len(got) != 0 {
		t.Fatalf("expected no options, got %#v", got)
	}
}
