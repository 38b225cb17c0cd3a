package schema

import (
	"encoding/json"
	"strconv"
	"strings"
)

// EditKind names the control shape an EditValue drives.
type EditKind int

const (
	// EditText drives text, number, date and select inputs.
	EditText EditKind = iota
	// EditFlag drives a checkbox.
	EditFlag
	// EditIDs drives a relation picker.
	EditIDs
)

// EditValue is a stored value coerced for editing under a declared type.
type EditValue struct {
	Kind EditKind
	Text string
	Flag bool
	IDs  []string
}

// Stored converts the edit value back into its stored representation.
func (e EditValue) Stored() Value {
	switch e.Kind {
	case EditFlag:
		return BoolValue(e.Flag)
	case EditIDs:
		return ListValue(e.IDs)
	default:
		return StringValue(e.Text)
	}
}

// MarshalJSON encodes the stored representation.
func (e EditValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Stored())
}

// CoerceForEdit maps a stored value to the edit shape of propertyType. It is total:
// unexpected shapes degrade to the type's zero value.
func CoerceForEdit(propertyType PropertyType, stored Value) EditValue {
	switch propertyType {
	case PropertyTypeBoolean:
		return EditValue{Kind: EditFlag, Flag: truthy(stored)}
	case PropertyTypeRelation:
		ids := stored.List()
		if ids == nil {
			ids = []string{}
		}
		return EditValue{Kind: EditIDs, IDs: ids}
	default:
		if stored.Kind() != KindString {
			return EditValue{Kind: EditText}
		}
		return EditValue{Kind: EditText, Text: stored.Text()}
	}
}

func truthy(stored Value) bool {
	switch stored.Kind() {
	case KindBool:
		return stored.Bool()
	case KindList:
		return len(stored.list) > 0
	case KindString:
		text := strings.TrimSpace(stored.Text())
		if parsed, err := strconv.ParseBool(text); err == nil {
			return parsed
		}
		return text != ""
	default:
		return false
	}
}
