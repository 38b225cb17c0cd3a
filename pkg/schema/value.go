package schema

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	// KindNull is an absent or malformed value.
	KindNull ValueKind = iota
	// KindString is a scalar stored as a string.
	KindString
	// KindBool is a checkbox flag.
	KindBool
	// KindList is a list of strings, used by relations.
	KindList
)

// Value is a stored schema value decoded into one of its supported shapes.
type Value struct {
	kind ValueKind
	text string
	flag bool
	list []string
}

// NullValue returns the empty value.
func NullValue() Value { return Value{} }

// StringValue wraps a scalar string.
func StringValue(text string) Value { return Value{kind: KindString, text: text} }

// BoolValue wraps a flag.
func BoolValue(flag bool) Value { return Value{kind: KindBool, flag: flag} }

// ListValue wraps a list of ids. The slice is copied.
func ListValue(items []string) Value {
	return Value{kind: KindList, list: append([]string{}, items...)}
}

// ValueOf converts any decoded JSON value. Unsupported shapes become null.
func ValueOf(raw any) Value {
	switch typed := raw.(type) {
	case nil:
		return NullValue()
	case Value:
		return typed
	case string:
		return StringValue(typed)
	case bool:
		return BoolValue(typed)
	case json.Number:
		return StringValue(typed.String())
	case float64:
		return StringValue(strconv.FormatFloat(typed, 'f', -1, 64))
	case float32:
		return StringValue(strconv.FormatFloat(float64(typed), 'f', -1, 32))
	case int:
		return StringValue(strconv.Itoa(typed))
	case int64:
		return StringValue(strconv.FormatInt(typed, 10))
	case []string:
		return ListValue(typed)
	case []any:
		items := make([]string, 0, len(typed))
		for _, element := range typed {
			text, ok := element.(string)
			if !ok {
				return NullValue()
			}
			items = append(items, text)
		}
		return ListValue(items)
	default:
		return NullValue()
	}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is absent.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Text returns the scalar string, or "" for other kinds.
func (v Value) Text() string { return v.text }

// Bool returns the flag, or false for other kinds.
func (v Value) Bool() bool { return v.flag }

// List returns a copy of the list, or nil for other kinds.
func (v Value) List() []string {
	if v.kind != KindList {
		return nil
	}
	return append([]string{}, v.list...)
}

// Equal compares two values structurally.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind || v.text != other.text || v.flag != other.flag {
		return false
	}
	if len(v.list) != len(other.list) {
		return false
	}
	for index := range v.list {
		if v.list[index] != other.list[index] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the value in its natural JSON shape.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.text)
	case KindBool:
		return json.Marshal(v.flag)
	case KindList:
		return json.Marshal(append([]string{}, v.list...))
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON never fails: unexpected shapes decode to null.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		*v = NullValue()
		return nil
	}
	*v = ValueOf(raw)
	return nil
}

// Values maps definition ids to stored values for a collection note.
type Values map[string]Value

// Get returns the stored value or null.
func (values Values) Get(id string) Value {
	if values == nil {
		return NullValue()
	}
	return values[id]
}

// With returns a copy of the map with id set to value.
func (values Values) With(id string, value Value) Values {
	next := values.Clone()
	next[id] = value
	return next
}

// Clone returns a shallow copy; Value is immutable so this is deep enough.
func (values Values) Clone() Values {
	next := make(Values, len(values)+1)
	for id, value := range values {
		next[id] = value
	}
	return next
}

// DecodeValues parses a stored values object. Anything but a JSON object yields an empty map.
func DecodeValues(raw []byte) Values {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Values{}
	}
	var values Values
	if err := json.Unmarshal(trimmed, &values); err != nil || values == nil {
		return Values{}
	}
	return values
}
