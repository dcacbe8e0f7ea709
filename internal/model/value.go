package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ValueKind tags the concrete type held by a FieldValue.
type ValueKind string

const (
	KindString     ValueKind = "string"
	KindNumber     ValueKind = "number"
	KindStringList ValueKind = "string_list"
)

// FieldValue is a tagged variant holding an extracted field value. Exactly one
// of the payload members is meaningful, selected by Kind.
type FieldValue struct {
	Kind ValueKind `json:"kind"`
	Str  string    `json:"str,omitempty"`
	Num  float64   `json:"num,omitempty"`
	List []string  `json:"list,omitempty"`
}

// StringValue wraps s as a FieldValue.
func StringValue(s string) *FieldValue {
	return &FieldValue{Kind: KindString, Str: s}
}

// NumberValue wraps n as a FieldValue.
func NumberValue(n float64) *FieldValue {
	return &FieldValue{Kind: KindNumber, Num: n}
}

// ListValue wraps items as a FieldValue.
func ListValue(items []string) *FieldValue {
	return &FieldValue{Kind: KindStringList, List: items}
}

// CoerceValue converts a raw decoded JSON value into a FieldValue matching the
// field's declared type. Returns an error when the raw value cannot represent
// the declared type; callers treat that as "no evidence" for the field.
func CoerceValue(raw any, ft FieldType) (*FieldValue, error) {
	if raw == nil {
		return nil, eris.New("model: nil value")
	}
	switch ft {
	case FieldTypeNumber:
		switch n := raw.(type) {
		case float64:
			return NumberValue(n), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, eris.Wrap(err, "model: coerce number")
			}
			return NumberValue(f), nil
		case string:
			var f float64
			if _, err := fmt.Sscanf(strings.TrimSpace(n), "%g", &f); err != nil {
				return nil, eris.Wrapf(err, "model: coerce number from %q", n)
			}
			return NumberValue(f), nil
		}
		return nil, eris.Errorf("model: cannot coerce %T to number", raw)
	case FieldTypeStringList:
		switch v := raw.(type) {
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					s = fmt.Sprintf("%v", item)
				}
				s = strings.TrimSpace(s)
				if s != "" {
					items = append(items, s)
				}
			}
			if len(items) == 0 {
				return nil, eris.New("model: empty list value")
			}
			return ListValue(items), nil
		case string:
			// Models sometimes return a comma-joined string for list fields.
			parts := strings.Split(v, ",")
			items := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					items = append(items, p)
				}
			}
			if len(items) == 0 {
				return nil, eris.New("model: empty list value")
			}
			return ListValue(items), nil
		}
		return nil, eris.Errorf("model: cannot coerce %T to string list", raw)
	default:
		switch v := raw.(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				return nil, eris.New("model: empty string value")
			}
			return StringValue(s), nil
		case float64:
			return StringValue(strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")), nil
		case bool:
			return StringValue(fmt.Sprintf("%t", v)), nil
		}
		return nil, eris.Errorf("model: cannot coerce %T to string", raw)
	}
}

// Display renders the value for prompt embedding.
func (v *FieldValue) Display() string {
	if v == nil {
		return ""
	}
	switch v.Kind {
	case KindNumber:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v.Num), "0"), ".")
	case KindStringList:
		return strings.Join(v.List, ", ")
	default:
		return v.Str
	}
}

// Equal reports whether two values are identical in kind and payload.
func (v *FieldValue) Equal(o *FieldValue) bool {
	if v == nil || o == nil {
		return v == o
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == o.Num
	case KindStringList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != o.List[i] {
				return false
			}
		}
		return true
	default:
		return v.Str == o.Str
	}
}
