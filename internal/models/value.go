package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ValueKind tags the dynamic payload type carried by a report field.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindNumber
	KindString
	KindBool
	KindObject
	KindArray
)

// Value is a self-describing report value: a scalar or a nested amount object.
type Value struct {
	Kind   ValueKind
	Number json.Number
	String string
	Bool   bool
	Object map[string]Value
	Array  []Value
}

func Null() Value { return Value{Kind: KindNull} }

func Num(s string) Value { return Value{Kind: KindNumber, Number: json.Number(s)} }

func Str(s string) Value { return Value{Kind: KindString, String: s} }

func Obj(fields map[string]Value) Value { return Value{Kind: KindObject, Object: fields} }

// Float builds a number value from a float64.
func Float(f float64) Value {
	return Num(strconv.FormatFloat(f, 'f', -1, 64))
}

func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Interface converts the value back into plain Go types.
func (v Value) Interface() any {
	switch v.Kind {
	case KindNumber:
		return v.Number
	case KindString:
		return v.String
	case KindBool:
		return v.Bool
	case KindObject:
		out := make(map[string]any, len(v.Object))
		for k, f := range v.Object {
			out[k] = f.Interface()
		}
		return out
	case KindArray:
		out := make([]any, len(v.Array))
		for i, f := range v.Array {
			out[i] = f.Interface()
		}
		return out
	}
	return nil
}

// Text renders scalar values the way they appear in the payload.
// Objects, arrays and nulls have no text form.
func (v Value) Text() (string, bool) {
	switch v.Kind {
	case KindString:
		return v.String, true
	case KindNumber:
		return v.Number.String(), true
	case KindBool:
		return strconv.FormatBool(v.Bool), true
	}
	return "", false
}

// Field returns a nested object member.
func (v Value) Field(name string) (Value, bool) {
	if v.Kind != KindObject {
		return Value{}, false
	}
	f, ok := v.Object[name]
	return f, ok
}

func fromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case json.Number:
		return Value{Kind: KindNumber, Number: t}
	case string:
		return Str(t)
	case bool:
		return Value{Kind: KindBool, Bool: t}
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, f := range t {
			obj[k] = fromAny(f)
		}
		return Obj(obj)
	case []any:
		arr := make([]Value, len(t))
		for i, f := range t {
			arr[i] = fromAny(f)
		}
		return Value{Kind: KindArray, Array: arr}
	}
	return Null()
}
