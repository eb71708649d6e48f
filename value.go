package telemex // import "github.com/durastream/telemex"

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueType identifies the kind held by a Value.
type ValueType int32

const (
	ValueTypeEmpty ValueType = iota
	ValueTypeStr
	ValueTypeInt
	ValueTypeDouble
	ValueTypeBool
	ValueTypeMap
)

// Value is the small sum type used for schema-less record attributes and
// metadata: string, int, double, bool, empty (null) or a nested Map.
type Value struct {
	typ ValueType
	str string
	i   int64
	d   float64
	b   bool
	m   *Map
}

// EmptyValue returns a null Value.
func EmptyValue() Value { return Value{} }

// StrValue returns a string Value.
func StrValue(s string) Value { return Value{typ: ValueTypeStr, str: s} }

// IntValue returns an integer Value.
func IntValue(i int64) Value { return Value{typ: ValueTypeInt, i: i} }

// DoubleValue returns a floating point Value.
func DoubleValue(d float64) Value { return Value{typ: ValueTypeDouble, d: d} }

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{typ: ValueTypeBool, b: b} }

// MapValue returns a Value holding a nested Map.
func MapValue(m *Map) Value { return Value{typ: ValueTypeMap, m: m} }

// Type returns the kind held by v.
func (v Value) Type() ValueType { return v.typ }

// Str returns the string held by v, or "" if v is not a string.
func (v Value) Str() string { return v.str }

// Int returns the integer held by v, or 0 if v is not an integer.
func (v Value) Int() int64 { return v.i }

// Double returns the float held by v, or 0 if v is not a double.
func (v Value) Double() float64 { return v.d }

// Bool returns the boolean held by v, or false if v is not a boolean.
func (v Value) Bool() bool { return v.b }

// Map returns the nested Map held by v, or nil if v is not a map.
func (v Value) Map() *Map { return v.m }

// AsString renders v for use in low-cardinality metadata fields.
func (v Value) AsString() string {
	switch v.typ {
	case ValueTypeStr:
		return v.str
	case ValueTypeInt:
		return strconv.FormatInt(v.i, 10)
	case ValueTypeDouble:
		return strconv.FormatFloat(v.d, 'g', -1, 64)
	case ValueTypeBool:
		return strconv.FormatBool(v.b)
	case ValueTypeMap:
		raw, _ := json.Marshal(v.m)
		return string(raw)
	}
	return ""
}

func (v Value) asRaw() any {
	switch v.typ {
	case ValueTypeStr:
		return v.str
	case ValueTypeInt:
		return v.i
	case ValueTypeDouble:
		return v.d
	case ValueTypeBool:
		return v.b
	case ValueTypeMap:
		return v.m.AsRaw()
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.asRaw())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Map is an insertion-ordered string-keyed collection of Values. The order
// matters for reproducible serialization of WAL and DLQ lines.
type Map struct {
	kvs []mapEntry
}

type mapEntry struct {
	k string
	v Value
}

// NewMap returns an empty Map.
func NewMap() *Map { return &Map{} }

// Put sets k to v, replacing an existing entry in place.
func (m *Map) Put(k string, v Value) {
	for i := range m.kvs {
		if m.kvs[i].k == k {
			m.kvs[i].v = v
			return
		}
	}
	m.kvs = append(m.kvs, mapEntry{k: k, v: v})
}

// PutStr sets k to a string value.
func (m *Map) PutStr(k, s string) { m.Put(k, StrValue(s)) }

// PutInt sets k to an integer value.
func (m *Map) PutInt(k string, i int64) { m.Put(k, IntValue(i)) }

// PutDouble sets k to a float value.
func (m *Map) PutDouble(k string, d float64) { m.Put(k, DoubleValue(d)) }

// PutBool sets k to a boolean value.
func (m *Map) PutBool(k string, b bool) { m.Put(k, BoolValue(b)) }

// Get returns the value stored under k.
func (m *Map) Get(k string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	for i := range m.kvs {
		if m.kvs[i].k == k {
			return m.kvs[i].v, true
		}
	}
	return Value{}, false
}

// Remove deletes k, reporting whether it was present.
func (m *Map) Remove(k string) bool {
	if m == nil {
		return false
	}
	for i := range m.kvs {
		if m.kvs[i].k == k {
			m.kvs = append(m.kvs[:i], m.kvs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.kvs)
}

// Range calls f for each entry in insertion order until f returns false.
func (m *Map) Range(f func(k string, v Value) bool) {
	if m == nil {
		return
	}
	for i := range m.kvs {
		if !f(m.kvs[i].k, m.kvs[i].v) {
			return
		}
	}
}

// AsRaw converts the map to plain Go types for handing to the backend store.
func (m *Map) AsRaw() map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m.kvs))
	for i := range m.kvs {
		out[m.kvs[i].k] = m.kvs[i].v.asRaw()
	}
	return out
}

// MarshalJSON implements json.Marshaler, preserving insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := range m.kvs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.kvs[i].k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(m.kvs[i].v)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving key order.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("expected object, got %v", tok)
	}
	parsed, err := decodeMap(dec)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// decodeMap reads entries until the closing brace. The opening brace has
// already been consumed.
func decodeMap(dec *json.Decoder) (*Map, error) {
	m := NewMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		m.Put(key, v)
	}
	if _, err := dec.Token(); err != nil { // consume '}'
		return nil, err
	}
	return m, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case string:
		return StrValue(t), nil
	case bool:
		return BoolValue(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i), nil
		}
		d, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return DoubleValue(d), nil
	case nil:
		return EmptyValue(), nil
	case json.Delim:
		switch t {
		case '{':
			m, err := decodeMap(dec)
			if err != nil {
				return Value{}, err
			}
			return MapValue(m), nil
		case '[':
			// Arrays are outside the attribute value model; skip them.
			if err := skipArray(dec); err != nil {
				return Value{}, err
			}
			return EmptyValue(), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

func skipArray(dec *json.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '[', '{':
				depth++
			case ']', '}':
				depth--
			}
		}
	}
	return nil
}
