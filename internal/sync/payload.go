package sync

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// DataType tags the variant stored in a Value
type DataType string

const (
	TypeString    DataType = "string"
	TypeNumber    DataType = "number"
	TypeBool      DataType = "bool"
	TypeTimestamp DataType = "timestamp"
	TypeArray     DataType = "array"
	TypeObject    DataType = "object"
	TypeNull      DataType = "null"
)

// Value is one payload field value. Exactly one variant is meaningful,
// selected by Type.
type Value struct {
	Type DataType
	Str  string
	Num  float64
	Bool bool
	Time time.Time
	List []Value
	Map  Payload
}

// Payload is an entity payload: field name to typed value. Entity schemas
// stay opaque to the sync core; merge logic pattern-matches on DataType only.
type Payload map[string]Value

// Constructors

func String(s string) Value        { return Value{Type: TypeString, Str: s} }
func Number(n float64) Value       { return Value{Type: TypeNumber, Num: n} }
func Boolean(b bool) Value         { return Value{Type: TypeBool, Bool: b} }
func Timestamp(t time.Time) Value  { return Value{Type: TypeTimestamp, Time: t.UTC()} }
func Array(items ...Value) Value   { return Value{Type: TypeArray, List: items} }
func Object(p Payload) Value       { return Value{Type: TypeObject, Map: p} }
func Null() Value                  { return Value{Type: TypeNull} }

// Equal reports deep equality between two values
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case TypeString:
		return v.Str == other.Str
	case TypeNumber:
		return v.Num == other.Num
	case TypeBool:
		return v.Bool == other.Bool
	case TypeTimestamp:
		return v.Time.Equal(other.Time)
	case TypeArray:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case TypeObject:
		return v.Map.Equal(other.Map)
	case TypeNull:
		return true
	}
	return false
}

// Equal reports deep equality between two payloads
func (p Payload) Equal(other Payload) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the payload
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v.clone()
	}
	return out
}

func (v Value) clone() Value {
	switch v.Type {
	case TypeArray:
		items := make([]Value, len(v.List))
		for i, item := range v.List {
			items[i] = item.clone()
		}
		return Value{Type: TypeArray, List: items}
	case TypeObject:
		return Value{Type: TypeObject, Map: v.Map.Clone()}
	}
	return v
}

// SortedKeys returns the payload's field names in deterministic order
func (p Payload) SortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON renders the value in its natural JSON form.
// Timestamps serialize as RFC 3339 strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case TypeString:
		return json.Marshal(v.Str)
	case TypeNumber:
		return json.Marshal(v.Num)
	case TypeBool:
		return json.Marshal(v.Bool)
	case TypeTimestamp:
		return json.Marshal(v.Time.UTC().Format(time.RFC3339Nano))
	case TypeArray:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case TypeObject:
		return json.Marshal(v.Map)
	case TypeNull:
		return []byte("null"), nil
	}
	return nil, fmt.Errorf("unknown data type %q", v.Type)
}

// UnmarshalJSON maps natural JSON onto the tagged variant.
// Strings that parse as RFC 3339 timestamps become TypeTimestamp so that
// date-aware merge rules apply without schema knowledge.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromInterface(raw)
	return nil
}

// MarshalJSON renders the payload as a plain JSON object
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]Value(p))
}

// UnmarshalJSON parses a plain JSON object into typed values
func (p *Payload) UnmarshalJSON(data []byte) error {
	var m map[string]Value
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*p = Payload(m)
	return nil
}

// Interface converts the payload to plain Go values (for JSONB columns)
func (p Payload) Interface() map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v.anyValue()
	}
	return out
}

func (v Value) anyValue() interface{} {
	switch v.Type {
	case TypeString:
		return v.Str
	case TypeNumber:
		return v.Num
	case TypeBool:
		return v.Bool
	case TypeTimestamp:
		return v.Time.UTC().Format(time.RFC3339Nano)
	case TypeArray:
		items := make([]interface{}, len(v.List))
		for i, item := range v.List {
			items[i] = item.anyValue()
		}
		return items
	case TypeObject:
		return v.Map.Interface()
	}
	return nil
}

// PayloadFromInterface builds a payload from plain Go values using the same
// typing rules as JSON decoding
func PayloadFromInterface(m map[string]interface{}) Payload {
	out := make(Payload, len(m))
	for k, raw := range m {
		out[k] = fromInterface(raw)
	}
	return out
}

func fromInterface(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Boolean(t)
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return Timestamp(ts)
		}
		return String(t)
	case json.Number:
		f, _ := t.Float64()
		return Number(f)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = fromInterface(item)
		}
		return Value{Type: TypeArray, List: items}
	case map[string]interface{}:
		return Object(PayloadFromInterface(t))
	}
	return Null()
}

// Canonical returns a deterministic encoding of the payload: keys sorted,
// numbers in shortest form, timestamps in UTC. Used for checksums.
func (p Payload) Canonical() []byte {
	var buf []byte
	buf = append(buf, '{')
	for i, k := range p.SortedKeys() {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = p[k].appendCanonical(buf)
	}
	return append(buf, '}')
}

func (v Value) appendCanonical(buf []byte) []byte {
	switch v.Type {
	case TypeString:
		b, _ := json.Marshal(v.Str)
		return append(buf, b...)
	case TypeNumber:
		return strconv.AppendFloat(buf, v.Num, 'g', -1, 64)
	case TypeBool:
		return strconv.AppendBool(buf, v.Bool)
	case TypeTimestamp:
		buf = append(buf, '"')
		buf = v.Time.UTC().AppendFormat(buf, time.RFC3339Nano)
		return append(buf, '"')
	case TypeArray:
		buf = append(buf, '[')
		for i, item := range v.List {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = item.appendCanonical(buf)
		}
		return append(buf, ']')
	case TypeObject:
		return append(buf, v.Map.Canonical()...)
	}
	return append(buf, "null"...)
}

// Validate checks that the payload can be serialized
func (p Payload) Validate() error {
	_, err := json.Marshal(p)
	return err
}

// Value implements driver.Valuer so payloads map onto jsonb columns
func (p Payload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner
func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = make(Payload)
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan payload value: %v", value)
	}
	return json.Unmarshal(b, p)
}
