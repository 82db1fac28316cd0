package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType discriminates the variants of a serialized console value.
type ValueType string

const (
	TypeNull        ValueType = "null"
	TypeUndefined   ValueType = "undefined"
	TypeString      ValueType = "string"
	TypeNumber      ValueType = "number"
	TypeBoolean     ValueType = "boolean"
	TypeSymbol      ValueType = "symbol"
	TypeBigInt      ValueType = "bigint"
	TypeFunction    ValueType = "function"
	TypeDate        ValueType = "date"
	TypeRegExp      ValueType = "regexp"
	TypeError       ValueType = "error"
	TypeArray       ValueType = "array"
	TypeObject      ValueType = "object"
	TypeMap         ValueType = "map"
	TypeSet         ValueType = "set"
	TypeDOM         ValueType = "dom"
	TypeArrayBuffer ValueType = "arraybuffer"
	TypeTypedArray  ValueType = "typedarray"
	TypeDataView    ValueType = "dataview"
	TypePromise     ValueType = "promise"
	TypeWeakMap     ValueType = "weakmap"
	TypeWeakSet     ValueType = "weakset"
	TypeCircular    ValueType = "circular"
	TypeMaxDepth    ValueType = "max-depth"
	TypeUnknown     ValueType = "unknown"
)

// Value is a bounded, fully owned snapshot of one runtime value. Which
// fields are meaningful depends on Type; the zero Value is undefined.
//
// A Value never references a live runtime object and never contains a
// cycle, so it is safe to retain, share across goroutines and encode.
type Value struct {
	Type ValueType

	// Text carries the scalar payload for string-like variants: the string
	// itself, symbol and bigint text, ISO dates, regexp source, error
	// messages, non-finite numbers and unknown stringifications.
	Text   string
	Number float64
	Bool   bool

	// Name is the function name or the error name.
	Name  string
	Stack string

	Items   []Value
	Fields  []Field
	Entries []Entry
	Values  []Value

	ClassName string
	TagName   string
	ID        string

	// Kind is the typed array constructor name (Uint8Array, Float32Array...).
	Kind       string
	Length     int
	ByteLength int
	Size       int

	Truncated      bool
	OriginalLength int
	TotalLength    int
	TotalKeys      int

	// Path is where a repeated container was met again, such as
	// "root.self".
	Path string
}

// Field is one ordered key of an object value.
type Field struct {
	Key   string
	Value Value
}

// Entry is one key/value pair of a map value.
type Entry struct {
	Key   Value `json:"key"`
	Value Value `json:"value"`
}

// Null and Undefined build the two empty leaves.
func Null() Value      { return Value{Type: TypeNull} }
func Undefined() Value { return Value{Type: TypeUndefined} }

// String builds a string leaf.
func String(s string) Value { return Value{Type: TypeString, Text: s} }

// Bool builds a boolean leaf.
func Bool(b bool) Value { return Value{Type: TypeBoolean, Bool: b} }

// Number builds a number leaf.
func Number(f float64) Value { return Value{Type: TypeNumber, Number: f} }

// Array builds an array value. No items gives an empty, non-nil array.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Type: TypeArray, Items: items}
}

// Object builds an object value with fields in the given order.
func Object(fields ...Field) Value {
	return Value{Type: TypeObject, Fields: fields}
}

// Circular builds the marker left where a container was met again at path.
func Circular(path string) Value {
	return Value{Type: TypeCircular, Path: path, Text: "[Circular: " + path + "]"}
}

// Unknown wraps a stringified value that no other variant describes.
func Unknown(text string) Value { return Value{Type: TypeUnknown, Text: text} }

// ErrorValue builds an error leaf.
func ErrorValue(name, message, stack string) Value {
	if name == "" {
		name = "Error"
	}
	return Value{Type: TypeError, Name: name, Text: message, Stack: stack}
}

// Field returns the value stored under key on an object value.
func (v Value) Field(key string) (Value, bool) {
	for _, f := range v.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// IsContainer reports whether v is one of the variants that hold other values.
func (v Value) IsContainer() bool {
	switch v.Type {
	case TypeArray, TypeObject, TypeMap, TypeSet:
		return true
	}
	return false
}

// NumberText renders a number the way a browser console does, including
// the non-finite spellings.
func (v Value) NumberText() string {
	if v.Text != "" {
		return v.Text
	}
	return FormatNumber(v.Number)
}

// FormatNumber renders f using the shortest representation that round trips.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

type wireValue struct {
	Type           ValueType       `json:"type"`
	Value          json.RawMessage `json:"value,omitempty"`
	Truncated      bool            `json:"truncated,omitempty"`
	OriginalLength int             `json:"originalLength,omitempty"`
	TotalLength    int             `json:"totalLength,omitempty"`
	TotalKeys      int             `json:"totalKeys,omitempty"`
	ClassName      string          `json:"className,omitempty"`
	Entries        []Entry         `json:"entries,omitempty"`
	Values         []Value         `json:"values,omitempty"`
	Size           *int            `json:"size,omitempty"`
	Name           string          `json:"name,omitempty"`
	Stack          string          `json:"stack,omitempty"`
	TagName        string          `json:"tagName,omitempty"`
	ID             string          `json:"id,omitempty"`
	ByteLength     *int            `json:"byteLength,omitempty"`
	ArrayType      string          `json:"arrayType,omitempty"`
	Length         *int            `json:"length,omitempty"`
	Path           string          `json:"path,omitempty"`
}

// MarshalJSON encodes v in the extension wire shape.
func (v Value) MarshalJSON() ([]byte, error) {
	t := v.Type
	if t == "" {
		t = TypeUndefined
	}
	w := wireValue{
		Type:           t,
		Truncated:      v.Truncated,
		OriginalLength: v.OriginalLength,
		TotalLength:    v.TotalLength,
		TotalKeys:      v.TotalKeys,
		ClassName:      v.ClassName,
		Name:           v.Name,
		Stack:          v.Stack,
		TagName:        v.TagName,
		ID:             v.ID,
		Path:           v.Path,
	}

	var err error
	switch t {
	case TypeUndefined:
	case TypeNull:
		w.Value = json.RawMessage("null")
	case TypeNumber:
		if v.Text != "" || math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
			w.Value, err = json.Marshal(v.NumberText())
		} else {
			w.Value, err = json.Marshal(v.Number)
		}
	case TypeBoolean:
		w.Value, err = json.Marshal(v.Bool)
	case TypeArray:
		items := v.Items
		if items == nil {
			items = []Value{}
		}
		w.Value, err = json.Marshal(items)
	case TypeObject:
		w.Value, err = marshalFields(v.Fields)
	case TypeMap:
		entries := v.Entries
		if entries == nil {
			entries = []Entry{}
		}
		w.Entries = entries
		w.Size = intPtr(v.Size)
	case TypeSet:
		values := v.Values
		if values == nil {
			values = []Value{}
		}
		w.Values = values
		w.Size = intPtr(v.Size)
	case TypeArrayBuffer, TypeDataView:
		w.ByteLength = intPtr(v.ByteLength)
	case TypeTypedArray:
		w.ArrayType = v.Kind
		w.Length = intPtr(v.Length)
	default:
		w.Value, err = json.Marshal(v.Text)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the extension wire shape. Unknown keys are ignored
// and unknown type tags decode as TypeUnknown.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Value{
		Type:           w.Type,
		Truncated:      w.Truncated,
		OriginalLength: w.OriginalLength,
		TotalLength:    w.TotalLength,
		TotalKeys:      w.TotalKeys,
		ClassName:      w.ClassName,
		Entries:        w.Entries,
		Values:         w.Values,
		Name:           w.Name,
		Stack:          w.Stack,
		TagName:        w.TagName,
		ID:             w.ID,
		Kind:           w.ArrayType,
		Path:           w.Path,
	}
	if w.Size != nil {
		out.Size = *w.Size
	}
	if w.ByteLength != nil {
		out.ByteLength = *w.ByteLength
	}
	if w.Length != nil {
		out.Length = *w.Length
	}

	raw := bytes.TrimSpace(w.Value)
	switch w.Type {
	case TypeNull, TypeUndefined:
	case TypeNumber:
		if len(raw) > 0 && raw[0] == '"' {
			if err := json.Unmarshal(raw, &out.Text); err != nil {
				return err
			}
		} else if len(raw) > 0 {
			if err := json.Unmarshal(raw, &out.Number); err != nil {
				return err
			}
		}
	case TypeBoolean:
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &out.Bool); err != nil {
				return err
			}
		}
	case TypeArray:
		if len(raw) > 0 && raw[0] == '[' {
			if err := json.Unmarshal(raw, &out.Items); err != nil {
				return err
			}
		}
		if out.Items == nil {
			out.Items = []Value{}
		}
	case TypeObject:
		if len(raw) > 0 && raw[0] == '{' {
			fields, err := unmarshalFields(raw)
			if err != nil {
				return err
			}
			out.Fields = fields
		} else {
			out.Text = rawText(raw)
		}
	case TypeMap, TypeSet, TypeArrayBuffer, TypeDataView, TypeTypedArray:
		out.Text = rawText(raw)
	case TypeString, TypeSymbol, TypeBigInt, TypeFunction, TypeDate, TypeRegExp,
		TypeError, TypeDOM, TypePromise, TypeWeakMap, TypeWeakSet, TypeMaxDepth, TypeUnknown:
		out.Text = rawText(raw)
	case TypeCircular:
		out.Text = rawText(raw)
		if out.Path == "" {
			out.Path = strings.TrimSuffix(strings.TrimPrefix(out.Text, "[Circular: "), "]")
		}
	default:
		out.Type = TypeUnknown
		if len(raw) > 0 {
			out.Text = rawText(raw)
		} else {
			out.Text = fmt.Sprintf("[%s]", w.Type)
		}
	}

	*v = out
	return nil
}

// rawText returns a JSON string payload unquoted, or any other payload as
// its JSON text.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func marshalFields(fields []Field) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// unmarshalFields decodes a JSON object keeping its key order.
func unmarshalFields(raw []byte) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	fields := []Field{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("object key: unexpected token %v", tok)
		}
		var val Value
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("object field %q: %w", key, err)
		}
		fields = append(fields, Field{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}

func intPtr(n int) *int { return &n }
