// Package serialize converts arbitrary runtime values into bounded,
// acyclic domain.Value trees that are safe to retain and transmit.
package serialize

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
)

// Limits bounds the size of a serialized value.
type Limits struct {
	MaxDepth        int `koanf:"max_depth"`
	MaxStringLength int `koanf:"max_string_length"`
	MaxArrayLength  int `koanf:"max_array_length"`
	MaxObjectKeys   int `koanf:"max_object_keys"`
	MaxMapEntries   int `koanf:"max_map_entries"`
	MaxSetValues    int `koanf:"max_set_values"`
}

// DefaultLimits returns the limits used by the browser extension.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:        10,
		MaxStringLength: 10240,
		MaxArrayLength:  1000,
		MaxObjectKeys:   1000,
		MaxMapEntries:   100,
		MaxSetValues:    100,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxStringLength <= 0 {
		l.MaxStringLength = d.MaxStringLength
	}
	if l.MaxArrayLength <= 0 {
		l.MaxArrayLength = d.MaxArrayLength
	}
	if l.MaxObjectKeys <= 0 {
		l.MaxObjectKeys = d.MaxObjectKeys
	}
	if l.MaxMapEntries <= 0 {
		l.MaxMapEntries = d.MaxMapEntries
	}
	if l.MaxSetValues <= 0 {
		l.MaxSetValues = d.MaxSetValues
	}
	return l
}

// Serializer walks values under a fixed set of limits. It holds no per-call
// state and is safe for concurrent use.
type Serializer struct {
	limits Limits
}

// New creates a Serializer. Zero limits fall back to DefaultLimits.
func New(limits Limits) *Serializer {
	return &Serializer{limits: limits.withDefaults()}
}

// Limits returns the effective limits.
func (s *Serializer) Limits() Limits {
	return s.limits
}

// visited records the containers entered during one top-level walk.
type visited map[any]struct{}

// enter marks key as visited and reports whether it was new.
func (seen visited) enter(key any) bool {
	if _, ok := seen[key]; ok {
		return false
	}
	seen[key] = struct{}{}
	return true
}

type refKey struct {
	typ reflect.Type
	ptr uintptr
	n   int
}

// Serialize converts v into a domain.Value. It never panics.
func (s *Serializer) Serialize(v any) (out domain.Value) {
	defer func() {
		if r := recover(); r != nil {
			out = domain.Unknown(fmt.Sprintf("[Unserializable: %v]", r))
		}
	}()
	return s.walk(v, 0, make(visited), "root")
}

func (s *Serializer) walk(v any, depth int, seen visited, path string) domain.Value {
	switch x := v.(type) {
	case nil, null:
		return domain.Null()
	case undefined:
		return domain.Undefined()
	case domain.Value:
		return x
	case string:
		return s.str(x)
	case bool:
		return domain.Bool(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return domain.Number(f)
		}
		return domain.Unknown(x.String())
	case time.Duration:
		return s.str(x.String())
	case Symbol:
		return domain.Value{Type: domain.TypeSymbol, Text: string(x)}
	case BigInt:
		return bigint(string(x))
	case *big.Int:
		if x == nil {
			return domain.Null()
		}
		return bigint(x.String())
	case Function:
		return function(x.Name)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return s.str(rv.String())
	case reflect.Bool:
		return domain.Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return domain.Number(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return domain.Number(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return domain.Number(rv.Float())
	case reflect.Func:
		if rv.IsNil() {
			return domain.Null()
		}
		return function(funcName(rv))
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return domain.Null()
		}
	}

	if depth >= s.limits.MaxDepth {
		return maxDepth(v, rv)
	}

	switch x := v.(type) {
	case time.Time:
		return date(x)
	case *time.Time:
		return date(*x)
	case Date:
		return domain.Value{Type: domain.TypeDate, Text: string(x)}
	case *regexp.Regexp:
		return domain.Value{Type: domain.TypeRegExp, Text: "/" + x.String() + "/"}
	case RegExp:
		return domain.Value{Type: domain.TypeRegExp, Text: string(x)}
	case Promise, *Promise:
		return domain.Value{Type: domain.TypePromise, Text: "[Promise]"}
	case WeakMap, *WeakMap:
		return domain.Value{Type: domain.TypeWeakMap, Text: "[WeakMap]"}
	case WeakSet, *WeakSet:
		return domain.Value{Type: domain.TypeWeakSet, Text: "[WeakSet]"}
	case error:
		return errorValue(x)
	}
	if rv.Kind() == reflect.Chan {
		return domain.Value{Type: domain.TypePromise, Text: "[Promise]"}
	}

	switch x := v.(type) {
	case *Map:
		if !seen.enter(refKey{typ: rv.Type(), ptr: rv.Pointer()}) {
			return domain.Circular(path)
		}
		return s.mapValue(x.Entries, x.Size, depth, seen, path)
	case Map:
		return s.mapValue(x.Entries, x.Size, depth, seen, path)
	case *Set:
		if !seen.enter(refKey{typ: rv.Type(), ptr: rv.Pointer()}) {
			return domain.Circular(path)
		}
		return s.setValue(x.Values, x.Size, depth, seen, path)
	case Set:
		return s.setValue(x.Values, x.Size, depth, seen, path)
	}
	if rv.Kind() == reflect.Map && (isSetType(rv.Type()) || !isStringKeyed(rv.Type())) {
		if !seen.enter(refKey{typ: rv.Type(), ptr: rv.Pointer()}) {
			return domain.Circular(path)
		}
		if isSetType(rv.Type()) {
			return s.setValue(sortedKeys(rv), 0, depth, seen, path)
		}
		return s.mapValue(sortedEntries(rv), 0, depth, seen, path)
	}

	switch x := v.(type) {
	case ArrayBuffer:
		return domain.Value{Type: domain.TypeArrayBuffer, ByteLength: x.ByteLength}
	case *ArrayBuffer:
		return domain.Value{Type: domain.TypeArrayBuffer, ByteLength: x.ByteLength}
	case TypedArray:
		return domain.Value{Type: domain.TypeTypedArray, Kind: x.Kind, Length: x.Length}
	case *TypedArray:
		return domain.Value{Type: domain.TypeTypedArray, Kind: x.Kind, Length: x.Length}
	case DataView:
		return domain.Value{Type: domain.TypeDataView, ByteLength: x.ByteLength}
	case *DataView:
		return domain.Value{Type: domain.TypeDataView, ByteLength: x.ByteLength}
	}
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() == reflect.Uint8 {
		return domain.Value{Type: domain.TypeArrayBuffer, ByteLength: rv.Len()}
	}

	switch x := v.(type) {
	case Element:
		return element(x)
	case *Element:
		return element(*x)
	}

	if list, ok := v.(List); ok {
		if rv.Kind() == reflect.Pointer {
			if !seen.enter(refKey{typ: rv.Type(), ptr: rv.Pointer()}) {
				return domain.Circular(path)
			}
		}
		return s.list(list, depth, seen, path)
	}

	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Kind() == reflect.Slice && rv.Len() > 0 {
			if !seen.enter(refKey{typ: rv.Type(), ptr: rv.Pointer(), n: rv.Len()}) {
				return domain.Circular(path)
			}
		}
		return s.array(rv, depth, seen, path)
	}

	if obj, ok := v.(Object); ok {
		if k := rv.Kind(); k == reflect.Pointer || k == reflect.Map || k == reflect.Slice {
			if !seen.enter(refKey{typ: rv.Type(), ptr: rv.Pointer()}) {
				return domain.Circular(path)
			}
		}
		return s.objectSource(obj, depth, seen, path)
	}

	switch rv.Kind() {
	case reflect.Map:
		if !seen.enter(refKey{typ: rv.Type(), ptr: rv.Pointer()}) {
			return domain.Circular(path)
		}
		return s.stringMap(rv, depth, seen, path)
	case reflect.Pointer:
		if !seen.enter(refKey{typ: rv.Type(), ptr: rv.Pointer()}) {
			return domain.Circular(path)
		}
		elem := rv.Elem()
		if elem.Kind() == reflect.Struct {
			return s.structValue(elem, depth, seen, path)
		}
		return s.walk(elem.Interface(), depth, seen, path)
	case reflect.Struct:
		return s.structValue(rv, depth, seen, path)
	}

	return stringify(v)
}

func (s *Serializer) str(in string) domain.Value {
	n := utf8.RuneCountInString(in)
	if n <= s.limits.MaxStringLength {
		return domain.String(in)
	}
	cut, count := in, 0
	for idx := range in {
		if count == s.limits.MaxStringLength {
			cut = in[:idx]
			break
		}
		count++
	}
	return domain.Value{Type: domain.TypeString, Text: cut, Truncated: true, OriginalLength: n}
}

func (s *Serializer) array(rv reflect.Value, depth int, seen visited, path string) domain.Value {
	n := rv.Len()
	limit := min(n, s.limits.MaxArrayLength)
	items := make([]domain.Value, limit)
	for i := range limit {
		items[i] = s.walk(rv.Index(i).Interface(), depth+1, seen, fmt.Sprintf("%s[%d]", path, i))
	}
	out := domain.Value{Type: domain.TypeArray, Items: items}
	if n > limit {
		out.Truncated = true
		out.TotalLength = n
	}
	return out
}

// list reads at most MaxArrayLength elements of l.
func (s *Serializer) list(l List, depth int, seen visited, path string) domain.Value {
	n, err := l.Len()
	if err != nil {
		return domain.ErrorValue("Error", "[Error reading array: "+err.Error()+"]", "")
	}
	n = max(n, 0)
	limit := min(n, s.limits.MaxArrayLength)
	items := make([]domain.Value, limit)
	for i := range limit {
		index := func(string) (any, error) { return l.Index(i) }
		items[i] = s.property(index, "", depth, seen, fmt.Sprintf("%s[%d]", path, i))
	}
	out := domain.Value{Type: domain.TypeArray, Items: items}
	if n > limit {
		out.Truncated = true
		out.TotalLength = n
	}
	return out
}

// mapValue serializes a prefix of entries. size is the full entry count
// when entries were cut short by the producer.
func (s *Serializer) mapValue(entries []MapEntry, size int, depth int, seen visited, path string) domain.Value {
	size = max(size, len(entries))
	limit := min(len(entries), s.limits.MaxMapEntries)
	out := make([]domain.Entry, 0, limit)
	for i, e := range entries[:limit] {
		out = append(out, domain.Entry{
			Key:   s.walk(e.Key, depth+1, seen, fmt.Sprintf("%s.key[%d]", path, i)),
			Value: s.walk(e.Value, depth+1, seen, fmt.Sprintf("%s.value[%d]", path, i)),
		})
	}
	return domain.Value{Type: domain.TypeMap, Entries: out, Size: size, Truncated: size > limit}
}

func (s *Serializer) setValue(values []any, size int, depth int, seen visited, path string) domain.Value {
	size = max(size, len(values))
	limit := min(len(values), s.limits.MaxSetValues)
	out := make([]domain.Value, 0, limit)
	for i, v := range values[:limit] {
		out = append(out, s.walk(v, depth+1, seen, fmt.Sprintf("%s[%d]", path, i)))
	}
	return domain.Value{Type: domain.TypeSet, Values: out, Size: size, Truncated: size > limit}
}

// getter reads one property of an object under construction.
type getter func(key string) (any, error)

func (s *Serializer) object(className string, keys []string, get getter, depth int, seen visited, path string) domain.Value {
	if className == "" {
		className = "Object"
	}
	total := len(keys)
	limit := min(total, s.limits.MaxObjectKeys)
	fields := make([]domain.Field, 0, limit)
	for _, key := range keys[:limit] {
		fields = append(fields, domain.Field{
			Key:   key,
			Value: s.property(get, key, depth, seen, path+"."+key),
		})
	}
	out := domain.Value{Type: domain.TypeObject, ClassName: className, Fields: fields}
	if total > limit {
		out.Truncated = true
		out.TotalKeys = total
	}
	return out
}

// property serializes one key; a failing or panicking accessor only
// affects that key.
func (s *Serializer) property(get getter, key string, depth int, seen visited, path string) (out domain.Value) {
	defer func() {
		if r := recover(); r != nil {
			out = domain.ErrorValue("Error", fmt.Sprintf("[Error accessing property: %v]", r), "")
		}
	}()
	v, err := get(key)
	if err != nil {
		return domain.ErrorValue("Error", "[Error accessing property: "+err.Error()+"]", "")
	}
	return s.walk(v, depth+1, seen, path)
}

func (s *Serializer) objectSource(obj Object, depth int, seen visited, path string) domain.Value {
	keys, err := obj.Keys()
	if err != nil {
		return domain.Unknown("[Object - serialization failed: " + err.Error() + "]")
	}
	return s.object(obj.ClassName(), keys, obj.Get, depth, seen, path)
}

func (s *Serializer) stringMap(rv reflect.Value, depth int, seen visited, path string) domain.Value {
	keys := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		keys = append(keys, iter.Key().String())
	}
	sort.Strings(keys)
	keyType := rv.Type().Key()
	get := func(key string) (any, error) {
		return rv.MapIndex(reflect.ValueOf(key).Convert(keyType)).Interface(), nil
	}
	return s.object("Object", keys, get, depth, seen, path)
}

func (s *Serializer) structValue(rv reflect.Value, depth int, seen visited, path string) domain.Value {
	t := rv.Type()
	keys := make([]string, 0, t.NumField())
	index := make(map[string]int, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		if _, dup := index[name]; dup {
			continue
		}
		index[name] = i
		keys = append(keys, name)
	}
	get := func(key string) (any, error) {
		return rv.Field(index[key]).Interface(), nil
	}
	return s.object(t.Name(), keys, get, depth, seen, path)
}

func isStringKeyed(t reflect.Type) bool {
	return t.Key().Kind() == reflect.String
}

func isSetType(t reflect.Type) bool {
	elem := t.Elem()
	return elem.Kind() == reflect.Struct && elem.NumField() == 0
}

func sortedKeys(rv reflect.Value) []any {
	keys := rv.MapKeys()
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k.Interface()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return fmt.Sprint(out[i]) < fmt.Sprint(out[j])
	})
	return out
}

func sortedEntries(rv reflect.Value) []MapEntry {
	out := make([]MapEntry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out = append(out, MapEntry{Key: iter.Key().Interface(), Value: iter.Value().Interface()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return fmt.Sprint(out[i].Key) < fmt.Sprint(out[j].Key)
	})
	return out
}

func maxDepth(v any, rv reflect.Value) domain.Value {
	text := "[Object]"
	_, isList := v.(List)
	if k := rv.Kind(); isList || k == reflect.Slice || k == reflect.Array {
		text = "[Array]"
	}
	return domain.Value{Type: domain.TypeMaxDepth, Text: text}
}

func bigint(digits string) domain.Value {
	return domain.Value{Type: domain.TypeBigInt, Text: digits + "n"}
}

func function(name string) domain.Value {
	return domain.Value{Type: domain.TypeFunction, Name: name}
}

func date(t time.Time) domain.Value {
	return domain.Value{Type: domain.TypeDate, Text: t.UTC().Format("2006-01-02T15:04:05.000Z")}
}

func element(e Element) domain.Value {
	return domain.Value{Type: domain.TypeDOM, TagName: strings.ToLower(e.TagName), ID: e.ID, ClassName: e.ClassName}
}

func errorValue(err error) domain.Value {
	if e, ok := err.(*Error); ok {
		return domain.ErrorValue(e.Name, e.Message, e.Stack)
	}
	name := "Error"
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if n := t.Name(); n != "" && n[0] >= 'A' && n[0] <= 'Z' {
		name = n
	}
	var stack string
	switch st := err.(type) {
	case interface{ StackTrace() string }:
		stack = st.StackTrace()
	case interface{ Stack() string }:
		stack = st.Stack()
	}
	return domain.ErrorValue(name, err.Error(), stack)
}

func funcName(rv reflect.Value) string {
	fn := runtime.FuncForPC(rv.Pointer())
	if fn == nil {
		return ""
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if _, rest, ok := strings.Cut(name, "."); ok {
		name = rest
	}
	return name
}

func stringify(v any) (out domain.Value) {
	defer func() {
		if recover() != nil {
			out = domain.Unknown("[Unserializable]")
		}
	}()
	return domain.Unknown(fmt.Sprint(v))
}
