package cdp

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/serialize"
)

// remoteSource reads page objects. Snapshot serializes an object inside
// the page under limits; Properties lists its own properties for the
// step-by-step fallback.
type remoteSource interface {
	Snapshot(id proto.RuntimeRemoteObjectID, limits serialize.Limits) (domain.Value, error)
	Properties(id proto.RuntimeRemoteObjectID) (*proto.RuntimeGetPropertiesResult, error)
}

var (
	functionPattern = regexp.MustCompile(`^(?:async\s+)?function\s*\*?\s*([\w$]+)?\s*\(`)
	classPattern    = regexp.MustCompile(`^class\s+([\w$]+)`)
	lengthPattern   = regexp.MustCompile(`\((\d+)\)`)
)

// dateLayout matches Date.prototype.toString without the zone name.
const dateLayout = "Mon Jan 02 2006 15:04:05 GMT-0700"

// converter turns the remote objects of one console call into values the
// serializer understands.
//
// Top-level containers are snapshotted inside the page, where object
// identity is real. When that fails the converter walks the object with
// Runtime.getProperties instead. The walk is lazy and capped by the
// limits, so at most the entries the serializer keeps are converted. The
// protocol hands out a fresh object id for every wrapped reference, so the
// walk only spots a cycle when an id repeats; otherwise the depth limit
// ends it.
type converter struct {
	remote  remoteSource
	limits  serialize.Limits
	arrays  map[proto.RuntimeRemoteObjectID]*remoteArray
	maps    map[proto.RuntimeRemoteObjectID]*serialize.Map
	sets    map[proto.RuntimeRemoteObjectID]*serialize.Set
	objects map[proto.RuntimeRemoteObjectID]*remoteObject
}

func newConverter(remote remoteSource, limits serialize.Limits) *converter {
	return &converter{
		remote:  remote,
		limits:  serialize.New(limits).Limits(),
		arrays:  make(map[proto.RuntimeRemoteObjectID]*remoteArray),
		maps:    make(map[proto.RuntimeRemoteObjectID]*serialize.Map),
		sets:    make(map[proto.RuntimeRemoteObjectID]*serialize.Set),
		objects: make(map[proto.RuntimeRemoteObjectID]*remoteObject),
	}
}

func (c *converter) value(ro *proto.RuntimeRemoteObject, depth int) any {
	if ro == nil {
		return serialize.Undefined
	}
	switch string(ro.Type) {
	case "undefined":
		return serialize.Undefined
	case "string":
		return ro.Value.Str()
	case "boolean":
		return ro.Value.Bool()
	case "number":
		return number(ro)
	case "bigint":
		return serialize.BigInt(strings.TrimSuffix(string(ro.UnserializableValue), "n"))
	case "symbol":
		return serialize.Symbol(ro.Description)
	case "function":
		return serialize.Function{Name: functionName(ro.Description)}
	}

	if ro.ObjectID == "" {
		if ro.Value.Nil() {
			return serialize.Null
		}
		return ro.Value.Val()
	}

	switch string(ro.Subtype) {
	case "null":
		return serialize.Null
	case "error":
		return errorFrom(ro)
	case "date":
		return dateFrom(ro.Description)
	case "regexp":
		return serialize.RegExp(ro.Description)
	case "node":
		return elementFrom(ro.Description)
	case "promise":
		return serialize.Promise{}
	case "weakmap":
		return serialize.WeakMap{}
	case "weakset":
		return serialize.WeakSet{}
	case "arraybuffer":
		return serialize.ArrayBuffer{ByteLength: lengthFrom(ro.Description)}
	case "dataview":
		return serialize.DataView{ByteLength: lengthFrom(ro.Description)}
	case "typedarray":
		return serialize.TypedArray{Kind: ro.ClassName, Length: lengthFrom(ro.Description)}
	}

	if depth == 0 {
		if v, err := c.remote.Snapshot(ro.ObjectID, c.limits); err == nil {
			return v
		}
	}

	switch string(ro.Subtype) {
	case "array":
		return c.array(ro, depth)
	case "map":
		return c.mapValue(ro, depth)
	case "set":
		return c.setValue(ro, depth)
	}
	return c.object(ro, depth)
}

func number(ro *proto.RuntimeRemoteObject) float64 {
	switch string(ro.UnserializableValue) {
	case "NaN":
		return math.NaN()
	case "Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	case "-0":
		return math.Copysign(0, -1)
	}
	return ro.Value.Num()
}

func (c *converter) array(ro *proto.RuntimeRemoteObject, depth int) *remoteArray {
	if a, ok := c.arrays[ro.ObjectID]; ok {
		return a
	}
	a := &remoteArray{conv: c, id: ro.ObjectID, depth: depth, length: lengthFrom(ro.Description)}
	c.arrays[ro.ObjectID] = a
	return a
}

// remoteArray exposes a page array to the serializer as a list. Only
// indexes below the array limit are kept, whatever length the page
// reports.
type remoteArray struct {
	conv   *converter
	id     proto.RuntimeRemoteObjectID
	depth  int
	length int

	loaded bool
	elems  map[int]*proto.RuntimeRemoteObject
}

func (a *remoteArray) load() error {
	if a.loaded {
		return nil
	}
	res, err := a.conv.remote.Properties(a.id)
	if err != nil {
		return err
	}
	a.loaded = true
	a.elems = make(map[int]*proto.RuntimeRemoteObject)
	for _, p := range res.Result {
		if p.Value == nil {
			continue
		}
		if p.Name == "length" {
			a.length = int(p.Value.Value.Num())
			continue
		}
		i, err := strconv.Atoi(p.Name)
		if err != nil || i < 0 || i >= a.conv.limits.MaxArrayLength {
			continue
		}
		a.elems[i] = p.Value
	}
	return nil
}

func (a *remoteArray) Len() (int, error) {
	if err := a.load(); err != nil {
		return 0, err
	}
	return a.length, nil
}

func (a *remoteArray) Index(i int) (any, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	el, ok := a.elems[i]
	if !ok {
		return serialize.Undefined, nil
	}
	return a.conv.value(el, a.depth+1), nil
}

// entries returns the [[Entries]] internal list of a Map or Set together
// with its full length.
func (c *converter) entries(ro *proto.RuntimeRemoteObject, limit int) ([]*proto.RuntimeRemoteObject, int, error) {
	res, err := c.remote.Properties(ro.ObjectID)
	if err != nil {
		return nil, 0, err
	}
	var list *proto.RuntimeRemoteObject
	for _, p := range res.InternalProperties {
		if p.Name == "[[Entries]]" {
			list = p.Value
		}
	}
	size := lengthFrom(ro.Description)
	if list == nil || list.ObjectID == "" {
		return nil, size, nil
	}
	items, err := c.remote.Properties(list.ObjectID)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*proto.RuntimeRemoteObject, limit)
	total := 0
	for _, p := range items.Result {
		i, err := strconv.Atoi(p.Name)
		if err != nil || p.Value == nil {
			continue
		}
		total++
		if i >= 0 && i < limit {
			out[i] = p.Value
		}
	}
	return slices.DeleteFunc(out, func(e *proto.RuntimeRemoteObject) bool { return e == nil }), max(size, total), nil
}

// entryFields reads the key and value of one [[Entries]] record in a
// single round trip.
func (c *converter) entryFields(entry *proto.RuntimeRemoteObject) (key, value *proto.RuntimeRemoteObject) {
	if entry.ObjectID == "" {
		return nil, nil
	}
	res, err := c.remote.Properties(entry.ObjectID)
	if err != nil {
		return nil, nil
	}
	for _, p := range res.Result {
		switch p.Name {
		case "key":
			key = p.Value
		case "value":
			value = p.Value
		}
	}
	return key, value
}

func (c *converter) mapValue(ro *proto.RuntimeRemoteObject, depth int) any {
	if m, ok := c.maps[ro.ObjectID]; ok {
		return m
	}
	if depth >= c.limits.MaxDepth {
		return &serialize.Map{}
	}
	m := &serialize.Map{}
	c.maps[ro.ObjectID] = m
	entries, size, err := c.entries(ro, c.limits.MaxMapEntries)
	if err != nil {
		return fetchError(err)
	}
	m.Size = size
	for _, e := range entries {
		key, value := c.entryFields(e)
		m.Entries = append(m.Entries, serialize.MapEntry{
			Key:   c.value(key, depth+1),
			Value: c.value(value, depth+1),
		})
	}
	return m
}

func (c *converter) setValue(ro *proto.RuntimeRemoteObject, depth int) any {
	if s, ok := c.sets[ro.ObjectID]; ok {
		return s
	}
	if depth >= c.limits.MaxDepth {
		return &serialize.Set{}
	}
	s := &serialize.Set{}
	c.sets[ro.ObjectID] = s
	entries, size, err := c.entries(ro, c.limits.MaxSetValues)
	if err != nil {
		return fetchError(err)
	}
	s.Size = size
	for _, e := range entries {
		_, value := c.entryFields(e)
		s.Values = append(s.Values, c.value(value, depth+1))
	}
	return s
}

func (c *converter) object(ro *proto.RuntimeRemoteObject, depth int) *remoteObject {
	if o, ok := c.objects[ro.ObjectID]; ok {
		return o
	}
	o := &remoteObject{conv: c, id: ro.ObjectID, className: ro.ClassName, depth: depth}
	c.objects[ro.ObjectID] = o
	return o
}

// remoteObject exposes a page object to the serializer. Properties are
// fetched on first use.
type remoteObject struct {
	conv      *converter
	id        proto.RuntimeRemoteObjectID
	className string
	depth     int

	loaded bool
	keys   []string
	props  map[string]*proto.RuntimePropertyDescriptor
}

func (o *remoteObject) ClassName() string { return o.className }

func (o *remoteObject) load() error {
	if o.loaded {
		return nil
	}
	res, err := o.conv.remote.Properties(o.id)
	if err != nil {
		return err
	}
	o.loaded = true
	o.props = make(map[string]*proto.RuntimePropertyDescriptor, len(res.Result))
	for _, p := range res.Result {
		if !p.Enumerable || p.Symbol != nil {
			continue
		}
		if _, dup := o.props[p.Name]; dup {
			continue
		}
		o.keys = append(o.keys, p.Name)
		o.props[p.Name] = p
	}
	return nil
}

func (o *remoteObject) Keys() ([]string, error) {
	if err := o.load(); err != nil {
		return nil, err
	}
	return o.keys, nil
}

func (o *remoteObject) Get(key string) (any, error) {
	if err := o.load(); err != nil {
		return nil, err
	}
	p, ok := o.props[key]
	if !ok {
		return serialize.Undefined, nil
	}
	if p.Value == nil {
		if p.Get != nil {
			return domain.Unknown("[Getter]"), nil
		}
		return serialize.Undefined, nil
	}
	if p.WasThrown {
		return nil, fmt.Errorf("property %q threw: %s", key, p.Value.Description)
	}
	return o.conv.value(p.Value, o.depth+1), nil
}

func fetchError(err error) *serialize.Error {
	return &serialize.Error{Name: "Error", Message: "[Error reading remote object: " + err.Error() + "]"}
}

func functionName(desc string) string {
	desc = strings.TrimSpace(desc)
	if m := functionPattern.FindStringSubmatch(desc); m != nil {
		return m[1]
	}
	if m := classPattern.FindStringSubmatch(desc); m != nil {
		return m[1]
	}
	return ""
}

func errorFrom(ro *proto.RuntimeRemoteObject) *serialize.Error {
	name := ro.ClassName
	if name == "" {
		name = "Error"
	}
	first, _, _ := strings.Cut(ro.Description, "\n")
	msg := strings.TrimPrefix(first, name+": ")
	if msg == name {
		msg = ""
	}
	return &serialize.Error{Name: name, Message: msg, Stack: ro.Description}
}

func dateFrom(desc string) any {
	text, _, _ := strings.Cut(desc, " (")
	t, err := time.Parse(dateLayout, text)
	if err != nil {
		return serialize.Date(desc)
	}
	return t
}

// elementFrom parses a node description such as "div#app.main.wide".
func elementFrom(desc string) serialize.Element {
	var el serialize.Element
	rest := desc
	if i := strings.IndexAny(rest, "#."); i >= 0 {
		el.TagName, rest = rest[:i], rest[i:]
	} else {
		el.TagName, rest = rest, ""
	}
	if strings.HasPrefix(rest, "#") {
		rest = rest[1:]
		i := strings.IndexByte(rest, '.')
		if i < 0 {
			el.ID, rest = rest, ""
		} else {
			el.ID, rest = rest[:i], rest[i:]
		}
	}
	if rest != "" {
		el.ClassName = strings.Join(strings.FieldsFunc(rest, func(r rune) bool { return r == '.' }), " ")
	}
	return el
}

func lengthFrom(desc string) int {
	m := lengthPattern.FindStringSubmatch(desc)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
