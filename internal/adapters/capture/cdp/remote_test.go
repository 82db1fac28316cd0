package cdp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/serialize"
)

var errNoSnapshot = errors.New("snapshot unavailable")

// fakeProperties serves Runtime.getProperties results parsed from JSON.
// Snapshots are served from wire-shaped JSON when one is configured.
type fakeProperties struct {
	results   map[proto.RuntimeRemoteObjectID]string
	snapshots map[proto.RuntimeRemoteObjectID]string
	calls     map[proto.RuntimeRemoteObjectID]int
	limits    []serialize.Limits
}

func newFakeProperties(results map[proto.RuntimeRemoteObjectID]string) *fakeProperties {
	return &fakeProperties{results: results, calls: make(map[proto.RuntimeRemoteObjectID]int)}
}

func (f *fakeProperties) Snapshot(id proto.RuntimeRemoteObjectID, limits serialize.Limits) (domain.Value, error) {
	f.limits = append(f.limits, limits)
	raw, ok := f.snapshots[id]
	if !ok {
		return domain.Value{}, errNoSnapshot
	}
	var v domain.Value
	err := json.Unmarshal([]byte(raw), &v)
	return v, err
}

func (f *fakeProperties) Properties(id proto.RuntimeRemoteObjectID) (*proto.RuntimeGetPropertiesResult, error) {
	f.calls[id]++
	raw, ok := f.results[id]
	if !ok {
		return nil, errors.New("no such object")
	}
	var res proto.RuntimeGetPropertiesResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func remote(t *testing.T, raw string) *proto.RuntimeRemoteObject {
	t.Helper()
	var ro proto.RuntimeRemoteObject
	if err := json.Unmarshal([]byte(raw), &ro); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	return &ro
}

// generatedProperties builds Runtime.getProperties results on the fly and
// counts every fetch.
type generatedProperties struct {
	gen   func(id proto.RuntimeRemoteObjectID) *proto.RuntimeGetPropertiesResult
	calls int
}

func (g *generatedProperties) Snapshot(proto.RuntimeRemoteObjectID, serialize.Limits) (domain.Value, error) {
	return domain.Value{}, errNoSnapshot
}

func (g *generatedProperties) Properties(id proto.RuntimeRemoteObjectID) (*proto.RuntimeGetPropertiesResult, error) {
	g.calls++
	return g.gen(id), nil
}

func newTestConverter(r remoteSource) *converter {
	return newConverter(r, serialize.DefaultLimits())
}

func arrayRef(id string, n int) *proto.RuntimeRemoteObject {
	return &proto.RuntimeRemoteObject{
		Type:        proto.RuntimeRemoteObjectTypeObject,
		Subtype:     proto.RuntimeRemoteObjectSubtypeArray,
		ClassName:   "Array",
		Description: fmt.Sprintf("Array(%d)", n),
		ObjectID:    proto.RuntimeRemoteObjectID(id),
	}
}

func objectRef(id string) *proto.RuntimeRemoteObject {
	return &proto.RuntimeRemoteObject{
		Type:        proto.RuntimeRemoteObjectTypeObject,
		ClassName:   "Object",
		Description: "Object",
		ObjectID:    proto.RuntimeRemoteObjectID(id),
	}
}

func stringRef(s string) *proto.RuntimeRemoteObject {
	return &proto.RuntimeRemoteObject{Type: proto.RuntimeRemoteObjectTypeString, Value: gson.New(s)}
}

func serializeRemote(t *testing.T, props remoteSource, raw string) domain.Value {
	t.Helper()
	conv := newTestConverter(props)
	return serialize.New(serialize.DefaultLimits()).Serialize(conv.value(remote(t, raw), 0))
}

func TestConverter_Primitives(t *testing.T) {
	conv := newTestConverter(newFakeProperties(nil))

	tests := []struct {
		name string
		raw  string
		want any
	}{
		{"string", `{"type":"string","value":"hi"}`, "hi"},
		{"number", `{"type":"number","value":42,"description":"42"}`, 42.0},
		{"boolean", `{"type":"boolean","value":true}`, true},
		{"undefined", `{"type":"undefined"}`, serialize.Undefined},
		{"null", `{"type":"object","subtype":"null","value":null}`, serialize.Null},
		{"bigint", `{"type":"bigint","unserializableValue":"10n","description":"10n"}`, serialize.BigInt("10")},
		{"symbol", `{"type":"symbol","description":"Symbol(tag)","objectId":"s1"}`, serialize.Symbol("Symbol(tag)")},
		{"named function", `{"type":"function","className":"Function","description":"function onClick(e) { }","objectId":"f1"}`, serialize.Function{Name: "onClick"}},
		{"arrow function", `{"type":"function","className":"Function","description":"(e) => e","objectId":"f2"}`, serialize.Function{}},
		{"regexp", `{"type":"object","subtype":"regexp","className":"RegExp","description":"/ab+/g","objectId":"r1"}`, serialize.RegExp("/ab+/g")},
		{"promise", `{"type":"object","subtype":"promise","className":"Promise","description":"Promise","objectId":"p1"}`, serialize.Promise{}},
		{"typed array", `{"type":"object","subtype":"typedarray","className":"Uint8Array","description":"Uint8Array(3)","objectId":"t1"}`, serialize.TypedArray{Kind: "Uint8Array", Length: 3}},
		{"array buffer", `{"type":"object","subtype":"arraybuffer","className":"ArrayBuffer","description":"ArrayBuffer(8)","objectId":"b1"}`, serialize.ArrayBuffer{ByteLength: 8}},
		{"node", `{"type":"object","subtype":"node","className":"HTMLDivElement","description":"div#app.main.wide","objectId":"n1"}`, serialize.Element{TagName: "div", ID: "app", ClassName: "main wide"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := conv.value(remote(t, tt.raw), 0); got != tt.want {
				t.Errorf("value() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestConverter_SpecialNumbers(t *testing.T) {
	conv := newTestConverter(newFakeProperties(nil))

	if got := conv.value(remote(t, `{"type":"number","unserializableValue":"NaN"}`), 0).(float64); !math.IsNaN(got) {
		t.Errorf("NaN = %v", got)
	}
	if got := conv.value(remote(t, `{"type":"number","unserializableValue":"-Infinity"}`), 0).(float64); !math.IsInf(got, -1) {
		t.Errorf("-Infinity = %v", got)
	}
	if got := conv.value(remote(t, `{"type":"number","unserializableValue":"-0"}`), 0).(float64); got != 0 || !math.Signbit(got) {
		t.Errorf("-0 = %v", got)
	}
}

func TestConverter_Error(t *testing.T) {
	conv := newTestConverter(newFakeProperties(nil))
	desc := "TypeError: bad thing\n    at run (http://localhost:3000/app.js:1:1)"
	raw, _ := json.Marshal(map[string]string{"type": "object", "subtype": "error", "className": "TypeError", "description": desc, "objectId": "e1"})

	got, ok := conv.value(remote(t, string(raw)), 0).(*serialize.Error)
	if !ok {
		t.Fatalf("value() = %T, want *serialize.Error", got)
	}
	if got.Name != "TypeError" || got.Message != "bad thing" || got.Stack != desc {
		t.Errorf("value() = %+v", got)
	}
}

func TestConverter_Date(t *testing.T) {
	conv := newTestConverter(newFakeProperties(nil))
	got := conv.value(remote(t, `{"type":"object","subtype":"date","className":"Date","description":"Tue Nov 14 2023 22:13:20 GMT+0000 (Coordinated Universal Time)","objectId":"d1"}`), 0)

	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("value() = %T, want time.Time", got)
	}
	if want := time.Unix(1700000000, 0); !ts.Equal(want) {
		t.Errorf("value() = %v, want %v", ts, want)
	}

	bad := conv.value(remote(t, `{"type":"object","subtype":"date","className":"Date","description":"Invalid Date","objectId":"d2"}`), 0)
	if bad != serialize.Date("Invalid Date") {
		t.Errorf("invalid date = %#v", bad)
	}
}

func TestConverter_ArrayCycle(t *testing.T) {
	props := newFakeProperties(map[proto.RuntimeRemoteObjectID]string{
		"a1": `{"result":[
			{"name":"0","enumerable":true,"value":{"type":"string","value":"x"}},
			{"name":"1","enumerable":true,"value":{"type":"object","subtype":"array","className":"Array","description":"Array(2)","objectId":"a1"}},
			{"name":"length","enumerable":false,"value":{"type":"number","value":2}}
		]}`,
	})

	got := serializeRemote(t, props, `{"type":"object","subtype":"array","className":"Array","description":"Array(2)","objectId":"a1"}`)
	if got.Type != domain.TypeArray || len(got.Items) != 2 {
		t.Fatalf("Serialize() = %+v, want two items", got)
	}
	if got.Items[0].Text != "x" {
		t.Errorf("Items[0] = %+v", got.Items[0])
	}
	if got.Items[1].Type != domain.TypeCircular {
		t.Errorf("Items[1] = %+v, want circular", got.Items[1])
	}
	if n := props.calls["a1"]; n != 1 {
		t.Errorf("Properties(a1) called %d times, want 1", n)
	}
}

func TestConverter_ObjectIsLazy(t *testing.T) {
	props := newFakeProperties(map[proto.RuntimeRemoteObjectID]string{
		"o1": `{"result":[
			{"name":"name","enumerable":true,"value":{"type":"string","value":"gear"}},
			{"name":"hidden","enumerable":false,"value":{"type":"number","value":1}},
			{"name":"self","enumerable":true,"value":{"type":"object","className":"Widget","description":"Widget","objectId":"o1"}},
			{"name":"size","enumerable":true,"get":{"type":"function","className":"Function","description":"get size() {}","objectId":"g1"}}
		]}`,
	})
	conv := newTestConverter(props)
	v := conv.value(remote(t, `{"type":"object","className":"Widget","description":"Widget","objectId":"o1"}`), 0)
	if n := props.calls["o1"]; n != 0 {
		t.Fatalf("properties fetched before serialization: %d calls", n)
	}

	got := serialize.New(serialize.DefaultLimits()).Serialize(v)
	if got.Type != domain.TypeObject || got.ClassName != "Widget" {
		t.Fatalf("Serialize() = %+v", got)
	}
	keys := make([]string, len(got.Fields))
	for i, f := range got.Fields {
		keys[i] = f.Key
	}
	if len(keys) != 3 || keys[0] != "name" || keys[1] != "self" || keys[2] != "size" {
		t.Errorf("keys = %v, want [name self size]", keys)
	}
	if self, _ := got.Field("self"); self.Type != domain.TypeCircular {
		t.Errorf("self = %+v, want circular", self)
	}
	if size, _ := got.Field("size"); size.Text != "[Getter]" {
		t.Errorf("size = %+v, want getter marker", size)
	}
}

func TestConverter_MapAndSet(t *testing.T) {
	props := newFakeProperties(map[proto.RuntimeRemoteObjectID]string{
		"m1": `{"result":[],"internalProperties":[{"name":"[[Entries]]","value":{"type":"object","subtype":"array","objectId":"m1e"}}]}`,
		"m1e": `{"result":[
			{"name":"0","enumerable":true,"value":{"type":"object","className":"Object","objectId":"m1e0"}},
			{"name":"length","value":{"type":"number","value":1}}
		]}`,
		"m1e0": `{"result":[
			{"name":"key","enumerable":true,"value":{"type":"string","value":"a"}},
			{"name":"value","enumerable":true,"value":{"type":"number","value":1}}
		]}`,
		"s1": `{"result":[],"internalProperties":[{"name":"[[Entries]]","value":{"type":"object","subtype":"array","objectId":"s1e"}}]}`,
		"s1e": `{"result":[
			{"name":"0","enumerable":true,"value":{"type":"object","className":"Object","objectId":"s1e0"}},
			{"name":"1","enumerable":true,"value":{"type":"object","className":"Object","objectId":"s1e1"}}
		]}`,
		"s1e0": `{"result":[{"name":"value","enumerable":true,"value":{"type":"string","value":"x"}}]}`,
		"s1e1": `{"result":[{"name":"value","enumerable":true,"value":{"type":"string","value":"y"}}]}`,
	})

	m := serializeRemote(t, props, `{"type":"object","subtype":"map","className":"Map","description":"Map(1)","objectId":"m1"}`)
	if m.Type != domain.TypeMap || len(m.Entries) != 1 || m.Entries[0].Key.Text != "a" || m.Entries[0].Value.Number != 1 {
		t.Errorf("map = %+v", m)
	}

	s := serializeRemote(t, props, `{"type":"object","subtype":"set","className":"Set","description":"Set(2)","objectId":"s1"}`)
	if s.Type != domain.TypeSet || len(s.Values) != 2 || s.Values[1].Text != "y" {
		t.Errorf("set = %+v", s)
	}
}

func TestConverter_PrefersSnapshot(t *testing.T) {
	props := newFakeProperties(nil)
	props.snapshots = map[proto.RuntimeRemoteObjectID]string{
		"o1": `{"type":"object","className":"Object","value":{
			"name":{"type":"string","value":"gear"},
			"self":{"type":"circular","path":"root.self","value":"[Circular: root.self]"}
		}}`,
	}

	got := serializeRemote(t, props, `{"type":"object","className":"Object","description":"Object","objectId":"o1"}`)
	if got.Type != domain.TypeObject || len(got.Fields) != 2 {
		t.Fatalf("Serialize() = %+v, want object with two fields", got)
	}
	if self, _ := got.Field("self"); self.Type != domain.TypeCircular || self.Path != "root.self" {
		t.Errorf("self = %+v, want circular at root.self", self)
	}
	if n := props.calls["o1"]; n != 0 {
		t.Errorf("Properties(o1) called %d times, want 0", n)
	}
	if len(props.limits) != 1 || props.limits[0] != serialize.DefaultLimits() {
		t.Errorf("snapshot limits = %+v, want defaults", props.limits)
	}
}

func TestConverter_SnapshotOnlyForTopLevel(t *testing.T) {
	props := newFakeProperties(map[proto.RuntimeRemoteObjectID]string{
		"a1": `{"result":[
			{"name":"0","enumerable":true,"value":{"type":"object","className":"Object","description":"Object","objectId":"o2"}},
			{"name":"length","value":{"type":"number","value":1}}
		]}`,
		"o2": `{"result":[{"name":"k","enumerable":true,"value":{"type":"string","value":"v"}}]}`,
	})
	props.snapshots = map[proto.RuntimeRemoteObjectID]string{
		"o2": `{"type":"string","value":"from snapshot"}`,
	}

	got := serializeRemote(t, props, `{"type":"object","subtype":"array","className":"Array","description":"Array(1)","objectId":"a1"}`)
	if k, _ := got.Items[0].Field("k"); k.Text != "v" {
		t.Errorf("items[0] = %+v, want object read through properties", got.Items[0])
	}
	if len(props.limits) != 1 {
		t.Errorf("Snapshot called %d times, want 1", len(props.limits))
	}
}

func TestConverter_HugeSparseArray(t *testing.T) {
	props := newFakeProperties(map[proto.RuntimeRemoteObjectID]string{
		"big": `{"result":[
			{"name":"0","enumerable":true,"value":{"type":"string","value":"head"}},
			{"name":"length","value":{"type":"number","value":50000000}}
		]}`,
	})

	got := serializeRemote(t, props, `{"type":"object","subtype":"array","className":"Array","description":"Array(50000000)","objectId":"big"}`)
	if got.Type != domain.TypeArray || len(got.Items) != 1000 {
		t.Fatalf("items = %d, want 1000", len(got.Items))
	}
	if !got.Truncated || got.TotalLength != 50000000 {
		t.Errorf("truncated=%v totalLength=%d, want true 50000000", got.Truncated, got.TotalLength)
	}
	if got.Items[0].Text != "head" || got.Items[999].Type != domain.TypeUndefined {
		t.Errorf("items[0]=%+v items[999]=%+v", got.Items[0], got.Items[999])
	}
	if n := props.calls["big"]; n != 1 {
		t.Errorf("Properties(big) called %d times, want 1", n)
	}
}

func TestConverter_NestedArrayFanOut(t *testing.T) {
	const outer = 5000
	props := &generatedProperties{gen: func(id proto.RuntimeRemoteObjectID) *proto.RuntimeGetPropertiesResult {
		res := &proto.RuntimeGetPropertiesResult{}
		if id == "outer" {
			for i := range outer {
				res.Result = append(res.Result, &proto.RuntimePropertyDescriptor{
					Name: fmt.Sprint(i), Enumerable: true, Value: arrayRef(fmt.Sprintf("inner%d", i), 1),
				})
			}
			return res
		}
		res.Result = []*proto.RuntimePropertyDescriptor{{Name: "0", Enumerable: true, Value: stringRef(string(id))}}
		return res
	}}

	v := newTestConverter(props).value(arrayRef("outer", outer), 0)
	got := serialize.New(serialize.DefaultLimits()).Serialize(v)
	if len(got.Items) != 1000 || got.TotalLength != outer {
		t.Fatalf("items=%d totalLength=%d, want 1000 %d", len(got.Items), got.TotalLength, outer)
	}
	if got.Items[999].Items[0].Text != "inner999" {
		t.Errorf("items[999] = %+v", got.Items[999])
	}
	if props.calls != 1001 {
		t.Errorf("Properties called %d times, want 1001", props.calls)
	}
}

func TestConverter_MapEntriesCapped(t *testing.T) {
	const size = 150
	props := &generatedProperties{gen: func(id proto.RuntimeRemoteObjectID) *proto.RuntimeGetPropertiesResult {
		res := &proto.RuntimeGetPropertiesResult{}
		switch {
		case id == "m":
			res.InternalProperties = []*proto.RuntimeInternalPropertyDescriptor{{Name: "[[Entries]]", Value: arrayRef("entries", size)}}
		case id == "entries":
			for i := range size {
				res.Result = append(res.Result, &proto.RuntimePropertyDescriptor{
					Name: fmt.Sprint(i), Enumerable: true, Value: objectRef(fmt.Sprintf("e%d", i)),
				})
			}
		case strings.HasPrefix(string(id), "e"):
			res.Result = []*proto.RuntimePropertyDescriptor{
				{Name: "key", Enumerable: true, Value: stringRef("k" + string(id))},
				{Name: "value", Enumerable: true, Value: stringRef("v" + string(id))},
			}
		}
		return res
	}}

	ro := &proto.RuntimeRemoteObject{
		Type:        proto.RuntimeRemoteObjectTypeObject,
		Subtype:     proto.RuntimeRemoteObjectSubtypeMap,
		ClassName:   "Map",
		Description: fmt.Sprintf("Map(%d)", size),
		ObjectID:    "m",
	}
	got := serialize.New(serialize.DefaultLimits()).Serialize(newTestConverter(props).value(ro, 0))
	if got.Type != domain.TypeMap || len(got.Entries) != 100 || got.Size != size || !got.Truncated {
		t.Fatalf("entries=%d size=%d truncated=%v", len(got.Entries), got.Size, got.Truncated)
	}
	if e := got.Entries[99]; e.Key.Text != "ke99" || e.Value.Text != "ve99" {
		t.Errorf("entries[99] = %+v", e)
	}
	if want := 2 + 100; props.calls != want {
		t.Errorf("Properties called %d times, want %d", props.calls, want)
	}
}

func TestConverter_FreshIDsStopAtDepth(t *testing.T) {
	props := &generatedProperties{}
	props.gen = func(id proto.RuntimeRemoteObjectID) *proto.RuntimeGetPropertiesResult {
		next := fmt.Sprintf("o%d", props.calls)
		return &proto.RuntimeGetPropertiesResult{Result: []*proto.RuntimePropertyDescriptor{
			{Name: "self", Enumerable: true, Value: objectRef(next)},
		}}
	}

	got := serialize.New(serialize.DefaultLimits()).Serialize(newTestConverter(props).value(objectRef("o0"), 0))
	for level := 1; level <= 10; level++ {
		next, ok := got.Field("self")
		if !ok {
			t.Fatalf("level %d: no self field in %+v", level, got)
		}
		got = next
	}
	if got.Type != domain.TypeMaxDepth || got.Text != "[Object]" {
		t.Errorf("innermost = %+v, want [Object] depth marker", got)
	}
	if props.calls != 10 {
		t.Errorf("Properties called %d times, want 10", props.calls)
	}
}

func TestDecodeSnapshot(t *testing.T) {
	ro := remote(t, `{"type":"object","value":{"type":"array","value":[{"type":"number","value":1}],"truncated":true,"totalLength":5000}}`)
	got, err := decodeSnapshot(ro)
	if err != nil {
		t.Fatalf("decodeSnapshot() error = %v", err)
	}
	if got.Type != domain.TypeArray || len(got.Items) != 1 || got.TotalLength != 5000 {
		t.Errorf("decodeSnapshot() = %+v", got)
	}

	for _, raw := range []string{`{"type":"undefined"}`, `{"type":"string","value":"not a value tree"}`} {
		if _, err := decodeSnapshot(remote(t, raw)); err == nil {
			t.Errorf("decodeSnapshot(%s) error = nil, want error", raw)
		}
	}
}

func TestConverter_FetchFailure(t *testing.T) {
	got := serializeRemote(t, newFakeProperties(nil), `{"type":"object","subtype":"array","className":"Array","description":"Array(1)","objectId":"gone"}`)
	if got.Type != domain.TypeError {
		t.Errorf("Serialize() = %+v, want error value", got)
	}
}

func TestElementFrom(t *testing.T) {
	tests := []struct {
		desc string
		want serialize.Element
	}{
		{"body", serialize.Element{TagName: "body"}},
		{"div#app", serialize.Element{TagName: "div", ID: "app"}},
		{"span.a.b", serialize.Element{TagName: "span", ClassName: "a b"}},
		{"p#x.note", serialize.Element{TagName: "p", ID: "x", ClassName: "note"}},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := elementFrom(tt.desc); got != tt.want {
				t.Errorf("elementFrom(%q) = %+v, want %+v", tt.desc, got, tt.want)
			}
		})
	}
}

func TestFunctionName(t *testing.T) {
	tests := map[string]string{
		"function handler() {}":       "handler",
		"async function load(url) {}": "load",
		"function* gen() {}":          "gen",
		"class Widget { }":            "Widget",
		"function () {}":              "",
		"x => x * 2":                  "",
	}
	for desc, want := range tests {
		if got := functionName(desc); got != want {
			t.Errorf("functionName(%q) = %q, want %q", desc, got, want)
		}
	}
}
