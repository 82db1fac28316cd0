package domain

import "fmt"

// Method is the closed set of console API entry points the bridge renders.
type Method uint8

const (
	MethodLog Method = iota + 1
	MethodInfo
	MethodWarning
	MethodError
	MethodDebug
	MethodDir
	MethodDirXML
	MethodTable
	MethodTrace
	MethodClear
	MethodStartGroup
	MethodStartGroupCollapsed
	MethodEndGroup
	MethodAssert
	MethodProfile
	MethodProfileEnd
	MethodCount
	MethodTimeEnd
)

var methodNames = map[Method]string{
	MethodLog:                 "log",
	MethodInfo:                "info",
	MethodWarning:             "warning",
	MethodError:               "error",
	MethodDebug:               "debug",
	MethodDir:                 "dir",
	MethodDirXML:              "dirxml",
	MethodTable:               "table",
	MethodTrace:               "trace",
	MethodClear:               "clear",
	MethodStartGroup:          "startGroup",
	MethodStartGroupCollapsed: "startGroupCollapsed",
	MethodEndGroup:            "endGroup",
	MethodAssert:              "assert",
	MethodProfile:             "profile",
	MethodProfileEnd:          "profileEnd",
	MethodCount:               "count",
	MethodTimeEnd:             "timeEnd",
}

// methodAliases maps the names used by the page-side console API onto the
// protocol names reported by the debugging protocol.
var methodAliases = map[string]Method{
	"warn":           MethodWarning,
	"group":          MethodStartGroup,
	"groupCollapsed": MethodStartGroupCollapsed,
	"groupEnd":       MethodEndGroup,
	"time":           MethodTimeEnd,
}

var methodsByName = func() map[string]Method {
	m := make(map[string]Method, len(methodNames)+len(methodAliases))
	for method, name := range methodNames {
		m[name] = method
	}
	for alias, method := range methodAliases {
		m[alias] = method
	}
	return m
}()

// ParseMethod resolves a protocol or console API method name.
func ParseMethod(name string) (Method, bool) {
	m, ok := methodsByName[name]
	return m, ok
}

// Methods returns every method in declaration order.
func Methods() []Method {
	out := make([]Method, 0, len(methodNames))
	for m := MethodLog; m <= MethodTimeEnd; m++ {
		out = append(out, m)
	}
	return out
}

func (m Method) Valid() bool {
	_, ok := methodNames[m]
	return ok
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Method(%d)", uint8(m))
}

func (m Method) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid console method %d", uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	parsed, ok := ParseMethod(string(text))
	if !ok {
		return fmt.Errorf("unknown console method %q", string(text))
	}
	*m = parsed
	return nil
}
