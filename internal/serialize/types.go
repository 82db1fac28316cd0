package serialize

// The marker types below let Go callers and capture adapters describe
// browser values that have no natural Go counterpart.

type undefined struct{}
type null struct{}

var (
	// Undefined serializes as the undefined variant.
	Undefined = undefined{}
	// Null serializes as null, like a nil interface.
	Null = null{}
)

// Symbol is a symbol description such as "Symbol(id)".
type Symbol string

// BigInt is the decimal text of an arbitrary precision integer, without the
// trailing n.
type BigInt string

// Function describes a function by name.
type Function struct {
	Name string
}

// Date is an ISO-8601 timestamp as produced by Date.prototype.toISOString.
type Date string

// RegExp is a regular expression literal such as "/ab+c/gi".
type RegExp string

// Promise is an opaque pending or settled promise.
type Promise struct{}

type WeakMap struct{}

type WeakSet struct{}

// Error carries the parts of a thrown error that survive serialization.
type Error struct {
	Name    string
	Message string
	Stack   string
}

func (e *Error) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// Map is an insertion-ordered map whose keys may be any value. Size is
// the full entry count when Entries holds only a prefix; zero means
// len(Entries).
type Map struct {
	Entries []MapEntry
	Size    int
}

type MapEntry struct {
	Key   any
	Value any
}

// Set is an insertion-ordered collection of values. Size works as in Map.
type Set struct {
	Values []any
	Size   int
}

// ArrayBuffer stands in for a raw binary buffer of the given length.
type ArrayBuffer struct {
	ByteLength int
}

// TypedArray describes a typed view such as Uint8Array without its contents.
type TypedArray struct {
	Kind   string
	Length int
}

type DataView struct {
	ByteLength int
}

// Element is a DOM node summary.
type Element struct {
	TagName   string
	ID        string
	ClassName string
}

// Object is a value that exposes its own enumerable properties lazily.
// Keys returns the property names in enumeration order; Get may fail, in
// which case only that property is replaced by an error leaf.
type Object interface {
	ClassName() string
	Keys() ([]string, error)
	Get(key string) (any, error)
}

// List is an array whose elements are read on demand. Len reports the full
// length; Index is only called for the first MaxArrayLength indexes, and a
// hole should read as Undefined.
type List interface {
	Len() (int, error)
	Index(i int) (any, error)
}
