// Package payload models the upstream document as an ordered JSON tree.
//
// The upstream shape is not controlled by this service, so the tree is
// schema-less: null, bool, number, string, array and object. Objects keep
// their members in document order and numbers keep their literal text, which
// makes the canonical encoding (and therefore the fingerprint) a pure
// function of what the upstream sent.
package payload

import "strconv"

// Kind identifies the concrete type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a sealed interface. Only the types of this package implement it.
type Value interface {
	Kind() Kind
}

// Null is the JSON null literal.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Number is a JSON number kept as its literal text (e.g. "1.50", "-3e2").
type Number string

// String is a JSON string.
type String string

// Array is an ordered list of values.
type Array []Value

// Member is one key/value pair of an Object.
type Member struct {
	Key   string
	Value Value
}

// Object is a list of members in document order.
type Object []Member

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Number) Kind() Kind { return KindNumber }
func (String) Kind() Kind { return KindString }
func (Array) Kind() Kind  { return KindArray }
func (Object) Kind() Kind { return KindObject }

// Get returns the value of the first member named key.
func (o Object) Get(key string) (Value, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// Keys returns member keys in document order.
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for _, m := range o {
		keys = append(keys, m.Key)
	}
	return keys
}

// IsEmpty reports whether v carries no data: null, false, a zero number,
// an empty string or an empty collection. A nil Value is empty.
func IsEmpty(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return true
	case Bool:
		return !bool(val)
	case Number:
		f, err := strconv.ParseFloat(string(val), 64)
		return err == nil && f == 0
	case String:
		return val == ""
	case Array:
		return len(val) == 0
	case Object:
		return len(val) == 0
	default:
		return true
	}
}

// IsCollection reports whether v is an array or an object.
func IsCollection(v Value) bool {
	switch v.(type) {
	case Array, Object:
		return true
	default:
		return false
	}
}

// Count returns the number of top-level entries of a collection.
// Scalars count as one entry, null as zero.
func Count(v Value) int {
	switch val := v.(type) {
	case nil, Null:
		return 0
	case Array:
		return len(val)
	case Object:
		return len(val)
	default:
		return 1
	}
}
