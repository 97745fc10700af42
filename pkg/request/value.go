package request

import (
	"fmt"
	"maps"
	"slices"
)

// Kind identifies which variant a Value holds
type Kind uint8

const (
	KindString Kind = iota + 1
	KindBytes
	KindStringList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindStringList:
		return "list"
	case KindMap:
		return "map"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func ParseKind(kind string) (Kind, error) {
	for _, k := range []Kind{KindString, KindBytes, KindStringList, KindMap} {
		if k.String() == kind {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidKind, kind)
}

// Value is an extension attribute value. The set of implementations is
// closed: String, Bytes, StringList and Map.
type Value interface {
	Kind() Kind
	// Clone returns a deep copy that shares no memory with the receiver
	Clone() Value
	isValue()
}

// String is a UTF-8 scalar value
type String string

// Bytes is a raw byte sequence value
type Bytes []byte

// StringList is an ordered list of strings
type StringList []string

// Map is a nested string keyed mapping
type Map map[string]string

func (String) Kind() Kind     { return KindString }
func (Bytes) Kind() Kind      { return KindBytes }
func (StringList) Kind() Kind { return KindStringList }
func (Map) Kind() Kind        { return KindMap }

func (String) isValue()     {}
func (Bytes) isValue()      {}
func (StringList) isValue() {}
func (Map) isValue()        {}

func (s String) Clone() Value {
	return s
}

func (b Bytes) Clone() Value {
	if b == nil {
		return Bytes(nil)
	}
	return Bytes(slices.Clone([]byte(b)))
}

func (l StringList) Clone() Value {
	if l == nil {
		return StringList(nil)
	}
	return StringList(slices.Clone([]string(l)))
}

func (m Map) Clone() Value {
	if m == nil {
		return Map(nil)
	}
	return Map(maps.Clone(map[string]string(m)))
}

// Scalar reports whether the value is a simple string
func Scalar(v Value) bool {
	return v != nil && v.Kind() == KindString
}

// Attributes is a set of named extension attribute values
type Attributes map[string]Value

// Returns a deep copy of the attribute set
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	clone := make(Attributes, len(a))
	for k, v := range a {
		clone[k] = v.Clone()
	}
	return clone
}

// Returns the string value stored under key, or an empty
// string if the key is absent or not a string.
func (a Attributes) String(key string) string {
	if s, ok := a[key].(String); ok {
		return string(s)
	}
	return ""
}
